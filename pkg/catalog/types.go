package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/tuskdb/tuskcore/pkg/descriptor"
)

// ConnectionRecord is a Descriptor plus the catalog-owned bookkeeping
// fields (timestamps) that do not belong on the in-memory Descriptor
// itself.
type ConnectionRecord struct {
	Descriptor      descriptor.Descriptor
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastConnectedAt *time.Time
}

// QueryHistoryEntry is the append-only log of one query execution,
// per spec.md §3.
type QueryHistoryEntry struct {
	ID              uuid.UUID
	ConnectionID    uuid.UUID
	SqlText         string
	ExecutionTimeMs *int64
	RowCount        *int64
	ErrorMessage    *string
	ExecutedAt      time.Time
}

// SavedQuery is a user-authored query stashed for reuse, optionally
// scoped to a connection and organized into a folder path.
type SavedQuery struct {
	ID           uuid.UUID
	ConnectionID *uuid.UUID
	Name         string
	Description  string
	SqlText      string
	FolderPath   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
