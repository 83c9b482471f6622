package schema

import (
	"fmt"
	"strings"
)

// SchemaInfo is a PostgreSQL schema (namespace).
type SchemaInfo struct {
	Name  string
	Owner string
}

// TableInfo is a PostgreSQL table.
type TableInfo struct {
	Schema        string
	Name          string
	Owner         string
	EstimatedRows int64
	SizeBytes     int64
}

// ViewInfo is a PostgreSQL view, ordinary or materialized.
type ViewInfo struct {
	Schema         string
	Name           string
	Owner          string
	IsMaterialized bool
}

// FunctionInfo is a PostgreSQL function.
type FunctionInfo struct {
	Schema     string
	Name       string
	ReturnType string
	Arguments  string
	Volatility string
}

// ColumnDetail is one column of a table or view.
type ColumnDetail struct {
	Name            string
	DataType        string
	IsNullable      bool
	IsPrimaryKey    bool
	DefaultValue    *string
	OrdinalPosition int
}

// TableKey identifies a table or view by (schema, name) and is used as
// the map key for per-object column lists, per spec.md §4.G.
type TableKey struct {
	Schema string
	Name   string
}

// MarshalText renders the key as "schema|name" so DatabaseSchema can
// round-trip through encoding/json, which only accepts string-keyed
// maps (or types implementing TextMarshaler) — needed by the Registry's
// Redis-backed SchemaCache.
func (k TableKey) MarshalText() ([]byte, error) {
	return []byte(k.Schema + "|" + k.Name), nil
}

// UnmarshalText parses the "schema|name" form written by MarshalText.
func (k *TableKey) UnmarshalText(text []byte) error {
	parts := strings.SplitN(string(text), "|", 2)
	if len(parts) != 2 {
		return fmt.Errorf("schema: invalid TableKey %q", text)
	}
	k.Schema, k.Name = parts[0], parts[1]
	return nil
}

// DatabaseSchema is the complete snapshot produced by LoadSchema. The
// Registry caches it per descriptor with a wall-clock TTL; this type
// itself carries no cache metadata.
type DatabaseSchema struct {
	Schemas      []SchemaInfo
	Tables       []TableInfo
	Views        []ViewInfo
	Functions    []FunctionInfo
	TableColumns map[TableKey][]ColumnDetail
	ViewColumns  map[TableKey][]ColumnDetail
}
