package queryengine

import "github.com/tuskdb/tuskcore/pkg/dberr"

// QueryEvent is the tagged variant streamed by ExecuteStreaming, per
// spec.md §4.F / §2's QueryEvent glossary entry. The sealed interface
// (isQueryEvent is unexported) plays the role of a closed union: the
// five concrete types below are the only implementations, and callers
// type-switch on the concrete type to branch on tag.
type QueryEvent interface {
	isQueryEvent()
}

// ColumnsEvent is always the first event on the stream, exactly once.
// Columns is empty if the query produced no rows at all.
type ColumnsEvent struct {
	Columns []ColumnMeta
}

// RowsEvent carries one batch of decoded row values plus the running
// total of rows seen so far across the whole stream.
type RowsEvent struct {
	Batch      [][]any
	TotalSoFar int64
}

// ProgressEvent is emitted every ProgressInterval rows. It carries no
// row data, only a running count.
type ProgressEvent struct {
	RowsSoFar int64
}

// CompleteEvent is the terminal success event: total rows streamed,
// measured wall-clock elapsed time, and (for non-Select statements) the
// server-reported rows-affected count.
type CompleteEvent struct {
	TotalRows    int64
	ElapsedMs    int64
	RowsAffected *int64
}

// ErrorEvent is the terminal failure event, including cancellation
// (Err.Kind == dberr.QueryCancelled).
type ErrorEvent struct {
	Err *dberr.Error
}

func (ColumnsEvent) isQueryEvent()  {}
func (RowsEvent) isQueryEvent()     {}
func (ProgressEvent) isQueryEvent() {}
func (CompleteEvent) isQueryEvent() {}
func (ErrorEvent) isQueryEvent()    {}

// ColumnMeta is one column's wire metadata, adapted from pgx's
// pgconn.FieldDescription.
type ColumnMeta struct {
	Name        string
	DataTypeOID uint32
}
