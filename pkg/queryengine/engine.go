// Package queryengine runs SQL against a PooledConnection and reports
// results either as a single collected Result (Execute) or as a stream
// of QueryEvents (ExecuteStreaming), per spec.md §4.F. Row scanning is
// grounded on the pack's generic QueryExecutor.Execute pattern
// (other_examples/.../query_executor.go: rows.Columns() + []any scan
// targets), adapted to pgx's pgx.Rows/FieldDescriptions API and the
// typed QueryEvent stream instead of a single QueryResult. The handle
// state machine is the shared internal/fsm.Machine also used by
// pkg/dbpool's pool lifecycle.
package queryengine

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tuskdb/tuskcore/pkg/dberr"
)

const (
	defaultBatchSize        = 1000
	defaultProgressInterval = 10000
	tracerName              = "github.com/tuskdb/tuskcore/pkg/queryengine"
	statementAttrMaxLen     = 2000
)

// Querier is the subset of dbpool.PooledConnection the engine needs.
// Declared locally so this package does not import dbpool;
// dbpool.PooledConnection satisfies it structurally.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Engine runs queries with the batching/progress cadence described in
// spec.md §4.F. The zero value is not usable; use New.
type Engine struct {
	batchSize        int
	progressInterval int64
	tracer           trace.Tracer
}

// New returns an Engine configured with the spec's default batch size
// (1000) and progress interval (10000).
func New() *Engine {
	return &Engine{
		batchSize:        defaultBatchSize,
		progressInterval: defaultProgressInterval,
		tracer:           otel.Tracer(tracerName),
	}
}

func truncateStatement(sql string) string {
	if len(sql) <= statementAttrMaxLen {
		return sql
	}
	return sql[:statementAttrMaxLen]
}

// WithBatchSize overrides the row-batch size used by ExecuteStreaming.
func (e *Engine) WithBatchSize(n int) *Engine {
	e.batchSize = n
	return e
}

// WithProgressInterval overrides the row count between Progress events.
// A non-positive interval disables Progress events entirely.
func (e *Engine) WithProgressInterval(n int64) *Engine {
	e.progressInterval = n
	return e
}

// Result is the outcome of a non-streaming Execute call.
type Result struct {
	Columns      []ColumnMeta
	Rows         [][]any
	QueryType    QueryType
	RowsAffected *int64
	ElapsedMs    int64
}

// Execute runs sql and collects every row before returning. It races
// the driver call against handle's cooperative cancellation token; on
// cancellation it returns a *dberr.Error of kind QueryCancelled.
func (e *Engine) Execute(ctx context.Context, conn Querier, sql string, handle *Handle) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "queryengine.Execute", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", truncateStatement(sql)),
	)
	defer span.End()

	if handle.IsCancelled() {
		handle.transition(StateCancelling)
		handle.transition(StateTerminated)
		err := cancelledErr(handle)
		finishSpan(span, err)
		return nil, err
	}
	handle.transition(StateExecuting)

	start := time.Now()
	merged, stop := mergeCancel(ctx, handle.Done())
	defer stop()

	rows, err := conn.Query(merged, sql)
	if err != nil {
		ev := classifyErr(err, handle)
		handle.transition(terminalPathFor(ev))
		handle.transition(StateTerminated)
		finishSpan(span, ev.Err)
		return nil, ev.Err
	}
	defer rows.Close()

	var resultRows [][]any
	for rows.Next() {
		if handle.IsCancelled() {
			rows.Close()
			handle.transition(StateCancelling)
			handle.transition(StateTerminated)
			err := cancelledErr(handle)
			finishSpan(span, err)
			return nil, err
		}
		vals, valErr := rows.Values()
		if valErr != nil {
			rows.Close()
			ev := classifyErr(valErr, handle)
			handle.transition(terminalPathFor(ev))
			handle.transition(StateTerminated)
			finishSpan(span, ev.Err)
			return nil, ev.Err
		}
		resultRows = append(resultRows, vals)
	}

	if err := rows.Err(); err != nil {
		ev := classifyErr(err, handle)
		handle.transition(terminalPathFor(ev))
		handle.transition(StateTerminated)
		finishSpan(span, ev.Err)
		return nil, ev.Err
	}

	// A cancel that lands after the driver has already returned a
	// complete result does not retroactively turn it into a failure —
	// only the suspension points inside the row loop above observe
	// cancellation, matching the streaming path below.
	columns := []ColumnMeta{}
	if len(resultRows) > 0 {
		columns = fieldDescriptionsToColumns(rows.FieldDescriptions())
	}

	qtype := detectQueryType(sql)
	var rowsAffected *int64
	if qtype != QuerySelect {
		tag := rows.CommandTag()
		n := tag.RowsAffected()
		rowsAffected = &n
	}

	handle.transition(StateCompleting)
	handle.transition(StateTerminated)
	finishSpan(span, nil)

	return &Result{
		Columns:      columns,
		Rows:         resultRows,
		QueryType:    qtype,
		RowsAffected: rowsAffected,
		ElapsedMs:    time.Since(start).Milliseconds(),
	}, nil
}

// ExecuteStreaming opens a row stream and drives it event-by-event into
// sink, following the seven-point ordering contract in spec.md §4.F.
// sink must have capacity ≥ 1. If ctx is cancelled while a send is in
// flight the engine treats that as the consumer having dropped the
// sink and returns silently without emitting further events.
func (e *Engine) ExecuteStreaming(ctx context.Context, conn Querier, sql string, handle *Handle, sink chan<- QueryEvent) {
	ctx, span := e.tracer.Start(ctx, "queryengine.ExecuteStreaming", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", truncateStatement(sql)),
	)
	var spanErr error
	defer func() { finishSpan(span, spanErr); span.End() }()

	if handle.IsCancelled() {
		handle.transition(StateCancelling)
		trySend(ctx, sink, ColumnsEvent{Columns: []ColumnMeta{}})
		err := cancelledErr(handle)
		spanErr = err
		trySend(ctx, sink, ErrorEvent{Err: err})
		handle.transition(StateTerminated)
		return
	}
	handle.transition(StateExecuting)

	start := time.Now()
	merged, stop := mergeCancel(ctx, handle.Done())
	defer stop()

	rows, err := conn.Query(merged, sql)
	if err != nil {
		ev := classifyErr(err, handle)
		spanErr = ev.Err
		handle.transition(terminalPathFor(ev))
		trySend(ctx, sink, ev)
		handle.transition(StateTerminated)
		return
	}
	defer rows.Close()

	qtype := detectQueryType(sql)
	batch := make([][]any, 0, e.batchSize)
	var totalSoFar int64
	var columnsSent bool

	for {
		if handle.IsCancelled() {
			if !columnsSent {
				if !trySend(ctx, sink, ColumnsEvent{Columns: []ColumnMeta{}}) {
					return
				}
				columnsSent = true
			}
			handle.transition(StateCancelling)
			err := cancelledErr(handle)
			spanErr = err
			trySend(ctx, sink, ErrorEvent{Err: err})
			handle.transition(StateTerminated)
			return
		}

		if !rows.Next() {
			break
		}

		if !columnsSent {
			cols := fieldDescriptionsToColumns(rows.FieldDescriptions())
			if !trySend(ctx, sink, ColumnsEvent{Columns: cols}) {
				return
			}
			columnsSent = true
		}

		vals, valErr := rows.Values()
		if valErr != nil {
			ev := classifyErr(valErr, handle)
			spanErr = ev.Err
			handle.transition(terminalPathFor(ev))
			trySend(ctx, sink, ev)
			handle.transition(StateTerminated)
			return
		}

		batch = append(batch, vals)
		totalSoFar++

		if len(batch) >= e.batchSize {
			if !trySend(ctx, sink, RowsEvent{Batch: batch, TotalSoFar: totalSoFar}) {
				return
			}
			batch = make([][]any, 0, e.batchSize)
		}
		if e.progressInterval > 0 && totalSoFar%e.progressInterval == 0 {
			if !trySend(ctx, sink, ProgressEvent{RowsSoFar: totalSoFar}) {
				return
			}
		}
	}

	if !columnsSent {
		if !trySend(ctx, sink, ColumnsEvent{Columns: []ColumnMeta{}}) {
			return
		}
		columnsSent = true
	}

	if err := rows.Err(); err != nil {
		ev := classifyErr(err, handle)
		spanErr = ev.Err
		handle.transition(terminalPathFor(ev))
		trySend(ctx, sink, ev)
		handle.transition(StateTerminated)
		return
	}

	if len(batch) > 0 {
		if !trySend(ctx, sink, RowsEvent{Batch: batch, TotalSoFar: totalSoFar}) {
			return
		}
	}

	var rowsAffected *int64
	if qtype != QuerySelect {
		tag := rows.CommandTag()
		n := tag.RowsAffected()
		rowsAffected = &n
	}

	handle.transition(StateCompleting)
	trySend(ctx, sink, CompleteEvent{
		TotalRows:    totalSoFar,
		ElapsedMs:    time.Since(start).Milliseconds(),
		RowsAffected: rowsAffected,
	})
	handle.transition(StateTerminated)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// trySend delivers event on sink, or returns false without sending if
// ctx is cancelled first — the consumer-dropped-the-sink case from
// spec.md §4.F point 7.
func trySend(ctx context.Context, sink chan<- QueryEvent, event QueryEvent) bool {
	select {
	case sink <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func cancelledErr(handle *Handle) *dberr.Error {
	return dberr.Newf(dberr.QueryCancelled, "query %s was cancelled", handle.ID)
}

func classifyErr(err error, handle *Handle) ErrorEvent {
	if handle.IsCancelled() {
		return ErrorEvent{Err: cancelledErr(handle)}
	}
	return ErrorEvent{Err: dberr.Classify(err)}
}

func terminalPathFor(ev ErrorEvent) HandleState {
	if ev.Err != nil && ev.Err.Kind == dberr.QueryCancelled {
		return StateCancelling
	}
	return StateFailing
}

func fieldDescriptionsToColumns(fields []pgconn.FieldDescription) []ColumnMeta {
	cols := make([]ColumnMeta, len(fields))
	for i, f := range fields {
		cols[i] = ColumnMeta{Name: f.Name, DataTypeOID: f.DataTypeOID}
	}
	return cols
}

// mergeCancel returns a context cancelled when either ctx is cancelled
// or done fires, plus a stop function that releases the watcher
// goroutine.
func mergeCancel(ctx context.Context, done <-chan struct{}) (context.Context, func()) {
	merged, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		select {
		case <-done:
			cancel()
		case <-merged.Done():
		case <-stopped:
		}
	}()
	return merged, func() {
		close(stopped)
		cancel()
	}
}
