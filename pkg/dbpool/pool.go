// Package dbpool implements the connection pool: it owns a bounded
// set of live connections to one descriptor plus the SQL used to
// apply session defaults on every acquisition, per spec.md §4.E.
//
// Directly adapted from the teacher's pkg/clients/postgres Client:
// same pgxpool.ParseConfig → field overrides → pgxpool.NewWithConfig
// → ping-probe construction shape and the same OpenTelemetry
// span-per-operation instrumentation. Unlike the teacher's thin
// pass-through pool, Pool applies the session-defaults compound
// statement on every acquire (not just once at construction) and
// classifies acquire timeouts into PoolTimeout vs. Connection.
package dbpool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tuskdb/tuskcore/internal/fsm"
	"github.com/tuskdb/tuskcore/pkg/dberr"
	"github.com/tuskdb/tuskcore/pkg/descriptor"
)

const tracerName = "github.com/tuskdb/tuskcore/pkg/dbpool"

// poolState is the pool's own open/closed lifecycle, tracked through
// the shared fsm.Machine also used by the query engine's handle
// states.
type poolState string

const (
	poolOpen   poolState = "open"
	poolClosed poolState = "closed"
)

var poolTransitions = map[poolState][]poolState{
	poolOpen: {poolClosed},
}

// Status is the observable snapshot returned by Pool.Status, per
// spec.md §4.E. Exposed for observation; not used for internal
// gating.
type Status struct {
	MaxSize   int32
	Size      int32
	Available int32
	Waiting   int32
}

// Pool owns a bounded set of live connections to one Descriptor.
// Created by New after a successful validation probe; closed only by
// an explicit Close (a Pool that is no longer referenced is not closed
// automatically). Once closed, all further acquisitions fail
// synchronously.
type Pool struct {
	descriptor *descriptor.Descriptor
	pgxpool    *pgxpool.Pool
	tracer     trace.Tracer

	waitTimeout time.Duration
	waiters     atomic.Int32
	state       *fsm.Machine[poolState]
}

// New builds a driver configuration from d and password, obtains one
// connection to validate connectivity, and returns a ready Pool. A
// validation failure returns a *dberr.Error of kind Connection and
// the pool is not constructed.
func New(ctx context.Context, d *descriptor.Descriptor, password Secret, maxSize int32, waitTimeout time.Duration) (*Pool, error) {
	if err := descriptor.Validate(d); err != nil {
		return nil, dberr.Wrap(err, dberr.Config, "dbpool: invalid descriptor")
	}

	cfg, err := buildPoolConfig(d, password, maxSize)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.Config, "dbpool: invalid pool configuration")
	}

	pgxPool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, dberr.Wrap(dberr.Classify(err), dberr.Connection, "dbpool: failed to create connection pool")
	}

	p := &Pool{
		descriptor:  d,
		pgxpool:     pgxPool,
		tracer:      otel.Tracer(tracerName),
		waitTimeout: waitTimeout,
		state:       fsm.New(poolOpen, poolTransitions),
	}

	conn, err := p.Acquire(ctx)
	if err != nil {
		pgxPool.Close()
		if !dberr.IsConnection(err) {
			return nil, dberr.Wrap(err, dberr.Connection, "dbpool: validation probe failed")
		}
		return nil, err
	}
	conn.Release()

	return p, nil
}

// Acquire blocks up to the pool's wait timeout for a connection. On
// timeout it returns PoolTimeout{waiting}, where waiting counts every
// caller queued at the moment of timeout, including the one timing
// out. A successful acquire applies the session-defaults compound
// statement before returning; if that fails the connection is released
// back to the pool instead of being returned to the caller, and a
// Connection error is returned.
func (p *Pool) Acquire(ctx context.Context) (*PooledConnection, error) {
	if p.state.Current() == poolClosed {
		return nil, dberr.New(dberr.Connection, "pool is closed")
	}

	ctx, span := p.tracer.Start(ctx, "dbpool.Acquire", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("db.system", "postgresql"))
	defer span.End()

	acquireCtx := ctx
	var cancel context.CancelFunc
	if p.waitTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, p.waitTimeout)
		defer cancel()
	}

	p.waiters.Add(1)
	conn, err := p.pgxpool.Acquire(acquireCtx)
	// Snapshot the queue depth, including this caller, before releasing
	// its own slot — a timing-out caller is still "waiting" per §4.E.
	waiting := p.waiters.Load()
	p.waiters.Add(-1)

	if err != nil {
		finishSpan(span, err)
		if ctx.Err() == nil && acquireCtx.Err() != nil {
			return nil, dberr.PoolTimeoutErr(int(waiting))
		}
		return nil, dberr.Wrap(dberr.Classify(err), dberr.Connection, "failed to acquire")
	}

	if sql := sessionDefaultsSQL(p.descriptor); sql != "" {
		if _, execErr := conn.Exec(ctx, sql); execErr != nil {
			conn.Release()
			finishSpan(span, execErr)
			return nil, dberr.Wrap(dberr.Classify(execErr), dberr.Connection, "failed to apply session defaults")
		}
	}

	finishSpan(span, nil)
	return newPooledConnection(conn), nil
}

// Status returns a point-in-time snapshot of pool occupancy.
// Exposed for observation; not used for internal gating.
func (p *Pool) Status() Status {
	stat := p.pgxpool.Stat()
	return Status{
		MaxSize:   stat.MaxConns(),
		Size:      stat.TotalConns(),
		Available: stat.IdleConns(),
		Waiting:   p.waiters.Load(),
	}
}

// Close drains the pool and flips a terminal flag; subsequent
// acquires fail synchronously. Safe to call more than once.
func (p *Pool) Close() {
	if p.state.TryFire(poolClosed) {
		p.pgxpool.Close()
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}
