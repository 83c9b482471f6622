package dbpool

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PooledConnection is a borrow from a Pool with automatic return on
// Release, a connection-level cancel token (used to request
// server-side cancellation of a statement on this connection), and
// methods to query/execute. Per spec.md §3.
type PooledConnection struct {
	conn *pgxpool.Conn
}

func newPooledConnection(conn *pgxpool.Conn) *PooledConnection {
	return &PooledConnection{conn: conn}
}

// Query executes a SQL query that returns rows.
func (c *PooledConnection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

// QueryRow executes a SQL query that returns at most one row.
func (c *PooledConnection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

// Exec executes a SQL statement that does not return rows.
func (c *PooledConnection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.conn.Exec(ctx, sql, args...)
}

// CancelRequest sends a protocol-level cancellation request for
// whatever statement is currently executing on this connection. This
// is independent of the query engine's cooperative cancellation
// token; the Registry invokes both when a caller cancels a query, per
// spec.md §4.F.
func (c *PooledConnection) CancelRequest(ctx context.Context) error {
	return c.conn.Conn().PgConn().CancelRequest(ctx)
}

// Release returns the connection to the pool, or discards it if the
// driver's recycling check fails.
func (c *PooledConnection) Release() {
	c.conn.Release()
}
