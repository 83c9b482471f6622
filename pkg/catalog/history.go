package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/tuskdb/tuskcore/pkg/dberr"
)

// RecordHistory appends one query execution to the history log.
func (c *Catalog) RecordHistory(ctx context.Context, entry QueryHistoryEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := entry.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	executedAt := entry.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO query_history (id, connection_id, sql_text, execution_time_ms, row_count, error_message, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		id.String(), entry.ConnectionID.String(), entry.SqlText,
		entry.ExecutionTimeMs, entry.RowCount, entry.ErrorMessage,
		executedAt.Format(timeLayout),
	)
	if err != nil {
		return dberr.ClassifyStorage(err, "catalog: record query history")
	}
	return nil
}

// SearchHistory applies a LIKE pattern against sql_text, optionally
// scoped to one connection, newest first.
func (c *Catalog) SearchHistory(ctx context.Context, pattern string, connectionID *uuid.UUID, limit int) ([]QueryHistoryEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	query := `
		SELECT id, connection_id, sql_text, execution_time_ms, row_count, error_message, executed_at
		FROM query_history
		WHERE sql_text LIKE ?
	`
	args := []any{"%" + pattern + "%"}
	if connectionID != nil {
		query += " AND connection_id = ?"
		args = append(args, connectionID.String())
	}
	query += " ORDER BY executed_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dberr.ClassifyStorage(err, "catalog: search_history")
	}
	defer rows.Close()

	var result []QueryHistoryEntry
	for rows.Next() {
		var (
			idStr, connIDStr, sqlText, executedAt string
			executionTimeMs, rowCount             sql.NullInt64
			errorMessage                           sql.NullString
		)
		if err := rows.Scan(&idStr, &connIDStr, &sqlText, &executionTimeMs, &rowCount, &errorMessage, &executedAt); err != nil {
			return nil, dberr.ClassifyStorage(err, "catalog: scan query history row")
		}

		entry := QueryHistoryEntry{
			ID:           uuid.MustParse(idStr),
			ConnectionID: uuid.MustParse(connIDStr),
			SqlText:      sqlText,
		}
		if executionTimeMs.Valid {
			v := executionTimeMs.Int64
			entry.ExecutionTimeMs = &v
		}
		if rowCount.Valid {
			v := rowCount.Int64
			entry.RowCount = &v
		}
		if errorMessage.Valid {
			v := errorMessage.String
			entry.ErrorMessage = &v
		}
		entry.ExecutedAt, _ = time.Parse(timeLayout, executedAt)
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.ClassifyStorage(err, "catalog: search_history")
	}
	return result, nil
}
