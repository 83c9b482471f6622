package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/tuskdb/tuskcore/pkg/dberr"
)

// SaveQuery upserts a saved query on id.
func (c *Catalog) SaveQuery(ctx context.Context, q SavedQuery) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := q.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now().UTC()

	var connID any
	if q.ConnectionID != nil {
		connID = q.ConnectionID.String()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO saved_queries (id, connection_id, name, description, sql_text, folder_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			connection_id = excluded.connection_id,
			name = excluded.name,
			description = excluded.description,
			sql_text = excluded.sql_text,
			folder_path = excluded.folder_path,
			updated_at = excluded.updated_at
	`,
		id.String(), connID, q.Name, nullableString(q.Description), q.SqlText, nullableString(q.FolderPath),
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return dberr.ClassifyStorage(err, "catalog: save_query")
	}
	return nil
}

// LoadSavedQueries returns every saved query ordered by folder path
// then name.
func (c *Catalog) LoadSavedQueries(ctx context.Context) ([]SavedQuery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, connection_id, name, description, sql_text, folder_path, created_at, updated_at
		FROM saved_queries
		ORDER BY folder_path ASC, name ASC
	`)
	if err != nil {
		return nil, dberr.ClassifyStorage(err, "catalog: load_saved_queries")
	}
	defer rows.Close()

	var result []SavedQuery
	for rows.Next() {
		var (
			idStr, name, sqlText, createdAt, updatedAt string
			connIDStr, description, folderPath         sql.NullString
		)
		if err := rows.Scan(&idStr, &connIDStr, &name, &description, &sqlText, &folderPath, &createdAt, &updatedAt); err != nil {
			return nil, dberr.ClassifyStorage(err, "catalog: scan saved query row")
		}
		q := SavedQuery{
			ID:          uuid.MustParse(idStr),
			Name:        name,
			Description: description.String,
			SqlText:     sqlText,
			FolderPath:  folderPath.String,
		}
		if connIDStr.Valid {
			id := uuid.MustParse(connIDStr.String)
			q.ConnectionID = &id
		}
		q.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		q.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		result = append(result, q)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.ClassifyStorage(err, "catalog: load_saved_queries")
	}
	return result, nil
}

// DeleteSavedQuery removes a saved query by id. Idempotent.
func (c *Catalog) DeleteSavedQuery(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM saved_queries WHERE id = ?`, id.String())
	if err != nil {
		return dberr.ClassifyStorage(err, "catalog: delete_saved_query")
	}
	return nil
}
