package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/tuskdb/tuskcore/pkg/dberr"
)

// SetUIState stores an opaque JSON blob under key, overwriting any
// existing value. The catalog does not interpret value_json.
func (c *Catalog) SetUIState(ctx context.Context, key string, valueJSON []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO ui_state (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at
	`, key, string(valueJSON), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return dberr.ClassifyStorage(err, "catalog: set_ui_state")
	}
	return nil
}

// GetUIState returns the JSON blob stored under key. The second
// return value is false if no value is stored.
func (c *Catalog) GetUIState(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var value string
	err := c.db.QueryRowContext(ctx, `SELECT value_json FROM ui_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, dberr.ClassifyStorage(err, "catalog: get_ui_state")
	}
	return []byte(value), true, nil
}
