// Package catalog implements the local catalog: an embedded SQLite
// store, opened in the application's data directory, that persists
// connection descriptors, SSH tunnels, query history, saved queries,
// and opaque UI state. Grounded on autobrr/qui's internal/database
// package (pragma application on open, //go:embed migrations/*.sql,
// a gating table checked against the embedded migration set) adapted
// from its single linear schema_migrations table to spec.md's
// per-domain (domain, step, name) gating table, and from
// modernc.org/sqlite to mattn/go-sqlite3 per the teacher's driver.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tuskdb/tuskcore/pkg/dberr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const busyTimeoutMs = 5000

// Catalog wraps the single-file SQLite database. The store is
// single-writer, many-reader under SQLite's own locking; Catalog adds
// a process-local mutex so callers see a serial interface, per
// spec.md §4.D.
type Catalog struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the catalog database at path. If the file
// exists and its integrity check reports anything other than "ok",
// the file is renamed with a timestamped ".corrupt" suffix and a
// fresh file replaces it. Pending migrations are applied before Open
// returns.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, dberr.ClassifyStorage(err, "catalog: create data directory")
	}

	if _, err := os.Stat(path); err == nil {
		if corruptErr := quarantineIfCorrupt(path); corruptErr != nil {
			return nil, corruptErr
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d&_sync=NORMAL",
		path, busyTimeoutMs,
	)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, dberr.ClassifyStorage(err, fmt.Sprintf("catalog: open %s", path))
	}
	db.SetMaxOpenConns(1) // mattn/go-sqlite3 serializes writers regardless; one conn avoids lock thrash

	if _, err := db.Exec("PRAGMA temp_store = MEMORY"); err != nil {
		db.Close()
		return nil, dberr.ClassifyStorage(err, "catalog: set temp_store")
	}

	c := &Catalog{db: db}
	if err := c.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// quarantineIfCorrupt runs PRAGMA integrity_check against the
// existing file and, on anything other than "ok", renames it with a
// timestamped ".corrupt" suffix so a fresh file can take its place.
func quarantineIfCorrupt(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return quarantine(path)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil || result != "ok" {
		return quarantine(path)
	}
	return nil
}

func quarantine(path string) error {
	ts := time.Now().UTC().Format("20060102T150405Z")
	dest := fmt.Sprintf("%s.%s.corrupt", path, ts)
	if err := os.Rename(path, dest); err != nil {
		return dberr.ClassifyStorage(err, "catalog: quarantine corrupt file")
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Rename(path+suffix, dest+suffix)
	}
	return nil
}

// Close closes the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) migrate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			domain TEXT NOT NULL,
			step INTEGER NOT NULL,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			PRIMARY KEY (domain, step)
		)
	`); err != nil {
		return dberr.ClassifyStorage(err, "catalog: create migrations table")
	}

	maxStep, err := c.maxStepPerDomain(ctx)
	if err != nil {
		return err
	}

	pending, err := pendingMigrations(maxStep)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return dberr.ClassifyStorage(err, "catalog: begin migration transaction")
	}
	defer tx.Rollback()

	for _, m := range pending {
		// The embedded migration set is compiled into the binary, so a
		// read failure here is a packaging defect, not a disk condition.
		content, err := migrationsFS.ReadFile("migrations/" + m.filename)
		if err != nil {
			return dberr.Wrapf(err, dberr.Internal, "catalog: read embedded migration %s", m.filename)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return dberr.ClassifyStorage(err, fmt.Sprintf("catalog: apply migration %s", m.filename))
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO migrations (domain, step, name, applied_at) VALUES (?, ?, ?, ?)`,
			m.domain, m.step, m.name, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return dberr.ClassifyStorage(err, fmt.Sprintf("catalog: record migration %s", m.filename))
		}
	}

	if err := tx.Commit(); err != nil {
		return dberr.ClassifyStorage(err, "catalog: commit migrations")
	}
	return nil
}

func (c *Catalog) maxStepPerDomain(ctx context.Context) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT domain, MAX(step) FROM migrations GROUP BY domain`)
	if err != nil {
		return nil, dberr.ClassifyStorage(err, "catalog: read migration high-water marks")
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var domain string
		var step int
		if err := rows.Scan(&domain, &step); err != nil {
			return nil, dberr.ClassifyStorage(err, "catalog: scan migration high-water mark")
		}
		result[domain] = step
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.ClassifyStorage(err, "catalog: read migration high-water marks")
	}
	return result, nil
}

// parsedMigration is a migration file name split into its gating-table
// identity: "<domain>.<step>.<name>.sql".
type parsedMigration struct {
	filename string
	domain   string
	step     int
	name     string
}

func pendingMigrations(applied map[string]int) ([]parsedMigration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, dberr.Wrap(err, dberr.Internal, "catalog: read embedded migrations")
	}

	var all []parsedMigration
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		m, err := parseMigrationFilename(entry.Name())
		if err != nil {
			return nil, err
		}
		all = append(all, m)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].domain != all[j].domain {
			return all[i].domain < all[j].domain
		}
		return all[i].step < all[j].step
	})

	var pending []parsedMigration
	for _, m := range all {
		if m.step > applied[m.domain] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func parseMigrationFilename(filename string) (parsedMigration, error) {
	base := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(base, ".", 3)
	if len(parts) != 3 {
		return parsedMigration{}, dberr.Newf(dberr.Internal, "catalog: migration filename %q must be domain.step.name.sql", filename)
	}
	step, err := strconv.Atoi(parts[1])
	if err != nil {
		return parsedMigration{}, dberr.Wrapf(err, dberr.Internal, "catalog: migration filename %q has non-numeric step", filename)
	}
	return parsedMigration{filename: filename, domain: parts[0], step: step, name: parts[2]}, nil
}
