package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/tuskdb/tuskcore/pkg/dberr"
	"github.com/tuskdb/tuskcore/pkg/descriptor"
)

const timeLayout = time.RFC3339Nano

// SaveConnection upserts a connection descriptor (and its SSH tunnel,
// if present) on id, per spec.md §4.D.
func (c *Catalog) SaveConnection(ctx context.Context, rec ConnectionRecord) error {
	if err := descriptor.Validate(&rec.Descriptor); err != nil {
		return dberr.Wrap(err, dberr.Config, "catalog: refusing to save invalid descriptor")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return dberr.ClassifyStorage(err, "catalog: begin save_connection")
	}
	defer tx.Rollback()

	var sshTunnelID *string
	if t := rec.Descriptor.SshTunnel; t != nil {
		id := t.ID.String()
		sshTunnelID = &id
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ssh_tunnels (id, name, host, port, username, auth_method, key_path, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				host = excluded.host,
				port = excluded.port,
				username = excluded.username,
				auth_method = excluded.auth_method,
				key_path = excluded.key_path
		`,
			t.ID.String(), rec.Descriptor.Name, t.Host, t.Port, t.Username, string(t.Method), nullableString(t.KeyPath),
			time.Now().UTC().Format(timeLayout),
		); err != nil {
			return dberr.ClassifyStorage(err, "catalog: upsert ssh_tunnels")
		}
	}

	now := time.Now().UTC()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	var lastConnectedAt any
	if rec.LastConnectedAt != nil {
		lastConnectedAt = rec.LastConnectedAt.UTC().Format(timeLayout)
	}

	d := rec.Descriptor
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO connections (
			id, name, host, port, database_name, username, ssl_mode, ssh_tunnel_id,
			color, read_only, connect_timeout_secs, statement_timeout_secs, application_name,
			created_at, updated_at, last_connected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			host = excluded.host,
			port = excluded.port,
			database_name = excluded.database_name,
			username = excluded.username,
			ssl_mode = excluded.ssl_mode,
			ssh_tunnel_id = excluded.ssh_tunnel_id,
			color = excluded.color,
			read_only = excluded.read_only,
			connect_timeout_secs = excluded.connect_timeout_secs,
			statement_timeout_secs = excluded.statement_timeout_secs,
			application_name = excluded.application_name,
			updated_at = excluded.updated_at,
			last_connected_at = excluded.last_connected_at
	`,
		d.ID.String(), d.Name, d.Host, d.Port, d.DatabaseName, d.Username, string(d.SslMode), sshTunnelID,
		nullableString(d.Color), d.Options.ReadOnly, d.Options.ConnectTimeoutSecs, d.Options.StatementTimeoutSecs,
		nullableString(d.Options.ApplicationName),
		createdAt.Format(timeLayout), now.Format(timeLayout), lastConnectedAt,
	); err != nil {
		return dberr.ClassifyStorage(err, "catalog: upsert connections")
	}

	if err := tx.Commit(); err != nil {
		return dberr.ClassifyStorage(err, "catalog: commit save_connection")
	}
	return nil
}

// LoadAllConnections returns every saved connection, ordered by
// last_connected_at DESC NULLS LAST, name.
func (c *Catalog) LoadAllConnections(ctx context.Context) ([]ConnectionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx, `
		SELECT
			c.id, c.name, c.host, c.port, c.database_name, c.username, c.ssl_mode,
			c.color, c.read_only, c.connect_timeout_secs, c.statement_timeout_secs, c.application_name,
			c.created_at, c.updated_at, c.last_connected_at,
			t.id, t.host, t.port, t.username, t.auth_method, t.key_path
		FROM connections c
		LEFT JOIN ssh_tunnels t ON t.id = c.ssh_tunnel_id
		ORDER BY (c.last_connected_at IS NULL), c.last_connected_at DESC, c.name ASC
	`)
	if err != nil {
		return nil, dberr.ClassifyStorage(err, "catalog: load_all_connections")
	}
	defer rows.Close()

	var result []ConnectionRecord
	for rows.Next() {
		rec, err := scanConnectionRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.ClassifyStorage(err, "catalog: load_all_connections")
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnectionRow(rows rowScanner) (ConnectionRecord, error) {
	var (
		id, name, host, username, sslMode                        string
		databaseName                                             string
		color, applicationName                                    sql.NullString
		statementTimeoutSecs                                      sql.NullInt64
		port, connectTimeoutSecs                                 int
		readOnly                                                  bool
		createdAt, updatedAt                                      string
		lastConnectedAt                                           sql.NullString
		tunnelID, tunnelHost, tunnelUsername, tunnelMethod        sql.NullString
		tunnelKeyPath                                              sql.NullString
		tunnelPort                                                sql.NullInt64
	)

	if err := rows.Scan(
		&id, &name, &host, &port, &databaseName, &username, &sslMode,
		&color, &readOnly, &connectTimeoutSecs, &statementTimeoutSecs, &applicationName,
		&createdAt, &updatedAt, &lastConnectedAt,
		&tunnelID, &tunnelHost, &tunnelPort, &tunnelUsername, &tunnelMethod, &tunnelKeyPath,
	); err != nil {
		return ConnectionRecord{}, dberr.ClassifyStorage(err, "catalog: scan connection row")
	}

	b := descriptor.New().
		WithID(uuid.MustParse(id)).
		WithName(name).
		WithHost(host).
		WithPort(port).
		WithDatabaseName(databaseName).
		WithUsername(username).
		WithSslMode(descriptor.SslMode(sslMode)).
		WithColor(color.String)

	opts := descriptor.Options{
		ConnectTimeoutSecs: connectTimeoutSecs,
		ReadOnly:           readOnly,
		ApplicationName:    applicationName.String,
	}
	if statementTimeoutSecs.Valid {
		v := int(statementTimeoutSecs.Int64)
		opts.StatementTimeoutSecs = &v
	}
	b = b.WithOptions(opts)

	if tunnelID.Valid {
		b = b.WithSshTunnel(&descriptor.SshTunnel{
			ID:       uuid.MustParse(tunnelID.String),
			Host:     tunnelHost.String,
			Port:     int(tunnelPort.Int64),
			Username: tunnelUsername.String,
			Method:   descriptor.SshAuthMethod(tunnelMethod.String),
			KeyPath:  tunnelKeyPath.String,
		})
	}

	d, err := b.Build()
	if err != nil {
		return ConnectionRecord{}, dberr.Wrap(err, dberr.Internal, "catalog: rehydrated descriptor fails validation")
	}

	rec := ConnectionRecord{Descriptor: *d}
	rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	rec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if lastConnectedAt.Valid {
		t, err := time.Parse(timeLayout, lastConnectedAt.String)
		if err == nil {
			rec.LastConnectedAt = &t
		}
	}
	return rec, nil
}

// DeleteConnection removes a connection by id. Idempotent.
func (c *Catalog) DeleteConnection(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id.String())
	if err != nil {
		return dberr.ClassifyStorage(err, "catalog: delete_connection")
	}
	return nil
}

// TouchLastConnected stamps last_connected_at with the current time,
// used after a successful pool acquisition.
func (c *Catalog) TouchLastConnected(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx,
		`UPDATE connections SET last_connected_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), id.String(),
	)
	if err != nil {
		return dberr.ClassifyStorage(err, "catalog: touch last_connected_at")
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
