package dbpool

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tuskdb/tuskcore/pkg/dberr"
	"github.com/tuskdb/tuskcore/pkg/descriptor"
)

// TestConnection runs a one-shot connect-ping-close probe against d,
// sharing the TLS/keepalive/timeout config path used by Pool
// construction. Implemented here (not in pkg/descriptor) because it
// needs the same driver configuration machinery as New, per
// spec.md §3/§4.E.
func TestConnection(ctx context.Context, d *descriptor.Descriptor, password Secret) descriptor.ConnectionTestResult {
	if err := descriptor.Validate(d); err != nil {
		return descriptor.ConnectionTestResult{Error: dberr.Wrap(err, dberr.Config, "invalid descriptor")}
	}

	connStr := connectionString(d, password)
	connCfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		return descriptor.ConnectionTestResult{Error: dberr.Wrap(err, dberr.Config, "invalid connection configuration")}
	}
	connCfg.ConnectTimeout = time.Duration(d.Options.ConnectTimeoutSecs) * time.Second

	tlsCfg, err := tlsConfigFor(d)
	if err != nil {
		return descriptor.ConnectionTestResult{Error: dberr.Wrap(err, dberr.Ssl, "failed to build tls configuration")}
	}
	if tlsCfg != nil {
		connCfg.TLSConfig = tlsCfg
	}

	start := time.Now()

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return descriptor.ConnectionTestResult{
			OK:    false,
			Error: dberr.Classify(err),
		}
	}
	defer conn.Close(context.Background())

	var version string
	if err := conn.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		return descriptor.ConnectionTestResult{
			OK:    false,
			Error: dberr.Classify(err),
		}
	}

	return descriptor.ConnectionTestResult{
		OK:            true,
		LatencyMs:     time.Since(start).Milliseconds(),
		ServerVersion: version,
	}
}
