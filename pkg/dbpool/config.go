package dbpool

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tuskdb/tuskcore/pkg/descriptor"
)

// Secret is a string type that prevents accidental logging of a
// password. Adapted from the teacher's postgres.Secret.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string                 { return redacted }
func (s Secret) GoString() string                { return redacted }
func (s Secret) Value() string                   { return string(s) }
func (s Secret) MarshalText() ([]byte, error)    { return []byte(redacted), nil }

const idleInTransactionTimeoutMs = 300000

// buildPoolConfig translates a Descriptor and its password into a
// pgxpool.Config, applying the connect timeout, TCP keepalive,
// application name, and TLS settings per spec.md §4.E.
func buildPoolConfig(d *descriptor.Descriptor, password Secret, maxSize int32) (*pgxpool.Config, error) {
	connStr := connectionString(d, password)

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("dbpool: parse connection string: %w", err)
	}

	cfg.MaxConns = maxSize
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	cfg.ConnConfig.Config.ConnectTimeout = time.Duration(d.Options.ConnectTimeoutSecs) * time.Second

	tlsCfg, err := tlsConfigFor(d)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		cfg.ConnConfig.TLSConfig = tlsCfg
	}

	return cfg, nil
}

func connectionString(d *descriptor.Descriptor, password Secret) string {
	appName := d.Options.ApplicationName
	if appName == "" {
		appName = "tusk"
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.Username, password.Value()),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.DatabaseName,
	}
	q := url.Values{}
	q.Set("sslmode", sslModeParam(d.SslMode))
	q.Set("application_name", appName)
	q.Set("keepalives", "1")
	q.Set("keepalives_idle", "60")
	u.RawQuery = q.Encode()
	return u.String()
}

func sslModeParam(mode descriptor.SslMode) string {
	switch mode {
	case descriptor.SslModeDisable:
		return "disable"
	case descriptor.SslModePrefer:
		return "prefer"
	case descriptor.SslModeRequire:
		return "require"
	case descriptor.SslModeVerifyCA:
		return "require" // cert verification is applied via tlsConfigFor, not the DSN param
	case descriptor.SslModeVerifyFull:
		return "require"
	default:
		return "prefer"
	}
}

// tlsConfigFor builds a *tls.Config for verify-ca / verify-full modes
// using the system trust store, adapted from the teacher's
// postgres.Config.tlsConfig — here without a custom CA file, since
// spec.md's Descriptor carries no SSLRootCert field.
func tlsConfigFor(d *descriptor.Descriptor) (*tls.Config, error) {
	switch d.SslMode {
	case descriptor.SslModeDisable, descriptor.SslModePrefer, descriptor.SslModeRequire:
		return nil, nil
	}

	roots, err := x509.SystemCertPool()
	if err != nil || roots == nil {
		roots = x509.NewCertPool()
	}

	tlsCfg := &tls.Config{
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	}

	switch d.SslMode {
	case descriptor.SslModeVerifyFull:
		tlsCfg.ServerName = d.Host
	case descriptor.SslModeVerifyCA:
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("dbpool: server did not present a certificate")
			}
			opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	}
	return tlsCfg, nil
}

// sessionDefaultsSQL builds the compound SET statement applied on
// every acquisition, per spec.md §4.E. The statement_timeout clause
// is omitted when no statement timeout is configured.
func sessionDefaultsSQL(d *descriptor.Descriptor) string {
	stmt := fmt.Sprintf("SET idle_in_transaction_session_timeout = %d", idleInTransactionTimeoutMs)
	if d.Options.StatementTimeoutSecs != nil {
		stmt = fmt.Sprintf("SET statement_timeout = %d; %s", *d.Options.StatementTimeoutSecs*1000, stmt)
	}
	return stmt
}
