package dbpool

import (
	"crypto/tls"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuskdb/tuskcore/pkg/descriptor"
)

func sampleDescriptor(t *testing.T) *descriptor.Descriptor {
	t.Helper()
	d, err := descriptor.New().
		WithName("Staging").
		WithHost("db.staging.internal").
		WithDatabaseName("app").
		WithUsername("svc").
		WithSslMode(descriptor.SslModeRequire).
		Build()
	require.NoError(t, err)
	return d
}

// ===========================================================================
// Secret
// ===========================================================================

func TestSecret_String_ReturnsRedacted(t *testing.T) {
	t.Parallel()
	s := Secret("hunter2")
	assert.Equal(t, redacted, s.String())
}

func TestSecret_GoString_ReturnsRedacted(t *testing.T) {
	t.Parallel()
	s := Secret("hunter2")
	assert.Equal(t, redacted, s.GoString())
}

func TestSecret_Value_ReturnsActualValue(t *testing.T) {
	t.Parallel()
	s := Secret("hunter2")
	assert.Equal(t, "hunter2", s.Value())
}

func TestSecret_MarshalText_ReturnsRedacted(t *testing.T) {
	t.Parallel()
	s := Secret("hunter2")
	data, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, redacted, string(data))
}

// ===========================================================================
// connectionString
// ===========================================================================

func TestConnectionString_EncodesSpecialCharactersInPassword(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	connStr := connectionString(d, Secret("p@ss:w0rd/special"))

	assert.True(t, strings.HasPrefix(connStr, "postgres://"))
	// user/host separator '@' must appear exactly once; the password's own
	// '@' must be percent-encoded.
	u, err := url.Parse(connStr)
	require.NoError(t, err)
	pw, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss:w0rd/special", pw)
}

func TestConnectionString_IncludesSslModeAndApplicationName(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	d.Options.ApplicationName = "tusk-desktop"

	connStr := connectionString(d, Secret("pw"))
	u, err := url.Parse(connStr)
	require.NoError(t, err)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
	assert.Equal(t, "tusk-desktop", u.Query().Get("application_name"))
}

func TestConnectionString_DefaultsApplicationName(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	connStr := connectionString(d, Secret("pw"))
	u, err := url.Parse(connStr)
	require.NoError(t, err)
	assert.Equal(t, "tusk", u.Query().Get("application_name"))
}

func TestConnectionString_PathIsDatabaseName(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	connStr := connectionString(d, Secret("pw"))
	u, err := url.Parse(connStr)
	require.NoError(t, err)
	assert.Equal(t, "/app", u.Path)
}

// ===========================================================================
// sslModeParam
// ===========================================================================

func TestSslModeParam(t *testing.T) {
	t.Parallel()
	tests := []struct {
		mode descriptor.SslMode
		want string
	}{
		{descriptor.SslModeDisable, "disable"},
		{descriptor.SslModePrefer, "prefer"},
		{descriptor.SslModeRequire, "require"},
		{descriptor.SslModeVerifyCA, "require"},
		{descriptor.SslModeVerifyFull, "require"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, sslModeParam(tt.mode))
		})
	}
}

// ===========================================================================
// tlsConfigFor
// ===========================================================================

func TestTlsConfigFor_Disable_ReturnsNil(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	d.SslMode = descriptor.SslModeDisable
	tlsCfg, err := tlsConfigFor(d)
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)
}

func TestTlsConfigFor_Prefer_ReturnsNil(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	d.SslMode = descriptor.SslModePrefer
	tlsCfg, err := tlsConfigFor(d)
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)
}

func TestTlsConfigFor_Require_ReturnsNil(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	d.SslMode = descriptor.SslModeRequire
	tlsCfg, err := tlsConfigFor(d)
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)
}

func TestTlsConfigFor_VerifyFull_SetsServerName(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	d.SslMode = descriptor.SslModeVerifyFull
	d.Host = "db.example.com"
	tlsCfg, err := tlsConfigFor(d)
	require.NoError(t, err)
	require.NotNil(t, tlsCfg)
	assert.Equal(t, "db.example.com", tlsCfg.ServerName)
	assert.False(t, tlsCfg.InsecureSkipVerify)
}

func TestTlsConfigFor_VerifyCA_SkipsHostnameCheck(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	d.SslMode = descriptor.SslModeVerifyCA
	tlsCfg, err := tlsConfigFor(d)
	require.NoError(t, err)
	require.NotNil(t, tlsCfg)
	assert.True(t, tlsCfg.InsecureSkipVerify)
	require.NotNil(t, tlsCfg.VerifyConnection)
}

func TestTlsConfigFor_VerifyCA_CallbackRejectsNoCerts(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	d.SslMode = descriptor.SslModeVerifyCA
	tlsCfg, err := tlsConfigFor(d)
	require.NoError(t, err)

	verifyErr := tlsCfg.VerifyConnection(tls.ConnectionState{PeerCertificates: nil})
	require.Error(t, verifyErr)
	assert.Contains(t, verifyErr.Error(), "did not present a certificate")
}

// ===========================================================================
// sessionDefaultsSQL
// ===========================================================================

func TestSessionDefaultsSQL_OmitsStatementTimeoutWhenUnset(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	d.Options.StatementTimeoutSecs = nil
	sql := sessionDefaultsSQL(d)
	assert.NotContains(t, sql, "statement_timeout")
	assert.Contains(t, sql, "idle_in_transaction_session_timeout = 300000")
}

func TestSessionDefaultsSQL_IncludesStatementTimeoutInMilliseconds(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	secs := 30
	d.Options.StatementTimeoutSecs = &secs
	sql := sessionDefaultsSQL(d)
	assert.Contains(t, sql, "statement_timeout = 30000")
	assert.Contains(t, sql, "idle_in_transaction_session_timeout = 300000")
}

// ===========================================================================
// buildPoolConfig
// ===========================================================================

func TestBuildPoolConfig_AppliesMaxSizeAndConnectTimeout(t *testing.T) {
	t.Parallel()
	d := sampleDescriptor(t)
	cfg, err := buildPoolConfig(d, Secret("pw"), 7)
	require.NoError(t, err)
	assert.EqualValues(t, 7, cfg.MaxConns)
	assert.EqualValues(t, 0, cfg.MinConns)
	assert.Equal(t, d.Options.ConnectTimeoutSecs, int(cfg.ConnConfig.Config.ConnectTimeout.Seconds()))
}
