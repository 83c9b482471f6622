package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayURL_NeverCarriesPassword(t *testing.T) {
	t.Parallel()
	d, err := New().
		WithName("Prod").
		WithHost("db.internal").
		WithPort(5433).
		WithDatabaseName("app").
		WithUsername("alice").
		WithSslMode(SslModeVerifyFull).
		Build()
	require.NoError(t, err)

	url := d.DisplayURL()
	assert.Equal(t, "postgres://alice@db.internal:5433/app", url)
	assert.NotContains(t, url, "password")
}

func TestDisplayLabel(t *testing.T) {
	t.Parallel()
	d, err := New().
		WithName("Prod").
		WithHost("db.internal").
		WithPort(5432).
		WithDatabaseName("app").
		WithUsername("alice").
		WithSslMode(SslModeDisable).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "Prod (db.internal:5432)", d.DisplayLabel())
}
