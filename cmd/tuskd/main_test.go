package main

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDataDir(t *testing.T) {
	switch runtime.GOOS {
	case "windows":
		t.Setenv("APPDATA", `C:\Users\tusk\AppData\Roaming`)
		dir, err := resolveDataDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(`C:\Users\tusk\AppData\Roaming`, "tusk", "Tusk"), dir)
	case "darwin":
		t.Setenv("HOME", "/Users/tusk")
		dir, err := resolveDataDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/Users/tusk", "Library", "Application Support", "tusk"), dir)
	default:
		t.Run("XDG_DATA_HOME takes precedence", func(t *testing.T) {
			t.Setenv("XDG_DATA_HOME", "/custom/data")
			dir, err := resolveDataDir()
			require.NoError(t, err)
			assert.Equal(t, filepath.Join("/custom/data", "tusk"), dir)
		})
		t.Run("falls back to HOME/.local/share", func(t *testing.T) {
			t.Setenv("XDG_DATA_HOME", "")
			t.Setenv("HOME", "/home/tusk")
			dir, err := resolveDataDir()
			require.NoError(t, err)
			assert.Equal(t, filepath.Join("/home/tusk", ".local", "share", "tusk"), dir)
		})
	}
}

func TestBuildSchemaCache_DefaultsToMemory(t *testing.T) {
	cfg := Config{SchemaCacheTTL: 0}
	cache, health, closeFn, err := buildSchemaCache(nil, cfg, nil) //nolint:staticcheck // no I/O on this path
	require.NoError(t, err)
	require.NotNil(t, cache)
	assert.Nil(t, health)
	assert.Nil(t, closeFn)
}

func TestBuildValidator_EmptyTokenIsUnauthenticated(t *testing.T) {
	validator, err := buildValidator(Config{})
	require.NoError(t, err)
	assert.Nil(t, validator)
}

func TestBuildValidator_TokenBuildsPlatformValidator(t *testing.T) {
	validator, err := buildValidator(Config{AdminAuthToken: "a-shared-secret-that-is-at-least-32-bytes-long"})
	require.NoError(t, err)
	assert.NotNil(t, validator)
}
