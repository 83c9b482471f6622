// Command tuskd is the headless daemon form of tusk's session core: it
// hosts the same Registry (pools, schema cache, in-flight queries) a
// desktop build embeds directly, fronted by pkg/adminapi instead of the
// Tauri command bridge. Useful for running the session core on a
// server and driving it from a thin remote UI, or for operating it
// under a process supervisor.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/tuskdb/tuskcore/pkg/adminapi"
	"github.com/tuskdb/tuskcore/pkg/auth"
	"github.com/tuskdb/tuskcore/pkg/catalog"
	"github.com/tuskdb/tuskcore/pkg/clients/redis"
	"github.com/tuskdb/tuskcore/pkg/config"
	"github.com/tuskdb/tuskcore/pkg/registry"
	"github.com/tuskdb/tuskcore/pkg/secretstore"
)

// Config is tuskd's process configuration, loaded by pkg/config's
// layered loader (envDefault tags, then an optional file, then
// TUSKD_-prefixed environment variables).
type Config struct {
	// ListenAddr is the admin HTTP surface's bind address.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":7420" yaml:"listen_addr"`

	// DataDir overrides the per-OS default data directory that holds
	// tusk.db. Empty means resolve the default via resolveDataDir.
	DataDir string `env:"DATA_DIR" yaml:"data_dir"`

	// SchemaCacheTTL bounds how long an introspected DatabaseSchema stays
	// valid before EnsureSchema re-queries the catalog.
	SchemaCacheTTL time.Duration `env:"SCHEMA_CACHE_TTL" envDefault:"5m" yaml:"schema_cache_ttl"`

	// RedisURI, if set, backs the schema cache with Redis instead of the
	// single-process in-memory map — the deployment this daemon exists
	// for, where more than one tuskd may front the same descriptors.
	RedisURI string `env:"REDIS_URI" yaml:"redis_uri"`

	// AdminAuthToken, if set, requires every /v1 request to carry
	// `Authorization: Bearer <token>` signed against this HMAC secret.
	// Empty (the default) leaves the admin surface unauthenticated, for
	// local-loopback use.
	AdminAuthToken string `env:"ADMIN_AUTH_TOKEN" yaml:"-"`

	// ShutdownTimeout bounds how long graceful shutdown waits for
	// in-flight admin requests and spawned registry goroutines.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s" yaml:"shutdown_timeout"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	loader := config.New().WithEnvPrefix("TUSKD")
	if path := os.Getenv("TUSKD_CONFIG_FILE"); path != "" {
		loader = loader.WithFile(path)
	}
	cfg := config.MustLoad[Config](loader)
	logger.Info("config loaded", "listen_addr", cfg.ListenAddr, "redis_backed_cache", cfg.RedisURI != "")

	dataDir := cfg.DataDir
	if dataDir == "" {
		var err error
		dataDir, err = resolveDataDir()
		if err != nil {
			return fmt.Errorf("resolve data directory: %w", err)
		}
	}

	secrets := secretstore.New()
	logger.Info("secret store ready")

	cat, err := catalog.Open(filepath.Join(dataDir, "tusk.db"))
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conns, err := cat.LoadAllConnections(ctx)
	if err != nil {
		return fmt.Errorf("load saved connections: %w", err)
	}
	logger.Info("catalog loaded", "saved_connections", len(conns))

	schemaCache, cacheHealth, closeCache, err := buildSchemaCache(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("schema cache: %w", err)
	}
	if closeCache != nil {
		defer closeCache()
	}

	reg := registry.New(cat, secrets, schemaCache)

	validator, err := buildValidator(cfg)
	if err != nil {
		return fmt.Errorf("admin auth: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      adminapi.New(reg, validator, logger, cacheHealth).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("admin surface listening", "addr", srv.Addr, "authenticated", validator != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("admin server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	if err := reg.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("registry shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildSchemaCache picks the in-memory cache for a single tuskd process,
// or a Redis-backed one when cfg.RedisURI is set so that more than one
// tuskd instance fronting the same descriptors shares schema snapshots.
// The returned health func is nil for the in-memory cache; the close
// func is nil likewise.
func buildSchemaCache(ctx context.Context, cfg Config, logger *slog.Logger) (registry.SchemaCache, func(context.Context) error, func(), error) {
	if cfg.RedisURI == "" {
		return registry.NewMemorySchemaCache(cfg.SchemaCacheTTL), nil, nil, nil
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.URI = cfg.RedisURI
	client, err := redis.NewClient(ctx, *redisCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("schema cache backed by redis")

	cache := registry.NewRedisSchemaCache(client, "tuskd:schema:", cfg.SchemaCacheTTL)
	return cache, client.Health, func() { _ = client.Close() }, nil
}

// buildValidator returns nil (unauthenticated) when cfg.AdminAuthToken is
// empty, otherwise a platform-HMAC JWTValidator accepting tokens signed
// with that shared secret.
func buildValidator(cfg Config) (auth.TokenValidator, error) {
	if cfg.AdminAuthToken == "" {
		return nil, nil
	}

	vcfg := auth.DefaultValidatorConfig()
	vcfg.EnableKubernetes = false
	vcfg.EnablePlatform = true
	vcfg.PlatformSigningKey = auth.Secret(cfg.AdminAuthToken)
	vcfg.PlatformIssuer = "tuskd"

	validator, err := auth.NewJWTValidator(vcfg)
	if err != nil {
		return nil, fmt.Errorf("build jwt validator: %w", err)
	}
	return validator, nil
}

// resolveDataDir returns tusk's per-OS default data directory, per
// spec.md §6: %APPDATA%\tusk\Tusk on Windows, ~/Library/Application
// Support/tusk on macOS, $XDG_DATA_HOME/tusk (or ~/.local/share/tusk)
// on Linux.
func resolveDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			return "", errors.New("APPDATA is not set")
		}
		return filepath.Join(base, "tusk", "Tusk"), nil
	case "darwin":
		home := os.Getenv("HOME")
		if home == "" {
			return "", errors.New("HOME is not set")
		}
		return filepath.Join(home, "Library", "Application Support", "tusk"), nil
	default:
		if base := os.Getenv("XDG_DATA_HOME"); base != "" {
			return filepath.Join(base, "tusk"), nil
		}
		home := os.Getenv("HOME")
		if home == "" {
			return "", errors.New("HOME is not set")
		}
		return filepath.Join(home, ".local", "share", "tusk"), nil
	}
}
