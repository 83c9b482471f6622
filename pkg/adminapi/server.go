// Package adminapi is the headless control surface a running tuskd
// exposes in place of the GUI/Tauri command bridge: pool occupancy,
// in-flight query enumeration and cancellation, and on-demand schema
// snapshots. Routed with go-chi (the router the example pack's own
// HTTP services use) and instrumented per-request with otelhttp; the
// middleware chain (request id, recoverer, structured logging) follows
// those same pack services, and the optional bearer-token gate is the
// teacher's pkg/auth HTTPMiddleware.
package adminapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tuskdb/tuskcore/pkg/auth"
	"github.com/tuskdb/tuskcore/pkg/registry"
)

// instrumentationName identifies this package's otelhttp spans.
const instrumentationName = "github.com/tuskdb/tuskcore/pkg/adminapi"

// Server holds the registry the admin API reports on and the optional
// validator that gates every route behind a bearer token.
type Server struct {
	registry    *registry.Registry
	validator   auth.TokenValidator
	logger      *slog.Logger
	healthCheck func(context.Context) error
}

// New constructs a Server. Pass a nil validator to run unauthenticated
// (the default for local-loopback deployments); pass logger nil to
// fall back to slog.Default(). healthCheck, if non-nil, is probed by
// /healthz in addition to the server's own liveness — typically the
// schema cache's backing store (e.g. *redisclient.Client.Health) when
// one is configured.
func New(reg *registry.Registry, validator auth.TokenValidator, logger *slog.Logger, healthCheck func(context.Context) error) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: reg, validator: validator, logger: logger, healthCheck: healthCheck}
}

// Handler builds the routed http.Handler. Pass the result to
// http.Serve/http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, instrumentationName)
	})

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		if s.validator != nil {
			r.Use(auth.HTTPMiddleware(s.validator, "tuskd"))
		}
		r.Get("/pools", s.handleListPools)
		r.Get("/queries", s.handleListQueries)
		r.Post("/queries/{id}/cancel", s.handleCancelQuery)
		r.Get("/descriptors/{id}/schema", s.handleDescriptorSchema)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
