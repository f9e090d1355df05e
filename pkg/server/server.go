// Package server assembles the HTTP surface: the websocket session
// endpoint, webhook ingress, operator commands, health, and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maestro-dev/maestro/pkg/auth"
	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/ratelimit"
	"github.com/maestro-dev/maestro/pkg/tools"
)

// Deps are the wired components the router exposes.
type Deps struct {
	// Session serves GET /session (websocket upgrade).
	Session http.HandlerFunc

	// Webhook serves POST /webhooks/{provider}. It authenticates its
	// own deliveries by HMAC signature, so it sits outside bearer auth.
	Webhook http.Handler

	// Tools backs the operator command endpoint.
	Tools *tools.Registry

	Auth      *auth.Authenticator
	RateLimit *ratelimit.Limiter
	Health    *HealthChecker
	Logger    *slog.Logger
}

// Server owns the HTTP listener lifecycle.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/health", deps.Health.ServeHTTP)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	limit := deps.RateLimit.Middleware(principalKey)

	// Webhook deliveries carry no bearer token; the handler verifies
	// the HMAC signature itself.
	r.Group(func(r chi.Router) {
		r.Use(limit)
		r.Method(http.MethodPost, "/webhooks/{provider}", deps.Webhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Middleware)
		r.Use(limit)
		r.Get("/session", deps.Session)
		r.Post("/commands/{tool}", commandHandler(deps.Tools, logger))
	})

	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler exposes the assembled router, used by tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	return s.http.Shutdown(ctx)
}

// principalKey rates authenticated requests by principal and anonymous
// ones by client address.
func principalKey(r *http.Request) string {
	if p := auth.PrincipalFromContext(r.Context()); p != auth.AnonymousPrincipal {
		return p
	}
	return ratelimit.RemoteHostKey(r)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}
