// Package core provides the API chassis for Inzikt. It builds a chi router,
// applies cross-cutting middleware (request ids, logging, CORS, metrics,
// authentication) and owns the JSON response and error envelopes that every
// handler writes through.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"inzikt/internal/config"
)

// MetricsCollector defines the interface for recording API telemetry.
type MetricsCollector interface {
	// RecordRequest is called once per request with the matched route
	// pattern, never the raw path.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a handler group under /api.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the dependencies of the HTTP API so tests can inject
// fakes for each of them.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator
	HealthProbes  []HealthProbe

	// MetricsHandler is served at /metrics when set.
	MetricsHandler http.Handler

	// RouteRegistrars are mounted under /api by MountRoutes. Handler
	// packages depend on core, so the entry point wires them in here.
	RouteRegistrars []RouteRegistrar

	// OnShutdown runs in order during Shutdown.
	OnShutdown []func(ctx context.Context) error

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty
// router. Callers set optional fields, then call MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown runs the registered shutdown hooks. Every hook runs even when an
// earlier one fails; the first error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var first error
	for _, hook := range s.OnShutdown {
		if err := hook(ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			if first == nil {
				first = err
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return first
}
