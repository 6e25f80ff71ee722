// Package core provides the HTTP chassis for the housekeeping trigger. It
// builds a chi router, usable behind net/http locally or an API Gateway
// adapter, and applies the cross-cutting concerns (recovery, timeouts,
// request ids, logging, metrics and the cron secret gate) before requests
// reach the handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pollkeeper/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts handler routes under the housekeeping base path.
// Handlers are registered by the entry point to keep core free of handler
// imports.
type RouteRegistrar func(r chi.Router)

// Server holds the trigger API's dependencies.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Metrics      MetricsCollector
	HealthProbes []HealthProbe

	HousekeepingRoutes []RouteRegistrar

	router     *chi.Mux
	onShutdown []func()
}

// NewServer validates the critical dependencies and prepares the router.
// The caller mounts routes with MountRoutes after registering handlers.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers fn to run during Shutdown, in registration order.
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Shutdown releases server resources such as the database pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	for _, fn := range s.onShutdown {
		fn()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
