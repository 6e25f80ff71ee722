package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pollkeeper/internal/types"
)

// HousekeepingBasePath is where the job trigger routes live.
const HousekeepingBasePath = "/api/house-keeping"

const defaultRequestTimeout = 60 * time.Second

var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes registers the global middleware chain, the public health
// check and the gated housekeeping routes.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.With(ContextTimeoutMiddleware(s.requestTimeout())).Get("/health", s.HandleHealth)

	s.router.Route(HousekeepingBasePath, func(r chi.Router) {
		r.Use(s.HousekeepingGate)
		for _, registrar := range s.HousekeepingRoutes {
			registrar(r)
		}
	})
}

// registerGlobalMiddleware applies middleware in order:
//  1. Recoverer      - outermost, catches panics from everything below.
//  2. RequestID      - correlation id for logs and queued emails.
//  3. SecurityHeaders
//  4. RequestLogger  - redacts Authorization and Cookie.
//  5. Metrics
//
// The cron secret gate is scoped to the housekeeping routes so /health stays
// public. The request timeout is applied per route and never to the
// housekeeping routes: a job run cancelled between sending an email and
// recording it would send that email again on the next run.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(s.MetricsMiddleware)
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an incoming X-Request-Id or generates a UUID,
// stores it in the context and echoes it in the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), requestID)))
	})
}
