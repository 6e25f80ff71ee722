package core

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"pollkeeper/internal/types"
)

func TestRecoverer(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q", body.Error.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Error("panic value leaked to the client")
	}
}

func TestRecovererRepanicsOnAbort(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rvr := recover(); rvr != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rvr)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRequestLoggerRedactsHeaders(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestLogger(logger, []string{"authorization"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/house-keeping/run-all", nil)
	req.Header.Set("Authorization", "Bearer top-secret")
	req.Header.Set("User-Agent", "cron/1.0")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, "top-secret") {
		t.Errorf("token leaked into log: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in log: %s", out)
	}
	if !strings.Contains(out, "cron/1.0") {
		t.Errorf("expected non-sensitive header in log: %s", out)
	}
	if !strings.Contains(out, `"status":418`) {
		t.Errorf("expected captured status in log: %s", out)
	}
	if !strings.Contains(out, `"level":"WARN"`) {
		t.Errorf("4xx should log at WARN: %s", out)
	}
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	s := newTestServer(t, testConfig())
	m := &fakeMetrics{}
	s.Metrics = m
	s.HousekeepingRoutes = []RouteRegistrar{func(r chi.Router) {
		r.Get("/{task}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}}
	s.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, HousekeepingBasePath+"/close-expired-polls", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	if len(m.requests) != 1 {
		t.Fatalf("recorded %d requests, want 1", len(m.requests))
	}
	got := m.requests[0]
	if got.endpoint != HousekeepingBasePath+"/{task}" {
		t.Errorf("endpoint = %q, want route pattern", got.endpoint)
	}
	if got.method != http.MethodGet || got.status != "200" {
		t.Errorf("recorded %+v", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}
