package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	json "github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/sertdev/reqgate/internal/config"
	"github.com/sertdev/reqgate/internal/gate"
)

type recordingSink struct {
	mu      sync.Mutex
	timings []gate.Timing
}

func (s *recordingSink) Record(t gate.Timing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings = append(s.timings, t)
}

func (s *recordingSink) all() []gate.Timing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gate.Timing(nil), s.timings...)
}

func newTestRouter(t *testing.T, policy gate.Policy, opts *Opts) (*chi.Mux, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	g := gate.New(gate.Options{
		Policy: policy,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sink:   sink,
	})
	cfg := config.Defaults()
	cfg.CORSOrigins = []string{"*"}
	return New(cfg, g, opts), sink
}

func TestGatedRouteDenied(t *testing.T) {
	router, sink := newTestRouter(t, gate.DenyAll, nil)

	req := httptest.NewRequest(http.MethodGet, "/app/foo", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type: got %q", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != gate.DefaultDenyMessage {
		t.Fatalf("error: got %q", body["error"])
	}
	if body["date"] == "" {
		t.Fatal("expected date in denial body")
	}
	if body["request_id"] != "req-123" {
		t.Fatalf("request_id: got %q", body["request_id"])
	}

	timings := sink.all()
	if len(timings) != 1 {
		t.Fatalf("expected 1 timing, got %d", len(timings))
	}
	if timings[0].Handler != "GET /app/foo" {
		t.Fatalf("handler: got %q", timings[0].Handler)
	}
	if timings[0].Outcome != gate.OutcomeDenied {
		t.Fatalf("outcome: got %v", timings[0].Outcome)
	}
}

func TestUngatedRouteBypassesGate(t *testing.T) {
	router, sink := newTestRouter(t, gate.DenyAll, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/other", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "gated_ms") {
		t.Fatalf("ungated response should not report gate timing: %s", rec.Body.String())
	}
	if n := len(sink.all()); n != 0 {
		t.Fatalf("expected no timings, got %d", n)
	}
}

func TestGatedRouteAllowed(t *testing.T) {
	router, sink := newTestRouter(t, gate.AllowAll, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/bar", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body appResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Handler != "bar" || body.GatedMS == nil {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated X-Request-ID")
	}

	timings := sink.all()
	if len(timings) != 1 || timings[0].Outcome != gate.OutcomeAllowed || timings[0].Status != http.StatusOK {
		t.Fatalf("unexpected timings: %+v", timings)
	}
	if timings[0].RequestID != rec.Header().Get("X-Request-ID") {
		t.Fatalf("request id: got %q, want %q", timings[0].RequestID, rec.Header().Get("X-Request-ID"))
	}
}

func TestFailRouteReportsError(t *testing.T) {
	router, sink := newTestRouter(t, gate.AllowAll, nil)

	// /app/fail is not gated by default.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/fail", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if n := len(sink.all()); n != 0 {
		t.Fatalf("expected no timings for ungated route, got %d", n)
	}

	sink = &recordingSink{}
	g := gate.New(gate.Options{
		Policy: gate.AllowAll,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sink:   sink,
	})
	cfg := config.Defaults()
	cfg.GatePaths = []string{"/app/**"}
	router = New(cfg, g, nil)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/fail", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	timings := sink.all()
	if len(timings) != 1 {
		t.Fatalf("expected 1 timing, got %d", len(timings))
	}
	if !errors.Is(timings[0].Err, errAppFailure) {
		t.Fatalf("expected reported error, got %v", timings[0].Err)
	}
	if timings[0].Status != http.StatusInternalServerError {
		t.Fatalf("status: got %d", timings[0].Status)
	}
}

func TestExcludedPathBypassesGate(t *testing.T) {
	sink := &recordingSink{}
	g := gate.New(gate.Options{
		Policy: gate.DenyAll,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sink:   sink,
	})
	cfg := config.Defaults()
	cfg.GatePaths = []string{"/app/**"}
	cfg.GateExcludePaths = []string{"/app/other"}
	router := New(cfg, g, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/other", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("excluded path: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/foo", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("gated path: expected 401, got %d", rec.Code)
	}
	if n := len(sink.all()); n != 1 {
		t.Fatalf("expected 1 timing, got %d", n)
	}
}

func TestAdminRouterAndMetricsMounted(t *testing.T) {
	admin := chi.NewRouter()
	admin.Get("/timings", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	router, _ := newTestRouter(t, gate.DenyAll, &Opts{AdminRouter: admin, MetricsHandler: metricsHandler})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/timings", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("admin: expected 418, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Body.String() != "# metrics" {
		t.Fatalf("metrics: unexpected body %q", rec.Body.String())
	}
}

func TestUnknownRouteNotGated(t *testing.T) {
	router, sink := newTestRouter(t, gate.DenyAll, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if n := len(sink.all()); n != 0 {
		t.Fatalf("expected no timings, got %d", n)
	}
}

func TestGatePathsApplyToEveryRoute(t *testing.T) {
	admin := chi.NewRouter()
	admin.Get("/timings", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	sink := &recordingSink{}
	g := gate.New(gate.Options{
		Policy: gate.DenyAll,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sink:   sink,
	})
	cfg := config.Defaults()
	cfg.GatePaths = []string{"/health", "/api/v1/**"}
	router := New(cfg, g, &Opts{AdminRouter: admin})

	for _, p := range []string{"/health", "/api/v1/timings"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", p, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/foo", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/app/foo is no longer gated: expected 200, got %d", rec.Code)
	}

	timings := sink.all()
	if len(timings) != 2 {
		t.Fatalf("expected 2 timings, got %d", len(timings))
	}
	if timings[0].Handler != "GET /health" {
		t.Fatalf("handler: got %q", timings[0].Handler)
	}
}
