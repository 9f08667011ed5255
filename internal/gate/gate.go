// Package gate implements a request timing gate: an interceptor that records
// when a request entered the pipeline, optionally waits a simulated delay,
// asks an admission policy whether the request may reach its handler, and
// logs elapsed time after the handler and again once the request completes.
package gate

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultDenyMessage is the error text written in denial responses.
const DefaultDenyMessage = "no access to this page"

// Observer receives a copy of the Timing after the admission decision and
// again after completion. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveDecision(t Timing)
	ObserveCompletion(t Timing)
}

// Sink receives every completed Timing. Implementations must not block.
type Sink interface {
	Record(t Timing)
}

// Options configures a Gate. Zero values fall back to the reference
// behavior: deny everything, no delay, log through slog.Default.
type Options struct {
	Policy      Policy
	Delay       DelayFunc
	Identify    func(r *http.Request) string
	Now         func() time.Time
	Logger      *slog.Logger
	Observer    Observer
	Sink        Sink
	DenyMessage string
}

// Gate is safe for concurrent use; it holds no per-request state.
type Gate struct {
	policy      Policy
	delay       DelayFunc
	identify    func(r *http.Request) string
	now         func() time.Time
	logger      *slog.Logger
	observer    Observer
	sink        Sink
	denyMessage string
	marshal     func(v any) ([]byte, error)
}

// New builds a Gate from opts.
func New(opts Options) *Gate {
	g := &Gate{
		policy:      opts.Policy,
		delay:       opts.Delay,
		identify:    opts.Identify,
		now:         opts.Now,
		logger:      opts.Logger,
		observer:    opts.Observer,
		sink:        opts.Sink,
		denyMessage: opts.DenyMessage,
		marshal:     json.Marshal,
	}
	if g.policy == nil {
		g.policy = DenyAll
	}
	if g.delay == nil {
		g.delay = NoDelay
	}
	if g.identify == nil {
		g.identify = RouteIdentity
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.denyMessage == "" {
		g.denyMessage = DefaultDenyMessage
	}
	return g
}

// RouteIdentity names a request by method and chi route pattern, falling
// back to the raw path when no route has been matched yet.
func RouteIdentity(r *http.Request) string {
	pattern := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			pattern = p
		}
	}
	return r.Method + " " + pattern
}

type denialBody struct {
	Error     string `json:"error"`
	Date      string `json:"date"`
	RequestID string `json:"request_id,omitempty"`
}

// Enter starts timing the request, applies the simulated delay and evaluates
// the admission policy. When the policy denies, a 401 JSON response has
// already been written to w and proceed is false. A non-nil error means the
// gate itself failed and nothing has been written; the caller must still
// call Complete.
func (g *Gate) Enter(w http.ResponseWriter, r *http.Request) (t *Timing, proceed bool, err error) {
	t = &Timing{
		Start:     g.now(),
		RequestID: middleware.GetReqID(r.Context()),
		Handler:   g.identify(r),
		Method:    r.Method,
		Path:      r.URL.Path,
	}
	g.logger.Info("gate: entering", "handler", t.Handler, "request_id", t.RequestID)

	t.Delay = g.delay(r)
	if err := wait(r.Context(), t.Delay); err != nil {
		t.Outcome = OutcomeFailed
		return t, false, fmt.Errorf("simulated delay: %w", err)
	}

	if g.policy.Admit(r) {
		t.Outcome = OutcomeAllowed
		g.observeDecision(t)
		return t, true, nil
	}

	body, err := g.marshal(denialBody{
		Error:     g.denyMessage,
		Date:      g.now().Format(time.UnixDate),
		RequestID: t.RequestID,
	})
	if err != nil {
		t.Outcome = OutcomeFailed
		return t, false, fmt.Errorf("marshal denial body: %w", err)
	}

	t.Outcome = OutcomeDenied
	t.Status = http.StatusUnauthorized
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write(body)

	g.logger.Info("gate: denied", "handler", t.Handler, "request_id", t.RequestID, "delay_ms", t.Delay.Milliseconds())
	g.observeDecision(t)
	return t, false, nil
}

// Post records the time spent up to the end of the handler. It only applies
// to admitted requests and runs at most once.
func (g *Gate) Post(t *Timing) {
	if t == nil || t.Outcome != OutcomeAllowed || t.posted || t.completed {
		return
	}
	t.posted = true
	t.PostElapsed = g.since(t.Start)

	g.logger.Info("gate: handler finished",
		"handler", t.Handler,
		"request_id", t.RequestID,
		"elapsed_ms", t.PostElapsed.Milliseconds(),
	)
}

// Complete closes the request's timing. It runs exactly once per Timing and
// never panics; err is the handler or gate error observed for the request,
// or nil.
func (g *Gate) Complete(t *Timing, err error) {
	if t == nil || t.completed {
		return
	}
	t.completed = true

	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("gate: completion failed", "handler", t.Handler, "panic", fmt.Sprint(rec))
		}
	}()

	t.Err = err
	t.Elapsed = g.since(t.Start)
	if t.Elapsed < t.PostElapsed {
		t.Elapsed = t.PostElapsed
	}

	g.logger.Info("gate: request completed",
		"handler", t.Handler,
		"request_id", t.RequestID,
		"outcome", t.Outcome.String(),
		"status", t.Status,
		"elapsed_ms", t.Elapsed.Milliseconds(),
	)

	if err != nil {
		attrs := []any{
			"handler", t.Handler,
			"request_id", t.RequestID,
			"error", err.Error(),
		}
		if len(t.stack) > 0 {
			attrs = append(attrs, "stack", string(t.stack))
		}
		g.logger.Error("gate: request failed", attrs...)
	}

	if g.observer != nil {
		g.observer.ObserveCompletion(*t)
	}
	if g.sink != nil {
		g.sink.Record(*t)
	}
}

func (g *Gate) observeDecision(t *Timing) {
	if g.observer != nil {
		g.observer.ObserveDecision(*t)
	}
}

func (g *Gate) since(start time.Time) time.Duration {
	d := g.now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}
