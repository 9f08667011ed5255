package gate

import (
	"context"
	"time"
)

// Outcome is the admission result recorded for a request.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeAllowed
	OutcomeDenied
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeDenied:
		return "denied"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Timing is the per-request state shared by the three gate phases. It is
// created by Enter and owned by the request that created it.
type Timing struct {
	RequestID string
	Handler   string
	Method    string
	Path      string

	Start       time.Time
	Delay       time.Duration
	Outcome     Outcome
	Status      int
	PostElapsed time.Duration
	Elapsed     time.Duration
	Err         error

	stack     []byte
	reported  error
	posted    bool
	completed bool
}

// Posted reports whether Post ran for this request.
func (t *Timing) Posted() bool { return t.posted }

// Completed reports whether Complete ran for this request.
func (t *Timing) Completed() bool { return t.completed }

type contextKey int

const ctxKeyTiming contextKey = iota

func withTiming(ctx context.Context, t *Timing) context.Context {
	return context.WithValue(ctx, ctxKeyTiming, t)
}

// FromContext returns the Timing attached by the gate middleware, or nil for
// requests that bypassed the gate.
func FromContext(ctx context.Context) *Timing {
	if t, ok := ctx.Value(ctxKeyTiming).(*Timing); ok {
		return t
	}
	return nil
}

// ReportError attaches a handler error to the current request so that the
// completion phase logs it. The last reported error wins. It is a no-op for
// requests that bypassed the gate.
func ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if t := FromContext(ctx); t != nil {
		t.reported = err
	}
}
