package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, coolDown time.Duration) (*Breaker, *manualClock) {
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(BreakerOpts{Threshold: threshold, CoolDown: coolDown})
	b.now = clock.now
	return b, clock
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		if err := b.Do(fail); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected errBoom, got %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not run while open")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(2, time.Second)

	b.Do(fail)
	b.Do(succeed)
	b.Do(fail)
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)

	b.Do(fail)
	clock.advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %v", b.State())
	}

	if err := b.Do(succeed); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after good probe, got %v", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		b.Do(fail)
	}
	clock.advance(time.Second)

	b.Do(fail)
	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %v", b.State())
	}
	clock.advance(500 * time.Millisecond)
	if err := b.Do(succeed); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen during cool-down, got %v", err)
	}
}

func TestBreakerSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)
	b.Do(fail)
	clock.advance(time.Second)

	err := b.Do(func() error {
		if inner := b.Do(succeed); !errors.Is(inner, ErrBreakerOpen) {
			t.Errorf("second probe: expected ErrBreakerOpen, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open"} {
		if s.String() != want {
			t.Errorf("%d: got %q, want %q", s, s.String(), want)
		}
	}
}
