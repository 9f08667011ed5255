package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Breaker.Do while the breaker rejects calls.
var ErrBreakerOpen = errors.New("breaker open")

// State is the breaker state.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are rejected until the cool-down ends
	StateHalfOpen              // one probe call decides whether to close
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	Threshold int           // consecutive failures before opening (default 5)
	CoolDown  time.Duration // time spent open before probing (default 30s)
}

// Breaker stops calling a failing dependency after Threshold consecutive
// failures and lets a single probe through once CoolDown has passed.
type Breaker struct {
	mu       sync.Mutex
	state    State
	failures int
	probing  bool
	openedAt time.Time
	opts     BreakerOpts
	now      func() time.Time
}

func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = 5
	}
	if opts.CoolDown <= 0 {
		opts.CoolDown = 30 * time.Second
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// current must be called with mu held.
func (b *Breaker) current() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.CoolDown {
		b.state = StateHalfOpen
		b.probing = false
	}
	return b.state
}

// Do runs fn unless the breaker is open. fn's error counts as a failure.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.current() {
	case StateOpen:
		b.mu.Unlock()
		return ErrBreakerOpen
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		b.state = StateClosed
		b.probing = false
		return nil
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.opts.Threshold {
		b.state = StateOpen
		b.openedAt = b.now()
		b.probing = false
	}
	return err
}
