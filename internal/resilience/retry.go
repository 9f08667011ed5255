package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int           // total attempts including first try (default 3)
	BaseDelay   time.Duration // initial delay between retries (default 100ms)
	MaxDelay    time.Duration // maximum delay cap (default 2s)
	Jitter      bool          // add ±25% random jitter
	Retryable   func(error) bool
}

func (o RetryOpts) withDefaults() RetryOpts {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 100 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 2 * time.Second
	}
	if o.Retryable == nil {
		o.Retryable = IsTransient
	}
	return o
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done. Delays grow exponentially from BaseDelay.
func Do(ctx context.Context, opts RetryOpts, fn func() error) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !opts.Retryable(lastErr) || attempt == opts.MaxAttempts-1 {
			break
		}

		delay := opts.BaseDelay << uint(attempt)
		if delay > opts.MaxDelay || delay <= 0 {
			delay = opts.MaxDelay
		}
		if opts.Jitter {
			delta := (rand.Float64()*2 - 1) * 0.25 * float64(delay)
			delay += time.Duration(delta)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// IsTransient reports whether err is worth retrying against the database:
// network timeouts and errors pgx marks as safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
