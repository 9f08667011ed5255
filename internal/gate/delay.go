package gate

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"
)

// DelayFunc returns the simulated latency to apply before the admission
// decision.
type DelayFunc func(r *http.Request) time.Duration

// NoDelay never waits.
func NoDelay(*http.Request) time.Duration { return 0 }

// UniformDelay draws a delay uniformly from [0, limit) at millisecond
// granularity. A non-positive limit disables the delay.
func UniformDelay(limit time.Duration) DelayFunc {
	ms := int(limit / time.Millisecond)
	if ms <= 0 {
		return NoDelay
	}
	return func(*http.Request) time.Duration {
		return time.Duration(rand.IntN(ms)) * time.Millisecond
	}
}

// wait blocks for d or until ctx is done, whichever comes first.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
