package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sertdev/reqgate/internal/gate"
)

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	updated  time.Time
	lastSeen time.Time
}

// Limiter is a per-client token bucket. Buckets start full and refill at rps
// tokens per second up to burst.
type Limiter struct {
	rps     float64
	burst   float64
	now     func() time.Time
	buckets sync.Map // map[string]*bucket
	limited prometheus.Counter
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewLimiter creates a rate limiter and starts its stale-bucket janitor.
// Call Close to stop it.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		rps:   rps,
		burst: float64(burst),
		now:   time.Now,
		done:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.janitor()
	return l
}

// SetLimitedCounter sets a counter incremented on every rejected call.
func (l *Limiter) SetLimitedCounter(c prometheus.Counter) {
	l.limited = c
}

// Allow consumes one token for key and reports whether one was available.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	val, _ := l.buckets.LoadOrStore(key, &bucket{tokens: l.burst, updated: now})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.updated).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.rps
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
		b.updated = now
	}
	b.lastSeen = now

	if b.tokens < 1 {
		if l.limited != nil {
			l.limited.Inc()
		}
		return false
	}
	b.tokens--
	return true
}

// Policy adapts the limiter to a gate admission policy keyed by keyFn.
func (l *Limiter) Policy(keyFn func(r *http.Request) string) gate.Policy {
	return gate.PolicyFunc(func(r *http.Request) bool {
		return l.Allow(keyFn(r))
	})
}

// Close stops the janitor goroutine.
func (l *Limiter) Close() {
	close(l.done)
	l.wg.Wait()
}

func (l *Limiter) janitor() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(5 * time.Minute)
		case <-l.done:
			return
		}
	}
}

// evictIdle drops buckets not seen within idle. A dropped bucket is
// recreated full on next use, which is what a refill would give it anyway.
func (l *Limiter) evictIdle(idle time.Duration) {
	cutoff := l.now().Add(-idle)
	l.buckets.Range(func(key, val any) bool {
		b := val.(*bucket)
		b.mu.Lock()
		stale := b.lastSeen.Before(cutoff)
		b.mu.Unlock()
		if stale {
			l.buckets.Delete(key)
		}
		return true
	})
}
