package auth

import (
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// maxNegativeVerdicts bounds how many rejected keys are remembered between
// purges. Positive verdicts are bounded by the number of configured keys.
const maxNegativeVerdicts = 10000

type verdict struct {
	ok      bool
	expires time.Time
}

// Verifier checks presented API keys against a fixed set of bcrypt hashes.
// Verdicts are cached in memory by key fingerprint for ttl and expired ones
// are purged by a background janitor.
type Verifier struct {
	hashes [][]byte
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	verdicts map[string]verdict
	negative int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewVerifier creates a verifier for the given bcrypt hashes. A zero ttl
// disables caching. Call Close to stop the janitor.
func NewVerifier(hashes []string, ttl time.Duration) *Verifier {
	v := &Verifier{
		ttl:      ttl,
		now:      time.Now,
		verdicts: make(map[string]verdict),
		done:     make(chan struct{}),
	}
	for _, h := range hashes {
		v.hashes = append(v.hashes, []byte(h))
	}
	if ttl > 0 {
		v.wg.Add(1)
		go v.janitor(ttl)
	}
	return v
}

// Close stops the janitor goroutine.
func (v *Verifier) Close() {
	close(v.done)
	v.wg.Wait()
}

func (v *Verifier) janitor(every time.Duration) {
	defer v.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			v.Purge()
		case <-v.done:
			return
		}
	}
}

// Verify reports whether key matches one of the configured hashes.
func (v *Verifier) Verify(key string) bool {
	if key == "" {
		return false
	}
	fp := fingerprint(key)
	now := v.now()

	v.mu.RLock()
	cached, hit := v.verdicts[fp]
	v.mu.RUnlock()
	if hit && now.Before(cached.expires) {
		return cached.ok
	}

	ok := false
	for _, h := range v.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			ok = true
			break
		}
	}

	if v.ttl > 0 {
		v.store(fp, verdict{ok: ok, expires: now.Add(v.ttl)})
	}
	return ok
}

// store caches a verdict. Once maxNegativeVerdicts rejections are cached,
// further rejections are recomputed until the janitor frees room.
func (v *Verifier) store(fp string, c verdict) {
	v.mu.Lock()
	defer v.mu.Unlock()

	prev, had := v.verdicts[fp]
	if had && !prev.ok {
		v.negative--
	}
	if !c.ok {
		if v.negative >= maxNegativeVerdicts {
			delete(v.verdicts, fp)
			return
		}
		v.negative++
	}
	v.verdicts[fp] = c
}

// Purge drops expired verdicts. It returns the number removed.
func (v *Verifier) Purge() int {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()

	n := 0
	for fp, c := range v.verdicts {
		if !now.Before(c.expires) {
			delete(v.verdicts, fp)
			if !c.ok {
				v.negative--
			}
			n++
		}
	}
	return n
}
