package auth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func mustHash(t *testing.T, key string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func TestGenerateKey(t *testing.T) {
	plaintext, hash, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !strings.HasPrefix(plaintext, "rgk_") || len(plaintext) != 4+40 {
		t.Fatalf("unexpected key format: %q", plaintext)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) != nil {
		t.Fatal("hash does not match key")
	}
}

func TestVerifierAcceptsKnownKey(t *testing.T) {
	v := NewVerifier([]string{mustHash(t, "rgk_one"), mustHash(t, "rgk_two")}, time.Minute)
	defer v.Close()

	if !v.Verify("rgk_two") {
		t.Fatal("expected known key to verify")
	}
	if v.Verify("rgk_three") {
		t.Fatal("unknown key must not verify")
	}
	if v.Verify("") {
		t.Fatal("empty key must not verify")
	}
}

func TestVerifierCachesVerdicts(t *testing.T) {
	v := NewVerifier([]string{mustHash(t, "rgk_one")}, time.Minute)
	defer v.Close()
	now := time.Now()
	v.now = func() time.Time { return now }

	v.Verify("rgk_one")
	v.Verify("rgk_nope")

	// Hashes gone: cached verdicts still answer until they expire.
	v.hashes = nil
	if !v.Verify("rgk_one") {
		t.Fatal("expected cached positive verdict")
	}

	now = now.Add(2 * time.Minute)
	if v.Verify("rgk_one") {
		t.Fatal("expired verdict must be recomputed")
	}
	if n := v.Purge(); n != 1 {
		t.Fatalf("expected 1 purged verdict (rgk_nope), got %d", n)
	}
}

func cachedVerdicts(v *Verifier) (total, negative int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.verdicts), v.negative
}

func TestVerifierJanitorDropsExpiredVerdicts(t *testing.T) {
	v := NewVerifier(nil, 50*time.Millisecond)
	defer v.Close()

	for i := 0; i < 50; i++ {
		v.Verify(fmt.Sprintf("rgk_bogus_%d", i))
	}
	if total, _ := cachedVerdicts(v); total == 0 {
		t.Fatal("expected rejected keys to be cached")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		total, negative := cachedVerdicts(v)
		if total == 0 && negative == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("janitor left %d verdicts (%d negative)", total, negative)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestVerifierBoundsNegativeVerdicts(t *testing.T) {
	v := NewVerifier(nil, time.Hour)
	defer v.Close()

	for i := 0; i < maxNegativeVerdicts+100; i++ {
		v.Verify(fmt.Sprintf("rgk_bogus_%d", i))
	}
	total, negative := cachedVerdicts(v)
	if total != maxNegativeVerdicts || negative != maxNegativeVerdicts {
		t.Fatalf("expected %d cached rejections, got total=%d negative=%d", maxNegativeVerdicts, total, negative)
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier([]string{mustHash(t, "rgk_admin")}, 0)
	defer v.Close()
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"invalid", "x-api-key", "rgk_wrong", http.StatusUnauthorized},
		{"x-api-key", "x-api-key", "rgk_admin", http.StatusNoContent},
		{"bearer", "Authorization", "Bearer rgk_admin", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/api/v1/timings", nil)
		if tc.header != "" {
			req.Header.Set(tc.header, tc.value)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, rec.Code, tc.want)
		}
		if tc.want == http.StatusUnauthorized && rec.Header().Get("Content-Type") != "application/json" {
			t.Errorf("%s: expected JSON error body", tc.name)
		}
	}
}

func TestPolicy(t *testing.T) {
	v := NewVerifier([]string{mustHash(t, "rgk_client")}, time.Minute)
	defer v.Close()
	p := v.Policy()

	req := httptest.NewRequest("GET", "/app/foo", nil)
	if p.Admit(req) {
		t.Fatal("request without key must be denied")
	}
	req.Header.Set("x-api-key", "rgk_client")
	if !p.Admit(req) {
		t.Fatal("request with valid key must be admitted")
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	if got := ClientKey(req); got != "ip:10.0.0.7" {
		t.Fatalf("got %q", got)
	}

	req.Header.Set("Authorization", "Bearer rgk_abc")
	got := ClientKey(req)
	if !strings.HasPrefix(got, "key:") || strings.Contains(got, "rgk_abc") {
		t.Fatalf("API key clients should be keyed by fingerprint, got %q", got)
	}
}
