package auth

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/sertdev/reqgate/internal/gate"
)

// ExtractAPIKey reads the key from x-api-key or a Bearer Authorization header.
func ExtractAPIKey(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// ClientKey identifies the caller for rate limiting: the fingerprint of its
// API key when it sent one, otherwise its remote IP.
func ClientKey(r *http.Request) string {
	if key := ExtractAPIKey(r); key != "" {
		return "key:" + fingerprint(key)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Policy admits requests carrying a valid API key.
func (v *Verifier) Policy() gate.Policy {
	return gate.PolicyFunc(func(r *http.Request) bool {
		return v.Verify(ExtractAPIKey(r))
	})
}

// Middleware rejects requests without a valid API key with a JSON 401.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ExtractAPIKey(r)
			if key == "" {
				writeJSONError(w, http.StatusUnauthorized, "Missing API key")
				return
			}
			if !v.Verify(key) {
				writeJSONError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": message,
	})
}
