package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"runtime/debug"
	"strings"
)

// StatusClientClosedRequest is recorded as the status of a request whose
// client disconnected before the gate answered (nginx's 499).
const StatusClientClosedRequest = 499

// statusWriter captures the status code the handler writes.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.status = http.StatusOK
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Routes selects the request paths a gate applies to. A path is gated when
// it matches an Include pattern and no Exclude pattern. Patterns use
// path.Match syntax; a trailing "/**" matches the prefix and everything below
// it.
type Routes struct {
	Include []string
	Exclude []string
}

// Match reports whether urlPath is gated.
func (rt Routes) Match(urlPath string) bool {
	return matchAny(rt.Include, urlPath) && !matchAny(rt.Exclude, urlPath)
}

func matchAny(patterns []string, urlPath string) bool {
	for _, p := range patterns {
		if matchPattern(p, urlPath) {
			return true
		}
	}
	return false
}

// matchPattern never matches a malformed pattern. For "prefix/**" the
// prefix is matched against as many leading segments of urlPath as it has,
// so globs work in the prefix too.
func matchPattern(pattern, urlPath string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		if prefix == "" {
			return strings.HasPrefix(urlPath, "/")
		}
		pattern = prefix
		urlPath = leadingSegments(urlPath, strings.Count(prefix, "/"))
	}
	ok, err := path.Match(pattern, urlPath)
	return err == nil && ok
}

// leadingSegments returns the first n "/"-separated segments of p.
func leadingSegments(p string, n int) string {
	seen := 0
	for i := 0; i < len(p); i++ {
		if p[i] != '/' {
			continue
		}
		if seen == n {
			return p[:i]
		}
		seen++
	}
	return p
}

// ValidPattern reports whether pattern is usable in Routes.
func ValidPattern(pattern string) bool {
	if !strings.HasPrefix(pattern, "/") {
		return false
	}
	pattern = strings.TrimSuffix(pattern, "/**")
	_, err := path.Match(pattern, "/")
	return err == nil
}

// Middleware returns chi-compatible middleware that runs the gate for
// requests selected by routes. Other requests go straight to next without
// touching the gate.
func (g *Gate) Middleware(routes Routes) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !routes.Match(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(next, w, r)
		})
	}
}

func (g *Gate) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

	t, proceed, err := g.Enter(sw, r)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Nothing is written; the client is gone.
			t.Status = StatusClientClosedRequest
		} else {
			t.Status = http.StatusInternalServerError
			writeJSONError(sw, http.StatusInternalServerError, "Internal server error")
		}
		g.Complete(t, err)
		return
	}
	if !proceed {
		g.Complete(t, nil)
		return
	}

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec != http.ErrAbortHandler {
			t.stack = debug.Stack()
		}
		t.Status = http.StatusInternalServerError
		g.Complete(t, fmt.Errorf("handler panic: %v", rec))
		panic(rec)
	}()

	next.ServeHTTP(sw, r.WithContext(withTiming(r.Context(), t)))

	t.Status = sw.status
	g.Post(t)
	g.Complete(t, t.reported)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
