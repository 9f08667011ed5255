package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sertdev/reqgate/internal/store"
)

// maxWindowMinutes caps since_minutes at roughly ten years so the window
// cannot overflow time.Duration.
const maxWindowMinutes = 10 * 365 * 24 * 60

func window(mins int) time.Duration {
	return time.Duration(min(mins, maxWindowMinutes)) * time.Minute
}

type timingsHandler struct {
	store TimingReader
	now   func() time.Time
}

// List returns recent timing records. Query: handler, outcome, since_minutes, limit.
func (h *timingsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TimingFilter{Limit: queryInt(r, "limit", 50)}

	if v := q.Get("handler"); v != "" {
		filter.Handler = &v
	}
	if v := q.Get("outcome"); v != "" {
		switch v {
		case "allowed", "denied", "failed":
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "outcome must be allowed, denied or failed")
			return
		}
		filter.Outcome = &v
	}
	if mins := queryInt(r, "since_minutes", 0); mins > 0 {
		since := h.now().Add(-window(mins))
		filter.Since = &since
	}

	records, err := h.store.ListTimings(r.Context(), filter)
	if err != nil {
		slog.Error("api: list timings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to list timings")
		return
	}
	if records == nil {
		records = []store.TimingRecord{}
	}
	writeData(w, records)
}

// Summary aggregates timings per handler over the last since_minutes (default 60).
func (h *timingsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	mins := queryInt(r, "since_minutes", 60)
	if mins <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "since_minutes must be positive")
		return
	}

	summary, err := h.store.SummarizeTimings(r.Context(), h.now().Add(-window(mins)))
	if err != nil {
		slog.Error("api: summarize timings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to summarize timings")
		return
	}
	if summary == nil {
		summary = []store.HandlerSummary{}
	}
	writeData(w, summary)
}
