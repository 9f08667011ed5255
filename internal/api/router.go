package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sertdev/reqgate/internal/store"
)

// TimingReader is the read side of the timing store.
type TimingReader interface {
	ListTimings(ctx context.Context, filter store.TimingFilter) ([]store.TimingRecord, error)
	SummarizeTimings(ctx context.Context, since time.Time) ([]store.HandlerSummary, error)
}

// NewRouter builds the admin API. Every route sits behind authMw.
func NewRouter(tr TimingReader, authMw func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(authMw)

		r.Route("/timings", func(r chi.Router) {
			h := &timingsHandler{store: tr, now: time.Now}
			r.Get("/", h.List)
			r.Get("/summary", h.Summary)
		})
	})

	return r
}
