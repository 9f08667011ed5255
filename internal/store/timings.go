package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TimingRecord is one completed pass through the gate.
type TimingRecord struct {
	ID            uuid.UUID `json:"id"`
	RequestID     string    `json:"request_id"`
	Handler       string    `json:"handler"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Outcome       string    `json:"outcome"`
	StatusCode    int       `json:"status_code"`
	DelayMS       int       `json:"delay_ms"`
	PostElapsedMS *int      `json:"post_elapsed_ms"`
	ElapsedMS     int       `json:"elapsed_ms"`
	ErrorMessage  *string   `json:"error_message"`
	StartedAt     time.Time `json:"started_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// TimingFilter narrows ListTimings. Nil fields are ignored.
type TimingFilter struct {
	Handler *string
	Outcome *string
	Since   *time.Time
	Limit   int
}

// HandlerSummary aggregates timings for one handler identity.
type HandlerSummary struct {
	Handler    string  `json:"handler"`
	Requests   int64   `json:"requests"`
	Denied     int64   `json:"denied"`
	Errors     int64   `json:"errors"`
	AvgElapsed float64 `json:"avg_elapsed_ms"`
	P95Elapsed float64 `json:"p95_elapsed_ms"`
	MaxElapsed int     `json:"max_elapsed_ms"`
}

const insertTimingSQL = `
	INSERT INTO gate_timings (
		id, request_id, handler, method, path, outcome, status_code,
		delay_ms, post_elapsed_ms, elapsed_ms, error_message, started_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// InsertTimingBatch writes records in a single round trip. Records without
// an ID get a fresh one.
func (s *Store) InsertTimingBatch(ctx context.Context, records []*TimingRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		batch.Queue(insertTimingSQL,
			r.ID, r.RequestID, r.Handler, r.Method, r.Path, r.Outcome, r.StatusCode,
			r.DelayMS, r.PostElapsedMS, r.ElapsedMS, r.ErrorMessage, r.StartedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert timing batch: %w", err)
		}
	}
	return nil
}

// ListTimings returns the most recent records matching filter, newest first.
func (s *Store) ListTimings(ctx context.Context, filter TimingFilter) ([]TimingRecord, error) {
	var conditions []string
	var args []any

	if filter.Handler != nil {
		args = append(args, *filter.Handler)
		conditions = append(conditions, fmt.Sprintf("handler = $%d", len(args)))
	}
	if filter.Outcome != nil {
		args = append(args, *filter.Outcome)
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit < 1 || limit > 500 {
		limit = 50
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, request_id, handler, method, path, outcome, status_code,
		       delay_ms, post_elapsed_ms, elapsed_ms, error_message, started_at, created_at
		FROM gate_timings %s
		ORDER BY started_at DESC
		LIMIT $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list timings: %w", err)
	}
	defer rows.Close()

	var out []TimingRecord
	for rows.Next() {
		var r TimingRecord
		if err := rows.Scan(
			&r.ID, &r.RequestID, &r.Handler, &r.Method, &r.Path, &r.Outcome, &r.StatusCode,
			&r.DelayMS, &r.PostElapsedMS, &r.ElapsedMS, &r.ErrorMessage, &r.StartedAt, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan timing: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SummarizeTimings aggregates records started at or after since, per handler.
func (s *Store) SummarizeTimings(ctx context.Context, since time.Time) ([]HandlerSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT handler,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE outcome = 'denied'),
		       COUNT(*) FILTER (WHERE error_message IS NOT NULL),
		       COALESCE(AVG(elapsed_ms), 0)::float8,
		       COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY elapsed_ms), 0)::float8,
		       COALESCE(MAX(elapsed_ms), 0)
		FROM gate_timings
		WHERE started_at >= $1
		GROUP BY handler
		ORDER BY handler`, since)
	if err != nil {
		return nil, fmt.Errorf("summarize timings: %w", err)
	}
	defer rows.Close()

	var out []HandlerSummary
	for rows.Next() {
		var h HandlerSummary
		if err := rows.Scan(&h.Handler, &h.Requests, &h.Denied, &h.Errors, &h.AvgElapsed, &h.P95Elapsed, &h.MaxElapsed); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeleteTimingsBefore removes records started before cutoff.
func (s *Store) DeleteTimingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, "DELETE FROM gate_timings WHERE started_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old timings: %w", err)
	}
	return ct.RowsAffected(), nil
}
