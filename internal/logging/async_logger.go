package logging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sertdev/reqgate/internal/gate"
	"github.com/sertdev/reqgate/internal/resilience"
	"github.com/sertdev/reqgate/internal/store"
)

// BatchWriter persists timing records. *store.Store implements it.
type BatchWriter interface {
	InsertTimingBatch(ctx context.Context, records []*store.TimingRecord) error
}

const (
	maxBatch      = 100
	flushInterval = 500 * time.Millisecond
)

// Recorder is a gate.Sink that buffers completed timings and writes them in
// batches from a single background worker. When the buffer is full new
// records are dropped rather than blocking the request.
type Recorder struct {
	ch      chan *store.TimingRecord
	writer  BatchWriter
	retry   resilience.RetryOpts
	logger  *slog.Logger
	wg      sync.WaitGroup
	done    chan struct{}
	dropped atomic.Int64
	counter prometheus.Counter
	breaker *resilience.Breaker
}

// NewRecorder starts a recorder. Call Close to flush and stop it.
func NewRecorder(w BatchWriter, bufferSize int, retry resilience.RetryOpts, logger *slog.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	rec := &Recorder{
		ch:     make(chan *store.TimingRecord, bufferSize),
		writer: w,
		retry:  retry,
		logger: logger,
		done:   make(chan struct{}),
	}
	rec.wg.Add(1)
	go rec.worker()
	return rec
}

// SetDroppedCounter sets a counter incremented for every dropped record.
func (rec *Recorder) SetDroppedCounter(c prometheus.Counter) {
	rec.counter = c
}

// SetBreaker guards batch writes with b. While b is open batches are dropped
// without touching the writer. Call before the first Record.
func (rec *Recorder) SetBreaker(b *resilience.Breaker) {
	rec.breaker = b
}

// Record implements gate.Sink.
func (rec *Recorder) Record(t gate.Timing) {
	select {
	case rec.ch <- toStoreRecord(t):
	default:
		rec.drop(1)
	}
}

func (rec *Recorder) drop(n int) {
	rec.dropped.Add(int64(n))
	if rec.counter != nil {
		rec.counter.Add(float64(n))
	}
}

// Dropped returns how many records were discarded, either because the buffer
// was full or because their batch could not be written.
func (rec *Recorder) Dropped() int64 {
	return rec.dropped.Load()
}

// Close drains the buffer, writes what is left and stops the worker.
func (rec *Recorder) Close() {
	close(rec.done)
	rec.wg.Wait()
}

func (rec *Recorder) worker() {
	defer rec.wg.Done()

	batch := make([]*store.TimingRecord, 0, maxBatch)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		write := func() error {
			return resilience.Do(ctx, rec.retry, func() error {
				return rec.writer.InsertTimingBatch(ctx, batch)
			})
		}
		var err error
		if rec.breaker != nil {
			err = rec.breaker.Do(write)
		} else {
			err = write()
		}
		switch {
		case errors.Is(err, resilience.ErrBreakerOpen):
			rec.drop(len(batch))
			rec.logger.Warn("recorder: store unavailable, batch dropped", "records", len(batch))
		case err != nil:
			rec.drop(len(batch))
			rec.logger.Error("recorder: batch insert failed", "records", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case r := <-rec.ch:
			batch = append(batch, r)
			if len(batch) >= maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-rec.done:
			for {
				select {
				case r := <-rec.ch:
					batch = append(batch, r)
					if len(batch) >= maxBatch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func toStoreRecord(t gate.Timing) *store.TimingRecord {
	r := &store.TimingRecord{
		RequestID:  t.RequestID,
		Handler:    t.Handler,
		Method:     t.Method,
		Path:       t.Path,
		Outcome:    t.Outcome.String(),
		StatusCode: t.Status,
		DelayMS:    int(t.Delay.Milliseconds()),
		ElapsedMS:  int(t.Elapsed.Milliseconds()),
		StartedAt:  t.Start,
	}
	if t.Posted() {
		ms := int(t.PostElapsed.Milliseconds())
		r.PostElapsedMS = &ms
	}
	if t.Err != nil {
		msg := t.Err.Error()
		r.ErrorMessage = &msg
	}
	return r
}
