package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pruner deletes timing records older than a cutoff. *store.Store implements it.
type Pruner interface {
	DeleteTimingsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleaner enforces the timing record retention window.
type Cleaner struct {
	pruner    Pruner
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
	done      chan struct{}
}

// NewCleaner prunes once immediately and then hourly. A non-positive
// retentionDays disables pruning.
func NewCleaner(p Pruner, retentionDays int, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cleaner{
		pruner:   p,
		interval: time.Hour,
		logger:   logger,
		done:     make(chan struct{}),
	}
	if retentionDays <= 0 {
		return c
	}
	c.retention = time.Duration(retentionDays) * 24 * time.Hour
	c.wg.Add(1)
	go c.worker()
	return c
}

func (c *Cleaner) Close() {
	close(c.done)
	c.wg.Wait()
}

func (c *Cleaner) worker() {
	defer c.wg.Done()

	c.prune()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.prune()
		case <-c.done:
			return
		}
	}
}

func (c *Cleaner) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := c.pruner.DeleteTimingsBefore(ctx, time.Now().Add(-c.retention))
	if err != nil {
		c.logger.Error("cleaner: failed to delete old timings", "error", err)
		return
	}
	if deleted > 0 {
		c.logger.Info("cleaner: deleted old timings", "deleted", deleted, "retention_days", int(c.retention.Hours()/24))
	}
}
