// Package retention purges actors that have been idle longer than the
// retention window.
package retention

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is the sweep interval used when none is given.
const DefaultInterval = time.Hour

// Purger deletes actors idle for longer than retention, returning how many
// were removed.
type Purger interface {
	DeleteStaleActors(ctx context.Context, retention time.Duration) (int64, error)
}

// Worker sweeps stale actors on a ticker.
type Worker struct {
	repo      Purger
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker. A non-positive interval uses DefaultInterval.
func NewWorker(repo Purger, retention, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{repo: repo, retention: retention, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
// It always returns nil so a supervisor does not tear down its siblings
// when the context ends.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.Info("retention worker started", "interval", w.interval, "retention", w.retention)

	w.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-ctx.Done():
			w.logger.Info("retention worker shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep runs one purge. Failures are logged.
func (w *Worker) Sweep(ctx context.Context) int64 {
	if w.retention <= 0 {
		return 0
	}
	deleted, err := w.repo.DeleteStaleActors(ctx, w.retention)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("retention sweep failed", "error", err)
		}
		return 0
	}
	if deleted > 0 {
		w.logger.Info("retention sweep removed stale actors", "count", deleted)
	}
	return deleted
}
