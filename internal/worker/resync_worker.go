package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/remit-board/internal/livesync"
	"github.com/ayo6706/remit-board/internal/observability"
	"go.uber.org/zap"
)

// Resyncer is a mirror that can be forced to pull a full snapshot.
type Resyncer interface {
	Query() livesync.Query
	Resync(ctx context.Context) error
}

// ResyncWorker periodically resyncs mirrors so a notification lost while the
// change listener was reconnecting is repaired within one interval.
type ResyncWorker struct {
	mirrors  []Resyncer
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewResyncWorker constructs a worker with a default one-minute interval.
func NewResyncWorker(mirrors ...Resyncer) *ResyncWorker {
	return &ResyncWorker{
		mirrors:  mirrors,
		interval: time.Minute,
		timeout:  10 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ResyncWorker) WithInterval(interval time.Duration) *ResyncWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithTimeout bounds each snapshot pull.
func (w *ResyncWorker) WithTimeout(timeout time.Duration) *ResyncWorker {
	if timeout > 0 {
		w.timeout = timeout
	}
	return w
}

// Start blocks and resyncs at the configured interval.
func (w *ResyncWorker) Start(ctx context.Context) {
	zap.L().Info("resync worker starting", zap.Duration("interval", w.interval), zap.Int("mirrors", len(w.mirrors)))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("resync worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("resync worker stop signal received")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *ResyncWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ResyncWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// RunOnce resyncs every mirror and returns how many failed.
func (w *ResyncWorker) RunOnce(ctx context.Context) int {
	failed := 0
	for _, m := range w.mirrors {
		runCtx, cancel := context.WithTimeout(ctx, w.timeout)
		err := m.Resync(runCtx)
		cancel()
		if err != nil {
			failed++
			observability.IncrementWorkerRun("resync", "failed")
			zap.L().Warn("mirror resync failed", zap.String("query", m.Query().String()), zap.Error(err))
			continue
		}
		observability.IncrementWorkerRun("resync", "success")
	}
	return failed
}
