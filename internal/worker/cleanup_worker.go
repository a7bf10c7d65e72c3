package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/remit-board/internal/observability"
	"go.uber.org/zap"
)

// Purger deletes expired records in bounded batches.
type Purger interface {
	PurgeExpired(ctx context.Context, limit int32) (int64, error)
}

// CleanupWorker deletes expired idempotency keys in the background.
// Batches are bounded so a backlog never holds a long transaction.
type CleanupWorker struct {
	purger       Purger
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewCleanupWorker creates a new CleanupWorker instance.
func NewCleanupWorker(purger Purger) *CleanupWorker {
	return &CleanupWorker{
		purger:       purger,
		pollInterval: 10 * time.Minute,
		batchSize:    500,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *CleanupWorker) WithPollInterval(interval time.Duration) *CleanupWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *CleanupWorker) WithBatchSize(size int32) *CleanupWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start runs the worker loop until Stop is called or the context is canceled.
func (w *CleanupWorker) Start(ctx context.Context) {
	zap.L().Info("cleanup worker starting", zap.Duration("interval", w.pollInterval), zap.Int32("batch", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("cleanup worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("cleanup worker stop signal received")
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				zap.L().Warn("cleanup run failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the worker to stop.
func (w *CleanupWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// ProcessOnce drains expired records batch by batch and returns how many were removed.
func (w *CleanupWorker) ProcessOnce(ctx context.Context) (int64, error) {
	var total int64
	for {
		n, err := w.purger.PurgeExpired(ctx, w.batchSize)
		if err != nil {
			observability.IncrementWorkerRun("cleanup", "failed")
			return total, err
		}
		total += n
		if n < int64(w.batchSize) || ctx.Err() != nil {
			break
		}
	}
	observability.IncrementWorkerRun("cleanup", "success")
	return total, nil
}

// Run starts the worker and returns a function that stops it.
func (w *CleanupWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *CleanupWorker) String() string {
	return fmt.Sprintf("CleanupWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
