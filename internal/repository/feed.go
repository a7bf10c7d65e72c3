package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/livesync"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// notifier owns a single LISTEN connection shared by every watcher of the
// store. When that connection fails all watches are closed, which the
// mirrors observe as a transport drop; the next Watch call reconnects.
type notifier struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	hub    *ChangeHub

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newNotifier(pool *pgxpool.Pool, logger *zap.Logger) *notifier {
	return &notifier{pool: pool, logger: logger, hub: NewChangeHub()}
}

func (n *notifier) watch(ctx context.Context, q livesync.Query) (<-chan struct{}, error) {
	if err := q.Validate(BoardSchema); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		if err := n.startLocked(ctx); err != nil {
			return nil, err
		}
	}
	return n.hub.Subscribe(ctx, q), nil
}

func (n *notifier) startLocked(ctx context.Context) error {
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, 5*time.Second)
	defer cancelAcquire()

	conn, err := n.pool.Acquire(acquireCtx)
	if err != nil {
		return domain.WrapStore("acquire listen connection", err)
	}
	if _, err := conn.Exec(acquireCtx, "LISTEN "+domain.ChangeChannel); err != nil {
		conn.Release()
		return domain.WrapStore("listen "+domain.ChangeChannel, err)
	}

	// The connection carries LISTEN state, so it leaves the pool for good.
	pgConn := conn.Hijack()
	listenCtx, cancel := context.WithCancel(context.Background())
	n.running = true
	n.cancel = cancel
	n.done = make(chan struct{})
	done := n.done

	go func() {
		defer close(done)
		defer func() {
			closeCtx, cancelClose := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancelClose()
			_ = pgConn.Close(closeCtx)
		}()

		for {
			notification, err := pgConn.WaitForNotification(listenCtx)
			if err != nil {
				if listenCtx.Err() == nil {
					n.logger.Warn("change listener stopped", zap.Error(err))
				}
				n.listenerStopped()
				return
			}
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
				n.logger.Warn("undecodable change event", zap.String("payload", notification.Payload), zap.Error(err))
				continue
			}
			n.hub.Publish(ev)
		}
	}()
	n.logger.Info("change listener started", zap.String("channel", domain.ChangeChannel))
	return nil
}

// listenerStopped closes every watch before clearing running, so a watch
// that restarts the listener never subscribes to a hub about to be closed.
func (n *notifier) listenerStopped() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hub.CloseAll()
	n.running = false
}

func (n *notifier) close() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RequestFeed serves transfer request queries to a livesync.Mirror.
type RequestFeed struct {
	store *Store
}

func (s *Store) RequestFeed() *RequestFeed {
	return &RequestFeed{store: s}
}

func (f *RequestFeed) Snapshot(ctx context.Context, q livesync.Query) ([]models.TransferRequest, error) {
	if q.Collection != domain.CollectionRequests {
		return nil, fmt.Errorf("%w: request feed cannot serve %s", livesync.ErrInvalidQuery, q.Collection)
	}
	return f.store.snapshotRequests(ctx, q)
}

func (f *RequestFeed) Watch(ctx context.Context, q livesync.Query) (<-chan struct{}, error) {
	return f.store.notifier.watch(ctx, q)
}

// CommentFeed serves comment queries to a livesync.Mirror.
type CommentFeed struct {
	store *Store
}

func (s *Store) CommentFeed() *CommentFeed {
	return &CommentFeed{store: s}
}

func (f *CommentFeed) Snapshot(ctx context.Context, q livesync.Query) ([]models.Comment, error) {
	if q.Collection != domain.CollectionComments {
		return nil, fmt.Errorf("%w: comment feed cannot serve %s", livesync.ErrInvalidQuery, q.Collection)
	}
	return f.store.snapshotComments(ctx, q)
}

func (f *CommentFeed) Watch(ctx context.Context, q livesync.Query) (<-chan struct{}, error) {
	return f.store.notifier.watch(ctx, q)
}
