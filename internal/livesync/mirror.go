package livesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/remit-board/internal/observability"
	"go.uber.org/zap"
)

var errTransportClosed = errors.New("change feed closed")

// Source is the remote side of a mirror.
//
// Snapshot returns every document currently matching q. Watch delivers one
// signal per remote change relevant to q (signals may be coalesced) and closes
// the channel when the underlying transport drops. The watch ends when ctx is canceled.
type Source[T Entity] interface {
	Snapshot(ctx context.Context, q Query) ([]T, error)
	Watch(ctx context.Context, q Query) (<-chan struct{}, error)
}

// View is a consistent picture of the mirror handed to listeners.
type View[T Entity] struct {
	Items   []T
	Diff    Diff[T]
	Version uint64
	Stale   bool
}

type options struct {
	logger     *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBackoff bounds the delay between resubscribe attempts.
func WithBackoff(min, max time.Duration) Option {
	return func(o *options) {
		if min > 0 {
			o.minBackoff = min
		}
		if max >= o.minBackoff {
			o.maxBackoff = max
		}
	}
}

// Mirror is an ordered, de-duplicated in-memory projection of a remote query.
// It must be released with Close once no longer needed.
type Mirror[T Entity] struct {
	src   Source[T]
	query Query
	opts  options

	mu           sync.RWMutex
	items        []T
	index        map[string]T
	version      uint64
	stale        bool
	watching     bool
	listeners    map[uint64]func(View[T])
	nextListener uint64
	started      bool
	closed       bool

	// serializes snapshot+apply so views reach listeners in version order
	syncMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a mirror for q. Nothing is fetched until Start.
func New[T Entity](src Source[T], q Query, opts ...Option) *Mirror[T] {
	o := options{
		logger:     zap.L(),
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Mirror[T]{
		src:       src,
		query:     q,
		opts:      o,
		index:     make(map[string]T),
		listeners: make(map[uint64]func(View[T])),
		done:      make(chan struct{}),
	}
}

// Query returns the descriptor the mirror was created with.
func (m *Mirror[T]) Query() Query { return m.query }

// Start launches the subscription loop. It is a no-op after the first call or after Close.
func (m *Mirror[T]) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// Close tears down the subscription and waits for the loop to exit.
// Listeners are dropped and receive nothing afterwards.
func (m *Mirror[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.closed = true
	started := m.started
	cancel := m.cancel
	m.listeners = make(map[uint64]func(View[T]))
	wasStale := m.stale
	m.mu.Unlock()

	if started {
		cancel()
	} else {
		close(m.done)
	}
	<-m.done
	if wasStale {
		observability.SetMirrorStale(m.query.Collection, false)
	}
}

// Done is closed once the mirror has been torn down.
func (m *Mirror[T]) Done() <-chan struct{} { return m.done }

// Items returns a copy of the ordered local sequence.
func (m *Mirror[T]) Items() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]T, len(m.items))
	copy(out, m.items)
	return out
}

// Get returns the mirrored document with id.
func (m *Mirror[T]) Get(id string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.index[id]
	return item, ok
}

func (m *Mirror[T]) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Stale reports whether the subscription is currently down.
func (m *Mirror[T]) Stale() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stale
}

// Current returns the present state with an empty diff.
func (m *Mirror[T]) Current() View[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentLocked()
}

func (m *Mirror[T]) currentLocked() View[T] {
	items := make([]T, len(m.items))
	copy(items, m.items)
	return View[T]{Items: items, Version: m.version, Stale: m.stale}
}

// Listen registers fn for every subsequent view. fn runs on the mirror's
// goroutine and must not block.
func (m *Mirror[T]) Listen(fn func(View[T])) (unsubscribe func()) {
	_, unsubscribe = m.Subscribe(fn)
	return unsubscribe
}

// Subscribe atomically returns the current view and registers fn for every
// later one, so no change falls between the two.
func (m *Mirror[T]) Subscribe(fn func(View[T])) (View[T], func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.currentLocked()
	if m.closed {
		return current, func() {}
	}
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	var once sync.Once
	return current, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Resync pulls a full snapshot and applies it now.
func (m *Mirror[T]) Resync(ctx context.Context) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	items, err := m.src.Snapshot(ctx, m.query)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", m.query.Collection, err)
	}
	m.apply(items)
	return nil
}

func (m *Mirror[T]) apply(snapshot []T) {
	next := dedupe(snapshot)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	diff := computeDiff(m.index, next, m.query.Direction)
	// A snapshot pulled while no watch is open cannot clear the stale flag.
	recovered := m.stale && m.watching
	if !diff.Empty() || recovered || m.version == 0 {
		ordered := make([]T, 0, len(next))
		for _, item := range next {
			ordered = append(ordered, item)
		}
		SortEntities(ordered, m.query.Direction)
		m.items = ordered
		m.index = next
		if recovered {
			m.stale = false
		}
		m.version++
	} else {
		m.mu.Unlock()
		observability.IncrementMirrorSnapshot(m.query.Collection)
		return
	}
	view := m.currentLocked()
	view.Diff = diff
	listeners := m.listenerSnapshotLocked()
	m.mu.Unlock()

	observability.IncrementMirrorSnapshot(m.query.Collection)
	if recovered {
		observability.SetMirrorStale(m.query.Collection, false)
	}
	for _, fn := range listeners {
		fn(view)
	}
}

func (m *Mirror[T]) markStale() {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	m.mu.Lock()
	m.watching = false
	if m.stale || m.closed {
		m.mu.Unlock()
		return
	}
	m.stale = true
	m.version++
	view := m.currentLocked()
	listeners := m.listenerSnapshotLocked()
	m.mu.Unlock()

	observability.SetMirrorStale(m.query.Collection, true)
	for _, fn := range listeners {
		fn(view)
	}
}

func (m *Mirror[T]) listenerSnapshotLocked() []func(View[T]) {
	out := make([]func(View[T]), 0, len(m.listeners))
	for _, fn := range m.listeners {
		out = append(out, fn)
	}
	return out
}

func (m *Mirror[T]) run(ctx context.Context) {
	defer close(m.done)

	logger := m.opts.logger.With(zap.String("query", m.query.String()))
	attempt := 0
	for {
		synced, err := m.follow(ctx)
		if ctx.Err() != nil {
			logger.Debug("mirror subscription released")
			return
		}
		if synced {
			attempt = 0
		}
		m.markStale()
		observability.IncrementMirrorReconnect(m.query.Collection)

		delay := m.backoff(attempt)
		attempt++
		logger.Warn("mirror subscription lost, resubscribing",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// follow subscribes, syncs, and applies changes until the feed drops.
// synced reports whether at least one snapshot was applied.
func (m *Mirror[T]) follow(ctx context.Context) (synced bool, err error) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Watch first so no change between snapshot and subscription is lost.
	changes, err := m.src.Watch(watchCtx, m.query)
	if err != nil {
		return false, fmt.Errorf("watch %s: %w", m.query.Collection, err)
	}
	m.mu.Lock()
	m.watching = true
	m.mu.Unlock()
	if err := m.Resync(ctx); err != nil {
		return false, err
	}

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return true, errTransportClosed
			}
			drain(changes)
			if err := m.Resync(ctx); err != nil {
				return true, err
			}
		}
	}
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (m *Mirror[T]) backoff(attempt int) time.Duration {
	delay := m.opts.minBackoff
	for i := 0; i < attempt && delay < m.opts.maxBackoff; i++ {
		delay *= 2
	}
	if delay > m.opts.maxBackoff {
		delay = m.opts.maxBackoff
	}
	return delay
}
