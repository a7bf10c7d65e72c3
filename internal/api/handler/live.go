package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/remit-board/internal/identity"
	"github.com/ayo6706/remit-board/internal/livesync"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/ayo6706/remit-board/internal/observability"
	"github.com/ayo6706/remit-board/internal/repository"
	"github.com/ayo6706/remit-board/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	feedRequests = "requests"
	feedComments = "comments"

	frameSnapshot  = "snapshot"
	frameDiff      = "diff"
	frameSignedOut = "signed_out"
)

// LiveSettings tunes the WebSocket feeds.
type LiveSettings struct {
	AllowedOrigins []string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	// Views a slow client may fall behind by before it is disconnected.
	BufferSize int
}

func DefaultLiveSettings() LiveSettings {
	return LiveSettings{
		AllowedOrigins: []string{"*"},
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		BufferSize:     64,
	}
}

type snapshotFrame[T livesync.Entity] struct {
	Type    string `json:"type"`
	Version uint64 `json:"version"`
	Stale   bool   `json:"stale"`
	Items   []T    `json:"items"`
}

type diffFrame[T livesync.Entity] struct {
	Type    string           `json:"type"`
	Version uint64           `json:"version"`
	Stale   bool             `json:"stale"`
	Diff    livesync.Diff[T] `json:"diff"`
}

type statusFrame struct {
	Type string `json:"type"`
}

// LiveHandler streams mirror views over WebSocket. The first frame of a
// connection is a full snapshot and every later frame is a diff.
type LiveHandler struct {
	requests   *livesync.Mirror[models.TransferRequest]
	comments   livesync.Source[models.Comment]
	requestSvc *service.RequestService
	sessions   *identity.Sessions
	mirrorOpts []livesync.Option
	settings   LiveSettings
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

func NewLiveHandler(
	requests *livesync.Mirror[models.TransferRequest],
	comments livesync.Source[models.Comment],
	requestSvc *service.RequestService,
	sessions *identity.Sessions,
	settings LiveSettings,
	mirrorOpts ...livesync.Option,
) *LiveHandler {
	defaults := DefaultLiveSettings()
	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = defaults.WriteTimeout
	}
	if settings.PingInterval <= 0 {
		settings.PingInterval = defaults.PingInterval
	}
	if settings.PongTimeout <= settings.PingInterval {
		settings.PongTimeout = 2 * settings.PingInterval
	}
	if settings.BufferSize <= 0 {
		settings.BufferSize = defaults.BufferSize
	}
	return &LiveHandler{
		requests:   requests,
		comments:   comments,
		requestSvc: requestSvc,
		sessions:   sessions,
		mirrorOpts: mirrorOpts,
		settings:   settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(settings.AllowedOrigins),
		},
		logger: zap.L().Named("live"),
	}
}

// Requests streams the shared request mirror.
func (h *LiveHandler) Requests(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	streamMirror(h, conn, r, feedRequests, h.requests)
}

// Comments streams the comments of one request through a mirror owned by
// this connection.
func (h *LiveHandler) Comments(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "id")
	if _, err := h.requestSvc.Get(r.Context(), requestID); err != nil {
		RespondDomainError(w, r, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	m := livesync.New[models.Comment](h.comments, repository.CommentsOldestFirst(requestID), h.mirrorOpts...)
	m.Start(r.Context())
	defer m.Close()
	streamMirror(h, conn, r, feedComments, m)
}

func streamMirror[T livesync.Entity](h *LiveHandler, conn *websocket.Conn, r *http.Request, feed string, m *livesync.Mirror[T]) {
	defer conn.Close()
	observability.AddLiveConnections(feed, 1)
	defer observability.AddLiveConnections(feed, -1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		overflowOnce  sync.Once
		signedOutOnce sync.Once
		overflow      = make(chan struct{})
		signedOut     = make(chan struct{})
		views         = make(chan livesync.View[T], h.settings.BufferSize)
	)

	current, unsubscribe := m.Subscribe(func(v livesync.View[T]) {
		select {
		case views <- v:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	if session, ok := identity.FromContext(r.Context()); ok && h.sessions != nil {
		stop := h.sessions.OnSessionChange(func(ev identity.Event) {
			if ev.Kind == identity.EventSignedOut && ev.Session.TokenID == session.TokenID {
				signedOutOnce.Do(func() { close(signedOut) })
			}
		})
		defer stop()
	}

	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(h.settings.PongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(h.settings.PongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v interface{}) bool {
		conn.SetWriteDeadline(time.Now().Add(h.settings.WriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			h.logger.Debug("live write failed", zap.String("feed", feed), zap.Error(err))
			return false
		}
		return true
	}
	closeWith := func(code int, text string) {
		msg := websocket.FormatCloseMessage(code, text)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.settings.WriteTimeout))
	}

	var sent uint64
	if current.Version > 0 {
		if !write(snapshotFrame[T]{Type: frameSnapshot, Version: current.Version, Stale: current.Stale, Items: current.Items}) {
			return
		}
		sent = current.Version
	}

	ping := time.NewTicker(h.settings.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			closeWith(websocket.CloseGoingAway, "")
			return
		case <-overflow:
			closeWith(websocket.CloseTryAgainLater, "client too slow")
			return
		case <-signedOut:
			write(statusFrame{Type: frameSignedOut})
			closeWith(websocket.ClosePolicyViolation, "signed out")
			return
		case v := <-views:
			if v.Version <= sent {
				continue
			}
			var frame interface{} = diffFrame[T]{Type: frameDiff, Version: v.Version, Stale: v.Stale, Diff: v.Diff}
			if sent == 0 {
				frame = snapshotFrame[T]{Type: frameSnapshot, Version: v.Version, Stale: v.Stale, Items: v.Items}
			}
			if !write(frame) {
				return
			}
			sent = v.Version
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.settings.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
