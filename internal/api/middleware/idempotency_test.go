package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/remit-board/internal/db"
	"github.com/ayo6706/remit-board/internal/idempotency"
	"github.com/ayo6706/remit-board/internal/identity"
	"github.com/ayo6706/remit-board/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupIdempotencyStore(t *testing.T) *idempotency.Store {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	release := dblock.Acquire()
	t.Cleanup(release)

	pool, err := db.Connect(context.Background(), os.Getenv("DATABASE_URL"))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(context.Background(), pool))
	return idempotency.NewStore(nil, pool, time.Hour)
}

func TestIdempotencyMiddleware_KeysScopedPerUser(t *testing.T) {
	store := setupIdempotencyStore(t)

	var calls int32
	h := IdempotencyMiddleware(store, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	key := uuid.NewString()
	send := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/requests", strings.NewReader(`{"amount":"10"}`))
		req.Header.Set("Idempotency-Key", key)
		req = req.WithContext(identity.WithSession(req.Context(), identity.Session{UserID: userID}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("user-a")
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get("X-Idempotent-Replay"))

	other := send("user-b")
	assert.Equal(t, http.StatusCreated, other.Code)
	assert.Empty(t, other.Header().Get("X-Idempotent-Replay"))

	replay := send("user-a")
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.NotEmpty(t, replay.Header().Get("X-Idempotent-Replay"))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
