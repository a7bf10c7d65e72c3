package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/remit-board/internal/api"
	"github.com/ayo6706/remit-board/internal/api/handler"
	"github.com/ayo6706/remit-board/internal/api/problem"
	"github.com/ayo6706/remit-board/internal/config"
	"github.com/ayo6706/remit-board/internal/identity"
	"github.com/ayo6706/remit-board/internal/livesync"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/ayo6706/remit-board/internal/repository"
	"github.com/ayo6706/remit-board/internal/repository/memory"
	"github.com/ayo6706/remit-board/internal/service"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "remit-board-test"
	testJWTAudience = "remit-board-api-test"
)

type captureSMS struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *captureSMS) SendCode(_ context.Context, phone, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil {
		c.codes = make(map[string]string)
	}
	c.codes[phone] = code
	return nil
}

func (c *captureSMS) code(phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[phone]
}

type testServer struct {
	*httptest.Server
	store *memory.Store
	sms   *captureSMS
}

func newTestServer(t *testing.T, health *handler.HealthHandler) *testServer {
	t.Helper()
	store := memory.New()
	sms := &captureSMS{}

	sessions, err := identity.NewSessions(identity.SessionConfig{
		Secret:   testJWTSecret,
		Issuer:   testJWTIssuer,
		Audience: testJWTAudience,
		TTL:      time.Hour,
	}, identity.NewMemoryRevocations())
	require.NoError(t, err)

	opts := []livesync.Option{livesync.WithBackoff(5*time.Millisecond, 20*time.Millisecond)}
	mirror := livesync.New[models.TransferRequest](store.RequestFeed(), repository.RequestsNewestFirst(), opts...)
	mirror.Start(context.Background())
	t.Cleanup(mirror.Close)

	cfg := &config.Config{
		CORSAllowedOrigins: []string{"*"},
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
	}
	router := api.NewRouter(cfg, zap.NewNop(), api.Dependencies{
		Requests:      service.NewRequestService(store, time.Second),
		Comments:      service.NewCommentService(store, time.Second),
		RequestMirror: mirror,
		CommentSource: store.CommentFeed(),
		MirrorOptions: opts,
		Sessions:      sessions,
		Challenger: identity.NewChallenger(identity.NewMemoryChallenges(), sms, store, sessions, identity.ChallengerConfig{
			TTL:         time.Minute,
			MaxAttempts: 3,
			CodeLength:  6,
		}),
		Federated: identity.NewFederatedVerifier(identity.FederatedConfig{}, store, sessions),
		Redirects: identity.NewMemoryRedirects(time.Minute),
		Health:    health,
	})

	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, sms: sms}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

type signIn struct {
	Token      string           `json:"token"`
	Session    identity.Session `json:"session"`
	RedirectTo string           `json:"redirect_to"`
}

func (ts *testServer) signIn(t *testing.T, phone, redirectTo string) signIn {
	t.Helper()
	body := map[string]string{"phone_number": phone}
	if redirectTo != "" {
		body["redirect_to"] = redirectTo
	}
	resp, raw := ts.do(t, http.MethodPost, "/v1/auth/challenges", "", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var pending identity.PendingChallenge
	require.NoError(t, json.Unmarshal(raw, &pending))

	resp, raw = ts.do(t, http.MethodPost, "/v1/auth/challenges/"+pending.ID+"/confirm", "", map[string]string{"code": ts.sms.code(phone)})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var out signIn
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NotEmpty(t, out.Token)
	return out
}

func requestBody() map[string]interface{} {
	return map[string]interface{}{
		"amount":      "500",
		"currency":    "USD",
		"fromCountry": "US",
		"fromCity":    "Boston",
		"toCountry":   "IN",
		"toCity":      "Pune",
		"name":        "Asha",
		"phoneNumber": "+919876543210",
	}
}

func (ts *testServer) createRequest(t *testing.T, token string) models.TransferRequest {
	t.Helper()
	resp, raw := ts.do(t, http.MethodPost, "/v1/requests", token, requestBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var req models.TransferRequest
	require.NoError(t, json.Unmarshal(raw, &req))
	return req
}

func decodeProblem(t *testing.T, raw []byte) problem.Details {
	t.Helper()
	var p problem.Details
	require.NoError(t, json.Unmarshal(raw, &p))
	return p
}

func TestRequests_Lifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := ts.signIn(t, "+15550001111", "")
	other := ts.signIn(t, "+15550002222", "")

	created := ts.createRequest(t, owner.Token)
	assert.Equal(t, owner.Session.UserID, created.UserID)
	assert.Equal(t, "500", created.Amount.String())
	assert.Equal(t, "+919876543210", created.PhoneNumber)

	require.Eventually(t, func() bool {
		resp, raw := ts.do(t, http.MethodGet, "/v1/requests", "", nil)
		var list []models.TransferRequest
		return resp.StatusCode == http.StatusOK &&
			resp.Header.Get("X-Mirror-Stale") == "false" &&
			json.Unmarshal(raw, &list) == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, raw := ts.do(t, http.MethodGet, "/v1/requests/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched models.TransferRequest
	require.NoError(t, json.Unmarshal(raw, &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	update := requestBody()
	update["toCity"] = "Mumbai"
	resp, raw = ts.do(t, http.MethodPut, "/v1/requests/"+created.ID, other.Token, update)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, problem.Type("permission/not-owner"), decodeProblem(t, raw).Type)

	resp, raw = ts.do(t, http.MethodPut, "/v1/requests/"+created.ID, owner.Token, update)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var updated models.TransferRequest
	require.NoError(t, json.Unmarshal(raw, &updated))
	assert.Equal(t, "Mumbai", updated.ToCity)
	assert.Equal(t, created.UserID, updated.UserID)

	resp, _ = ts.do(t, http.MethodDelete, "/v1/requests/"+created.ID, other.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/v1/requests/"+created.ID, owner.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/v1/requests/"+created.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequests_RequireSession(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, raw := ts.do(t, http.MethodPost, "/v1/requests", "", requestBody())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	assert.Equal(t, http.StatusUnauthorized, decodeProblem(t, raw).Status)

	resp, _ = ts.do(t, http.MethodPost, "/v1/requests", "not-a-token", requestBody())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequests_Validation(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := ts.signIn(t, "+15550001111", "")

	tests := []struct {
		name  string
		field string
		value interface{}
	}{
		{"zero amount", "amount", "0"},
		{"negative amount", "amount", "-5"},
		{"unknown currency", "currency", "XYZ"},
		{"unknown country", "toCountry", "ZZ"},
		{"blank city", "fromCity", "   "},
		{"bad phone", "phoneNumber", "12ab"},
		{"missing name", "name", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := requestBody()
			body[tt.field] = tt.value
			resp, raw := ts.do(t, http.MethodPost, "/v1/requests", owner.Token, body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(raw))
			assert.Equal(t, problem.Type("validation/invalid-field"), decodeProblem(t, raw).Type)
		})
	}

	items, err := ts.store.ListRequests(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRequests_MalformedBody(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := ts.signIn(t, "+15550001111", "")

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/requests", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+owner.Token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequests_Summary(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := ts.signIn(t, "+15550001111", "")
	ts.createRequest(t, owner.Token)
	ts.createRequest(t, owner.Token)

	require.Eventually(t, func() bool {
		resp, raw := ts.do(t, http.MethodGet, "/v1/requests/summary", "", nil)
		var summary struct {
			Count  int `json:"count"`
			Totals []struct {
				Amount   string `json:"amount"`
				Currency string `json:"currency"`
			} `json:"totals"`
		}
		if resp.StatusCode != http.StatusOK || json.Unmarshal(raw, &summary) != nil {
			return false
		}
		return summary.Count == 2 && len(summary.Totals) == 1 &&
			summary.Totals[0].Amount == "1000" && summary.Totals[0].Currency == "USD"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestComments_Flow(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := ts.signIn(t, "+15550001111", "")
	other := ts.signIn(t, "+15550002222", "")
	req := ts.createRequest(t, owner.Token)

	resp, _ := ts.do(t, http.MethodPost, "/v1/requests/"+req.ID+"/comments", "", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/v1/requests/"+req.ID+"/comments", other.Token, map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw := ts.do(t, http.MethodPost, "/v1/requests/"+req.ID+"/comments", other.Token, map[string]string{"text": "  I can help  "})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var c models.Comment
	require.NoError(t, json.Unmarshal(raw, &c))
	assert.Equal(t, "I can help", c.Text)
	assert.Equal(t, "Anonymous", c.UserName)
	assert.Equal(t, other.Session.UserID, c.UserID)

	resp, raw = ts.do(t, http.MethodGet, "/v1/requests/"+req.ID+"/comments", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.Comment
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 1)

	resp, _ = ts.do(t, http.MethodDelete, "/v1/comments/"+c.ID, owner.Token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodDelete, "/v1/comments/"+c.ID, other.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/v1/requests/missing/comments", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/v1/requests/missing/comments", other.Token, map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuth_SessionAndSignOut(t *testing.T) {
	ts := newTestServer(t, nil)
	user := ts.signIn(t, "+15550001111", "/requests/new")
	assert.Equal(t, "/requests/new", user.RedirectTo)
	assert.Equal(t, "phone", user.Session.Provider)

	resp, raw := ts.do(t, http.MethodGet, "/v1/auth/session", user.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s identity.Session
	require.NoError(t, json.Unmarshal(raw, &s))
	assert.Equal(t, user.Session.UserID, s.UserID)

	again := ts.signIn(t, "+15550001111", "")
	assert.Equal(t, user.Session.UserID, again.Session.UserID)

	resp, _ = ts.do(t, http.MethodPost, "/v1/auth/signout", user.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/v1/auth/session", user.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/v1/auth/session", again.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_ChallengeRejects(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, phone := range []string{"5", "0555", "+12ab"} {
		resp, _ := ts.do(t, http.MethodPost, "/v1/auth/challenges", "", map[string]string{"phone_number": phone})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, phone)
	}

	resp, _ := ts.do(t, http.MethodPost, "/v1/auth/challenges", "", map[string]string{"phone_number": "555"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/v1/auth/challenges", "", map[string]string{"phone_number": "+15550001111", "redirect_to": "https://evil.example"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, raw := ts.do(t, http.MethodPost, "/v1/auth/challenges", "", map[string]string{"phone_number": "+15550001111"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var pending identity.PendingChallenge
	require.NoError(t, json.Unmarshal(raw, &pending))
	assert.NotContains(t, pending.PhoneNumber, "0001111")

	resp, _ = ts.do(t, http.MethodPost, "/v1/auth/challenges/"+pending.ID+"/confirm", "", map[string]string{"code": "000000x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/v1/auth/challenges/unknown/confirm", "", map[string]string{"code": "123456"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_FederatedDisabledAndRedirects(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := ts.do(t, http.MethodPost, "/v1/auth/federated", "", map[string]string{"id_token": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, raw := ts.do(t, http.MethodPost, "/v1/auth/redirects", "", map[string]string{"target": "/requests/42"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.NotEmpty(t, out["state"])

	resp, _ = ts.do(t, http.MethodPost, "/v1/auth/redirects", "", map[string]string{"target": "//evil.example/x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCountries(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, raw := ts.do(t, http.MethodGet, "/v1/countries?q=ind", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var countries []struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(raw, &countries))
	var codes []string
	for _, c := range countries {
		codes = append(codes, c.Code)
	}
	assert.Contains(t, codes, "IN")
	assert.Contains(t, codes, "ID")
}

func TestHealth(t *testing.T) {
	health := handler.NewHealthHandler().WithCheck("store", func(context.Context) error { return errors.New("down") })
	ts := newTestServer(t, health)

	resp, _ := ts.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ts = newTestServer(t, nil)
	resp, _ = ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTraceHeaderEchoed(t *testing.T) {
	ts := newTestServer(t, nil)
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/requests", nil)
	require.NoError(t, err)
	req.Header.Set("X-Trace-ID", "trace-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-123", resp.Header.Get("X-Trace-ID"))
}

type wireFrame[T any] struct {
	Type    string `json:"type"`
	Version uint64 `json:"version"`
	Stale   bool   `json:"stale"`
	Items   []T    `json:"items"`
	Diff    struct {
		Added    []T      `json:"added"`
		Modified []T      `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"diff"`
}

func dial(t *testing.T, ts *testServer, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+path, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readFrame[T any](t *testing.T, conn *websocket.Conn) wireFrame[T] {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f wireFrame[T]
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestLiveRequests_SnapshotThenDiffs(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := ts.signIn(t, "+15550001111", "")
	first := ts.createRequest(t, owner.Token)

	require.Eventually(t, func() bool {
		resp, raw := ts.do(t, http.MethodGet, "/v1/requests", "", nil)
		var list []models.TransferRequest
		return resp.StatusCode == http.StatusOK && json.Unmarshal(raw, &list) == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn, _, err := dial(t, ts, "/v1/requests/live")
	require.NoError(t, err)

	snap := readFrame[models.TransferRequest](t, conn)
	require.Equal(t, "snapshot", snap.Type)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, first.ID, snap.Items[0].ID)

	second := ts.createRequest(t, owner.Token)
	frame := readFrame[models.TransferRequest](t, conn)
	require.Equal(t, "diff", frame.Type)
	require.Len(t, frame.Diff.Added, 1)
	assert.Equal(t, second.ID, frame.Diff.Added[0].ID)
	assert.False(t, frame.Stale)
	assert.Greater(t, frame.Version, snap.Version)

	resp, _ := ts.do(t, http.MethodDelete, "/v1/requests/"+first.ID, owner.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	frame = readFrame[models.TransferRequest](t, conn)
	assert.Equal(t, []string{first.ID}, frame.Diff.Removed)
}

func TestLiveComments_PerRequestFeed(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := ts.signIn(t, "+15550001111", "")
	req := ts.createRequest(t, owner.Token)
	other := ts.createRequest(t, owner.Token)

	_, resp, err := dial(t, ts, "/v1/requests/missing/comments/live")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := dial(t, ts, "/v1/requests/"+req.ID+"/comments/live")
	require.NoError(t, err)
	snap := readFrame[models.Comment](t, conn)
	assert.Equal(t, "snapshot", snap.Type)
	assert.Empty(t, snap.Items)

	r, _ := ts.do(t, http.MethodPost, "/v1/requests/"+other.ID+"/comments", owner.Token, map[string]string{"text": "elsewhere"})
	require.Equal(t, http.StatusCreated, r.StatusCode)
	r, _ = ts.do(t, http.MethodPost, "/v1/requests/"+req.ID+"/comments", owner.Token, map[string]string{"text": "here"})
	require.Equal(t, http.StatusCreated, r.StatusCode)

	frame := readFrame[models.Comment](t, conn)
	require.Equal(t, "diff", frame.Type)
	require.Len(t, frame.Diff.Added, 1)
	assert.Equal(t, "here", frame.Diff.Added[0].Text)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return ts.store.Watchers() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestLive_ClosedOnSignOut(t *testing.T) {
	ts := newTestServer(t, nil)
	user := ts.signIn(t, "+15550001111", "")

	_, resp, err := dial(t, ts, "/v1/requests/live?access_token=garbage")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := dial(t, ts, "/v1/requests/live?access_token="+user.Token)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", readFrame[models.TransferRequest](t, conn).Type)

	r, _ := ts.do(t, http.MethodPost, "/v1/auth/signout", user.Token, nil)
	require.Equal(t, http.StatusNoContent, r.StatusCode)

	assert.Equal(t, "signed_out", readFrame[models.TransferRequest](t, conn).Type)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}
