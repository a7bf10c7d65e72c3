package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type captureSMS struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (c *captureSMS) SendCode(_ context.Context, phone, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
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

type fakeIdentities struct {
	mu  sync.Mutex
	ids map[string]string
}

func (f *fakeIdentities) ResolveIdentity(_ context.Context, ident *models.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ids == nil {
		f.ids = make(map[string]string)
	}
	key := ident.Provider + "|" + ident.Subject
	id, ok := f.ids[key]
	if !ok {
		id = uuid.NewString()
		f.ids[key] = id
	}
	ident.ID = id
	return nil
}

func newSessions(t *testing.T) *Sessions {
	t.Helper()
	s, err := NewSessions(SessionConfig{Secret: testSecret, Issuer: "remit-board", Audience: "remit-board-api", TTL: time.Hour}, NewMemoryRevocations())
	require.NoError(t, err)
	return s
}

func TestNewSessions_RejectsShortSecret(t *testing.T) {
	_, err := NewSessions(SessionConfig{Secret: "short"}, NewMemoryRevocations())
	require.Error(t, err)
}

func TestSessions_IssueVerifySignOut(t *testing.T) {
	sessions := newSessions(t)
	var events []Event
	unsubscribe := sessions.OnSessionChange(func(ev Event) { events = append(events, ev) })
	defer unsubscribe()

	issued, token, err := sessions.Issue(models.Identity{ID: "u1", Provider: domain.ProviderPhone, PhoneNumber: "+5551234567"})
	require.NoError(t, err)
	assert.Equal(t, "u1", issued.UserID)
	assert.NotEmpty(t, issued.TokenID)

	verified, err := sessions.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, issued.UserID, verified.UserID)
	assert.Equal(t, issued.TokenID, verified.TokenID)
	assert.Equal(t, "+5551234567", verified.PhoneNumber)
	assert.Equal(t, domain.ProviderPhone, verified.Provider)

	require.NoError(t, sessions.SignOut(context.Background(), verified))
	_, err = sessions.Verify(context.Background(), token)
	assert.ErrorIs(t, err, domain.ErrAuth)

	require.Len(t, events, 2)
	assert.Equal(t, EventSignedIn, events[0].Kind)
	assert.Equal(t, EventSignedOut, events[1].Kind)
	assert.Equal(t, "u1", events[1].Session.UserID)
}

func TestSessions_VerifyRejects(t *testing.T) {
	sessions := newSessions(t)
	_, good, err := sessions.Issue(models.Identity{ID: "u1", Provider: domain.ProviderPhone})
	require.NoError(t, err)

	other, err := NewSessions(SessionConfig{Secret: testSecret, Issuer: "someone-else", TTL: time.Hour}, NewMemoryRevocations())
	require.NoError(t, err)
	_, foreign, err := other.Issue(models.Identity{ID: "u1"})
	require.NoError(t, err)

	expired := newSessions(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	_, stale, err := expired.Issue(models.Identity{ID: "u1"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"tampered", good + "x"},
		{"wrong issuer", foreign},
		{"expired", stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sessions.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, domain.ErrAuth)
		})
	}
}

func TestSessions_UnsubscribeStopsEvents(t *testing.T) {
	sessions := newSessions(t)
	calls := 0
	unsubscribe := sessions.OnSessionChange(func(Event) { calls++ })
	unsubscribe()
	unsubscribe()

	_, _, err := sessions.Issue(models.Identity{ID: "u1"})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestSessionContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithSession(context.Background(), Session{UserID: "u1"})
	s, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", s.UserID)
}

func newChallenger(t *testing.T, sms *captureSMS, cfg ChallengerConfig) (*Challenger, *MemoryChallenges) {
	t.Helper()
	store := NewMemoryChallenges()
	return NewChallenger(store, sms, &fakeIdentities{}, newSessions(t), cfg), store
}

func TestChallenger_RequestAndConfirm(t *testing.T) {
	sms := &captureSMS{}
	c, _ := newChallenger(t, sms, ChallengerConfig{})

	pending, err := c.RequestChallenge(context.Background(), "555 123 4567")
	require.NoError(t, err)
	assert.NotEmpty(t, pending.ID)
	assert.Equal(t, "*******4567", pending.PhoneNumber)

	code := sms.code("+5551234567")
	require.Len(t, code, 6)

	session, token, err := c.ConfirmChallenge(context.Background(), pending, code)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "+5551234567", session.PhoneNumber)
	assert.Equal(t, domain.ProviderPhone, session.Provider)

	// A challenge succeeds once.
	_, _, err = c.ConfirmChallenge(context.Background(), pending, code)
	assert.ErrorIs(t, err, domain.ErrAuth)

	// The same phone resolves to the same user.
	again, err := c.RequestChallenge(context.Background(), "+5551234567")
	require.NoError(t, err)
	second, _, err := c.ConfirmChallenge(context.Background(), again, sms.code("+5551234567"))
	require.NoError(t, err)
	assert.Equal(t, session.UserID, second.UserID)
}

func TestChallenger_InvalidPhone(t *testing.T) {
	c, _ := newChallenger(t, &captureSMS{}, ChallengerConfig{})
	_, err := c.RequestChallenge(context.Background(), "0123")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestChallenger_DeliveryFailureDiscardsChallenge(t *testing.T) {
	c, store := newChallenger(t, &captureSMS{err: errors.New("provider down")}, ChallengerConfig{})
	_, err := c.RequestChallenge(context.Background(), "+5551234567")
	assert.ErrorIs(t, err, domain.ErrStore)
	assert.Empty(t, store.recs)
}

func TestChallenger_AttemptsCapped(t *testing.T) {
	sms := &captureSMS{}
	c, _ := newChallenger(t, sms, ChallengerConfig{MaxAttempts: 3})

	pending, err := c.RequestChallenge(context.Background(), "+5551234567")
	require.NoError(t, err)
	code := sms.code("+5551234567")

	for i := 0; i < 3; i++ {
		_, _, err := c.ConfirmChallenge(context.Background(), pending, "000000x")
		assert.ErrorIs(t, err, domain.ErrAuth)
	}
	_, _, err = c.ConfirmChallenge(context.Background(), pending, code)
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestChallenger_Expired(t *testing.T) {
	sms := &captureSMS{}
	c, _ := newChallenger(t, sms, ChallengerConfig{TTL: time.Minute})

	pending, err := c.RequestChallenge(context.Background(), "+5551234567")
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _, err = c.ConfirmChallenge(context.Background(), pending, sms.code("+5551234567"))
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestChallenger_UnknownChallenge(t *testing.T) {
	c, _ := newChallenger(t, &captureSMS{}, ChallengerConfig{})
	_, _, err := c.ConfirmChallenge(context.Background(), PendingChallenge{ID: "nope"}, "123456")
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func federatedToken(t *testing.T, secret, issuer, subject string, ttl time.Duration) string {
	t.Helper()
	claims := federatedClaims{
		Name:        " Amina ",
		Picture:     "https://example.com/a.png",
		PhoneNumber: "93 70 123 4567",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestFederatedVerifier_SignIn(t *testing.T) {
	v := NewFederatedVerifier(FederatedConfig{Issuer: "https://sso.example.com", Secret: "federated-secret"}, &fakeIdentities{}, newSessions(t))
	require.True(t, v.Enabled())

	session, token, err := v.SignIn(context.Background(), federatedToken(t, "federated-secret", "https://sso.example.com", "g-1", time.Minute))
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "Amina", session.DisplayName)
	assert.Equal(t, "+93701234567", session.PhoneNumber)
	assert.Equal(t, domain.ProviderFederated, session.Provider)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", federatedToken(t, "other-secret", "https://sso.example.com", "g-1", time.Minute)},
		{"wrong issuer", federatedToken(t, "federated-secret", "https://evil.example.com", "g-1", time.Minute)},
		{"expired", federatedToken(t, "federated-secret", "https://sso.example.com", "g-1", -time.Minute)},
		{"no subject", federatedToken(t, "federated-secret", "https://sso.example.com", "", time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := v.SignIn(context.Background(), tt.token)
			assert.ErrorIs(t, err, domain.ErrAuth)
		})
	}
}

func TestFederatedVerifier_Disabled(t *testing.T) {
	v := NewFederatedVerifier(FederatedConfig{}, &fakeIdentities{}, newSessions(t))
	assert.False(t, v.Enabled())
	_, _, err := v.SignIn(context.Background(), "anything")
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestMemoryRedirects_ConsumeOnce(t *testing.T) {
	store := NewMemoryRedirects(time.Minute)
	state := NewState()
	require.NoError(t, store.Remember(context.Background(), state, "/requests/new"))

	target, ok, err := store.Consume(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/requests/new", target)

	_, ok, err = store.Consume(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateRedirectTarget(t *testing.T) {
	tests := []struct {
		target string
		ok     bool
	}{
		{"/", true},
		{"/requests/abc?tab=comments", true},
		{"", false},
		{"requests", false},
		{"//evil.example.com", false},
		{"https://evil.example.com/", false},
		{"/\\evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			err := ValidateRedirectTarget(tt.target)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrValidation)
			}
		})
	}
}
