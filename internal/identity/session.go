// Package identity verifies callers and issues the sessions the rest of the
// service uses for ownership. Sessions are plain values passed explicitly;
// nothing here holds a "current user".
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/ayo6706/remit-board/internal/observability"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const minSecretLength = 32

// Session is the verified caller of an operation.
type Session struct {
	UserID      string    `json:"userId"`
	TokenID     string    `json:"-"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	PhotoURL    string    `json:"photoUrl,omitempty"`
	Provider    string    `json:"provider"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Authenticated reports whether s carries a caller identity.
func (s Session) Authenticated() bool { return s.UserID != "" }

const (
	EventSignedIn  = "signed_in"
	EventSignedOut = "signed_out"
)

// Event is delivered to OnSessionChange listeners.
type Event struct {
	Kind    string
	Session Session
}

// RevocationStore remembers signed-out token ids until they would expire anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// IdentityStore resolves a verified external identity to a stable user id.
type IdentityStore interface {
	ResolveIdentity(ctx context.Context, ident *models.Identity) error
}

type SessionConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

type sessionClaims struct {
	PhoneNumber string `json:"phone_number,omitempty"`
	Name        string `json:"name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Provider    string `json:"provider"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies HS256 session tokens.
type Sessions struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	revoked  RevocationStore
	now      func() time.Time

	mu        sync.Mutex
	listeners map[uint64]func(Event)
	next      uint64
}

func NewSessions(cfg SessionConfig, revoked RevocationStore) (*Sessions, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d characters", minSecretLength)
	}
	if revoked == nil {
		return nil, errors.New("revocation store is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{
		secret:    []byte(cfg.Secret),
		issuer:    strings.TrimSpace(cfg.Issuer),
		audience:  strings.TrimSpace(cfg.Audience),
		ttl:       ttl,
		revoked:   revoked,
		now:       time.Now,
		listeners: make(map[uint64]func(Event)),
	}, nil
}

// Issue signs a new session for ident and announces the sign-in.
func (s *Sessions) Issue(ident models.Identity) (Session, string, error) {
	if ident.ID == "" {
		return Session{}, "", errors.New("identity has no id")
	}
	now := s.now().UTC().Truncate(time.Second)
	session := Session{
		UserID:      ident.ID,
		TokenID:     uuid.NewString(),
		PhoneNumber: ident.PhoneNumber,
		DisplayName: ident.DisplayName,
		PhotoURL:    ident.PhotoURL,
		Provider:    ident.Provider,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.ttl),
	}

	claims := sessionClaims{
		PhoneNumber: session.PhoneNumber,
		Name:        session.DisplayName,
		Picture:     session.PhotoURL,
		Provider:    session.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			ID:        session.TokenID,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	if s.issuer != "" {
		claims.Issuer = s.issuer
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, "", fmt.Errorf("sign session: %w", err)
	}
	observability.IncrementSessionEvent(session.Provider, EventSignedIn)
	s.emit(Event{Kind: EventSignedIn, Session: session})
	return session, token, nil
}

// Verify checks signature, issuer, audience, expiry and revocation.
func (s *Sessions) Verify(ctx context.Context, token string) (Session, error) {
	claims := &sessionClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Session{}, domain.NewAuthError("invalid session token")
	}
	if claims.Subject == "" || claims.ID == "" {
		return Session{}, domain.NewAuthError("invalid session claims")
	}

	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, domain.WrapStore("check revocation", err)
	}
	if revoked {
		return Session{}, domain.NewAuthError("session signed out")
	}

	session := Session{
		UserID:      claims.Subject,
		TokenID:     claims.ID,
		PhoneNumber: claims.PhoneNumber,
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
		Provider:    claims.Provider,
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	session.ExpiresAt = claims.ExpiresAt.Time.UTC()
	return session, nil
}

// SignOut revokes the session's token and announces the sign-out.
func (s *Sessions) SignOut(ctx context.Context, session Session) error {
	if !session.Authenticated() || session.TokenID == "" {
		return domain.NewAuthError("no active session")
	}
	if err := s.revoked.Revoke(ctx, session.TokenID, session.ExpiresAt); err != nil {
		return domain.WrapStore("revoke session", err)
	}
	observability.IncrementSessionEvent(session.Provider, EventSignedOut)
	s.emit(Event{Kind: EventSignedOut, Session: session})
	return nil
}

// OnSessionChange registers fn for every later sign-in and sign-out.
// fn must not block.
func (s *Sessions) OnSessionChange(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Sessions) emit(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

type contextKey struct{}

// WithSession returns a copy of ctx carrying session.
func WithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, contextKey{}, session)
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	s, ok := ctx.Value(contextKey{}).(Session)
	return s, ok && s.Authenticated()
}
