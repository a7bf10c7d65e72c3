package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/gateway"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/ayo6706/remit-board/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrChallengeNotFound is returned by a ChallengeStore for unknown or expired ids.
var ErrChallengeNotFound = errors.New("challenge not found")

// PendingChallenge is handed to the caller after a code is sent and must be
// presented again to confirm it.
type PendingChallenge struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phoneNumber"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ChallengeRecord is the server-side half of a pending challenge.
type ChallengeRecord struct {
	PhoneNumber string
	CodeHash    []byte
	ExpiresAt   time.Time
}

// ChallengeStore keeps challenge records until they expire or are consumed.
type ChallengeStore interface {
	Save(ctx context.Context, id string, rec ChallengeRecord) error
	Load(ctx context.Context, id string) (ChallengeRecord, error)
	// RecordAttempt increments and returns the attempt counter.
	RecordAttempt(ctx context.Context, id string) (int, error)
	// Consume deletes the record, reporting whether this call removed it.
	Consume(ctx context.Context, id string) (bool, error)
}

type ChallengerConfig struct {
	TTL         time.Duration
	MaxAttempts int
	CodeLength  int
}

// Challenger runs the phone one-time-passcode flow.
type Challenger struct {
	store      ChallengeStore
	sms        gateway.SMSGateway
	identities IdentityStore
	sessions   *Sessions
	cfg        ChallengerConfig
	logger     *zap.Logger
	now        func() time.Time
}

func NewChallenger(store ChallengeStore, sms gateway.SMSGateway, identities IdentityStore, sessions *Sessions, cfg ChallengerConfig) *Challenger {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.CodeLength < 4 || cfg.CodeLength > 10 {
		cfg.CodeLength = 6
	}
	return &Challenger{
		store:      store,
		sms:        sms,
		identities: identities,
		sessions:   sessions,
		cfg:        cfg,
		logger:     zap.L().Named("challenger"),
		now:        time.Now,
	}
}

// RequestChallenge sends a fresh code to phone.
func (c *Challenger) RequestChallenge(ctx context.Context, phone string) (PendingChallenge, error) {
	if err := domain.ValidatePhone(phone); err != nil {
		observability.IncrementChallenge("invalid_phone")
		return PendingChallenge{}, err
	}
	phone = domain.NormalizePhone(phone)

	code, err := generateCode(c.cfg.CodeLength)
	if err != nil {
		return PendingChallenge{}, fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return PendingChallenge{}, fmt.Errorf("hash code: %w", err)
	}

	id := uuid.NewString()
	expiresAt := c.now().UTC().Add(c.cfg.TTL)
	if err := c.store.Save(ctx, id, ChallengeRecord{PhoneNumber: phone, CodeHash: hash, ExpiresAt: expiresAt}); err != nil {
		return PendingChallenge{}, domain.WrapStore("save challenge", err)
	}
	if err := c.sms.SendCode(ctx, phone, code); err != nil {
		_, _ = c.store.Consume(ctx, id)
		observability.IncrementChallenge("delivery_failed")
		return PendingChallenge{}, domain.WrapStore("deliver code", err)
	}

	observability.IncrementChallenge("sent")
	c.logger.Info("challenge sent", zap.String("challenge_id", id), zap.String("phone", domain.MaskPhone(phone)))
	return PendingChallenge{ID: id, PhoneNumber: domain.MaskPhone(phone), ExpiresAt: expiresAt}, nil
}

// ConfirmChallenge checks code against pending. A challenge succeeds at most
// once and is discarded after MaxAttempts wrong codes.
func (c *Challenger) ConfirmChallenge(ctx context.Context, pending PendingChallenge, code string) (Session, string, error) {
	if pending.ID == "" {
		return Session{}, "", domain.NewAuthError("missing challenge")
	}
	rec, err := c.store.Load(ctx, pending.ID)
	if errors.Is(err, ErrChallengeNotFound) {
		observability.IncrementChallenge("unknown")
		return Session{}, "", domain.NewAuthError("challenge expired or unknown")
	}
	if err != nil {
		return Session{}, "", domain.WrapStore("load challenge", err)
	}
	if !c.now().Before(rec.ExpiresAt) {
		_, _ = c.store.Consume(ctx, pending.ID)
		observability.IncrementChallenge("expired")
		return Session{}, "", domain.NewAuthError("challenge expired or unknown")
	}

	attempts, err := c.store.RecordAttempt(ctx, pending.ID)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return Session{}, "", domain.NewAuthError("challenge expired or unknown")
		}
		return Session{}, "", domain.WrapStore("record attempt", err)
	}
	if attempts > c.cfg.MaxAttempts {
		_, _ = c.store.Consume(ctx, pending.ID)
		observability.IncrementChallenge("locked")
		return Session{}, "", domain.NewAuthError("too many attempts")
	}

	if bcrypt.CompareHashAndPassword(rec.CodeHash, []byte(strings.TrimSpace(code))) != nil {
		if attempts == c.cfg.MaxAttempts {
			_, _ = c.store.Consume(ctx, pending.ID)
		}
		observability.IncrementChallenge("wrong_code")
		return Session{}, "", domain.NewAuthError("invalid code")
	}

	consumed, err := c.store.Consume(ctx, pending.ID)
	if err != nil {
		return Session{}, "", domain.WrapStore("consume challenge", err)
	}
	if !consumed {
		observability.IncrementChallenge("replayed")
		return Session{}, "", domain.NewAuthError("challenge already used")
	}

	ident := models.Identity{
		Provider:    domain.ProviderPhone,
		Subject:     rec.PhoneNumber,
		PhoneNumber: rec.PhoneNumber,
	}
	if err := c.identities.ResolveIdentity(ctx, &ident); err != nil {
		return Session{}, "", err
	}
	session, token, err := c.sessions.Issue(ident)
	if err != nil {
		return Session{}, "", err
	}
	observability.IncrementChallenge("confirmed")
	return session, token, nil
}

func generateCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
