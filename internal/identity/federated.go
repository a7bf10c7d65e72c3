package identity

import (
	"context"
	"strings"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

type FederatedConfig struct {
	Issuer string
	Secret string
}

type federatedClaims struct {
	Name        string `json:"name"`
	Picture     string `json:"picture"`
	PhoneNumber string `json:"phone_number"`
	jwt.RegisteredClaims
}

// FederatedVerifier exchanges an ID token from a trusted single-sign-on
// issuer for a session.
type FederatedVerifier struct {
	cfg        FederatedConfig
	identities IdentityStore
	sessions   *Sessions
}

func NewFederatedVerifier(cfg FederatedConfig, identities IdentityStore, sessions *Sessions) *FederatedVerifier {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	return &FederatedVerifier{cfg: cfg, identities: identities, sessions: sessions}
}

// Enabled reports whether a federated issuer secret is configured.
func (v *FederatedVerifier) Enabled() bool {
	return v != nil && v.cfg.Secret != ""
}

func (v *FederatedVerifier) SignIn(ctx context.Context, idToken string) (Session, string, error) {
	if !v.Enabled() {
		return Session{}, "", domain.NewAuthError("federated sign-in is not configured")
	}
	claims := &federatedClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.sessions.now),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(idToken), claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(v.cfg.Secret), nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Session{}, "", domain.NewAuthError("invalid id token")
	}
	if claims.Subject == "" {
		return Session{}, "", domain.NewAuthError("id token has no subject")
	}

	ident := models.Identity{
		Provider:    domain.ProviderFederated,
		Subject:     claims.Subject,
		DisplayName: strings.TrimSpace(claims.Name),
		PhotoURL:    strings.TrimSpace(claims.Picture),
	}
	if claims.PhoneNumber != "" && domain.ValidatePhone(claims.PhoneNumber) == nil {
		ident.PhoneNumber = domain.NormalizePhone(claims.PhoneNumber)
	}
	if err := v.identities.ResolveIdentity(ctx, &ident); err != nil {
		return Session{}, "", err
	}
	return v.sessions.Issue(ident)
}
