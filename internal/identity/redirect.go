package identity

import (
	"context"
	"net/url"
	"strings"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/google/uuid"
)

// RedirectStore holds the "where to go after sign-in" target under an opaque
// state key. A stored target is returned by Consume at most once.
type RedirectStore interface {
	Remember(ctx context.Context, state, target string) error
	Consume(ctx context.Context, state string) (string, bool, error)
}

// NewState returns a fresh opaque state key.
func NewState() string { return uuid.NewString() }

// ValidateRedirectTarget accepts only same-origin absolute paths.
func ValidateRedirectTarget(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return domain.NewValidationError("target", "is required")
	}
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return domain.NewValidationError("target", "must be a path on this site")
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return domain.NewValidationError("target", "must be a path on this site")
	}
	return nil
}
