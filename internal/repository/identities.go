package repository

import (
	"context"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/models"
)

// ResolveIdentity finds or creates the identity for (provider, subject) and
// refreshes its contact attributes. ident.ID and ident.CreatedAt are filled in.
func (s *Store) ResolveIdentity(ctx context.Context, ident *models.Identity) error {
	query := `
		INSERT INTO identities (provider, subject, phone_number, display_name, photo_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, subject) DO UPDATE
		SET phone_number = COALESCE(NULLIF(EXCLUDED.phone_number, ''), identities.phone_number),
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), identities.display_name),
			photo_url = COALESCE(NULLIF(EXCLUDED.photo_url, ''), identities.photo_url)
		RETURNING id::text, phone_number, display_name, photo_url, created_at`
	err := s.db.QueryRow(ctx, query, ident.Provider, ident.Subject, ident.PhoneNumber, ident.DisplayName, ident.PhotoURL).
		Scan(&ident.ID, &ident.PhoneNumber, &ident.DisplayName, &ident.PhotoURL, &ident.CreatedAt)
	if err != nil {
		return domain.WrapStore("resolve identity", err)
	}
	return nil
}
