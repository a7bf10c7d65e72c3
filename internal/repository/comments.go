package repository

import (
	"context"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/livesync"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/jackc/pgx/v5"
)

const commentColumns = `id::text, request_id::text, text, user_id, user_name, user_photo, created_at`

func scanComment(row rowScanner) (*models.Comment, error) {
	var c models.Comment
	if err := row.Scan(&c.ID, &c.RequestID, &c.Text, &c.UserID, &c.UserName, &c.UserPhoto, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertComment stores c and fills in its server-assigned id and timestamp.
// A missing parent request is reported as domain.ErrNotFound.
func (s *Store) InsertComment(ctx context.Context, c *models.Comment) error {
	requestID, err := parseID(c.RequestID)
	if err != nil {
		return err
	}
	return s.RunInTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO comments (request_id, text, user_id, user_name, user_photo)
			SELECT id, $2, $3, $4, $5 FROM transfer_requests WHERE id = $1
			RETURNING id::text, created_at`
		err := tx.QueryRow(ctx, query, requestID, c.Text, c.UserID, c.UserName, c.UserPhoto).Scan(&c.ID, &c.CreatedAt)
		if err != nil {
			return notFoundOr("insert comment", err)
		}
		return s.publish(ctx, tx, ChangeEvent{
			Collection: domain.CollectionComments,
			Op:         domain.OpInsert,
			ID:         c.ID,
			Keys:       commentKeys(c.RequestID, c.UserID),
		})
	})
}

func (s *Store) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	c, err := scanComment(s.db.QueryRow(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, uid))
	if err != nil {
		return nil, notFoundOr("get comment", err)
	}
	return c, nil
}

// ListComments returns the comments of a request, oldest first.
func (s *Store) ListComments(ctx context.Context, requestID string) ([]models.Comment, error) {
	if _, err := parseID(requestID); err != nil {
		return nil, nil
	}
	return s.snapshotComments(ctx, CommentsOldestFirst(requestID))
}

func (s *Store) DeleteComment(ctx context.Context, id string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	return s.RunInTx(ctx, func(tx pgx.Tx) error {
		var requestID, userID string
		err := tx.QueryRow(ctx, `DELETE FROM comments WHERE id = $1 RETURNING request_id::text, user_id`, uid).Scan(&requestID, &userID)
		if err != nil {
			return notFoundOr("delete comment", err)
		}
		return s.publish(ctx, tx, ChangeEvent{
			Collection: domain.CollectionComments,
			Op:         domain.OpDelete,
			ID:         id,
			Keys:       commentKeys(requestID, userID),
		})
	})
}

func (s *Store) snapshotComments(ctx context.Context, q livesync.Query) ([]models.Comment, error) {
	where, args, order, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+commentColumns+` FROM comments`+where+order, args...)
	if err != nil {
		return nil, domain.WrapStore("list comments", err)
	}
	defer rows.Close()

	var out []models.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, domain.WrapStore("scan comment", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStore("list comments", err)
	}
	return out, nil
}
