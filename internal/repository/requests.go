package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/livesync"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const requestColumns = `id::text, amount::text, currency, from_country, from_city, to_country, to_city,
	name, phone_number, user_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.TransferRequest, error) {
	var (
		r      models.TransferRequest
		amount string
	)
	if err := row.Scan(&r.ID, &amount, &r.Currency, &r.FromCountry, &r.FromCity, &r.ToCountry, &r.ToCity,
		&r.Name, &r.PhoneNumber, &r.UserID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("decode amount %q: %w", amount, err)
	}
	r.Amount = d
	return &r, nil
}

// InsertRequest stores req and fills in its server-assigned id and timestamps.
func (s *Store) InsertRequest(ctx context.Context, req *models.TransferRequest) error {
	return s.RunInTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO transfer_requests
				(amount, currency, from_country, from_city, to_country, to_city, name, phone_number, user_id)
			VALUES ($1::numeric, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id::text, created_at, updated_at`
		err := tx.QueryRow(ctx, query,
			req.Amount.String(), req.Currency, req.FromCountry, req.FromCity, req.ToCountry, req.ToCity,
			req.Name, req.PhoneNumber, req.UserID,
		).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return domain.WrapStore("insert transfer request", err)
		}
		return s.publish(ctx, tx, ChangeEvent{
			Collection: domain.CollectionRequests,
			Op:         domain.OpInsert,
			ID:         req.ID,
			Keys:       requestKeys(req.UserID, req.Currency, req.FromCountry, req.ToCountry),
		})
	})
}

func (s *Store) GetRequest(ctx context.Context, id string) (*models.TransferRequest, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM transfer_requests WHERE id = $1`, uid)
	req, err := scanRequest(row)
	if err != nil {
		return nil, notFoundOr("get transfer request", err)
	}
	return req, nil
}

// ListRequests returns every request, newest first.
func (s *Store) ListRequests(ctx context.Context) ([]models.TransferRequest, error) {
	return s.snapshotRequests(ctx, RequestsNewestFirst())
}

// UpdateRequest overwrites the mutable fields of a request. id, user_id and
// created_at are never touched.
func (s *Store) UpdateRequest(ctx context.Context, id string, f models.RequestFields) (*models.TransferRequest, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	var updated *models.TransferRequest
	err = s.RunInTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE transfer_requests
			SET amount = $1::numeric, currency = $2, from_country = $3, from_city = $4,
				to_country = $5, to_city = $6, name = $7, phone_number = $8, updated_at = clock_timestamp()
			WHERE id = $9
			RETURNING ` + requestColumns
		row := tx.QueryRow(ctx, query,
			f.Amount.String(), f.Currency, f.FromCountry, f.FromCity, f.ToCountry, f.ToCity, f.Name, f.PhoneNumber, uid)
		req, err := scanRequest(row)
		if err != nil {
			return notFoundOr("update transfer request", err)
		}
		updated = req
		return s.publish(ctx, tx, ChangeEvent{
			Collection: domain.CollectionRequests,
			Op:         domain.OpUpdate,
			ID:         req.ID,
			Keys:       requestKeys(req.UserID, req.Currency, req.FromCountry, req.ToCountry),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRequest removes a request and, through the foreign key, its comments.
func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}
	return s.RunInTx(ctx, func(tx pgx.Tx) error {
		var userID, currency, fromCountry, toCountry string
		err := tx.QueryRow(ctx,
			`DELETE FROM transfer_requests WHERE id = $1 RETURNING user_id, currency, from_country, to_country`, uid,
		).Scan(&userID, &currency, &fromCountry, &toCountry)
		if err != nil {
			return notFoundOr("delete transfer request", err)
		}
		if err := s.publish(ctx, tx, ChangeEvent{
			Collection: domain.CollectionRequests,
			Op:         domain.OpDelete,
			ID:         id,
			Keys:       requestKeys(userID, currency, fromCountry, toCountry),
		}); err != nil {
			return err
		}
		return s.publish(ctx, tx, ChangeEvent{
			Collection: domain.CollectionComments,
			Op:         domain.OpDelete,
			Keys:       commentKeys(id, ""),
		})
	})
}

func (s *Store) snapshotRequests(ctx context.Context, q livesync.Query) ([]models.TransferRequest, error) {
	where, args, order, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+requestColumns+` FROM transfer_requests`+where+order, args...)
	if err != nil {
		return nil, domain.WrapStore("list transfer requests", err)
	}
	defer rows.Close()

	var out []models.TransferRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, domain.WrapStore("scan transfer request", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStore("list transfer requests", err)
	}
	return out, nil
}

// buildQuery renders the WHERE and ORDER BY clauses of a validated query.
// Only whitelisted columns ever reach the SQL text; values are bound.
func buildQuery(q livesync.Query) (where string, args []any, order string, err error) {
	if err := q.Validate(BoardSchema); err != nil {
		return "", nil, "", err
	}
	conds := make([]string, 0, len(q.Filters))
	for i, f := range q.Filters {
		conds = append(conds, fmt.Sprintf("%s = $%d", columns[f.Field], i+1))
		args = append(args, f.Value)
	}
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	dir := "ASC"
	if q.Direction == livesync.Descending {
		dir = "DESC"
	}
	order = fmt.Sprintf(" ORDER BY %s %s, id %s", columns[q.OrderBy], dir, dir)
	return where, args, order, nil
}
