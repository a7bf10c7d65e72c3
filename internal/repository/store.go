package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store is the Postgres-backed document store. Every write publishes a
// ChangeEvent on domain.ChangeChannel inside its own transaction.
type Store struct {
	db       *pgxpool.Pool
	notifier *notifier
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.L()
	}
	return &Store{
		db:       db,
		notifier: newNotifier(db, logger),
	}
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

// Close stops the shared LISTEN connection. The pool is owned by the caller.
func (s *Store) Close() {
	s.notifier.close()
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.WrapStore("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.WrapStore("commit transaction", err)
	}
	return nil
}

func (s *Store) publish(ctx context.Context, tx pgx.Tx, ev ChangeEvent) error {
	payload, err := ev.payload()
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, domain.ChangeChannel, payload); err != nil {
		return domain.WrapStore("publish change", err)
	}
	return nil
}

// parseID rejects ids that cannot exist so lookups of garbage ids are reported as not found.
func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, domain.ErrNotFound
	}
	return parsed, nil
}

func notFoundOr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return domain.WrapStore(op, err)
}
