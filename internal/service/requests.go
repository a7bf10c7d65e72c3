package service

import (
	"context"
	"errors"
	"time"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/identity"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/ayo6706/remit-board/internal/observability"
	"go.uber.org/zap"
)

const DefaultStoreTimeout = 10 * time.Second

const (
	entityRequest = "request"
	entityComment = "comment"
)

// RequestService validates and authorizes writes to transfer requests.
// The callers' mirrors observe the results through their own subscriptions.
type RequestService struct {
	store   RequestStore
	timeout time.Duration
	logger  *zap.Logger
}

func NewRequestService(store RequestStore, timeout time.Duration) *RequestService {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &RequestService{store: store, timeout: timeout, logger: zap.L().Named("requests")}
}

func (s *RequestService) Create(ctx context.Context, session identity.Session, fields models.RequestFields) (req *models.TransferRequest, err error) {
	defer func() { observability.IncrementMutation(entityRequest, "create", outcome(err)) }()

	if !session.Authenticated() {
		return nil, domain.NewAuthError("sign in to post a request")
	}
	fields, err = prepareFields(fields)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req = &models.TransferRequest{RequestFields: fields, UserID: session.UserID}
	if err := s.store.InsertRequest(ctx, req); err != nil {
		return nil, err
	}
	s.logger.Info("transfer request created",
		zap.String("request_id", req.ID),
		zap.String("user_id", req.UserID),
		zap.String("amount", domain.NewMoney(req.Amount, req.Currency).String()),
	)
	return req, nil
}

func (s *RequestService) Get(ctx context.Context, id string) (*models.TransferRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.GetRequest(ctx, id)
}

// List returns every request, newest first, straight from the store.
func (s *RequestService) List(ctx context.Context) ([]models.TransferRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.ListRequests(ctx)
}

// Update replaces the mutable fields of a request owned by the caller.
// Concurrent updates are last-write-wins.
func (s *RequestService) Update(ctx context.Context, session identity.Session, id string, fields models.RequestFields) (req *models.TransferRequest, err error) {
	defer func() { observability.IncrementMutation(entityRequest, "update", outcome(err)) }()

	if !session.Authenticated() {
		return nil, domain.NewAuthError("sign in to edit a request")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	current, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.UserID != session.UserID {
		return nil, domain.ErrPermission
	}
	fields, err = prepareFields(fields)
	if err != nil {
		return nil, err
	}
	req, err = s.store.UpdateRequest(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	s.logger.Info("transfer request updated", zap.String("request_id", id), zap.String("user_id", session.UserID))
	return req, nil
}

// Delete removes a request owned by the caller along with its comments.
func (s *RequestService) Delete(ctx context.Context, session identity.Session, id string) (err error) {
	defer func() { observability.IncrementMutation(entityRequest, "delete", outcome(err)) }()

	if !session.Authenticated() {
		return domain.NewAuthError("sign in to delete a request")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	current, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if current.UserID != session.UserID {
		return domain.ErrPermission
	}
	if err := s.store.DeleteRequest(ctx, id); err != nil {
		return err
	}
	s.logger.Info("transfer request deleted", zap.String("request_id", id), zap.String("user_id", session.UserID))
	return nil
}

// Summary is the board headline: how many requests are open and how much
// is asked for per currency.
type Summary struct {
	Count  int            `json:"count"`
	Totals []domain.Money `json:"totals"`
}

// Summarize totals requests without converting between currencies.
func Summarize(reqs []models.TransferRequest) Summary {
	totals := domain.Totals{}
	for _, r := range reqs {
		totals.Add(domain.NewMoney(r.Amount, r.Currency))
	}
	return Summary{Count: len(reqs), Totals: totals.Sorted()}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrAuth):
		return "unauthenticated"
	case errors.Is(err, domain.ErrPermission):
		return "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
