package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/identity"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/ayo6706/remit-board/internal/observability"
	"go.uber.org/zap"
)

// CommentService appends and deletes comments under a request.
type CommentService struct {
	store   CommentStore
	timeout time.Duration
	logger  *zap.Logger
}

func NewCommentService(store CommentStore, timeout time.Duration) *CommentService {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &CommentService{store: store, timeout: timeout, logger: zap.L().Named("comments")}
}

func (s *CommentService) Add(ctx context.Context, session identity.Session, requestID, text string) (c *models.Comment, err error) {
	defer func() { observability.IncrementMutation(entityComment, "create", outcome(err)) }()

	if !session.Authenticated() {
		return nil, domain.NewAuthError("sign in to comment")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.NewValidationError("text", "is required")
	}
	if utf8.RuneCountInString(text) > domain.MaxCommentLength {
		return nil, domain.NewValidationError("text", "is too long")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	name := strings.TrimSpace(session.DisplayName)
	if name == "" {
		name = domain.AnonymousName
	}
	c = &models.Comment{
		RequestID: requestID,
		Text:      text,
		UserID:    session.UserID,
		UserName:  name,
		UserPhoto: session.PhotoURL,
	}
	if err := s.store.InsertComment(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("comment added", zap.String("comment_id", c.ID), zap.String("request_id", requestID))
	return c, nil
}

// Delete removes a comment written by the caller.
func (s *CommentService) Delete(ctx context.Context, session identity.Session, commentID string) (err error) {
	defer func() { observability.IncrementMutation(entityComment, "delete", outcome(err)) }()

	if !session.Authenticated() {
		return domain.NewAuthError("sign in to delete a comment")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	current, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if current.UserID != session.UserID {
		return domain.ErrPermission
	}
	return s.store.DeleteComment(ctx, commentID)
}

// List returns the comments of a request, oldest first.
func (s *CommentService) List(ctx context.Context, requestID string) ([]models.Comment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, requestID)
}
