package service

import (
	"context"

	"github.com/ayo6706/remit-board/internal/models"
)

// RequestStore is the document store contract the request service writes through.
type RequestStore interface {
	InsertRequest(ctx context.Context, req *models.TransferRequest) error
	GetRequest(ctx context.Context, id string) (*models.TransferRequest, error)
	ListRequests(ctx context.Context) ([]models.TransferRequest, error)
	UpdateRequest(ctx context.Context, id string, f models.RequestFields) (*models.TransferRequest, error)
	DeleteRequest(ctx context.Context, id string) error
}

// CommentStore is the document store contract the comment service writes through.
type CommentStore interface {
	GetRequest(ctx context.Context, id string) (*models.TransferRequest, error)
	InsertComment(ctx context.Context, c *models.Comment) error
	GetComment(ctx context.Context, id string) (*models.Comment, error)
	ListComments(ctx context.Context, requestID string) ([]models.Comment, error)
	DeleteComment(ctx context.Context, id string) error
}
