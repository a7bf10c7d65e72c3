// Package memory is an in-process document store with the same contracts as
// the Postgres store. It backs STORE_DRIVER=memory and the test suites.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/livesync"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/ayo6706/remit-board/internal/repository"
	"github.com/google/uuid"
)

type Store struct {
	mu         sync.RWMutex
	requests   map[string]models.TransferRequest
	comments   map[string]models.Comment
	identities map[string]models.Identity
	last       time.Time
	now        func() time.Time

	hub *repository.ChangeHub
}

func New() *Store {
	return &Store{
		requests:   make(map[string]models.TransferRequest),
		comments:   make(map[string]models.Comment),
		identities: make(map[string]models.Identity),
		now:        time.Now,
		hub:        repository.NewChangeHub(),
	}
}

// stamp returns a server timestamp strictly after every previous one.
func (s *Store) stamp() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *Store) InsertRequest(ctx context.Context, req *models.TransferRequest) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapStore("insert transfer request", err)
	}
	s.mu.Lock()
	req.ID = uuid.NewString()
	req.CreatedAt = s.stamp()
	req.UpdatedAt = req.CreatedAt
	s.requests[req.ID] = *req
	s.mu.Unlock()

	s.hub.Publish(requestEvent(domain.OpInsert, *req))
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*models.TransferRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapStore("get transfer request", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &req, nil
}

func (s *Store) ListRequests(ctx context.Context) ([]models.TransferRequest, error) {
	return s.snapshotRequests(ctx, repository.RequestsNewestFirst())
}

func (s *Store) UpdateRequest(ctx context.Context, id string, f models.RequestFields) (*models.TransferRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapStore("update transfer request", err)
	}
	s.mu.Lock()
	req, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	req.RequestFields = f
	req.UpdatedAt = s.stamp()
	s.requests[id] = req
	s.mu.Unlock()

	s.hub.Publish(requestEvent(domain.OpUpdate, req))
	return &req, nil
}

// DeleteRequest removes a request together with its comments.
func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapStore("delete transfer request", err)
	}
	s.mu.Lock()
	req, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	delete(s.requests, id)
	for cid, c := range s.comments {
		if c.RequestID == id {
			delete(s.comments, cid)
		}
	}
	s.mu.Unlock()

	s.hub.Publish(requestEvent(domain.OpDelete, req))
	s.hub.Publish(repository.ChangeEvent{
		Collection: domain.CollectionComments,
		Op:         domain.OpDelete,
		Keys:       map[string]string{"requestId": id},
	})
	return nil
}

func (s *Store) InsertComment(ctx context.Context, c *models.Comment) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapStore("insert comment", err)
	}
	s.mu.Lock()
	if _, ok := s.requests[c.RequestID]; !ok {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	c.ID = uuid.NewString()
	c.CreatedAt = s.stamp()
	s.comments[c.ID] = *c
	s.mu.Unlock()

	s.hub.Publish(commentEvent(domain.OpInsert, *c))
	return nil
}

func (s *Store) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapStore("get comment", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListComments(ctx context.Context, requestID string) ([]models.Comment, error) {
	return s.snapshotComments(ctx, repository.CommentsOldestFirst(requestID))
}

func (s *Store) DeleteComment(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapStore("delete comment", err)
	}
	s.mu.Lock()
	c, ok := s.comments[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	delete(s.comments, id)
	s.mu.Unlock()

	s.hub.Publish(commentEvent(domain.OpDelete, c))
	return nil
}

func (s *Store) ResolveIdentity(ctx context.Context, ident *models.Identity) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapStore("resolve identity", err)
	}
	key := ident.Provider + "|" + ident.Subject

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.identities[key]
	if !ok {
		existing = models.Identity{
			ID:        uuid.NewString(),
			Provider:  ident.Provider,
			Subject:   ident.Subject,
			CreatedAt: s.stamp(),
		}
	}
	if ident.PhoneNumber != "" {
		existing.PhoneNumber = ident.PhoneNumber
	}
	if ident.DisplayName != "" {
		existing.DisplayName = ident.DisplayName
	}
	if ident.PhotoURL != "" {
		existing.PhotoURL = ident.PhotoURL
	}
	s.identities[key] = existing
	*ident = existing
	return nil
}

// DropWatches closes every open watch as if the change transport had failed.
func (s *Store) DropWatches() {
	s.hub.CloseAll()
}

// Watchers returns the number of open watches.
func (s *Store) Watchers() int {
	return s.hub.Len()
}

func (s *Store) snapshotRequests(ctx context.Context, q livesync.Query) ([]models.TransferRequest, error) {
	if err := q.Validate(repository.BoardSchema); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapStore("list transfer requests", err)
	}
	s.mu.RLock()
	out := make([]models.TransferRequest, 0, len(s.requests))
	for _, req := range s.requests {
		if matches(q, requestField(req)) {
			out = append(out, req)
		}
	}
	s.mu.RUnlock()
	livesync.SortEntities(out, q.Direction)
	return out, nil
}

func (s *Store) snapshotComments(ctx context.Context, q livesync.Query) ([]models.Comment, error) {
	if err := q.Validate(repository.BoardSchema); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapStore("list comments", err)
	}
	s.mu.RLock()
	out := make([]models.Comment, 0)
	for _, c := range s.comments {
		if matches(q, commentField(c)) {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()
	livesync.SortEntities(out, q.Direction)
	return out, nil
}

func matches(q livesync.Query, field func(string) string) bool {
	for _, f := range q.Filters {
		if field(f.Field) != f.Value {
			return false
		}
	}
	return true
}

func requestField(r models.TransferRequest) func(string) string {
	return func(name string) string {
		switch name {
		case "userId":
			return r.UserID
		case "currency":
			return r.Currency
		case "fromCountry":
			return r.FromCountry
		case "toCountry":
			return r.ToCountry
		default:
			return ""
		}
	}
}

func commentField(c models.Comment) func(string) string {
	return func(name string) string {
		switch name {
		case "requestId":
			return c.RequestID
		case "userId":
			return c.UserID
		default:
			return ""
		}
	}
}

func requestEvent(op string, r models.TransferRequest) repository.ChangeEvent {
	return repository.ChangeEvent{
		Collection: domain.CollectionRequests,
		Op:         op,
		ID:         r.ID,
		Keys: map[string]string{
			"userId":      r.UserID,
			"currency":    r.Currency,
			"fromCountry": r.FromCountry,
			"toCountry":   r.ToCountry,
		},
	}
}

func commentEvent(op string, c models.Comment) repository.ChangeEvent {
	return repository.ChangeEvent{
		Collection: domain.CollectionComments,
		Op:         op,
		ID:         c.ID,
		Keys:       map[string]string{"requestId": c.RequestID, "userId": c.UserID},
	}
}

// RequestFeed serves transfer request queries to a livesync.Mirror.
type RequestFeed struct{ store *Store }

func (s *Store) RequestFeed() *RequestFeed { return &RequestFeed{store: s} }

func (f *RequestFeed) Snapshot(ctx context.Context, q livesync.Query) ([]models.TransferRequest, error) {
	if q.Collection != domain.CollectionRequests {
		return nil, fmt.Errorf("%w: request feed cannot serve %s", livesync.ErrInvalidQuery, q.Collection)
	}
	return f.store.snapshotRequests(ctx, q)
}

func (f *RequestFeed) Watch(ctx context.Context, q livesync.Query) (<-chan struct{}, error) {
	if err := q.Validate(repository.BoardSchema); err != nil {
		return nil, err
	}
	return f.store.hub.Subscribe(ctx, q), nil
}

// CommentFeed serves comment queries to a livesync.Mirror.
type CommentFeed struct{ store *Store }

func (s *Store) CommentFeed() *CommentFeed { return &CommentFeed{store: s} }

func (f *CommentFeed) Snapshot(ctx context.Context, q livesync.Query) ([]models.Comment, error) {
	if q.Collection != domain.CollectionComments {
		return nil, fmt.Errorf("%w: comment feed cannot serve %s", livesync.ErrInvalidQuery, q.Collection)
	}
	return f.store.snapshotComments(ctx, q)
}

func (f *CommentFeed) Watch(ctx context.Context, q livesync.Query) (<-chan struct{}, error) {
	if err := q.Validate(repository.BoardSchema); err != nil {
		return nil, err
	}
	return f.store.hub.Subscribe(ctx, q), nil
}
