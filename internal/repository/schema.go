package repository

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/livesync"
)

// BoardSchema lists the queryable fields of each collection.
var BoardSchema = livesync.Schema{
	domain.CollectionRequests: {
		Filterable: []string{"userId", "currency", "fromCountry", "toCountry"},
		Indexed:    []string{"createdAt"},
	},
	domain.CollectionComments: {
		Filterable: []string{"requestId", "userId"},
		Indexed:    []string{"createdAt"},
	},
}

var columns = map[string]string{
	"userId":      "user_id",
	"currency":    "currency",
	"fromCountry": "from_country",
	"toCountry":   "to_country",
	"requestId":   "request_id",
	"createdAt":   "created_at",
}

// RequestsNewestFirst is the board's main listing query.
func RequestsNewestFirst() livesync.Query {
	return livesync.Query{
		Collection: domain.CollectionRequests,
		OrderBy:    "createdAt",
		Direction:  livesync.Descending,
	}
}

// CommentsOldestFirst lists the comments of one request in posting order.
func CommentsOldestFirst(requestID string) livesync.Query {
	return livesync.Query{
		Collection: domain.CollectionComments,
		Filters:    []livesync.Filter{{Field: "requestId", Value: requestID}},
		OrderBy:    "createdAt",
		Direction:  livesync.Ascending,
	}
}

// ChangeEvent is the payload published for every document write.
// Keys carries the values of filterable fields so watchers can skip unrelated changes.
type ChangeEvent struct {
	Collection string            `json:"collection"`
	Op         string            `json:"op"`
	ID         string            `json:"id"`
	Keys       map[string]string `json:"keys,omitempty"`
}

func (e ChangeEvent) payload() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func requestKeys(userID, currency, fromCountry, toCountry string) map[string]string {
	return map[string]string{
		"userId":      userID,
		"currency":    currency,
		"fromCountry": fromCountry,
		"toCountry":   toCountry,
	}
}

func commentKeys(requestID, userID string) map[string]string {
	keys := map[string]string{"requestId": requestID}
	if userID != "" {
		keys["userId"] = userID
	}
	return keys
}

// ChangeHub fans change events out to watchers whose query they match.
type ChangeHub struct {
	mu   sync.Mutex
	subs map[uint64]*hubSubscription
	next uint64
}

type hubSubscription struct {
	q  livesync.Query
	ch chan struct{}
}

func NewChangeHub() *ChangeHub {
	return &ChangeHub{subs: make(map[uint64]*hubSubscription)}
}

// Subscribe returns a coalescing signal channel for q. The channel is closed
// when ctx ends or when CloseAll is called.
func (h *ChangeHub) Subscribe(ctx context.Context, q livesync.Query) <-chan struct{} {
	sub := &hubSubscription{q: q, ch: make(chan struct{}, 1)}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(id)
	}()
	return sub.ch
}

func (h *ChangeHub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Publish signals every subscription the event can affect.
func (h *ChangeHub) Publish(ev ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.q.Collection != ev.Collection || !sub.q.Matches(ev.Keys) {
			continue
		}
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

// CloseAll drops every subscription, signalling a transport loss to watchers.
func (h *ChangeHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Len returns the number of live subscriptions.
func (h *ChangeHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
