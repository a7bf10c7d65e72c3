// Package livesync keeps an ordered local mirror of a remote document query
// in step with the store's change notifications.
package livesync

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var ErrInvalidQuery = errors.New("invalid query")

// Entity is a document the mirror can key and order.
type Entity interface {
	EntityID() string
	EntityCreatedAt() time.Time
}

type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Filter is an equality constraint on a document field.
type Filter struct {
	Field string
	Value string
}

// Query describes a standing subscription: collection, equality filters and ordering.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Direction  Direction
}

// CollectionSchema lists the fields of one collection that may be filtered on and sorted by.
type CollectionSchema struct {
	Filterable []string
	Indexed    []string
}

// Schema maps collection names to their queryable fields.
type Schema map[string]CollectionSchema

// Validate rejects queries on unknown collections, unknown filter fields or
// sort fields the store does not index.
func (q Query) Validate(s Schema) error {
	cs, ok := s[q.Collection]
	if !ok {
		return fmt.Errorf("%w: unknown collection %q", ErrInvalidQuery, q.Collection)
	}
	for _, f := range q.Filters {
		if !contains(cs.Filterable, f.Field) {
			return fmt.Errorf("%w: field %q is not filterable on %s", ErrInvalidQuery, f.Field, q.Collection)
		}
	}
	if !contains(cs.Indexed, q.OrderBy) {
		return fmt.Errorf("%w: field %q is not indexed on %s", ErrInvalidQuery, q.OrderBy, q.Collection)
	}
	return nil
}

// Matches reports whether a change carrying keys can affect the query result.
// A filter field missing from keys is treated as a match.
func (q Query) Matches(keys map[string]string) bool {
	for _, f := range q.Filters {
		if v, ok := keys[f.Field]; ok && v != f.Value {
			return false
		}
	}
	return true
}

func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	if len(q.Filters) > 0 {
		parts := make([]string, 0, len(q.Filters))
		for _, f := range q.Filters {
			parts = append(parts, f.Field+"="+f.Value)
		}
		b.WriteString("[" + strings.Join(parts, ",") + "]")
	}
	fmt.Fprintf(&b, " by %s %s", q.OrderBy, q.Direction)
	return b.String()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// SortEntities orders items by creation time in dir, breaking ties by id.
func SortEntities[T Entity](items []T, dir Direction) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].EntityCreatedAt(), items[j].EntityCreatedAt()
		if !a.Equal(b) {
			if dir == Descending {
				return a.After(b)
			}
			return a.Before(b)
		}
		if dir == Descending {
			return items[i].EntityID() > items[j].EntityID()
		}
		return items[i].EntityID() < items[j].EntityID()
	})
}
