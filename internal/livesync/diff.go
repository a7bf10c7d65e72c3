package livesync

import (
	"reflect"
	"sort"
)

// Diff is the change between two consecutive mirror states, keyed by id.
type Diff[T Entity] struct {
	Added    []T      `json:"added"`
	Modified []T      `json:"modified"`
	Removed  []string `json:"removed"`
}

func (d Diff[T]) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// dedupe keeps the last occurrence of every id.
func dedupe[T Entity](items []T) map[string]T {
	out := make(map[string]T, len(items))
	for _, item := range items {
		out[item.EntityID()] = item
	}
	return out
}

func computeDiff[T Entity](prev, next map[string]T, dir Direction) Diff[T] {
	var d Diff[T]
	for id, item := range next {
		old, ok := prev[id]
		switch {
		case !ok:
			d.Added = append(d.Added, item)
		case !reflect.DeepEqual(old, item):
			d.Modified = append(d.Modified, item)
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Strings(d.Removed)
	SortEntities(d.Added, dir)
	SortEntities(d.Modified, dir)
	return d
}
