// Package filter composes the user-identity filter over fetched records and
// holds the current filter state read by the poller at apply time.
package filter

import (
	"sort"

	"github.com/dyluth/geowatch/pkg/tracking"
)

// UserSet is a set of user IDs. The zero value is an empty set.
type UserSet map[int64]struct{}

// NewUserSet builds a set from ids.
func NewUserSet(ids ...int64) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s UserSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in ascending order.
func (s UserSet) IDs() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy.
func (s UserSet) Clone() UserSet {
	c := make(UserSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Visible returns the records whose owner is in users, preserving order.
// An empty set yields an empty (non-nil) result. The input is never modified.
func Visible[T tracking.UserRecord](records []T, users UserSet) []T {
	out := make([]T, 0, len(records))
	if len(users) == 0 {
		return out
	}
	for _, r := range records {
		if users.Has(r.OwnerID()) {
			out = append(out, r)
		}
	}
	return out
}
