package filter

import "github.com/dyluth/geowatch/pkg/tracking"

// VisitCriteria narrows a visit list.
// All criteria are ANDed together; zero values match everything.
type VisitCriteria struct {
	ID           int64
	UserID       int64
	CheckpointID int64
	ActiveOnly   bool
}

// Matches returns true if the visit satisfies every criterion.
func (c VisitCriteria) Matches(v tracking.Visit) bool {
	if c.ID > 0 && v.ID != c.ID {
		return false
	}
	if c.UserID > 0 && v.UserID != c.UserID {
		return false
	}
	if c.CheckpointID > 0 && v.CheckpointID != c.CheckpointID {
		return false
	}
	if c.ActiveOnly && !v.Active() {
		return false
	}
	return true
}

// HasFilters returns true if any criterion is set.
func (c VisitCriteria) HasFilters() bool {
	return c.ID > 0 || c.UserID > 0 || c.CheckpointID > 0 || c.ActiveOnly
}

// Query returns the server-side part of the criteria.
// ActiveOnly has no REST equivalent and is applied locally by Apply.
func (c VisitCriteria) Query() tracking.VisitQuery {
	return tracking.VisitQuery{ID: c.ID, UserID: c.UserID, CheckpointID: c.CheckpointID}
}

// Apply returns the matching visits in their original order.
func (c VisitCriteria) Apply(visits []tracking.Visit) []tracking.Visit {
	out := make([]tracking.Visit, 0, len(visits))
	for _, v := range visits {
		if c.Matches(v) {
			out = append(out, v)
		}
	}
	return out
}
