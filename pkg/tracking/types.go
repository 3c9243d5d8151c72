// Package tracking provides the domain types, error taxonomy and REST client
// for the checkpoint tracking service that geowatch observes.
//
// Checkpoints are circular geofences. Location samples are the latest known
// positions of mobile users, and visits are the intervals a user spent inside
// a checkpoint. Containment itself is computed upstream; this package only
// models and fetches the results.
package tracking

import (
	"fmt"
	"math"
	"time"
)

// Identity is a user record as returned by the authentication endpoint.
// Identities are replaced wholesale on refresh, never patched.
type Identity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Checkpoint is a named circular geofence.
type Checkpoint struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Lat          float64   `json:"latitude"`
	Lon          float64   `json:"longitude"`
	RadiusMeters float64   `json:"radius"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// LocationSample is the most recent known position of a user.
type LocationSample struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Lat       float64   `json:"latitude"`
	Lon       float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Visit is an interval during which a user was inside a checkpoint.
// A visit with a nil EndAt is still open; DurationSeconds is nil exactly when EndAt is.
type Visit struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	CheckpointID    int64      `json:"checkpoint_id"`
	StartAt         time.Time  `json:"start_at"`
	EndAt           *time.Time `json:"end_at,omitempty"`
	DurationSeconds *int64     `json:"duration,omitempty"`
}

// TimeRange is a half-open fetch window. Only valid when From is before To.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Viewport is a map center and zoom level.
type Viewport struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Zoom int     `json:"zoom"`
}

// UserRecord lets the filter engine treat locations and visits uniformly.
type UserRecord interface {
	OwnerID() int64
}

// OwnerID implements UserRecord.
func (l LocationSample) OwnerID() int64 { return l.UserID }

// OwnerID implements UserRecord.
func (v Visit) OwnerID() int64 { return v.UserID }

// Active reports whether the visit is still open.
func (v Visit) Active() bool { return v.EndAt == nil }

// Validate checks the checkpoint invariants.
func (c *Checkpoint) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("checkpoint name cannot be empty")
	}
	if err := validateCoordinates(c.Lat, c.Lon); err != nil {
		return fmt.Errorf("checkpoint %d: %w", c.ID, err)
	}
	if !(c.RadiusMeters > 0) {
		return fmt.Errorf("checkpoint %d: radius must be > 0, got %v", c.ID, c.RadiusMeters)
	}
	return nil
}

// Validate checks the location sample coordinates.
func (l *LocationSample) Validate() error {
	if err := validateCoordinates(l.Lat, l.Lon); err != nil {
		return fmt.Errorf("location %d: %w", l.ID, err)
	}
	return nil
}

// Validate checks the open/closed visit invariants.
func (v *Visit) Validate() error {
	if (v.EndAt == nil) != (v.DurationSeconds == nil) {
		return fmt.Errorf("visit %d: end_at and duration must both be set or both be empty", v.ID)
	}
	if v.EndAt != nil && v.EndAt.Before(v.StartAt) {
		return fmt.Errorf("visit %d: end_at %s is before start_at %s",
			v.ID, v.EndAt.Format(time.RFC3339), v.StartAt.Format(time.RFC3339))
	}
	return nil
}

// Validate rejects ranges where From is not strictly before To.
// Bounds are never swapped.
func (r TimeRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("%w: both bounds are required", ErrInvalidRange)
	}
	if !r.From.Before(r.To) {
		return fmt.Errorf("%w: from %s is not before to %s",
			ErrInvalidRange, r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	}
	return nil
}

// Equal compares two optional ranges.
func (r *TimeRange) Equal(other *TimeRange) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	return r.From.Equal(other.From) && r.To.Equal(other.To)
}

// Validate checks coordinate bounds and zoom.
func (v Viewport) Validate() error {
	if err := validateCoordinates(v.Lat, v.Lng); err != nil {
		return err
	}
	if v.Zoom < 0 || v.Zoom > 22 {
		return fmt.Errorf("zoom must be between 0 and 22, got %d", v.Zoom)
	}
	return nil
}

func validateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude out of range: %v", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude out of range: %v", lon)
	}
	return nil
}
