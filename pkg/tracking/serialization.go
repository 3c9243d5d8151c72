package tracking

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// visitWire mirrors the service payload, which sends duration 0 for open visits.
type visitWire struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	CheckpointID int64      `json:"checkpoint_id"`
	StartAt      time.Time  `json:"start_at"`
	EndAt        *time.Time `json:"end_at"`
	Duration     *int64     `json:"duration"`
}

// UnmarshalJSON normalises open visits so DurationSeconds is nil exactly when EndAt is.
func (v *Visit) UnmarshalJSON(data []byte) error {
	var w visitWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*v = Visit{
		ID:           w.ID,
		UserID:       w.UserID,
		CheckpointID: w.CheckpointID,
		StartAt:      w.StartAt,
		EndAt:        w.EndAt,
	}
	if w.EndAt != nil {
		d := int64(0)
		if w.Duration != nil {
			d = *w.Duration
		} else {
			d = int64(w.EndAt.Sub(w.StartAt).Seconds())
		}
		v.DurationSeconds = &d
	}
	return nil
}

// CheckpointInput is the body of checkpoint create/update requests.
type CheckpointInput struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
}

// UserInput is the body of user create requests.
type UserInput struct {
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

// ParseCheckpointInput converts raw form fields into a request body.
// Malformed numbers yield ErrNonNumericField so no request is issued.
func ParseCheckpointInput(name, lat, lon, radius string) (CheckpointInput, error) {
	in := CheckpointInput{Name: strings.TrimSpace(name)}

	fields := []struct {
		label string
		raw   string
		dst   *float64
	}{
		{"latitude", lat, &in.Latitude},
		{"longitude", lon, &in.Longitude},
		{"radius", radius, &in.Radius},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
		if err != nil {
			return CheckpointInput{}, fmt.Errorf("%w: %s %q", ErrNonNumericField, f.label, f.raw)
		}
		*f.dst = v
	}

	cp := Checkpoint{Name: in.Name, Lat: in.Latitude, Lon: in.Longitude, RadiusMeters: in.Radius}
	if err := cp.Validate(); err != nil {
		return CheckpointInput{}, err
	}
	return in, nil
}

// ParseID parses a numeric identifier field.
func ParseID(field, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s %q", ErrNonNumericField, field, raw)
	}
	return id, nil
}
