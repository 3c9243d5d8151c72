package timespec

import (
	"fmt"
	"time"

	"github.com/dyluth/geowatch/pkg/tracking"
)

// datetimeLocal is the minute-precision form typed into date pickers.
const datetimeLocal = "2006-01-02T15:04"

// Parse parses a time specification relative to now.
// Supports three formats:
//   - Go duration format: "1h", "30m", "1h30m" (subtracted from now, so "1h" means one hour ago)
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
//   - Minute-precision local form: "2025-10-29T13:00" (interpreted as UTC)
func Parse(spec string, now time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UTC(), nil
	}

	if t, err := time.ParseInLocation(datetimeLocal, spec, time.UTC); err == nil {
		return t, nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		return now.Add(-d).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use duration like '1h30m', RFC3339 like '2025-10-29T13:00:00Z', or '2025-10-29T13:00')", spec)
}

// ParseRange parses --from and --to into a fetch window.
// Both empty means no window (nil). A single bound or from >= to is rejected
// with tracking.ErrInvalidRange; bounds are never swapped.
func ParseRange(from, to string, now time.Time) (*tracking.TimeRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: both --from and --to are required", tracking.ErrInvalidRange)
	}

	fromT, err := Parse(from, now)
	if err != nil {
		return nil, fmt.Errorf("invalid --from: %w", err)
	}
	toT, err := Parse(to, now)
	if err != nil {
		return nil, fmt.Errorf("invalid --to: %w", err)
	}

	r := &tracking.TimeRange{From: fromT, To: toT}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
