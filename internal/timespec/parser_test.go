package timespec

import (
	"testing"
	"time"

	"github.com/dyluth/geowatch/pkg/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 10, 29, 12, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want time.Time
	}{
		{"rfc3339", "2025-10-29T13:00:00Z", time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)},
		{"rfc3339 with offset", "2025-10-29T13:00:00+03:00", time.Date(2025, 10, 29, 10, 0, 0, 0, time.UTC)},
		{"datetime-local", "2025-10-29T09:30", time.Date(2025, 10, 29, 9, 30, 0, 0, time.UTC)},
		{"duration", "1h30m", now.Add(-90 * time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec, now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}

	t.Run("empty", func(t *testing.T) {
		_, err := Parse("", now)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Parse("yesterday-ish", now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid time specification")
	})
}

func TestParseRange(t *testing.T) {
	t.Run("no bounds means no window", func(t *testing.T) {
		r, err := ParseRange("", "", now)
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("valid window", func(t *testing.T) {
		r, err := ParseRange("2025-10-29T09:00", "2025-10-29T10:00", now)
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, 9, r.From.Hour())
		assert.Equal(t, 10, r.To.Hour())
	})

	t.Run("inverted window is rejected not swapped", func(t *testing.T) {
		r, err := ParseRange("2025-10-29T10:00", "2025-10-29T09:00", now)
		assert.Nil(t, r)
		assert.ErrorIs(t, err, tracking.ErrInvalidRange)
	})

	t.Run("equal bounds are rejected", func(t *testing.T) {
		_, err := ParseRange("2h", "2h", now)
		assert.ErrorIs(t, err, tracking.ErrInvalidRange)
	})

	t.Run("single bound is rejected", func(t *testing.T) {
		_, err := ParseRange("1h", "", now)
		assert.ErrorIs(t, err, tracking.ErrInvalidRange)
	})

	t.Run("unparseable bound", func(t *testing.T) {
		_, err := ParseRange("nope", "1h", now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid --from")
	})
}
