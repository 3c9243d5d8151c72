package filter

import (
	"testing"
	"time"

	"github.com/dyluth/geowatch/pkg/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLocations() []tracking.LocationSample {
	return []tracking.LocationSample{
		{ID: 1, UserID: 1, Lat: 55.70, Lon: 37.60},
		{ID: 2, UserID: 2, Lat: 55.71, Lon: 37.61},
		{ID: 3, UserID: 3, Lat: 55.72, Lon: 37.62},
		{ID: 4, UserID: 1, Lat: 55.73, Lon: 37.63},
	}
}

func TestVisible(t *testing.T) {
	locs := sampleLocations()

	t.Run("keeps only selected users in order", func(t *testing.T) {
		got := Visible(locs, NewUserSet(1, 3))
		require.Len(t, got, 3)
		assert.Equal(t, []int64{1, 3, 4}, []int64{got[0].ID, got[1].ID, got[2].ID})
	})

	t.Run("empty set yields empty result", func(t *testing.T) {
		got := Visible(locs, UserSet{})
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("all users yields everything", func(t *testing.T) {
		got := Visible(locs, NewUserSet(1, 2, 3))
		assert.Equal(t, locs, got)
	})

	t.Run("is idempotent", func(t *testing.T) {
		users := NewUserSet(2, 3)
		once := Visible(locs, users)
		assert.Equal(t, once, Visible(once, users))
	})

	t.Run("result is a subset", func(t *testing.T) {
		users := NewUserSet(2, 9)
		for _, r := range Visible(locs, users) {
			assert.Contains(t, locs, r)
			assert.True(t, users.Has(r.UserID))
		}
	})

	t.Run("works for visits", func(t *testing.T) {
		visits := []tracking.Visit{{ID: 1, UserID: 1}, {ID: 2, UserID: 2}}
		got := Visible(visits, NewUserSet(2))
		require.Len(t, got, 1)
		assert.Equal(t, int64(2), got[0].ID)
	})
}

func TestVisitCriteria(t *testing.T) {
	end := time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)
	visits := []tracking.Visit{
		{ID: 1, UserID: 1, CheckpointID: 10, EndAt: &end},
		{ID: 2, UserID: 1, CheckpointID: 11},
		{ID: 3, UserID: 2, CheckpointID: 10},
	}

	tests := []struct {
		name     string
		criteria VisitCriteria
		want     []int64
	}{
		{"no filters", VisitCriteria{}, []int64{1, 2, 3}},
		{"by user", VisitCriteria{UserID: 1}, []int64{1, 2}},
		{"by checkpoint", VisitCriteria{CheckpointID: 10}, []int64{1, 3}},
		{"active only", VisitCriteria{ActiveOnly: true}, []int64{2, 3}},
		{"combined", VisitCriteria{UserID: 1, ActiveOnly: true}, []int64{2}},
		{"by id", VisitCriteria{ID: 3}, []int64{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.criteria.Apply(visits)
			ids := make([]int64, 0, len(got))
			for _, v := range got {
				ids = append(ids, v.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	assert.False(t, VisitCriteria{}.HasFilters())
	assert.True(t, VisitCriteria{ActiveOnly: true}.HasFilters())
	assert.Equal(t, tracking.VisitQuery{UserID: 4}, VisitCriteria{UserID: 4, ActiveOnly: true}.Query())
}

func TestStateUsers(t *testing.T) {
	roster := []tracking.Identity{{ID: 1}, {ID: 2}, {ID: 3}}

	t.Run("first roster selects everyone", func(t *testing.T) {
		s := NewState()
		assert.False(t, s.Initialized())
		assert.True(t, s.InitUsersOnce(roster))
		assert.Equal(t, []int64{1, 2, 3}, s.Users().IDs())
	})

	t.Run("later rosters keep the selection", func(t *testing.T) {
		s := NewState()
		s.InitUsersOnce(roster)
		s.Toggle(2)
		assert.False(t, s.InitUsersOnce(append(roster, tracking.Identity{ID: 4})))
		assert.Equal(t, []int64{1, 3}, s.Users().IDs())

		s.SelectAll()
		assert.Equal(t, []int64{1, 2, 3, 4}, s.Users().IDs())
	})

	t.Run("select none and toggle back", func(t *testing.T) {
		s := NewState()
		s.InitUsersOnce(roster)
		s.SelectNone()
		assert.Empty(t, s.Users())
		s.Toggle(3)
		assert.Equal(t, []int64{3}, s.Users().IDs())
	})

	t.Run("returned set is a copy", func(t *testing.T) {
		s := NewState()
		s.SetUsers(1)
		u := s.Users()
		u[99] = struct{}{}
		assert.False(t, s.Users().Has(99))
	})
}

func TestStateRange(t *testing.T) {
	nine := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	ten := nine.Add(time.Hour)

	s := NewState()
	require.NoError(t, s.SetRange(tracking.TimeRange{From: nine, To: ten}))
	require.NotNil(t, s.Range())

	t.Run("invalid range leaves state unchanged", func(t *testing.T) {
		err := s.SetRange(tracking.TimeRange{From: ten, To: nine})
		assert.ErrorIs(t, err, tracking.ErrInvalidRange)
		assert.True(t, s.Range().From.Equal(nine))
	})

	t.Run("params carry a copy", func(t *testing.T) {
		p := s.Params()
		p.Range.From = ten
		assert.True(t, s.Range().From.Equal(nine))
	})

	s.ClearRange()
	assert.Nil(t, s.Range())
	assert.Nil(t, s.Params().Range)
}
