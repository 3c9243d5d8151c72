// Package reconcile turns the latest applied poll result, the current filter
// and the viewport into one immutable Snapshot for the presentation layer.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/dyluth/geowatch/internal/filter"
	"github.com/dyluth/geowatch/internal/poller"
	"github.com/dyluth/geowatch/pkg/tracking"
	"go.uber.org/zap"
)

// Snapshot is what the presentation layer renders. Slices are private
// copies; callers may keep or modify them.
type Snapshot struct {
	Seq            uint64                    `json:"seq"`
	CycleID        string                    `json:"cycle_id,omitempty"`
	Checkpoints    []tracking.Checkpoint     `json:"checkpoints"`
	Locations      []tracking.LocationSample `json:"locations"`
	TotalLocations int                       `json:"total_locations"`
	Visits         []tracking.Visit          `json:"visits"`
	ActiveVisits   int                       `json:"active_visits"`
	Users          []tracking.Identity       `json:"users"`
	SelectedUsers  []int64                   `json:"selected_users"`
	Range          *tracking.TimeRange       `json:"range,omitempty"`
	Loading        bool                      `json:"loading"`
	Err            error                     `json:"-"`
	Viewport       tracking.Viewport         `json:"viewport"`
	Fit            *Fit                      `json:"fit,omitempty"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// Empty reports whether a settled snapshot has nothing to show.
func (s Snapshot) Empty() bool {
	return !s.Loading && len(s.Checkpoints) == 0 && len(s.Locations) == 0
}

// ViewportStore is the persistence the reconciler needs.
// *viewport.Store satisfies it.
type ViewportStore interface {
	Load(ctx context.Context) tracking.Viewport
	Save(ctx context.Context, v tracking.Viewport) error
	Reset(ctx context.Context) error
	NeedsFit(ctx context.Context) bool
	Default() tracking.Viewport
}

// Reconciler holds the last applied data. It is safe for concurrent use.
type Reconciler struct {
	filters *filter.State
	vp      ViewportStore
	fitOpts FitOptions
	log     *zap.Logger

	mu       sync.Mutex
	last     *poller.Result
	lastErr  error
	viewport tracking.Viewport
	snap     Snapshot
}

// New creates a reconciler. The viewport is read once here.
func New(ctx context.Context, filters *filter.State, vp ViewportStore, fitOpts FitOptions, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reconciler{
		filters:  filters,
		vp:       vp,
		fitOpts:  fitOpts,
		log:      log,
		viewport: vp.Load(ctx),
	}
	r.snap = Snapshot{
		Loading:     true,
		Checkpoints: []tracking.Checkpoint{},
		Locations:   []tracking.LocationSample{},
		Visits:      []tracking.Visit{},
		Users:       []tracking.Identity{},
		Viewport:    r.viewport,
	}
	return r
}

// Current returns the latest snapshot.
func (r *Reconciler) Current() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copySnapshot(r.snap)
}

// Apply folds one poll result into a new snapshot. A failed cycle keeps the
// previous data and only sets Err. The first non-empty successful cycle
// while auto-fit is armed carries a Fit request.
func (r *Reconciler) Apply(ctx context.Context, res poller.Result) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.Err != nil {
		r.lastErr = res.Err
		r.snap = r.buildLocked(nil)
		return copySnapshot(r.snap)
	}

	if r.filters.InitUsersOnce(res.Users) {
		r.log.Debug("user filter initialised from roster", zap.Int("users", len(res.Users)))
	}
	stored := res
	r.last = &stored
	r.lastErr = nil

	var fit *Fit
	visible := filter.Visible(res.Locations, r.filters.Users())
	if r.vp.NeedsFit(ctx) {
		if b, ok := ComputeBounds(res.Checkpoints, visible); ok {
			v := FitViewport(b, r.fitOpts)
			fit = &Fit{Bounds: b, Viewport: v}
			r.viewport = v
			if err := r.vp.Save(ctx, v); err != nil {
				r.log.Warn("failed to persist fitted viewport", zap.Error(err))
			}
			r.log.Info("viewport auto-fitted",
				zap.String("event_type", "viewport_fit"),
				zap.Float64("lat", v.Lat),
				zap.Float64("lng", v.Lng),
				zap.Int("zoom", v.Zoom))
		}
	}

	r.snap = r.buildLocked(fit)
	return copySnapshot(r.snap)
}

// Refilter rebuilds the snapshot from the last applied data with the
// current user selection. No fetch is needed for user filter changes.
func (r *Reconciler) Refilter() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = r.buildLocked(nil)
	return copySnapshot(r.snap)
}

// SetViewport records a user-driven map move.
func (r *Reconciler) SetViewport(ctx context.Context, v tracking.Viewport) error {
	if err := r.vp.Save(ctx, v); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewport = v
	r.snap.Viewport = v
	return nil
}

// ResetViewport clears the persisted viewport; the next non-empty cycle
// auto-fits again.
func (r *Reconciler) ResetViewport(ctx context.Context) error {
	if err := r.vp.Reset(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewport = r.vp.Default()
	r.snap.Viewport = r.viewport
	r.snap.Fit = nil
	return nil
}

func (r *Reconciler) buildLocked(fit *Fit) Snapshot {
	users := r.filters.Users()
	snap := Snapshot{
		Checkpoints:   []tracking.Checkpoint{},
		Locations:     []tracking.LocationSample{},
		Visits:        []tracking.Visit{},
		Users:         []tracking.Identity{},
		SelectedUsers: users.IDs(),
		Err:           r.lastErr,
		Viewport:      r.viewport,
		Fit:           fit,
		UpdatedAt:     time.Now(),
	}

	if r.last == nil {
		// Nothing applied yet; loading until the first cycle settles.
		snap.Loading = r.lastErr == nil
		return snap
	}

	last := r.last
	snap.Seq = last.Seq
	snap.CycleID = last.CycleID
	snap.Range = last.Range
	snap.Checkpoints = append(snap.Checkpoints, last.Checkpoints...)
	snap.Users = append(snap.Users, last.Users...)
	snap.TotalLocations = len(last.Locations)
	snap.Locations = filter.Visible(last.Locations, users)
	snap.Visits = filter.Visible(last.Visits, users)
	for _, v := range snap.Visits {
		if v.Active() {
			snap.ActiveVisits++
		}
	}
	return snap
}

func copySnapshot(s Snapshot) Snapshot {
	out := s
	out.Checkpoints = append([]tracking.Checkpoint{}, s.Checkpoints...)
	out.Locations = append([]tracking.LocationSample{}, s.Locations...)
	out.Visits = append([]tracking.Visit{}, s.Visits...)
	out.Users = append([]tracking.Identity{}, s.Users...)
	out.SelectedUsers = append([]int64{}, s.SelectedUsers...)
	if s.Range != nil {
		rng := *s.Range
		out.Range = &rng
	}
	if s.Fit != nil {
		fit := *s.Fit
		out.Fit = &fit
	}
	return out
}
