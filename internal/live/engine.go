// Package live composes the session, filter, viewport, poller and
// reconciler into one running engine and fans its state out over an
// event bus.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
	"github.com/dyluth/geowatch/internal/config"
	"github.com/dyluth/geowatch/internal/filter"
	"github.com/dyluth/geowatch/internal/kvstore"
	"github.com/dyluth/geowatch/internal/metrics"
	"github.com/dyluth/geowatch/internal/poller"
	"github.com/dyluth/geowatch/internal/reconcile"
	"github.com/dyluth/geowatch/internal/session"
	"github.com/dyluth/geowatch/internal/viewport"
	"github.com/dyluth/geowatch/pkg/tracking"
	"go.uber.org/zap"
)

// Event bus topics.
const (
	TopicSnapshot = "geowatch:snapshot"
	TopicSession  = "geowatch:session"
)

// Options wires an Engine.
type Options struct {
	Config  *config.GeowatchConfig
	Client  *tracking.Client
	Store   kvstore.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Engine is the live tracking engine for one profile.
type Engine struct {
	cfg     *config.GeowatchConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	bus     evbus.Bus

	sess     *session.Store
	filters  *filter.State
	viewport *viewport.Store
	rec      *reconcile.Reconciler
	ctrl     *poller.Controller

	refreshEvery  uint64
	applied       atomic.Uint64
	refreshing    atomic.Bool
	authenticated atomic.Bool

	runMu  sync.Mutex
	runCtx context.Context
	wg     sync.WaitGroup
}

// New builds an engine from a validated configuration.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Client == nil || opts.Store == nil {
		return nil, fmt.Errorf("client and store are required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.Config

	e := &Engine{
		cfg:          cfg,
		log:          log,
		metrics:      opts.Metrics,
		bus:          evbus.New(),
		filters:      filter.NewState(),
		refreshEvery: uint64(cfg.Poll.IdentityRefreshEvery),
		runCtx:       ctx,
	}
	if e.refreshEvery == 0 {
		e.refreshEvery = config.DefaultIdentityRefreshEvery
	}

	e.sess = session.New(opts.Client, opts.Store, cfg.Profile,
		session.WithLogger(log.Named("session")),
		session.WithMetrics(opts.Metrics))

	e.viewport = viewport.New(opts.Store, cfg.Profile, cfg.FallbackViewport(), log.Named("viewport"))

	e.rec = reconcile.New(ctx, e.filters, e.viewport, reconcile.FitOptions{
		PaddingPx: cfg.Viewport.FitPaddingPx,
		MaxZoom:   cfg.Viewport.FitMaxZoom,
		Width:     cfg.Viewport.CanvasWidth,
		Height:    cfg.Viewport.CanvasHeight,
	}, log.Named("reconcile"))

	includeVisits := cfg.Poll.IncludeVisits == nil || *cfg.Poll.IncludeVisits
	e.ctrl = poller.New(poller.Config{
		Interval:      cfg.Poll.Interval,
		MaxInFlight:   cfg.Poll.MaxInFlight,
		IncludeVisits: includeVisits,
		RosterTimeout: cfg.API.Timeout,
	}, opts.Client, e.sess, e.filters, e.onResult,
		poller.WithLogger(log.Named("poller")),
		poller.WithMetrics(opts.Metrics))

	e.sess.Subscribe(e.onSession)
	return e, nil
}

// Restore performs the silent login from a persisted key.
func (e *Engine) Restore(ctx context.Context) error {
	return e.sess.Restore(ctx)
}

// Login authenticates with apiKey.
func (e *Engine) Login(ctx context.Context, apiKey string) error {
	return e.sess.Login(ctx, apiKey)
}

// Logout ends the session.
func (e *Engine) Logout(ctx context.Context) {
	e.sess.Logout(ctx)
}

// Session returns the current session.
func (e *Engine) Session() session.Session {
	return e.sess.Current()
}

// Snapshot returns the latest snapshot.
func (e *Engine) Snapshot() reconcile.Snapshot {
	return e.rec.Current()
}

// LastApplied returns the newest applied cycle sequence number.
func (e *Engine) LastApplied() uint64 {
	return e.ctrl.LastApplied()
}

// Filters exposes the current filter state.
func (e *Engine) Filters() *filter.State {
	return e.filters
}

// Viewport exposes the viewport store.
func (e *Engine) Viewport() *viewport.Store {
	return e.viewport
}

// OnSnapshot registers fn for every new snapshot. Handlers run
// synchronously and must not call the engine's mutating methods.
func (e *Engine) OnSnapshot(fn func(reconcile.Snapshot)) error {
	return e.bus.Subscribe(TopicSnapshot, fn)
}

// OnSession registers fn for every session transition. The same
// restriction as OnSnapshot applies.
func (e *Engine) OnSession(fn func(session.Session)) error {
	return e.bus.Subscribe(TopicSession, fn)
}

// Refresh triggers an immediate poll cycle.
func (e *Engine) Refresh() {
	e.ctrl.Refresh()
}

// SetRange installs a fetch window and refreshes. An invalid window is
// rejected with tracking.ErrInvalidRange before any request.
func (e *Engine) SetRange(r tracking.TimeRange) error {
	if err := e.filters.SetRange(r); err != nil {
		return err
	}
	e.ctrl.Refresh()
	return nil
}

// ClearRange removes the fetch window and refreshes.
func (e *Engine) ClearRange() {
	e.filters.ClearRange()
	e.ctrl.Refresh()
}

// SetUsers replaces the user selection and republishes the snapshot.
func (e *Engine) SetUsers(ids ...int64) {
	e.filters.SetUsers(ids...)
	e.publishSnapshot(e.rec.Refilter())
}

// ToggleUser flips one user and republishes the snapshot.
func (e *Engine) ToggleUser(id int64) {
	e.filters.Toggle(id)
	e.publishSnapshot(e.rec.Refilter())
}

// SelectAllUsers selects every known user.
func (e *Engine) SelectAllUsers() {
	e.filters.SelectAll()
	e.publishSnapshot(e.rec.Refilter())
}

// SelectNoUsers clears the selection.
func (e *Engine) SelectNoUsers() {
	e.filters.SelectNone()
	e.publishSnapshot(e.rec.Refilter())
}

// SetViewport records a user-driven map move.
func (e *Engine) SetViewport(ctx context.Context, v tracking.Viewport) error {
	return e.rec.SetViewport(ctx, v)
}

// ResetViewport clears the persisted viewport and re-arms auto-fit.
func (e *Engine) ResetViewport(ctx context.Context) error {
	return e.rec.ResetViewport(ctx)
}

// Run polls until ctx is cancelled. It returns once the poller and any
// identity refresh have stopped.
func (e *Engine) Run(ctx context.Context) error {
	e.runMu.Lock()
	e.runCtx = ctx
	e.runMu.Unlock()

	e.authenticated.Store(e.sess.Current().IsAuthenticated())
	err := e.ctrl.Run(ctx)
	e.wg.Wait()
	return err
}

func (e *Engine) context() context.Context {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.runCtx
}

// onResult runs on the poller loop goroutine.
func (e *Engine) onResult(res poller.Result) {
	snap := e.rec.Apply(e.context(), res)
	e.publishSnapshot(snap)

	if res.Err != nil {
		if errors.Is(res.Err, tracking.ErrInvalidKey) {
			// The key stopped working between identity checks.
			e.refreshIdentity()
		}
		return
	}
	if n := e.applied.Add(1); n%e.refreshEvery == 0 {
		e.refreshIdentity()
	}
}

// refreshIdentity re-checks privilege in the background; at most one check
// runs at a time.
func (e *Engine) refreshIdentity() {
	if !e.refreshing.CompareAndSwap(false, true) {
		return
	}
	ctx := e.context()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.refreshing.Store(false)
		err := e.sess.RefreshIdentity(ctx)
		switch {
		case err == nil, errors.Is(err, session.ErrSuperseded), errors.Is(err, tracking.ErrNotAuthenticated):
		case tracking.IsAuthError(err):
			e.log.Warn("session revoked", zap.String("event_type", "session_revoked"), zap.Error(err))
		default:
			e.log.Warn("identity refresh failed", zap.String("event_type", "identity_refresh_failed"), zap.Error(err))
		}
	}()
}

func (e *Engine) onSession(s session.Session) {
	e.bus.Publish(TopicSession, s)
	if s.Loading {
		return
	}

	now := s.IsAuthenticated()
	was := e.authenticated.Swap(now)
	switch {
	case now && !was:
		e.ctrl.Refresh()
	case !now && was:
		e.ctrl.InvalidateRoster()
	}
}

func (e *Engine) publishSnapshot(snap reconcile.Snapshot) {
	e.bus.Publish(TopicSnapshot, snap)
}
