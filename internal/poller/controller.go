// Package poller runs the fixed-cadence refresh loop that keeps the live view
// current. Every cycle gets a sequence number at dispatch; on completion the
// controller re-reads the current credentials and time range and drops any
// response that no longer matches them or that a newer cycle, applied or
// failed, has already settled.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/geowatch/internal/metrics"
	"github.com/dyluth/geowatch/pkg/tracking"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Default tuning.
const (
	DefaultInterval      = 10 * time.Second
	DefaultMaxInFlight   = 2
	DefaultRosterTimeout = 15 * time.Second
)

// Cycle triggers.
const (
	TriggerInitial    = "initial"
	TriggerTick       = "tick"
	TriggerManual     = "manual"
	TriggerRedispatch = "redispatch"
)

// Fetcher is the subset of the REST client a cycle uses.
// *tracking.Client satisfies it.
type Fetcher interface {
	ListCheckpoints(ctx context.Context, apiKey string) ([]tracking.Checkpoint, error)
	ListLocations(ctx context.Context, apiKey string, window *tracking.TimeRange) ([]tracking.LocationSample, error)
	ListVisits(ctx context.Context, apiKey string, q tracking.VisitQuery) ([]tracking.Visit, error)
	ListUsers(ctx context.Context, apiKey string) ([]tracking.Identity, error)
}

// CredentialSource yields the API key that is current right now.
// *session.Store satisfies it.
type CredentialSource interface {
	Credentials() (string, bool)
}

// RangeSource yields the time range that is current right now.
// *filter.State satisfies it.
type RangeSource interface {
	Range() *tracking.TimeRange
}

// Result is the outcome of one cycle handed to the Handler.
// Err is set for failed cycles; the data fields are then empty.
type Result struct {
	Seq          uint64
	CycleID      string
	Trigger      string
	Range        *tracking.TimeRange
	Checkpoints  []tracking.Checkpoint
	Locations    []tracking.LocationSample
	Visits       []tracking.Visit
	Users        []tracking.Identity
	Err          error
	DispatchedAt time.Time
	CompletedAt  time.Time
}

// Handler receives applied results and cycle errors on the loop goroutine.
type Handler func(Result)

// Config tunes a Controller.
type Config struct {
	Interval time.Duration
	// MaxInFlight bounds outstanding cycles. Ticks dispatch only when none
	// are in flight; manual refreshes may run up to this many at once.
	MaxInFlight   int
	IncludeVisits bool
	// RosterTimeout bounds the shared roster fetch, which is not tied to
	// any single cycle.
	RosterTimeout time.Duration
}

// Controller owns the refresh timer and the apply-time race guard.
type Controller struct {
	cfg     Config
	fetch   Fetcher
	creds   CredentialSource
	ranges  RangeSource
	handler Handler
	log     *zap.Logger
	metrics *metrics.Metrics
	roster  *rosterCache

	refreshCh   chan struct{}
	lastApplied atomic.Uint64
	// lastSettled is the newest sequence that was applied or reported as
	// failed. Owned by the loop goroutine.
	lastSettled uint64
	running     atomic.Bool
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics records cycle outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a controller. handler may be nil.
func New(cfg Config, fetch Fetcher, creds CredentialSource, ranges RangeSource, handler Handler, opts ...Option) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.RosterTimeout <= 0 {
		cfg.RosterTimeout = DefaultRosterTimeout
	}
	if handler == nil {
		handler = func(Result) {}
	}

	c := &Controller{
		cfg:       cfg,
		fetch:     fetch,
		creds:     creds,
		ranges:    ranges,
		handler:   handler,
		log:       zap.NewNop(),
		refreshCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.roster = newRosterCache(fetch, cfg.RosterTimeout)
	return c
}

// Refresh requests an immediate cycle. Requests made while one is already
// pending coalesce. Refresh never blocks.
func (c *Controller) Refresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// InvalidateRoster drops the cached user roster so the next cycle refetches it.
func (c *Controller) InvalidateRoster() {
	c.roster.invalidate()
}

// LastApplied returns the sequence number of the newest applied cycle.
func (c *Controller) LastApplied() uint64 {
	return c.lastApplied.Load()
}

// dispatch captures the parameters a cycle was issued with.
type dispatch struct {
	seq     uint64
	id      string
	trigger string
	apiKey  string
	window  *tracking.TimeRange
	started time.Time
}

type completion struct {
	dispatch
	result Result
	err    error
}

// Run drives the loop until ctx is cancelled. It issues a cycle immediately,
// then one per interval. Run returns after the timer is stopped and every
// fetch goroutine has exited.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("poller already running")
	}
	defer c.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	timer := time.NewTimer(c.cfg.Interval)
	defer timer.Stop()

	completions := make(chan completion)
	inFlight := make(map[uint64]dispatch)
	seq := c.lastSettled
	var awaitingManual uint64
	pending := false

	start := func(trigger string) bool {
		key, ok := c.creds.Credentials()
		if !ok {
			c.log.Debug("cycle skipped, session not authenticated",
				zap.String("event_type", "cycle_skipped"),
				zap.String("trigger", trigger))
			return false
		}
		seq++
		d := dispatch{
			seq:     seq,
			id:      uuid.NewString(),
			trigger: trigger,
			apiKey:  key,
			window:  c.ranges.Range(),
			started: time.Now(),
		}
		inFlight[d.seq] = d
		c.metrics.Dispatched()
		c.log.Debug("cycle dispatched",
			zap.String("event_type", "cycle_dispatched"),
			zap.Uint64("seq", d.seq),
			zap.String("cycle_id", d.id),
			zap.String("trigger", trigger))

		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.runCycle(ctx, d)
			select {
			case completions <- completion{dispatch: d, result: res, err: err}:
			case <-ctx.Done():
			}
		}()
		return true
	}

	manual := func() {
		if len(inFlight) >= c.cfg.MaxInFlight {
			pending = true
			return
		}
		if start(TriggerManual) {
			timer.Stop()
			awaitingManual = seq
		}
	}

	start(TriggerInitial)

	for {
		select {
		case <-ctx.Done():
			c.log.Debug("poller stopping", zap.String("event_type", "poller_stopped"))
			return nil

		case <-timer.C:
			if len(inFlight) == 0 {
				start(TriggerTick)
			} else {
				c.log.Debug("tick skipped, cycle in flight",
					zap.String("event_type", "tick_skipped"),
					zap.Int("in_flight", len(inFlight)))
			}
			timer.Reset(c.cfg.Interval)

		case <-c.refreshCh:
			manual()

		case done := <-completions:
			delete(inFlight, done.seq)
			if awaitingManual != 0 && done.seq >= awaitingManual {
				awaitingManual = 0
				timer.Reset(c.cfg.Interval)
			}

			if c.settle(done, inFlight) {
				if len(inFlight) < c.cfg.MaxInFlight {
					start(TriggerRedispatch)
				} else {
					pending = true
				}
			}

			if pending && len(inFlight) < c.cfg.MaxInFlight {
				pending = false
				manual()
			}
		}
	}
}

// settle applies the race guard to one completion and reports whether a
// fresh cycle should be issued because the parameters moved underneath it.
func (c *Controller) settle(done completion, inFlight map[uint64]dispatch) bool {
	elapsed := time.Since(done.started).Seconds()
	fields := []zap.Field{
		zap.Uint64("seq", done.seq),
		zap.String("cycle_id", done.id),
		zap.String("trigger", done.trigger),
	}

	key, ok := c.creds.Credentials()
	if !ok {
		c.metrics.Completed(metrics.OutcomeUnauthenticated, elapsed)
		c.log.Debug("cycle discarded, session ended",
			append(fields, zap.String("event_type", "cycle_discarded"), zap.String("reason", "unauthenticated"))...)
		return false
	}

	current := c.ranges.Range()
	if key != done.apiKey || !current.Equal(done.window) {
		c.metrics.Completed(metrics.OutcomeFilterChanged, elapsed)
		c.log.Debug("cycle discarded, parameters changed",
			append(fields, zap.String("event_type", "cycle_discarded"), zap.String("reason", "filter_changed"))...)
		for _, d := range inFlight {
			if d.apiKey == key && current.Equal(d.window) {
				return false
			}
		}
		return true
	}

	if done.seq <= c.lastSettled {
		c.metrics.Completed(metrics.OutcomeStale, elapsed)
		c.log.Debug("cycle discarded, newer cycle settled",
			append(fields, zap.String("event_type", "cycle_discarded"), zap.String("reason", "stale"))...)
		return false
	}

	c.lastSettled = done.seq
	if done.err != nil {
		c.metrics.Completed(metrics.OutcomeError, elapsed)
		c.log.Warn("cycle failed", append(fields, zap.String("event_type", "cycle_failed"), zap.Error(done.err))...)
		c.handler(Result{
			Seq:          done.seq,
			CycleID:      done.id,
			Trigger:      done.trigger,
			Range:        done.window,
			Err:          done.err,
			DispatchedAt: done.started,
			CompletedAt:  time.Now(),
		})
		return false
	}

	c.lastApplied.Store(done.seq)
	c.metrics.Completed(metrics.OutcomeApplied, elapsed)
	c.metrics.Applied(done.seq)
	c.log.Debug("cycle applied", append(fields, zap.String("event_type", "cycle_applied"))...)
	c.handler(done.result)
	return false
}
