package poller

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dyluth/geowatch/pkg/tracking"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// runCycle performs every fetch of one cycle concurrently. The first failure
// cancels the rest. runCtx is the loop's context; the shared roster fetch
// runs under it so one cycle's failure cannot cancel another cycle's wait.
func (c *Controller) runCycle(runCtx context.Context, d dispatch) (Result, error) {
	res := Result{
		Seq:          d.seq,
		CycleID:      d.id,
		Trigger:      d.trigger,
		Range:        d.window,
		DispatchedAt: d.started,
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		cps, err := c.fetch.ListCheckpoints(gctx, d.apiKey)
		res.Checkpoints = cps
		return err
	})
	g.Go(func() error {
		locs, err := c.fetch.ListLocations(gctx, d.apiKey, d.window)
		res.Locations = locs
		return err
	})
	if c.cfg.IncludeVisits {
		g.Go(func() error {
			visits, err := c.fetch.ListVisits(gctx, d.apiKey, tracking.VisitQuery{})
			res.Visits = visits
			return err
		})
	}
	g.Go(func() error {
		users, err := c.roster.get(gctx, runCtx, d.apiKey)
		res.Users = users
		return err
	})

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	c.dropInvalid(&res)
	res.CompletedAt = time.Now()
	return res, nil
}

// dropInvalid removes rows that break the data model invariants so they
// never reach the snapshot. Checkpoint IDs must be unique; the first wins.
func (c *Controller) dropInvalid(res *Result) {
	var cpDropped, locDropped, visitDropped int
	res.Checkpoints, cpDropped = validRows(res.Checkpoints)
	res.Locations, locDropped = validRows(res.Locations)
	res.Visits, visitDropped = validRows(res.Visits)

	seen := make(map[int64]struct{}, len(res.Checkpoints))
	unique := res.Checkpoints[:0]
	for _, cp := range res.Checkpoints {
		if _, dup := seen[cp.ID]; dup {
			cpDropped++
			continue
		}
		seen[cp.ID] = struct{}{}
		unique = append(unique, cp)
	}
	res.Checkpoints = unique

	if cpDropped+locDropped+visitDropped > 0 {
		c.log.Warn("invalid records dropped",
			zap.String("event_type", "records_dropped"),
			zap.Uint64("seq", res.Seq),
			zap.Int("checkpoints", cpDropped),
			zap.Int("locations", locDropped),
			zap.Int("visits", visitDropped))
	}
}

// validRows keeps the rows whose Validate succeeds, in order.
func validRows[T any, P interface {
	*T
	Validate() error
}](rows []T) ([]T, int) {
	if rows == nil {
		return nil, 0
	}
	kept := make([]T, 0, len(rows))
	for i := range rows {
		if P(&rows[i]).Validate() != nil {
			continue
		}
		kept = append(kept, rows[i])
	}
	return kept, len(rows) - len(kept)
}

// rosterCache fetches the user roster once per API key.
type rosterCache struct {
	fetch   Fetcher
	timeout time.Duration
	group   singleflight.Group

	mu    sync.Mutex
	epoch uint64
	key   string
	users []tracking.Identity
}

func newRosterCache(fetch Fetcher, timeout time.Duration) *rosterCache {
	return &rosterCache{fetch: fetch, timeout: timeout}
}

// get returns the cached roster for apiKey or joins a shared fetch. The fetch
// runs under runCtx bounded by the cache timeout; ctx only bounds how long
// this caller waits.
func (r *rosterCache) get(ctx, runCtx context.Context, apiKey string) ([]tracking.Identity, error) {
	r.mu.Lock()
	if r.users != nil && r.key == apiKey {
		out := append([]tracking.Identity(nil), r.users...)
		r.mu.Unlock()
		return out, nil
	}
	epoch := r.epoch
	r.mu.Unlock()

	flight := strconv.FormatUint(epoch, 10) + ":" + apiKey
	ch := r.group.DoChan(flight, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(runCtx, r.timeout)
		defer cancel()

		users, err := r.fetch.ListUsers(fetchCtx, apiKey)
		if err != nil {
			return nil, err
		}
		if users == nil {
			users = []tracking.Identity{}
		}
		r.mu.Lock()
		if r.epoch == epoch {
			r.key = apiKey
			r.users = users
		}
		r.mu.Unlock()
		return users, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]tracking.Identity(nil), res.Val.([]tracking.Identity)...), nil
	}
}

// invalidate drops the cached roster. A fetch already in flight still
// answers its callers but no longer fills the cache.
func (r *rosterCache) invalidate() {
	r.mu.Lock()
	r.epoch++
	r.key = ""
	r.users = nil
	r.mu.Unlock()
}
