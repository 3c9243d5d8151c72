package live

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/geowatch/internal/config"
	"github.com/dyluth/geowatch/internal/kvstore"
	"github.com/dyluth/geowatch/internal/metrics"
	"github.com/dyluth/geowatch/internal/reconcile"
	"github.com/dyluth/geowatch/internal/session"
	"github.com/dyluth/geowatch/internal/testutil"
	"github.com/dyluth/geowatch/pkg/tracking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type engineHarness struct {
	engine *Engine
	api    *testutil.FakeAPI
	store  kvstore.Store
	reg    *prometheus.Registry
	cfg    *config.GeowatchConfig

	mu    sync.Mutex
	snaps []reconcile.Snapshot
}

func (h *engineHarness) latest() (reconcile.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.snaps) == 0 {
		return reconcile.Snapshot{}, false
	}
	return h.snaps[len(h.snaps)-1], true
}

func setupEngine(t *testing.T, refreshEvery int) *engineHarness {
	t.Helper()

	api := testutil.NewFakeAPI(t)
	api.AddUser(1, "Admin", "admin-key", true)
	api.AddUser(2, "Courier", "courier-key", false)
	api.SetCheckpoints(tracking.Checkpoint{ID: 1, Name: "Depot", Lat: 55.75, Lon: 37.61, RadiusMeters: 100})
	now := time.Now().UTC()
	api.SetLocations(
		tracking.LocationSample{ID: 1, UserID: 1, Lat: 55.751, Lon: 37.611, UpdatedAt: now},
		tracking.LocationSample{ID: 2, UserID: 2, Lat: 55.760, Lon: 37.620, UpdatedAt: now},
	)

	mr := miniredis.RunT(t)
	store, err := kvstore.New(kvstore.Config{Driver: kvstore.DriverRedis, Redis: &kvstore.RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.API.BaseURL = api.BaseURL()
	cfg.Profile = "live-test"
	cfg.Poll.Interval = 40 * time.Millisecond
	cfg.Poll.IdentityRefreshEvery = refreshEvery

	client, err := tracking.NewClient(cfg.API.BaseURL, time.Second)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(metrics.Options{Registerer: reg})
	require.NoError(t, err)

	engine, err := New(context.Background(), Options{
		Config:  cfg,
		Client:  client,
		Store:   store,
		Logger:  zaptest.NewLogger(t),
		Metrics: m,
	})
	require.NoError(t, err)

	h := &engineHarness{engine: engine, api: api, store: store, reg: reg, cfg: cfg}
	require.NoError(t, engine.OnSnapshot(func(s reconcile.Snapshot) {
		h.mu.Lock()
		h.snaps = append(h.snaps, s)
		h.mu.Unlock()
	}))
	return h
}

func runEngine(t *testing.T, e *Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestEngineRequiresDependencies(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}

func TestEnginePollsAfterLogin(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, 100)
	runEngine(t, h.engine)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, h.api.Hits("/api/location/"), "no polling without a session")

	require.NoError(t, h.engine.Login(ctx, "admin-key"))

	require.Eventually(t, func() bool {
		s, ok := h.latest()
		return ok && !s.Loading && len(s.Locations) == 2
	}, 2*time.Second, 10*time.Millisecond)

	snap, _ := h.latest()
	assert.Len(t, snap.Checkpoints, 1)
	assert.Len(t, snap.Users, 2)
	assert.Equal(t, []int64{1, 2}, snap.SelectedUsers)

	fits := 0
	h.mu.Lock()
	for _, s := range h.snaps {
		if s.Fit != nil {
			fits++
		}
	}
	h.mu.Unlock()
	assert.Equal(t, 1, fits, "only the first non-empty cycle requests a fit")

	h.engine.SetUsers(2)
	snap, _ = h.latest()
	require.Len(t, snap.Locations, 1)
	assert.Equal(t, int64(2), snap.Locations[0].UserID)

	persisted, err := h.store.Get(ctx, kvstore.SessionKey("live-test"))
	require.NoError(t, err)
	assert.Equal(t, "admin-key", persisted)
}

func TestEngineRejectsInvalidRangeWithoutFetching(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, 100)
	require.NoError(t, h.engine.Login(ctx, "admin-key"))

	ten := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	err := h.engine.SetRange(tracking.TimeRange{From: ten, To: ten.Add(-time.Hour)})
	assert.ErrorIs(t, err, tracking.ErrInvalidRange)
	assert.Nil(t, h.engine.Filters().Range())
	assert.Zero(t, h.api.Hits("/api/location/"))
}

func TestEngineRangeIsSentOnNextCycle(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, 100)
	require.NoError(t, h.engine.Login(ctx, "admin-key"))
	runEngine(t, h.engine)

	from := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, h.engine.SetRange(tracking.TimeRange{From: from, To: from.Add(2 * time.Hour)}))

	require.Eventually(t, func() bool {
		s, ok := h.latest()
		return ok && s.Range != nil
	}, 2*time.Second, 10*time.Millisecond)

	queries := h.api.Queries("/api/location/")
	assert.Contains(t, queries[len(queries)-1], "from=")
}

func TestEngineStopsPollingAfterRevocation(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, 2)

	var mu sync.Mutex
	var states []session.Session
	require.NoError(t, h.engine.OnSession(func(s session.Session) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))

	require.NoError(t, h.engine.Login(ctx, "admin-key"))
	runEngine(t, h.engine)

	require.Eventually(t, func() bool { return h.engine.LastApplied() >= 1 }, 2*time.Second, 10*time.Millisecond)
	h.api.SetAdmin(1, false)

	require.Eventually(t, func() bool {
		return !h.engine.Session().IsAuthenticated()
	}, 2*time.Second, 10*time.Millisecond)

	sess := h.engine.Session()
	assert.ErrorIs(t, sess.Err, tracking.ErrInsufficientPrivilege)

	// Allow any in-flight cycle to settle, then verify polling has stopped.
	time.Sleep(150 * time.Millisecond)
	hits := h.api.Hits("/api/location/")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, hits, h.api.Hits("/api/location/"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, session.StateUnauthenticated, states[len(states)-1].State)
}

func TestEngineRestore(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, 100)
	require.NoError(t, h.store.Set(ctx, kvstore.SessionKey("live-test"), "admin-key"))

	require.NoError(t, h.engine.Restore(ctx))
	assert.True(t, h.engine.Session().IsAuthenticated())
}

func TestHealthServer(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, 100)
	srv := NewHealthServer("127.0.0.1:0", h.engine, h.reg, zaptest.NewLogger(t))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	get := func(path string) (int, []byte) {
		resp, err := http.Get("http://" + srv.Addr() + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, body
	}

	h.engine.Logout(ctx)
	code, body := get("/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	require.NoError(t, h.engine.Login(ctx, "admin-key"))
	code, body = get("/healthz")
	assert.Equal(t, http.StatusOK, code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "authenticated", resp.Session)

	runEngine(t, h.engine)
	require.Eventually(t, func() bool { return h.engine.LastApplied() >= 1 }, 2*time.Second, 10*time.Millisecond)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "geowatch_poll_cycles_dispatched_total")
}
