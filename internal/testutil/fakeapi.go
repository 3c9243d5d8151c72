package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/geowatch/pkg/tracking"
	"github.com/gin-gonic/gin"
)

// FakeUser is a roster entry with its credential.
type FakeUser struct {
	Identity tracking.Identity
	APIKey   string
}

// FakeAPI is an in-process implementation of the tracking REST service.
// Tests mutate its fixtures and inject latency or failures per route.
type FakeAPI struct {
	Server *httptest.Server

	mu          sync.Mutex
	users       []FakeUser
	checkpoints []tracking.Checkpoint
	locations   []tracking.LocationSample
	visits      []tracking.Visit
	hits        map[string]int
	queries     map[string][]string
	delays      map[string]func() time.Duration
	failures    map[string]int
	nextID      int64
}

// NewFakeAPI starts the fake service and registers cleanup on t.
func NewFakeAPI(t testing.TB) *FakeAPI {
	gin.SetMode(gin.TestMode)

	f := &FakeAPI{
		hits:     make(map[string]int),
		queries:  make(map[string][]string),
		delays:   make(map[string]func() time.Duration),
		failures: make(map[string]int),
		nextID:   1000,
	}

	router := gin.New()
	api := router.Group("/api")
	api.Use(f.record)

	basic := api.Group("")
	basic.Use(f.authenticate(false))
	basic.GET("/users/me", f.getMe)

	admin := api.Group("")
	admin.Use(f.authenticate(true))
	admin.GET("/users/", f.listUsers)
	admin.POST("/users/", f.createUser)
	admin.GET("/users/:id/qr-code-file", f.qrCode)
	admin.GET("/checkpoint/", f.listCheckpoints)
	admin.POST("/checkpoint/", f.createCheckpoint)
	admin.PUT("/checkpoint/:id", f.updateCheckpoint)
	admin.GET("/location/", f.listLocations)
	admin.GET("/visits/", f.listVisits)

	f.Server = httptest.NewServer(router)
	t.Cleanup(f.Server.Close)
	return f
}

// BaseURL is the API root to hand to tracking.NewClient.
func (f *FakeAPI) BaseURL() string {
	return f.Server.URL + "/api"
}

// AddUser registers a user reachable by apiKey.
func (f *FakeAPI) AddUser(id int64, name, apiKey string, isAdmin bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	f.users = append(f.users, FakeUser{
		Identity: tracking.Identity{ID: id, Name: name, IsAdmin: isAdmin, CreatedAt: now, UpdatedAt: now},
		APIKey:   apiKey,
	})
}

// SetAdmin flips a user's privilege, simulating server-side revocation.
func (f *FakeAPI) SetAdmin(id int64, isAdmin bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.users {
		if f.users[i].Identity.ID == id {
			f.users[i].Identity.IsAdmin = isAdmin
			f.users[i].Identity.UpdatedAt = time.Now().UTC()
		}
	}
}

// SetCheckpoints replaces the checkpoint fixtures.
func (f *FakeAPI) SetCheckpoints(cps ...tracking.Checkpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints = append([]tracking.Checkpoint(nil), cps...)
}

// SetLocations replaces the location fixtures.
func (f *FakeAPI) SetLocations(locs ...tracking.LocationSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locations = append([]tracking.LocationSample(nil), locs...)
}

// SetVisits replaces the visit fixtures.
func (f *FakeAPI) SetVisits(visits ...tracking.Visit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visits = append([]tracking.Visit(nil), visits...)
}

// SetDelay makes every request to route wait for fn() before answering.
// route is the registered gin path, e.g. "/api/location/".
func (f *FakeAPI) SetDelay(route string, fn func() time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fn == nil {
		delete(f.delays, route)
		return
	}
	f.delays[route] = fn
}

// FailWith makes route answer with status until cleared with status 0.
func (f *FakeAPI) FailWith(route string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.failures, route)
		return
	}
	f.failures[route] = status
}

// Hits returns how many requests reached route.
func (f *FakeAPI) Hits(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[route]
}

// Queries returns the raw query strings seen on route, oldest first.
func (f *FakeAPI) Queries(route string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries[route]...)
}

func (f *FakeAPI) record(c *gin.Context) {
	route := c.FullPath()

	f.mu.Lock()
	f.hits[route]++
	f.queries[route] = append(f.queries[route], c.Request.URL.RawQuery)
	delay := f.delays[route]
	status := f.failures[route]
	f.mu.Unlock()

	if delay != nil {
		select {
		case <-time.After(delay()):
		case <-c.Request.Context().Done():
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
	}
	if status != 0 {
		c.AbortWithStatusJSON(status, gin.H{"error": "injected failure"})
		return
	}
	c.Next()
}

func (f *FakeAPI) authenticate(adminOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(tracking.APIKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}

		f.mu.Lock()
		var found *FakeUser
		for i := range f.users {
			if f.users[i].APIKey == key {
				u := f.users[i]
				found = &u
				break
			}
		}
		f.mu.Unlock()

		if found == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		if adminOnly && !found.Identity.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrator required"})
			return
		}
		c.Set("identity", found.Identity)
		c.Next()
	}
}

func (f *FakeAPI) getMe(c *gin.Context) {
	c.JSON(http.StatusOK, c.MustGet("identity"))
}

func (f *FakeAPI) listUsers(c *gin.Context) {
	f.mu.Lock()
	out := make([]tracking.Identity, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u.Identity)
	}
	f.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (f *FakeAPI) createUser(c *gin.Context) {
	var in tracking.UserInput
	if err := c.ShouldBindJSON(&in); err != nil || in.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	f.mu.Lock()
	f.nextID++
	now := time.Now().UTC()
	id := tracking.Identity{ID: f.nextID, Name: in.Name, IsAdmin: in.IsAdmin, CreatedAt: now, UpdatedAt: now}
	f.users = append(f.users, FakeUser{Identity: id, APIKey: "generated-" + strconv.FormatInt(f.nextID, 10)})
	f.mu.Unlock()
	c.JSON(http.StatusCreated, id)
}

func (f *FakeAPI) qrCode(c *gin.Context) {
	c.Data(http.StatusOK, "image/png", []byte{0x89, 'P', 'N', 'G'})
}

func (f *FakeAPI) listCheckpoints(c *gin.Context) {
	f.mu.Lock()
	out := append([]tracking.Checkpoint{}, f.checkpoints...)
	f.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (f *FakeAPI) createCheckpoint(c *gin.Context) {
	var in tracking.CheckpointInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	f.mu.Lock()
	f.nextID++
	cp := tracking.Checkpoint{ID: f.nextID, Name: in.Name, Lat: in.Latitude, Lon: in.Longitude, RadiusMeters: in.Radius}
	f.checkpoints = append(f.checkpoints, cp)
	f.mu.Unlock()
	c.JSON(http.StatusCreated, cp)
}

func (f *FakeAPI) updateCheckpoint(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var in tracking.CheckpointInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.checkpoints {
		if f.checkpoints[i].ID == id {
			f.checkpoints[i].Name = in.Name
			f.checkpoints[i].Lat = in.Latitude
			f.checkpoints[i].Lon = in.Longitude
			f.checkpoints[i].RadiusMeters = in.Radius
			c.JSON(http.StatusOK, f.checkpoints[i])
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "checkpoint not found"})
}

func (f *FakeAPI) listLocations(c *gin.Context) {
	var from, to time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return
		}
		to = t
	}

	f.mu.Lock()
	out := make([]tracking.LocationSample, 0, len(f.locations))
	for _, l := range f.locations {
		if !from.IsZero() && l.UpdatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && l.UpdatedAt.After(to) {
			continue
		}
		out = append(out, l)
	}
	f.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (f *FakeAPI) listVisits(c *gin.Context) {
	match := func(param string, v int64) bool {
		raw := c.Query(param)
		if raw == "" {
			return true
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		return err == nil && n == v
	}

	f.mu.Lock()
	out := make([]tracking.Visit, 0, len(f.visits))
	for _, v := range f.visits {
		if match("id", v.ID) && match("user_id", v.UserID) && match("checkpoint_id", v.CheckpointID) {
			out = append(out, v)
		}
	}
	f.mu.Unlock()
	c.JSON(http.StatusOK, out)
}
