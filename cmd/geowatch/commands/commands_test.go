package commands

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/geowatch/internal/printer"
	"github.com/dyluth/geowatch/internal/testutil"
	"github.com/dyluth/geowatch/pkg/tracking"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag in the tree to its default so package-level
// flag variables do not leak between runs.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCLI executes the real command tree and captures everything it prints.
func runCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	var out, errOut bytes.Buffer
	restore := printer.SetOutput(&out, &errOut)
	defer restore()

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()

	resetFlags(rootCmd)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "absent.yml"), "--env-file="))
	err = Execute()
	return out.String(), errOut.String(), err
}

// setupService starts a fake tracking service with one administrator and
// one ordinary user, and points the CLI at it with a sqlite state file.
func setupService(t *testing.T) *testutil.FakeAPI {
	t.Helper()

	api := testutil.NewFakeAPI(t)
	api.AddUser(1, "Admin", "admin-key", true)
	api.AddUser(2, "Courier", "user-key", false)

	t.Setenv("GEOWATCH_API_URL", api.BaseURL())
	t.Setenv("GEOWATCH_STORE_DRIVER", "sqlite")
	t.Setenv("GEOWATCH_STORE_PATH", filepath.Join(t.TempDir(), "state.db"))
	t.Setenv("GEOWATCH_POLL_INTERVAL", "1s")
	t.Setenv("GEOWATCH_PROFILE", "")
	t.Setenv("GEOWATCH_API_KEY", "")
	t.Setenv("GEOWATCH_LOG_LEVEL", "error")
	return api
}

func login(t *testing.T) {
	t.Helper()
	stdout, stderr, err := runCLI(t, "login", "--key", "admin-key")
	require.NoError(t, err, stderr)
	require.Contains(t, stdout, "Logged in as Admin (id 1)")
}

func TestLoginFlow(t *testing.T) {
	t.Run("administrator key is saved", func(t *testing.T) {
		setupService(t)
		login(t)

		stdout, _, err := runCLI(t, "whoami", "--output", "json")
		require.NoError(t, err)

		var id tracking.Identity
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stdout)), &id))
		assert.Equal(t, int64(1), id.ID)
		assert.True(t, id.IsAdmin)
	})

	t.Run("key from environment", func(t *testing.T) {
		setupService(t)
		t.Setenv("GEOWATCH_API_KEY", "admin-key")

		stdout, _, err := runCLI(t, "login")
		require.NoError(t, err)
		assert.Contains(t, stdout, "Logged in as Admin")
	})

	t.Run("missing key", func(t *testing.T) {
		setupService(t)
		_, stderr, err := runCLI(t, "login")
		require.Error(t, err)
		assert.Contains(t, stderr, "No API key was given")
	})

	t.Run("non-administrator is refused and nothing is saved", func(t *testing.T) {
		setupService(t)
		_, stderr, err := runCLI(t, "login", "--key", "user-key")
		require.Error(t, err)
		assert.Equal(t, "insufficient privilege", err.Error())
		assert.Contains(t, stderr, "does not belong to an administrator")

		_, _, err = runCLI(t, "whoami")
		require.Error(t, err)
		assert.Equal(t, "not logged in", err.Error())
	})

	t.Run("unknown key", func(t *testing.T) {
		setupService(t)
		_, _, err := runCLI(t, "login", "--key", "nope")
		require.Error(t, err)
		assert.Equal(t, "invalid api key", err.Error())
	})

	t.Run("revoked key expires the saved session", func(t *testing.T) {
		api := setupService(t)
		login(t)
		api.SetAdmin(1, false)

		_, _, err := runCLI(t, "whoami")
		require.Error(t, err)
		assert.Equal(t, "session expired", err.Error())

		_, _, err = runCLI(t, "whoami")
		require.Error(t, err)
		assert.Equal(t, "not logged in", err.Error())
	})

	t.Run("logout", func(t *testing.T) {
		setupService(t)
		login(t)

		stdout, _, err := runCLI(t, "logout")
		require.NoError(t, err)
		assert.Contains(t, stdout, "Logged out of profile 'default'")

		_, _, err = runCLI(t, "whoami")
		require.Error(t, err)
	})

	t.Run("profiles are isolated", func(t *testing.T) {
		setupService(t)
		login(t)

		_, _, err := runCLI(t, "whoami", "--profile", "other")
		require.Error(t, err)
		assert.Equal(t, "not logged in", err.Error())
	})
}

func TestCheckpointCommands(t *testing.T) {
	api := setupService(t)
	login(t)

	stdout, stderr, err := runCLI(t, "checkpoint", "add", "North gate", "55.75", "37.61", "150")
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "Created checkpoint North gate")

	stdout, _, err = runCLI(t, "checkpoint", "list", "-o", "json")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 1)
	var cp tracking.Checkpoint
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &cp))
	assert.Equal(t, "North gate", cp.Name)
	assert.Equal(t, 150.0, cp.RadiusMeters)

	t.Run("update", func(t *testing.T) {
		stdout, stderr, err := runCLI(t, "checkpoint", "update", strconv.FormatInt(cp.ID, 10), "North gate", "55.75", "37.61", "300")
		require.NoError(t, err, stderr)
		assert.Contains(t, stdout, "Updated checkpoint")
	})

	t.Run("malformed number sends nothing", func(t *testing.T) {
		before := api.Hits("/api/checkpoint/")
		_, stderr, err := runCLI(t, "checkpoint", "add", "Bad", "north", "37.61", "150")
		require.Error(t, err)
		assert.Equal(t, "invalid number", err.Error())
		assert.Contains(t, stderr, "latitude")
		assert.Equal(t, before, api.Hits("/api/checkpoint/"))
	})

	t.Run("table output", func(t *testing.T) {
		stdout, _, err := runCLI(t, "checkpoint", "list")
		require.NoError(t, err)
		assert.Contains(t, stdout, "North gate")
	})
}

func TestVisitsCommand(t *testing.T) {
	api := setupService(t)
	login(t)

	start := time.Now().Add(-10 * time.Minute).UTC()
	end := start.Add(2 * time.Minute)
	dur := int64(120)
	api.SetCheckpoints(tracking.Checkpoint{ID: 5, Name: "Depot", Lat: 55.7, Lon: 37.6, RadiusMeters: 100})
	api.SetVisits(
		tracking.Visit{ID: 10, UserID: 1, CheckpointID: 5, StartAt: start, EndAt: &end, DurationSeconds: &dur},
		tracking.Visit{ID: 11, UserID: 2, CheckpointID: 5, StartAt: start},
	)

	t.Run("table resolves names", func(t *testing.T) {
		stdout, _, err := runCLI(t, "visits")
		require.NoError(t, err)
		assert.Contains(t, stdout, "Depot")
		assert.Contains(t, stdout, "Courier")
		assert.Contains(t, stdout, "2 visits found")
	})

	t.Run("active only", func(t *testing.T) {
		stdout, _, err := runCLI(t, "visits", "--active", "-o", "json")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		require.Len(t, lines, 1)
		assert.Contains(t, lines[0], `"id":11`)
	})

	t.Run("user filter goes to the server", func(t *testing.T) {
		_, _, err := runCLI(t, "visits", "--user", "1", "-o", "json")
		require.NoError(t, err)
		queries := api.Queries("/api/visits/")
		assert.Equal(t, "user_id=1", queries[len(queries)-1])
	})

	t.Run("non-numeric filter", func(t *testing.T) {
		_, _, err := runCLI(t, "visits", "--checkpoint", "depot")
		require.Error(t, err)
		assert.Equal(t, "invalid number", err.Error())
	})
}

func TestUsersCommands(t *testing.T) {
	api := setupService(t)
	login(t)

	stdout, stderr, err := runCLI(t, "users", "add", "Courier 7")
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "Created user Courier 7")
	assert.Contains(t, stdout, "/qr-code-file")

	stdout, _, err = runCLI(t, "users", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Courier 7")

	stdout, _, err = runCLI(t, "users", "qr", "2")
	require.NoError(t, err)
	assert.Equal(t, api.BaseURL()+"/users/2/qr-code-file\n", stdout)
}

func TestViewportCommands(t *testing.T) {
	setupService(t)

	stdout, _, err := runCLI(t, "viewport", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Zoom:   10")
	assert.Contains(t, stdout, "Auto-fit armed")

	_, _, err = runCLI(t, "viewport", "save", "48.85", "2.35", "12")
	require.NoError(t, err)

	stdout, _, err = runCLI(t, "viewport", "show", "-o", "json")
	require.NoError(t, err)
	var v tracking.Viewport
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stdout)), &v))
	assert.Equal(t, tracking.Viewport{Lat: 48.85, Lng: 2.35, Zoom: 12}, v)

	stdout, _, err = runCLI(t, "viewport", "show")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "Auto-fit armed")

	_, _, err = runCLI(t, "viewport", "save", "48.85", "2.35", "30")
	require.Error(t, err)
	assert.Equal(t, "invalid viewport", err.Error())

	_, _, err = runCLI(t, "viewport", "reset")
	require.NoError(t, err)
	stdout, _, err = runCLI(t, "viewport", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Auto-fit armed")
}

func TestWatchCommand(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		setupService(t)
		_, _, err := runCLI(t, "watch", "--once")
		require.Error(t, err)
		assert.Equal(t, "not logged in", err.Error())
	})

	t.Run("single bound is rejected before login is checked", func(t *testing.T) {
		api := setupService(t)
		_, stderr, err := runCLI(t, "watch", "--from", "1h")
		require.Error(t, err)
		assert.Equal(t, "invalid time range", err.Error())
		assert.Contains(t, stderr, "--to")
		assert.Zero(t, api.Hits("/api/location/"))
	})

	t.Run("once emits one fitted snapshot", func(t *testing.T) {
		api := setupService(t)
		login(t)

		now := time.Now().UTC()
		api.SetCheckpoints(tracking.Checkpoint{ID: 5, Name: "Depot", Lat: 55.70, Lon: 37.55, RadiusMeters: 100})
		api.SetLocations(
			tracking.LocationSample{ID: 1, UserID: 1, Lat: 55.80, Lon: 37.65, UpdatedAt: now},
			tracking.LocationSample{ID: 2, UserID: 2, Lat: 55.75, Lon: 37.60, UpdatedAt: now},
		)

		stdout, stderr, err := runCLI(t, "watch", "--once", "-o", "json", "--users", "2")
		require.NoError(t, err, stderr)

		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		require.Len(t, lines, 1)

		var snap struct {
			Seq           uint64                    `json:"seq"`
			Locations     []tracking.LocationSample `json:"locations"`
			SelectedUsers []int64                   `json:"selected_users"`
			Fit           *struct {
				Viewport tracking.Viewport `json:"viewport"`
			} `json:"fit"`
		}
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &snap))
		assert.NotZero(t, snap.Seq)
		require.Len(t, snap.Locations, 1)
		assert.Equal(t, int64(2), snap.Locations[0].UserID)
		assert.Equal(t, []int64{2}, snap.SelectedUsers)
		require.NotNil(t, snap.Fit)

		out, _, err := runCLI(t, "viewport", "show")
		require.NoError(t, err)
		assert.NotContains(t, out, "Auto-fit armed")
	})

	t.Run("table output", func(t *testing.T) {
		api := setupService(t)
		login(t)
		api.SetCheckpoints(tracking.Checkpoint{ID: 5, Name: "Depot", Lat: 55.70, Lon: 37.55, RadiusMeters: 100})

		stdout, stderr, err := runCLI(t, "watch", "--once")
		require.NoError(t, err, stderr)
		assert.Contains(t, stdout, "Watching as Admin")
		assert.Contains(t, stdout, "Depot")
	})
}
