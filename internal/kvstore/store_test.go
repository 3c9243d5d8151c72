package kvstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupStores returns one store per driver, all cleaned up with t.
func setupStores(t *testing.T) map[string]Store {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	redisStore, err := New(Config{Driver: DriverRedis, Redis: &RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)

	sqliteStore, err := New(Config{Driver: DriverSQLite, SQLite: &SQLiteConfig{Path: filepath.Join(t.TempDir(), "state.db")}})
	require.NoError(t, err)

	stores := map[string]Store{
		DriverMemory: NewMemory(Config{}),
		DriverRedis:  redisStore,
		DriverSQLite: sqliteStore,
	}
	for _, s := range stores {
		s := s
		t.Cleanup(func() { s.Close() })
	}
	return stores
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()

	for name, store := range setupStores(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			key := SessionKey("default")

			_, err := store.Get(ctx, key)
			assert.True(t, IsNotFound(err), "expected not found, got %v", err)

			require.NoError(t, store.Set(ctx, key, "admin-key"))
			got, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "admin-key", got)

			require.NoError(t, store.Set(ctx, key, "rotated-key"))
			got, err = store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "rotated-key", got)

			require.NoError(t, store.Set(ctx, ViewportKey("default"), `{"lat":1}`))
			require.NoError(t, store.Delete(ctx, key, ViewportKey("default")))

			_, err = store.Get(ctx, key)
			assert.True(t, IsNotFound(err))
			_, err = store.Get(ctx, ViewportKey("default"))
			assert.True(t, IsNotFound(err))

			assert.NoError(t, store.Delete(ctx))
		})
	}
}

func TestProfilesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{})

	require.NoError(t, store.Set(ctx, SessionKey("ops"), "ops-key"))
	_, err := store.Get(ctx, SessionKey("audit"))
	assert.True(t, IsNotFound(err))
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{TTL: 20 * time.Millisecond})

	require.NoError(t, store.Set(ctx, "k", "v"))
	time.Sleep(40 * time.Millisecond)

	_, err := store.Get(ctx, "k")
	assert.True(t, IsNotFound(err))
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store, err := NewRedis(Config{TTL: time.Minute, Redis: &RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "k", "v"))
	mr.FastForward(2 * time.Minute)

	_, err = store.Get(ctx, "k")
	assert.True(t, IsNotFound(err))
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	first, err := NewSQLite(Config{SQLite: &SQLiteConfig{Path: path}})
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, SessionKey("default"), "admin-key"))
	require.NoError(t, first.Close())

	second, err := NewSQLite(Config{SQLite: &SQLiteConfig{Path: path}})
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, SessionKey("default"))
	require.NoError(t, err)
	assert.Equal(t, "admin-key", got)
}

func TestNew(t *testing.T) {
	t.Run("rejects unknown driver", func(t *testing.T) {
		_, err := New(Config{Driver: "etcd"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported store driver")
	})

	t.Run("redis requires address", func(t *testing.T) {
		_, err := New(Config{Driver: DriverRedis})
		assert.Error(t, err)
	})

	t.Run("sqlite requires path", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
	})
}

func TestKeySchema(t *testing.T) {
	assert.Equal(t, "geowatch:ops:session:api_key", SessionKey("ops"))
	assert.Equal(t, "geowatch:ops:viewport", ViewportKey("ops"))
	assert.Equal(t, "geowatch:ops:viewport:initialized", ViewportInitializedKey("ops"))
}
