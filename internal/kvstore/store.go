// Package kvstore is the client-side key-value store that holds the session
// API key and the map viewport across runs.
//
// Three drivers are available. memory keeps values for the process lifetime
// only. sqlite (the default) and redis persist across restarts.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a namespaced string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Config selects and tunes a driver.
type Config struct {
	Driver string
	// TTL bounds how long values live. Zero keeps them until deleted.
	TTL    time.Duration
	SQLite *SQLiteConfig
	Redis  *RedisConfig
}

// SQLiteConfig points at the database file.
type SQLiteConfig struct {
	Path string
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
