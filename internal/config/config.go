package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dyluth/geowatch/pkg/tracking"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a field is omitted.
const (
	DefaultProfile              = "default"
	DefaultPollInterval         = 10 * time.Second
	DefaultMaxInFlight          = 2
	DefaultIdentityRefreshEvery = 6
	DefaultAPITimeout           = 15 * time.Second
	DefaultViewportLat          = 55.75
	DefaultViewportLng          = 37.61
	DefaultViewportZoom         = 10
	DefaultFitPaddingPx         = 50
	DefaultFitMaxZoom           = 16
	DefaultCanvasWidth          = 1024
	DefaultCanvasHeight         = 600
)

// GeowatchConfig represents the top-level geowatch.yml configuration
type GeowatchConfig struct {
	Version  string          `yaml:"version"`
	Profile  string          `yaml:"profile,omitempty"` // Namespaces persisted state
	API      *APIConfig      `yaml:"api"`
	Poll     *PollConfig     `yaml:"poll,omitempty"`
	Store    *StoreConfig    `yaml:"store,omitempty"`
	Viewport *ViewportConfig `yaml:"viewport,omitempty"`
	Log      *LogConfig      `yaml:"log,omitempty"`
}

// APIConfig points at the tracking REST service
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// PollConfig tunes the refresh loop
type PollConfig struct {
	Interval             time.Duration `yaml:"interval,omitempty"`
	MaxInFlight          int           `yaml:"max_in_flight,omitempty"`          // Outstanding cycles, including one superseded by a manual refresh
	IdentityRefreshEvery int           `yaml:"identity_refresh_every,omitempty"` // Re-check privileges every N applied cycles (0 = default)
	IncludeVisits        *bool         `yaml:"include_visits,omitempty"`
}

// StoreConfig selects the key-value driver for session and viewport state
type StoreConfig struct {
	Driver string        `yaml:"driver,omitempty"` // memory, sqlite or redis
	Path   string        `yaml:"path,omitempty"`   // sqlite file
	TTL    time.Duration `yaml:"ttl,omitempty"`
	Redis  *RedisConfig  `yaml:"redis,omitempty"`
}

// RedisConfig captures redis connection options
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// ViewportConfig holds the default map position and auto-fit parameters
type ViewportConfig struct {
	Lat          *float64 `yaml:"lat,omitempty"`
	Lng          *float64 `yaml:"lng,omitempty"`
	Zoom         *int     `yaml:"zoom,omitempty"`
	FitPaddingPx int      `yaml:"fit_padding_px,omitempty"`
	FitMaxZoom   int      `yaml:"fit_max_zoom,omitempty"`
	CanvasWidth  int      `yaml:"canvas_width,omitempty"`
	CanvasHeight int      `yaml:"canvas_height,omitempty"`
}

// LogConfig selects zap level and encoding
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // json or console
}

// Default returns a configuration with every default applied.
// The API base URL is left empty and must come from a file or the environment.
func Default() *GeowatchConfig {
	c := &GeowatchConfig{Version: "1.0", API: &APIConfig{}}
	c.applyDefaults()
	return c
}

// Validate applies defaults and performs strict validation on the configuration
func (c *GeowatchConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	c.applyDefaults()

	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required (or set GEOWATCH_API_URL)")
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must be >= 0, got %s", c.API.Timeout)
	}

	if c.Poll.Interval < time.Second {
		return fmt.Errorf("poll.interval must be at least 1s, got %s", c.Poll.Interval)
	}
	if c.Poll.MaxInFlight < 1 {
		return fmt.Errorf("poll.max_in_flight must be >= 1, got %d", c.Poll.MaxInFlight)
	}
	if c.Poll.IdentityRefreshEvery < 1 {
		return fmt.Errorf("poll.identity_refresh_every must be >= 1, got %d", c.Poll.IdentityRefreshEvery)
	}

	switch c.Store.Driver {
	case "memory", "sqlite":
	case "redis":
		if c.Store.Redis == nil || c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required when store.driver is 'redis'")
		}
	default:
		return fmt.Errorf("invalid store.driver: %s (must be 'memory', 'sqlite', or 'redis')", c.Store.Driver)
	}

	v := c.Viewport
	if *v.Lat < -90 || *v.Lat > 90 || *v.Lng < -180 || *v.Lng > 180 {
		return fmt.Errorf("viewport default position out of range: %v,%v", *v.Lat, *v.Lng)
	}
	if *v.Zoom < 0 || *v.Zoom > 22 {
		return fmt.Errorf("viewport.zoom must be between 0 and 22, got %d", *v.Zoom)
	}
	if v.FitMaxZoom < 0 || v.FitMaxZoom > 22 {
		return fmt.Errorf("viewport.fit_max_zoom must be between 0 and 22, got %d", v.FitMaxZoom)
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid log.format: %s (must be 'json' or 'console')", c.Log.Format)
	}

	return nil
}

func (c *GeowatchConfig) applyDefaults() {
	if c.Profile == "" {
		c.Profile = DefaultProfile
	}
	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}

	if c.Poll == nil {
		c.Poll = &PollConfig{}
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = DefaultPollInterval
	}
	if c.Poll.MaxInFlight == 0 {
		c.Poll.MaxInFlight = DefaultMaxInFlight
	}
	if c.Poll.IdentityRefreshEvery == 0 {
		c.Poll.IdentityRefreshEvery = DefaultIdentityRefreshEvery
	}
	if c.Poll.IncludeVisits == nil {
		include := true
		c.Poll.IncludeVisits = &include
	}

	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = filepath.Join(configDir(), "state.db")
	}

	if c.Viewport == nil {
		c.Viewport = &ViewportConfig{}
	}
	if c.Viewport.Lat == nil {
		lat := DefaultViewportLat
		c.Viewport.Lat = &lat
	}
	if c.Viewport.Lng == nil {
		lng := DefaultViewportLng
		c.Viewport.Lng = &lng
	}
	if c.Viewport.Zoom == nil {
		zoom := DefaultViewportZoom
		c.Viewport.Zoom = &zoom
	}
	if c.Viewport.FitPaddingPx == 0 {
		c.Viewport.FitPaddingPx = DefaultFitPaddingPx
	}
	if c.Viewport.FitMaxZoom == 0 {
		c.Viewport.FitMaxZoom = DefaultFitMaxZoom
	}
	if c.Viewport.CanvasWidth == 0 {
		c.Viewport.CanvasWidth = DefaultCanvasWidth
	}
	if c.Viewport.CanvasHeight == 0 {
		c.Viewport.CanvasHeight = DefaultCanvasHeight
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "warn"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// ApplyEnv overrides file values with GEOWATCH_* environment variables.
func (c *GeowatchConfig) ApplyEnv() error {
	if c.API == nil {
		c.API = &APIConfig{}
	}
	if v := os.Getenv("GEOWATCH_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("GEOWATCH_PROFILE"); v != "" {
		c.Profile = v
	}
	if v := os.Getenv("GEOWATCH_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid GEOWATCH_POLL_INTERVAL: %w", err)
		}
		if c.Poll == nil {
			c.Poll = &PollConfig{}
		}
		c.Poll.Interval = d
	}

	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	if v := os.Getenv("GEOWATCH_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("GEOWATCH_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("GEOWATCH_REDIS_ADDR"); v != "" {
		if c.Store.Redis == nil {
			c.Store.Redis = &RedisConfig{}
		}
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("GEOWATCH_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid GEOWATCH_REDIS_DB: %w", err)
		}
		if c.Store.Redis == nil {
			c.Store.Redis = &RedisConfig{}
		}
		c.Store.Redis.DB = db
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if v := os.Getenv("GEOWATCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("GEOWATCH_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

// Load reads and validates geowatch.yml from the specified path
func Load(path string) (*GeowatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config GeowatchConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Resolve loads an optional .env file, then geowatch.yml if present, falling
// back to defaults plus environment when the file does not exist.
func Resolve(path, envFile string) (*GeowatchConfig, error) {
	if envFile != "" {
		// godotenv never overrides variables already set in the process
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultPath is $XDG_CONFIG_HOME/geowatch/geowatch.yml (or the platform equivalent).
func DefaultPath() string {
	return filepath.Join(configDir(), "geowatch.yml")
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".geowatch"
	}
	return filepath.Join(dir, "geowatch")
}

// FallbackViewport is the configured default map position.
// Call only on a validated config.
func (c *GeowatchConfig) FallbackViewport() tracking.Viewport {
	return tracking.Viewport{Lat: *c.Viewport.Lat, Lng: *c.Viewport.Lng, Zoom: *c.Viewport.Zoom}
}
