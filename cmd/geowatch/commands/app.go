package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/geowatch/internal/config"
	"github.com/dyluth/geowatch/internal/kvstore"
	"github.com/dyluth/geowatch/internal/logger"
	"github.com/dyluth/geowatch/internal/printer"
	"github.com/dyluth/geowatch/internal/session"
	"github.com/dyluth/geowatch/pkg/tracking"
	"go.uber.org/zap"
)

// app holds what every command needs: configuration, logging, the local
// state store and the REST client.
type app struct {
	cfg    *config.GeowatchConfig
	log    *zap.Logger
	store  kvstore.Store
	client *tracking.Client
}

func setupApp() (*app, error) {
	cfg, err := config.Resolve(configPath, envFile)
	if err != nil {
		return nil, printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{
				"Set the service address:\n  export GEOWATCH_API_URL=http://localhost:8080/api",
				fmt.Sprintf("Or fix the config file:\n  %s", config.DefaultPath()),
			},
		)
	}
	if profile != "" {
		cfg.Profile = profile
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, printer.Error("invalid log settings", err.Error(), nil)
	}

	store, err := kvstore.New(storeConfig(cfg))
	if err != nil {
		return nil, printer.ErrorWithContext(
			"state store unavailable",
			err.Error(),
			map[string]string{"driver": cfg.Store.Driver},
			[]string{"Check the store section of geowatch.yml", "Use the memory driver: GEOWATCH_STORE_DRIVER=memory"},
		)
	}

	client, err := tracking.NewClient(cfg.API.BaseURL, cfg.API.Timeout)
	if err != nil {
		store.Close()
		return nil, printer.Error("invalid api.base_url", err.Error(), nil)
	}

	return &app{cfg: cfg, log: log, store: store, client: client}, nil
}

func (a *app) Close() {
	a.store.Close()
	a.log.Sync()
}

func (a *app) session() *session.Store {
	return session.New(a.client, a.store, a.cfg.Profile, session.WithLogger(a.log.Named("session")))
}

// requireKey restores the saved session and returns its key.
func (a *app) requireKey(ctx context.Context) (string, *tracking.Identity, error) {
	sess := a.session()
	if err := sess.Restore(ctx); err != nil {
		return "", nil, printer.FromError(err)
	}
	cur := sess.Current()
	if !cur.IsAuthenticated() {
		return "", nil, printer.FromError(tracking.ErrNotAuthenticated)
	}
	return cur.APIKey, cur.Identity, nil
}

func storeConfig(cfg *config.GeowatchConfig) kvstore.Config {
	out := kvstore.Config{Driver: cfg.Store.Driver, TTL: cfg.Store.TTL}
	switch cfg.Store.Driver {
	case kvstore.DriverSQLite:
		out.SQLite = &kvstore.SQLiteConfig{Path: cfg.Store.Path}
	case kvstore.DriverRedis:
		r := cfg.Store.Redis
		out.Redis = &kvstore.RedisConfig{Addr: r.Addr, Username: r.Username, Password: r.Password, DB: r.DB}
	}
	return out
}
