package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dyluth/geowatch/internal/live"
	"github.com/dyluth/geowatch/internal/metrics"
	"github.com/dyluth/geowatch/internal/printer"
	"github.com/dyluth/geowatch/internal/reconcile"
	"github.com/dyluth/geowatch/internal/render"
	"github.com/dyluth/geowatch/internal/session"
	"github.com/dyluth/geowatch/internal/timespec"
	"github.com/dyluth/geowatch/pkg/tracking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	watchFrom        string
	watchTo          string
	watchUsers       string
	watchOutput      string
	watchOnce        bool
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live checkpoint and location snapshots",
	Long: `Poll the tracking service on a fixed cadence and print a snapshot after
every applied cycle. Responses that arrive out of order, or for a time range
or session that is no longer current, are discarded.

Time Formats:
  Duration:  1h, 30m, 2h30m (relative to now)
  RFC3339:   2025-10-29T13:00:00Z
  Local:     2025-10-29T13:00 (UTC)

Output Formats:
  default - Human-readable tables
  json    - One JSON snapshot per line

Examples:
  # Follow everyone
  geowatch watch

  # Only users 2 and 3, locations updated in the last two hours
  geowatch watch --users 2,3 --from 2h --to 0s

  # One snapshot as JSON, then exit
  geowatch watch --once --output=json

  # Expose /healthz and /metrics
  geowatch watch --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchFrom, "from", "", "Start of the location window")
	watchCmd.Flags().StringVar(&watchTo, "to", "", "End of the location window")
	watchCmd.Flags().StringVar(&watchUsers, "users", "", "Comma-separated user IDs to show (default: all)")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", render.FormatDefault, "Output format (default or json)")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Exit after the first applied snapshot")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve /healthz and /metrics on this address")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := validateOutput(watchOutput); err != nil {
		return err
	}

	window, err := timespec.ParseRange(watchFrom, watchTo, time.Now())
	if err != nil {
		return printer.FromError(err)
	}
	users, err := parseUserList(watchUsers)
	if err != nil {
		return printer.FromError(err)
	}

	a, err := setupApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m, err := metrics.New(metrics.Options{Registerer: registry})
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	engine, err := live.New(ctx, live.Options{
		Config:  a.cfg,
		Client:  a.client,
		Store:   a.store,
		Logger:  a.log,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if err := engine.Restore(ctx); err != nil {
		return printer.FromError(err)
	}
	if !engine.Session().IsAuthenticated() {
		return printer.FromError(tracking.ErrNotAuthenticated)
	}

	if window != nil {
		if err := engine.SetRange(*window); err != nil {
			return printer.FromError(err)
		}
	}
	if users != nil {
		engine.SetUsers(users...)
	}

	if watchMetricsAddr != "" {
		health := live.NewHealthServer(watchMetricsAddr, engine, registry, a.log)
		if err := health.Start(); err != nil {
			return printer.Error("metrics server failed", err.Error(), []string{"Choose another --metrics-addr"})
		}
		defer health.Shutdown(context.Background())
		printer.Step("Serving /healthz and /metrics on %s\n", health.Addr())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := printer.Out()
	var (
		renderErr error
		done      atomic.Bool
	)
	if err := engine.OnSnapshot(func(snap reconcile.Snapshot) {
		if snap.Loading || done.Load() {
			return
		}
		if watchOutput == render.FormatJSON {
			if err := render.FormatSnapshotJSONL(out, snap); err != nil {
				renderErr = err
				cancel()
			}
		} else {
			render.FormatSnapshot(out, snap, time.Now())
			fmt.Fprintln(out)
		}
		if watchOnce && snap.Err == nil {
			done.Store(true)
			cancel()
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to snapshots: %w", err)
	}

	var sessionErr error
	if err := engine.OnSession(func(s session.Session) {
		if s.Loading || s.IsAuthenticated() {
			return
		}
		sessionErr = s.Err
		if sessionErr == nil {
			sessionErr = tracking.ErrNotAuthenticated
		}
		cancel()
	}); err != nil {
		return fmt.Errorf("failed to subscribe to session: %w", err)
	}

	if watchOutput == render.FormatDefault {
		printer.Step("Watching as %s, refreshing every %s (Ctrl+C to stop)\n\n", engine.Session().Identity.Name, a.cfg.Poll.Interval)
	}

	if err := engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("engine stopped: %w", err)
	}

	switch {
	case renderErr != nil:
		return renderErr
	case sessionErr != nil:
		return printer.FromError(sessionErr)
	}
	return nil
}

// parseUserList turns "1, 2,3" into IDs. Empty input returns nil (all users).
func parseUserList(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := tracking.ParseID("--users", p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
