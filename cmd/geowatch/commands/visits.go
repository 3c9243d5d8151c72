package commands

import (
	"context"
	"time"

	"github.com/dyluth/geowatch/internal/filter"
	"github.com/dyluth/geowatch/internal/printer"
	"github.com/dyluth/geowatch/internal/render"
	"github.com/dyluth/geowatch/pkg/tracking"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	visitsID         string
	visitsUser       string
	visitsCheckpoint string
	visitsActive     bool
	visitsOutput     string
)

var visitsCmd = &cobra.Command{
	Use:   "visits",
	Short: "List checkpoint visits",
	Long: `List checkpoint visits. Filters are combined with AND;
--active keeps only visits that have not ended yet.

Examples:
  geowatch visits
  geowatch visits --user 2 --active
  geowatch visits --checkpoint 5 --output=json`,
	Args: cobra.NoArgs,
	RunE: runVisits,
}

func init() {
	visitsCmd.Flags().StringVar(&visitsID, "id", "", "Visit ID")
	visitsCmd.Flags().StringVar(&visitsUser, "user", "", "User ID")
	visitsCmd.Flags().StringVar(&visitsCheckpoint, "checkpoint", "", "Checkpoint ID")
	visitsCmd.Flags().BoolVar(&visitsActive, "active", false, "Only visits still in progress")
	visitsCmd.Flags().StringVarP(&visitsOutput, "output", "o", render.FormatDefault, "Output format (default or json)")
	rootCmd.AddCommand(visitsCmd)
}

func runVisits(cmd *cobra.Command, args []string) error {
	if err := validateOutput(visitsOutput); err != nil {
		return err
	}
	criteria, err := parseVisitCriteria()
	if err != nil {
		return printer.FromError(err)
	}

	a, err := setupApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	key, _, err := a.requireKey(ctx)
	if err != nil {
		return err
	}

	var (
		visits      []tracking.Visit
		users       []tracking.Identity
		checkpoints []tracking.Checkpoint
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		visits, err = a.client.ListVisits(gctx, key, criteria.Query())
		return err
	})
	if visitsOutput == render.FormatDefault {
		g.Go(func() (err error) {
			users, err = a.client.ListUsers(gctx, key)
			return err
		})
		g.Go(func() (err error) {
			checkpoints, err = a.client.ListCheckpoints(gctx, key)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return printer.FromError(err)
	}

	visits = criteria.Apply(visits)

	if visitsOutput == render.FormatJSON {
		return render.FormatJSONL(printer.Out(), visits)
	}
	render.FormatVisits(printer.Out(), visits, users, checkpoints, time.Now())
	return nil
}

func parseVisitCriteria() (filter.VisitCriteria, error) {
	c := filter.VisitCriteria{ActiveOnly: visitsActive}
	for _, f := range []struct {
		name string
		raw  string
		dst  *int64
	}{
		{"--id", visitsID, &c.ID},
		{"--user", visitsUser, &c.UserID},
		{"--checkpoint", visitsCheckpoint, &c.CheckpointID},
	} {
		if f.raw == "" {
			continue
		}
		id, err := tracking.ParseID(f.name, f.raw)
		if err != nil {
			return filter.VisitCriteria{}, err
		}
		*f.dst = id
	}
	return c, nil
}
