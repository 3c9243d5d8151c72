package commands

import (
	"context"

	"github.com/dyluth/geowatch/internal/printer"
	"github.com/dyluth/geowatch/internal/render"
	"github.com/dyluth/geowatch/pkg/tracking"
	"github.com/spf13/cobra"
)

var checkpointOutput string

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint",
	Aliases: []string{"checkpoints", "cp"},
	Short:   "Manage checkpoints",
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointList,
}

var checkpointAddCmd = &cobra.Command{
	Use:   "add NAME LAT LON RADIUS",
	Short: "Create a checkpoint",
	Long: `Create a checkpoint. RADIUS is in meters and must be positive.
Numbers are checked locally; nothing is sent if one is malformed.`,
	Example: "  geowatch checkpoint add \"North gate\" 55.7512 37.6184 150",
	Args:    cobra.ExactArgs(4),
	RunE:    runCheckpointAdd,
}

var checkpointUpdateCmd = &cobra.Command{
	Use:     "update ID NAME LAT LON RADIUS",
	Short:   "Replace a checkpoint",
	Example: "  geowatch checkpoint update 5 \"North gate\" 55.7512 37.6184 200",
	Args:    cobra.ExactArgs(5),
	RunE:    runCheckpointUpdate,
}

func init() {
	checkpointListCmd.Flags().StringVarP(&checkpointOutput, "output", "o", render.FormatDefault, "Output format (default or json)")
	checkpointCmd.AddCommand(checkpointListCmd, checkpointAddCmd, checkpointUpdateCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	if err := validateOutput(checkpointOutput); err != nil {
		return err
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

	cps, err := a.client.ListCheckpoints(ctx, key)
	if err != nil {
		return printer.FromError(err)
	}
	if checkpointOutput == render.FormatJSON {
		return render.FormatJSONL(printer.Out(), cps)
	}
	render.FormatCheckpoints(printer.Out(), cps)
	return nil
}

func runCheckpointAdd(cmd *cobra.Command, args []string) error {
	in, err := tracking.ParseCheckpointInput(args[0], args[1], args[2], args[3])
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

	cp, err := a.client.CreateCheckpoint(ctx, key, in)
	if err != nil {
		return printer.FromError(err)
	}
	printer.Success("Created checkpoint %s (id %d)\n", cp.Name, cp.ID)
	return nil
}

func runCheckpointUpdate(cmd *cobra.Command, args []string) error {
	id, err := tracking.ParseID("checkpoint id", args[0])
	if err != nil {
		return printer.FromError(err)
	}
	in, err := tracking.ParseCheckpointInput(args[1], args[2], args[3], args[4])
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

	cp, err := a.client.UpdateCheckpoint(ctx, key, id, in)
	if err != nil {
		return printer.FromError(err)
	}
	printer.Success("Updated checkpoint %s (id %d)\n", cp.Name, cp.ID)
	return nil
}
