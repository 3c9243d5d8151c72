package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dyluth/geowatch/internal/printer"
	"github.com/dyluth/geowatch/internal/render"
	"github.com/dyluth/geowatch/internal/viewport"
	"github.com/dyluth/geowatch/pkg/tracking"
	"github.com/spf13/cobra"
)

var viewportOutput string

var viewportCmd = &cobra.Command{
	Use:   "viewport",
	Short: "Show or change the saved map position",
	Long: `The viewport is the map center and zoom restored on the next watch.
Until a viewport is saved, the first successful load fits the map to the data.`,
}

var viewportShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved viewport",
	Args:  cobra.NoArgs,
	RunE:  runViewportShow,
}

var viewportSaveCmd = &cobra.Command{
	Use:     "save LAT LNG ZOOM",
	Short:   "Save a viewport and disable auto-fit",
	Example: "  geowatch viewport save 55.75 37.61 12",
	Args:    cobra.ExactArgs(3),
	RunE:    runViewportSave,
}

var viewportResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the saved viewport and re-enable auto-fit",
	Args:  cobra.NoArgs,
	RunE:  runViewportReset,
}

func init() {
	viewportShowCmd.Flags().StringVarP(&viewportOutput, "output", "o", render.FormatDefault, "Output format (default or json)")
	viewportCmd.AddCommand(viewportShowCmd, viewportSaveCmd, viewportResetCmd)
	rootCmd.AddCommand(viewportCmd)
}

func (a *app) viewport() *viewport.Store {
	return viewport.New(a.store, a.cfg.Profile, a.cfg.FallbackViewport(), a.log.Named("viewport"))
}

func runViewportShow(cmd *cobra.Command, args []string) error {
	if err := validateOutput(viewportOutput); err != nil {
		return err
	}
	a, err := setupApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	vp := a.viewport()
	v := vp.Load(ctx)

	if viewportOutput == render.FormatJSON {
		return render.FormatSingleJSON(printer.Out(), v)
	}
	printer.Info("Center: %.5f, %.5f\n", v.Lat, v.Lng)
	printer.Info("Zoom:   %d\n", v.Zoom)
	if vp.NeedsFit(ctx) {
		printer.Info("Auto-fit armed: the next load fits the map to the data\n")
	}
	return nil
}

func runViewportSave(cmd *cobra.Command, args []string) error {
	v, err := parseViewport(args[0], args[1], args[2])
	if err != nil {
		return printer.FromError(err)
	}

	a, err := setupApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.viewport().Save(context.Background(), v); err != nil {
		return printer.Error("invalid viewport", err.Error(), []string{"Latitude is -90..90, longitude -180..180, zoom 0..22"})
	}
	printer.Success("Viewport saved for profile '%s'\n", a.cfg.Profile)
	return nil
}

func runViewportReset(cmd *cobra.Command, args []string) error {
	a, err := setupApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.viewport().Reset(context.Background()); err != nil {
		return printer.Error("failed to reset viewport", err.Error(), nil)
	}
	printer.Success("Viewport reset, the next load will fit the map to the data\n")
	return nil
}

func parseViewport(lat, lng, zoom string) (tracking.Viewport, error) {
	var v tracking.Viewport
	var err error
	if v.Lat, err = strconv.ParseFloat(lat, 64); err != nil {
		return v, fmt.Errorf("%w: latitude %q", tracking.ErrNonNumericField, lat)
	}
	if v.Lng, err = strconv.ParseFloat(lng, 64); err != nil {
		return v, fmt.Errorf("%w: longitude %q", tracking.ErrNonNumericField, lng)
	}
	if v.Zoom, err = strconv.Atoi(zoom); err != nil {
		return v, fmt.Errorf("%w: zoom %q", tracking.ErrNonNumericField, zoom)
	}
	return v, nil
}
