package commands

import (
	"context"
	"os"
	"strings"

	"github.com/dyluth/geowatch/internal/printer"
	"github.com/dyluth/geowatch/internal/render"
	"github.com/spf13/cobra"
)

var (
	loginKey     string
	whoamiOutput string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Validate an administrator API key and save it",
	Long: `Validate an API key against the tracking service and save it for later
commands. Only administrator keys are accepted.

The key is read from --key, or from GEOWATCH_API_KEY when the flag is omitted.

Examples:
  geowatch login --key 3f9c...
  GEOWATCH_API_KEY=3f9c... geowatch login`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved API key",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the identity behind the saved API key",
	Long: `Re-validate the saved API key and show who it belongs to.
A key that is no longer accepted is cleared.`,
	Args: cobra.NoArgs,
	RunE: runWhoami,
}

func init() {
	loginCmd.Flags().StringVarP(&loginKey, "key", "k", "", "Administrator API key")
	whoamiCmd.Flags().StringVarP(&whoamiOutput, "output", "o", render.FormatDefault, "Output format (default or json)")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	key := strings.TrimSpace(loginKey)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("GEOWATCH_API_KEY"))
	}
	if key == "" {
		return printer.Error(
			"API key required",
			"No API key was given.",
			[]string{"Pass it with --key:\n  geowatch login --key <KEY>", "Or set GEOWATCH_API_KEY"},
		)
	}

	a, err := setupApp()
	if err != nil {
		return err
	}
	defer a.Close()

	printer.Step("Validating key against %s\n", a.cfg.API.BaseURL)
	sess := a.session()
	if err := sess.Login(ctx, key); err != nil {
		return printer.FromError(err)
	}

	id := sess.Current().Identity
	printer.Success("Logged in as %s (id %d)\n", id.Name, id.ID)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := setupApp()
	if err != nil {
		return err
	}
	defer a.Close()

	a.session().Logout(context.Background())
	printer.Success("Logged out of profile '%s'\n", a.cfg.Profile)
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	if err := validateOutput(whoamiOutput); err != nil {
		return err
	}

	a, err := setupApp()
	if err != nil {
		return err
	}
	defer a.Close()

	_, id, err := a.requireKey(context.Background())
	if err != nil {
		return err
	}

	if whoamiOutput == render.FormatJSON {
		return render.FormatSingleJSON(printer.Out(), id)
	}
	printer.Info("%s (id %d, administrator) on profile '%s'\n", id.Name, id.ID, a.cfg.Profile)
	return nil
}

func validateOutput(format string) error {
	switch format {
	case render.FormatDefault, render.FormatJSON:
		return nil
	default:
		return printer.Error(
			"invalid output format",
			"Unknown format: "+format,
			[]string{"Valid formats: default, json"},
		)
	}
}
