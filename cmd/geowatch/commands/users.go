package commands

import (
	"context"

	"github.com/dyluth/geowatch/internal/printer"
	"github.com/dyluth/geowatch/internal/render"
	"github.com/dyluth/geowatch/pkg/tracking"
	"github.com/spf13/cobra"
)

var (
	usersOutput string
	userIsAdmin bool
)

var usersCmd = &cobra.Command{
	Use:     "users",
	Aliases: []string{"user"},
	Short:   "Manage tracked users",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE:  runUsersList,
}

var usersAddCmd = &cobra.Command{
	Use:     "add NAME",
	Short:   "Create a user",
	Example: "  geowatch users add \"Courier 7\"\n  geowatch users add Dispatcher --admin",
	Args:    cobra.ExactArgs(1),
	RunE:    runUsersAdd,
}

var usersQRCmd = &cobra.Command{
	Use:   "qr ID",
	Short: "Print the address of a user's enrollment QR code",
	Long: `Print the address of the QR code image a device scans to enroll as this
user. The image is not downloaded.`,
	Args: cobra.ExactArgs(1),
	RunE: runUsersQR,
}

func init() {
	usersListCmd.Flags().StringVarP(&usersOutput, "output", "o", render.FormatDefault, "Output format (default or json)")
	usersAddCmd.Flags().BoolVar(&userIsAdmin, "admin", false, "Grant administrator rights")
	usersCmd.AddCommand(usersListCmd, usersAddCmd, usersQRCmd)
	rootCmd.AddCommand(usersCmd)
}

func runUsersList(cmd *cobra.Command, args []string) error {
	if err := validateOutput(usersOutput); err != nil {
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

	users, err := a.client.ListUsers(ctx, key)
	if err != nil {
		return printer.FromError(err)
	}
	if usersOutput == render.FormatJSON {
		return render.FormatJSONL(printer.Out(), users)
	}
	render.FormatUsers(printer.Out(), users)
	return nil
}

func runUsersAdd(cmd *cobra.Command, args []string) error {
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

	u, err := a.client.CreateUser(ctx, key, tracking.UserInput{Name: args[0], IsAdmin: userIsAdmin})
	if err != nil {
		return printer.FromError(err)
	}
	printer.Success("Created user %s (id %d)\n", u.Name, u.ID)
	printer.Info("Enrollment QR code: %s\n", a.client.QRCodeFileURL(u.ID))
	return nil
}

func runUsersQR(cmd *cobra.Command, args []string) error {
	id, err := tracking.ParseID("user id", args[0])
	if err != nil {
		return printer.FromError(err)
	}
	a, err := setupApp()
	if err != nil {
		return err
	}
	defer a.Close()

	printer.Info("%s\n", a.client.QRCodeFileURL(id))
	return nil
}
