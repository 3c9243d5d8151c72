package commands

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRootCommand_ShowsHelpWhenNoSubcommand checks that a bare invocation
// prints help rather than silently succeeding.
func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	stdout, _, err := runCLI(t)
	require.NoError(t, err)

	assert.Contains(t, stdout, "Usage:")
	assert.Contains(t, stdout, "geowatch")
	assert.Contains(t, stdout, "watch")
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, _, err := runCLI(t, "--unknown-flag", "value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

// TestRootCommand_RejectsSubcommandFlags checks that flags belonging to a
// subcommand are not accepted on the root command.
func TestRootCommand_RejectsSubcommandFlags(t *testing.T) {
	_, _, err := runCLI(t, "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"login", "logout", "whoami", "watch", "visits", "checkpoint", "users", "viewport"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestSetVersionInfo(t *testing.T) {
	prev := rootCmd.Version
	t.Cleanup(func() { rootCmd.Version = prev })

	SetVersionInfo("1.2.3", "abc123", "2025-01-01")

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	resetFlags(rootCmd)
	rootCmd.SetArgs([]string{"--version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "1.2.3 (commit: abc123")
}

// leaf finds a registered subcommand by path.
func leaf(t *testing.T, path ...string) *cobra.Command {
	t.Helper()
	cmd, _, err := rootCmd.Find(path)
	require.NoError(t, err)
	return cmd
}

func TestWatchFlagsDefaults(t *testing.T) {
	cmd := leaf(t, "watch")
	for flag, def := range map[string]string{
		"from":         "",
		"to":           "",
		"users":        "",
		"output":       "default",
		"once":         "false",
		"metrics-addr": "",
	} {
		f := cmd.Flags().Lookup(flag)
		require.NotNil(t, f, "flag %s", flag)
		assert.Equal(t, def, f.DefValue, "flag %s", flag)
	}
}
