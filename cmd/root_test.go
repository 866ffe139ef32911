package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"migrate", "import", "crmsync", "run", "leads", "settings", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "dialer-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestImportCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"file", "user", "source"} {
		flag := importCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "import should have --%s flag", flagName)
	}
}

func TestRunCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"user", "loop", "interval"} {
		flag := runCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "run should have --%s flag", flagName)
	}
}

func TestCrmsyncCommand_Flags(t *testing.T) {
	flag := crmsyncCmd.Flags().Lookup("user")
	require.NotNil(t, flag, "crmsync should have --user flag")
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestLeadsCommand_HasSubcommands(t *testing.T) {
	cmds := leadsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"list", "set-status", "delete"} {
		assert.True(t, names[name], "leads should have subcommand %q", name)
	}
}

func TestSettingsCommand_HasSubcommands(t *testing.T) {
	cmds := settingsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, name := range []string{"show", "set"} {
		assert.True(t, names[name], "settings should have subcommand %q", name)
	}
}
