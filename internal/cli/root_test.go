package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "crosstx", cmd.Use)
	assert.Contains(t, cmd.Long, "transaction log")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"history", "validate", "redrive", "record", "test", "watch"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestHistoryCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	historyCmd, _, err := cmd.Find([]string{"history"})
	require.NoError(t, err)

	limitFlag := historyCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "n", limitFlag.Shorthand)
	assert.Equal(t, "50", limitFlag.DefValue)
}

func TestWatchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	watchCmd, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)

	intervalFlag := watchCmd.Flags().Lookup("interval")
	require.NotNil(t, intervalFlag)
	assert.Equal(t, "30s", intervalFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	cfg := writeConfig(t, "")
	out, _, err := execute(t, "--config", cfg, "--format", "xml", "history")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `invalid format "xml"`)
}

func TestMissingConfig(t *testing.T) {
	_, _, err := execute(t, "--config", "/nonexistent/crosstx.yaml", "history")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
