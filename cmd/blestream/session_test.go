package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probeCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "probe"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("backend", "", "")
	cmd.Flags().Duration("timeout", 30*time.Second, "")
	return cmd
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, fromFile, err := loadConfig(probeCommand())
		require.NoError(t, err)
		assert.False(t, fromFile)
		assert.Equal(t, "goble", cfg.Backend)
	})

	t.Run("file with backend override", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cfg.yaml")
		require.NoError(t, os.WriteFile(path, []byte("backend: sim\nop_timeout: 3s\nsim:\n  peripherals: [{address: \"AA:BB:CC:DD:EE:01\"}]\n"), 0o600))

		cmd := probeCommand()
		require.NoError(t, cmd.Flags().Set("config", path))
		cfg, fromFile, err := loadConfig(cmd)
		require.NoError(t, err)
		assert.True(t, fromFile)
		assert.Equal(t, "sim", cfg.Backend)
		assert.Equal(t, 3*time.Second, cfg.OpTimeout)

		require.NoError(t, cmd.Flags().Set("backend", "tinygo"))
		cfg, _, err = loadConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, "tinygo", cfg.Backend, "--backend MUST override the config file")
	})

	t.Run("invalid backend", func(t *testing.T) {
		cmd := probeCommand()
		require.NoError(t, cmd.Flags().Set("backend", "bluez"))
		_, _, err := loadConfig(cmd)
		assert.ErrorContains(t, err, `got "bluez"`)
	})

	t.Run("missing file", func(t *testing.T) {
		cmd := probeCommand()
		require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "absent.yaml")))
		_, _, err := loadConfig(cmd)
		assert.ErrorContains(t, err, "reading config file")
	})
}

func TestDurationFlag(t *testing.T) {
	cmd := probeCommand()
	assert.Equal(t, 5*time.Second, durationFlag(cmd, "timeout", 5*time.Second), "an unset flag MUST fall back")

	require.NoError(t, cmd.Flags().Set("timeout", "2s"))
	assert.Equal(t, 2*time.Second, durationFlag(cmd, "timeout", 5*time.Second))
}
