package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, "goble", cfg.Backend)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.OpTimeout)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, 5*time.Millisecond, cfg.Sim.Options.Latency, "nested sim defaults MUST be applied")
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: logrus.InfoLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: logrus.WarnLevel,
		},
		{
			name:     "creates logger with error level",
			logLevel: logrus.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.logLevel, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{name: "table format is valid", mutate: func(c *Config) { c.OutputFormat = "table" }, valid: true},
		{name: "json format is valid", mutate: func(c *Config) { c.OutputFormat = "json" }, valid: true},
		{name: "csv format is valid", mutate: func(c *Config) { c.OutputFormat = "csv" }, valid: true},
		{name: "unknown format", mutate: func(c *Config) { c.OutputFormat = "xml" }, valid: false},
		{name: "tinygo backend", mutate: func(c *Config) { c.Backend = "tinygo" }, valid: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "bluez" }, valid: false},
		{name: "sim without peripherals", mutate: func(c *Config) { c.Backend = "sim" }, valid: false},
		{name: "negative timeout", mutate: func(c *Config) { c.OpTimeout = -time.Second }, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	// GOAL: Verify a YAML file overrides only the keys it names
	//
	// TEST SCENARIO: Write a sim config → load → verify overrides, defaults and peripherals
	path := filepath.Join(t.TempDir(), "blestream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
backend: sim
op_timeout: 2s
sim:
  options:
    latency: 1ms
  peripherals:
    - address: "AA:BB:CC:DD:EE:01"
      name: "Pulse"
      services:
        - uuid: "180d"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "sim", cfg.Backend)
	assert.Equal(t, 2*time.Second, cfg.OpTimeout)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout, "keys absent from the file MUST keep their defaults")
	assert.Equal(t, time.Millisecond, cfg.Sim.Options.Latency)
	assert.Equal(t, 100*time.Millisecond, cfg.Sim.Options.NotifyInterval)
	require.Len(t, cfg.Sim.Peripherals, 1)
	assert.Equal(t, "Pulse", cfg.Sim.Peripherals[0].Name)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [unterminated"), 0o600))
	_, err = Load(path)
	assert.ErrorContains(t, err, "parsing config file")

	require.NoError(t, os.WriteFile(path, []byte("output_format: xml"), 0o600))
	_, err = Load(path)
	assert.ErrorContains(t, err, "output_format")
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
