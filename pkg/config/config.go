package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/device/sim"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel       logrus.Level  `yaml:"log_level" json:"log_level"`
	Backend        string        `yaml:"backend" json:"backend" default:"goble"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"30s"`
	OpTimeout      time.Duration `yaml:"op_timeout" json:"op_timeout" default:"10s"`
	OutputFormat   string        `yaml:"output_format" json:"output_format" default:"table"`
	Sim            SimConfig     `yaml:"sim" json:"sim"`
}

// SimConfig describes the simulated radio used by the "sim" backend.
type SimConfig struct {
	Options     sim.Options            `yaml:"options" json:"options"`
	Peripherals []sim.PeripheralConfig `yaml:"peripherals" json:"peripherals"`
}

// OutputFormats lists the accepted OutputFormat values.
var OutputFormats = []string{"table", "json", "csv"}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML (or JSON) config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Backend {
	case "goble", "tinygo", "sim":
	default:
		return fmt.Errorf("backend must be goble, tinygo or sim, got %q", c.Backend)
	}

	valid := false
	for _, f := range OutputFormats {
		if c.OutputFormat == f {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("output_format must be table, json or csv, got %q", c.OutputFormat)
	}

	if c.ScanTimeout < 0 || c.ConnectTimeout < 0 || c.OpTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Backend == "sim" && len(c.Sim.Peripherals) == 0 {
		return fmt.Errorf("backend sim needs at least one entry in sim.peripherals")
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
