package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blestream/central"
	"github.com/srg/blestream/internal/devicefactory"
	"github.com/srg/blestream/pkg/config"
)

// session is the per-command runtime: config, logger and a Central on the
// configured backend.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	central *central.Central
}

// loadConfig reads --config, if given, and applies --backend on top.
func loadConfig(cmd *cobra.Command) (cfg *config.Config, fromFile bool, err error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, false, err
		}
		fromFile = true
	} else {
		cfg = config.DefaultConfig()
	}

	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
		if err := cfg.Validate(); err != nil {
			return nil, false, err
		}
	}
	return cfg, fromFile, nil
}

// openSession builds the session of cmd. Callers must Close it.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, fromFile, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, "verbose", cfg, fromFile)
	if err != nil {
		return nil, err
	}

	adapter, err := devicefactory.NewAdapter(cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.WithField("backend", cfg.Backend).Debug("Session opened")
	return &session{cfg: cfg, logger: logger, central: central.New(adapter, logger)}, nil
}

// Close releases the adapter.
func (s *session) Close() {
	if err := s.central.Close(); err != nil {
		s.logger.WithError(err).Warn("failed to close adapter")
	}
}

// durationFlag returns the value of a duration flag when it was set on the
// command line and fallback otherwise.
func durationFlag(cmd *cobra.Command, name string, fallback time.Duration) time.Duration {
	if cmd.Flags().Changed(name) {
		d, _ := cmd.Flags().GetDuration(name)
		return d
	}
	return fallback
}

// withTimeout bounds ctx by d; d <= 0 leaves it unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
