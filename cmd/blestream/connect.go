package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blestream/inspector"
)

// addConnectFlags registers the timeouts shared by every command that
// connects. Unset flags fall back to the config file.
func addConnectFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 30*time.Second, "Connection timeout (default from config)")
	cmd.Flags().Duration("op-timeout", 10*time.Second, "Timeout of each discovery, read and write (default from config)")
}

// withDevice connects to address, runs fn and disconnects. The connect
// progress is shown on stderr when it is a terminal.
func withDevice[R any](cmd *cobra.Command, s *session, address string, fn inspector.InspectCallback[R]) (R, error) {
	opts := inspector.DefaultInspectOptions()
	opts.ConnectTimeout = durationFlag(cmd, "timeout", s.cfg.ConnectTimeout)
	opts.OpTimeout = opTimeout(cmd, s)

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", address), "Connecting", "Connected", "Failed")
	progress.Start()
	defer progress.Stop()

	return inspector.InspectDevice(cmd.Context(), s.central, address, opts, s.logger, progress.Callback(), fn)
}

func opTimeout(cmd *cobra.Command, s *session) time.Duration {
	return durationFlag(cmd, "op-timeout", s.cfg.OpTimeout)
}
