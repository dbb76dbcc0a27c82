package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blestream/internal/stream"
	"github.com/srg/blestream/peripheral"
)

// rssiCmd represents the rssi command
var rssiCmd = &cobra.Command{
	Use:   "rssi <device-address>",
	Short: "Read the signal strength of a connected device",
	Long: `Connects to a BLE device and reads its RSSI.

Examples:
  # One reading
  blestream rssi AA:BB:CC:DD:EE:FF

  # Ten readings, half a second apart
  blestream rssi AA:BB:CC:DD:EE:FF --count 10 --interval 500ms`,
	Args: cobra.ExactArgs(1),
	RunE: runRSSI,
}

var (
	rssiCount    int
	rssiInterval time.Duration
)

func init() {
	rssiCmd.Flags().IntVarP(&rssiCount, "count", "n", 1, "Number of readings")
	rssiCmd.Flags().DurationVar(&rssiInterval, "interval", time.Second, "Delay between readings")
	addConnectFlags(rssiCmd)
}

func runRSSI(cmd *cobra.Command, args []string) error {
	if rssiCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()
	timeout := opTimeout(cmd, s)

	_, err = withDevice(cmd, s, args[0], func(ctx context.Context, p *peripheral.Peripheral) (struct{}, error) {
		for i := 0; i < rssiCount; i++ {
			if i > 0 {
				select {
				case <-ctx.Done():
					return struct{}{}, ctx.Err()
				case <-time.After(rssiInterval):
				}
			}

			rctx, cancel := withTimeout(ctx, timeout)
			rssi, err := stream.First(rctx, p.ObserveRSSIValue())
			cancel()
			if err != nil {
				return struct{}{}, fmt.Errorf("read RSSI: %w", err)
			}
			fmt.Fprintf(out, "%s dBm\n", rssiString(rssi))
		}
		return struct{}{}, nil
	})
	return err
}
