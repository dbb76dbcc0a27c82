package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/stream"
	"github.com/srg/blestream/peripheral"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <uuid[,uuid...]>",
	Short: "Read characteristic values",
	Long: `Reads one or more BLE characteristics.

Examples:
  # Read the battery level as hex
  blestream read AA:BB:CC:DD:EE:FF 2a19 --hex

  # Read several characteristics
  blestream read AA:BB:CC:DD:EE:FF 2a19,2a29

  # Every characteristic of a service, once per second until Ctrl+C
  blestream read AA:BB:CC:DD:EE:FF --service 180f --watch 1s`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRead,
}

var (
	readServiceUUID string
	readHex         bool
	readWatch       time.Duration
	readCount       int
)

func init() {
	readCmd.Flags().StringVar(&readServiceUUID, "service", "", "Service UUID (required if a characteristic UUID is ambiguous)")
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Output as hex string; raw bytes by default")
	readCmd.Flags().DurationVar(&readWatch, "watch", 0, "Read again every interval until Ctrl+C")
	readCmd.Flags().IntVar(&readCount, "count", 0, "Stop watching after this many reads; 0 reads until Ctrl+C")
	addConnectFlags(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	var charUUIDs []string
	if len(args) > 1 {
		charUUIDs = parseCSVUUIDs(args[1])
	}
	if len(charUUIDs) == 0 && readServiceUUID == "" {
		return fmt.Errorf("no characteristic UUID given, pass one or use --service")
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
		chars, err := resolveCharacteristics(ctx, p, readServiceUUID, charUUIDs, timeout)
		if err != nil {
			return struct{}{}, err
		}
		for _, c := range chars {
			if props := c.Properties(); props != 0 && !props.Has(device.PropRead) {
				return struct{}{}, fmt.Errorf("characteristic %s is not readable", c.UUID())
			}
		}

		if readWatch <= 0 {
			return struct{}{}, readAll(ctx, out, p, chars, timeout)
		}

		ticker := time.NewTicker(readWatch)
		defer ticker.Stop()
		for n := 1; ; n++ {
			if err := readAll(ctx, out, p, chars, timeout); err != nil {
				return struct{}{}, err
			}
			if readCount > 0 && n >= readCount {
				return struct{}{}, nil
			}
			select {
			case <-ctx.Done():
				return struct{}{}, nil
			case <-ticker.C:
			}
		}
	})
	if errors.Is(err, context.Canceled) && readWatch > 0 {
		return nil
	}
	return err
}

// readAll reads each characteristic once. With several characteristics
// every line is prefixed by the characteristic UUID.
func readAll(ctx context.Context, out io.Writer, p *peripheral.Peripheral, chars []*peripheral.Characteristic, timeout time.Duration) error {
	for _, c := range chars {
		rctx, cancel := withTimeout(ctx, timeout)
		data, err := stream.First(rctx, p.ObserveValue(c).Subscribe())
		cancel()
		if err != nil {
			return fmt.Errorf("read %s: %w", c.ID(), err)
		}

		if len(chars) > 1 {
			fmt.Fprintf(out, "%s: ", device.ShortenUUID(c.UUID()))
		}
		fmt.Fprintln(out, formatValue(data.Value, readHex))
	}
	return nil
}

func formatValue(value []byte, asHex bool) string {
	if asHex {
		return hex.EncodeToString(value)
	}
	return string(value)
}
