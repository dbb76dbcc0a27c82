package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/stream"
	"github.com/srg/blestream/peripheral"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <uuid> <data>",
	Short: "Write to a characteristic",
	Long: `Writes data to a BLE characteristic.

Examples:
  # Write string data
  blestream write AA:BB:CC:DD:EE:FF 2a06 "high"

  # Write hex data
  blestream write AA:BB:CC:DD:EE:FF 2a39 01 --hex

  # Write without response (faster, no ACK)
  blestream write AA:BB:CC:DD:EE:FF 2a06 "data" --without-response`,
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

var (
	writeServiceUUID string
	writeHex         bool
	writeNoResponse  bool
)

func init() {
	writeCmd.Flags().StringVar(&writeServiceUUID, "service", "", "Service UUID (required if characteristic UUID is ambiguous)")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Parse input as hex string (e.g., 'FF01'); raw bytes by default")
	writeCmd.Flags().BoolVar(&writeNoResponse, "without-response", false, "Write without response (faster, no ACK); default waits for ACK, if available")
	addConnectFlags(writeCmd)
}

func runWrite(cmd *cobra.Command, args []string) error {
	address, charUUID := args[0], args[1]
	data, err := parseWriteData(args[2])
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cmd.SilenceUsage = true
	timeout := opTimeout(cmd, s)

	_, err = withDevice(cmd, s, address, func(ctx context.Context, p *peripheral.Peripheral) (struct{}, error) {
		chars, err := resolveCharacteristics(ctx, p, writeServiceUUID, []string{charUUID}, timeout)
		if err != nil {
			return struct{}{}, err
		}
		c := chars[0]

		writeType, err := chooseWriteType(c.Properties(), writeNoResponse)
		if err != nil {
			return struct{}{}, fmt.Errorf("characteristic %s: %w", c.UUID(), err)
		}

		wctx, cancel := withTimeout(ctx, timeout)
		defer cancel()
		acked, err := stream.First(wctx, p.WriteValue(data, c, writeType))
		if err != nil {
			return struct{}{}, err
		}
		if !acked {
			return struct{}{}, fmt.Errorf("characteristic %s: the device acknowledged a different characteristic", c.UUID())
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Write successful")
	return nil
}

// chooseWriteType picks the write type allowed by props. Unknown properties
// (zero) allow both.
func chooseWriteType(props device.Properties, withoutResponse bool) (device.WriteType, error) {
	if props == 0 {
		if withoutResponse {
			return device.WithoutResponse, nil
		}
		return device.WithResponse, nil
	}

	canWrite := props.Has(device.PropWrite)
	canWriteNoResponse := props.Has(device.PropWriteWithoutResponse)
	switch {
	case !canWrite && !canWriteNoResponse:
		return device.WithResponse, fmt.Errorf("not writable")
	case withoutResponse && canWriteNoResponse:
		return device.WithoutResponse, nil
	case withoutResponse:
		return device.WithResponse, fmt.Errorf("write without response not supported")
	case canWrite:
		return device.WithResponse, nil
	default:
		return device.WithoutResponse, nil
	}
}

// parseWriteData decodes the data argument. In hex mode spaces, ':', '-'
// and '0x' prefixes are ignored.
func parseWriteData(dataStr string) ([]byte, error) {
	if writeHex {
		cleaned := strings.ReplaceAll(dataStr, " ", "")
		cleaned = strings.ReplaceAll(cleaned, ":", "")
		cleaned = strings.ReplaceAll(cleaned, "-", "")
		cleaned = strings.ReplaceAll(cleaned, "0x", "")

		data, err := hex.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("invalid hex data: %w", err)
		}
		return data, nil
	}

	return []byte(dataStr), nil
}
