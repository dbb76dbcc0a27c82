package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blestream/inspector"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/peripheral"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Inspect the GATT profile of a device",
	Long: `Connects to a BLE device, discovers its services and characteristics
and reads every readable characteristic.

Examples:
  # Inspect a device
  blestream inspect AA:BB:CC:DD:EE:FF

  # Only the Battery service, as JSON
  blestream inspect AA:BB:CC:DD:EE:FF --services 180f --json

  # Skip reads
  blestream inspect AA:BB:CC:DD:EE:FF --read-limit 0`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectJSON      bool
	inspectReadLimit int
	inspectServices  []string
)

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
	inspectCmd.Flags().IntVar(&inspectReadLimit, "read-limit", 64, "Bytes kept from each readable characteristic, 0 disables reads")
	inspectCmd.Flags().StringSliceVarP(&inspectServices, "services", "s", nil, "Only inspect these service UUIDs")
	addConnectFlags(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	services, err := device.ParseUUIDs(inspectServices)
	if err != nil {
		return fmt.Errorf("invalid service UUID: %w", err)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cmd.SilenceUsage = true

	opts := inspector.DefaultInspectOptions()
	opts.OpTimeout = opTimeout(cmd, s)
	opts.ReadLimit = inspectReadLimit
	opts.Services = services

	profile, err := withDevice(cmd, s, args[0], func(ctx context.Context, p *peripheral.Peripheral) (*inspector.Profile, error) {
		return inspector.Discover(ctx, p, opts)
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if inspectJSON {
		data, err := json.MarshalIndent(profile, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	printProfile(out, profile)
	return nil
}

func printProfile(out io.Writer, profile *inspector.Profile) {
	fmt.Fprintf(out, "Device: %s (%s)\n", displayName(profile.Name), profile.ID)
	if len(profile.Services) == 0 {
		fmt.Fprintln(out, "No services discovered")
		return
	}

	for _, svc := range profile.Services {
		fmt.Fprintf(out, "\n%s %s\n", color.CyanString("Service"), device.DisplayName(svc.UUID))
		for _, c := range svc.Characteristics {
			line := fmt.Sprintf("  %s [%s]", device.DisplayName(c.UUID), strings.Join(c.Properties.Names(), ", "))
			switch {
			case c.ReadError != "":
				line += " " + color.RedString("read failed: %s", c.ReadError)
			case c.Value != nil:
				line += " = " + hex.EncodeToString(c.Value)
				if c.Truncated {
					line += "..."
				}
			}
			fmt.Fprintln(out, line)
		}
	}
}
