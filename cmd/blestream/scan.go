package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/groutine"
	"github.com/srg/blestream/pkg/config"
	"github.com/srg/blestream/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Devices are listed strongest signal first with their names, addresses,
RSSI values and advertised services.

Examples:
  # Scan for 5 seconds
  blestream scan -d 5s

  # Only devices advertising the Heart Rate service, as JSON
  blestream scan --services 180d --format json

  # Print devices as they appear until Ctrl+C
  blestream scan --watch -d 0`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanServices  []string
	scanAllowList []string
	scanBlockList []string
	scanWatch     bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration, 0 scans until Ctrl+C (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format: table, json or csv (default from config)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Only show devices advertising one of these service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Print devices as they are discovered")
}

func runScan(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	format := s.cfg.OutputFormat
	if cmd.Flags().Changed("format") {
		format = scanFormat
	}
	if !slices.Contains(config.OutputFormats, format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", format, config.OutputFormats)
	}

	services, err := device.ParseUUIDs(scanServices)
	if err != nil {
		return fmt.Errorf("invalid service UUID: %w", err)
	}

	cmd.SilenceUsage = true

	opts := &scanner.ScanOptions{
		Duration:     durationFlag(cmd, "duration", s.cfg.ScanTimeout),
		ServiceUUIDs: services,
		AllowList:    scanAllowList,
		BlockList:    scanBlockList,
	}

	sc := scanner.NewScanner(s.central, s.logger)
	out := cmd.OutOrStdout()

	if scanWatch {
		return runWatchScan(cmd, sc, opts, out)
	}

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := sc.Scan(cmd.Context(), opts, progress.Callback())
	if err != nil {
		return err
	}
	progress.Stop()
	return printDevices(out, devices, format)
}

// runWatchScan prints one line per discovery event until the scan ends.
func runWatchScan(cmd *cobra.Command, sc *scanner.Scanner, opts *scanner.ScanOptions, out io.Writer) error {
	ctx := cmd.Context()
	scanErr := make(chan error, 1)
	groutine.Go(ctx, "scan-watch", func(ctx context.Context) {
		_, err := sc.Scan(ctx, opts, nil)
		scanErr <- err
	})

	for {
		select {
		case ev := <-sc.Events():
			printEvent(out, ev)
		case err := <-scanErr:
			// drain what was queued before the scan ended
			for {
				select {
				case ev := <-sc.Events():
					printEvent(out, ev)
				default:
					return err
				}
			}
		}
	}
}

func printEvent(out io.Writer, ev scanner.DeviceEvent) {
	tag := color.GreenString("[%s]", ev.Type)
	if ev.Type == scanner.EventUpdated {
		tag = color.YellowString("[%s]", ev.Type)
	}
	fmt.Fprintf(out, "%s %s %s %d dBm\n", tag, displayName(ev.Device.Name), ev.Device.Address, ev.Device.RSSI)
}

func printDevices(out io.Writer, devices []scanner.Device, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if devices == nil {
			devices = []scanner.Device{}
		}
		return enc.Encode(devices)
	case "csv":
		return printDevicesCSV(out, devices)
	default:
		return printDevicesTable(out, devices)
	}
}

func printDevicesTable(out io.Writer, devices []scanner.Device) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "No devices discovered")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tLAST SEEN")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			displayName(d.Name), d.Address, rssiString(d.RSSI), joinUUIDs(d.Services), d.LastSeen.Format(time.TimeOnly))
	}
	return w.Flush()
}

func printDevicesCSV(out io.Writer, devices []scanner.Device) error {
	w := csv.NewWriter(out)
	_ = w.Write([]string{"name", "address", "rssi", "tx_power", "connectable", "services"})
	for _, d := range devices {
		txPower := ""
		if d.TxPower != nil {
			txPower = strconv.Itoa(*d.TxPower)
		}
		_ = w.Write([]string{d.Name, d.Address, strconv.Itoa(d.RSSI), txPower, strconv.FormatBool(d.Connectable), joinUUIDs(d.Services)})
	}
	w.Flush()
	return w.Error()
}

func displayName(name string) string {
	if name == "" {
		return "(unknown)"
	}
	return name
}

// rssiString colors strong signals green and weak ones red.
func rssiString(rssi int) string {
	s := strconv.Itoa(rssi)
	switch {
	case rssi >= -60:
		return color.GreenString(s)
	case rssi < -80:
		return color.RedString(s)
	default:
		return s
	}
}

func joinUUIDs(uuids []device.UUID) string {
	parts := make([]string, len(uuids))
	for i, u := range uuids {
		parts[i] = device.ShortenUUID(u)
	}
	return strings.Join(parts, ",")
}
