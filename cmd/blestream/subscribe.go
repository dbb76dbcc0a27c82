package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/groutine"
	"github.com/srg/blestream/internal/output"
	"github.com/srg/blestream/internal/stream"
	"github.com/srg/blestream/peripheral"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <device-address> [uuid[,uuid...]]",
	Short: "Subscribe to characteristic notifications",
	Long: `Subscribes to BLE characteristic notifications and outputs received data.

Stream modes:
  live     - Output every notification immediately (default)
  batched  - Collect notifications, output at rate interval
  latest   - Keep only latest value per characteristic, output at rate interval

Examples:
  # Subscribe to a single characteristic
  blestream subscribe AA:BB:CC:DD:EE:FF 2a37 --hex

  # Every notifiable characteristic of a service
  blestream subscribe AA:BB:CC:DD:EE:FF --service 180d

  # Latest value of each characteristic once per second, for one minute
  blestream subscribe AA:BB:CC:DD:EE:FF 2a37,2a19 --mode latest --rate 1s --duration 1m`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSubscribe,
}

var (
	subscribeServiceUUID string
	subscribeHex         bool
	subscribeMode        string
	subscribeRate        time.Duration
	subscribeDuration    time.Duration
	subscribeBufferSize  uint32
)

func init() {
	subscribeCmd.Flags().StringVar(&subscribeServiceUUID, "service", "", "Service UUID (optional; auto-resolves if omitted)")
	subscribeCmd.Flags().BoolVar(&subscribeHex, "hex", false, "Output as hex string; raw bytes by default")
	subscribeCmd.Flags().StringVar(&subscribeMode, "mode", "live", "Stream mode: live, batched, or latest")
	subscribeCmd.Flags().DurationVar(&subscribeRate, "rate", time.Second, "Output interval for batched/latest modes")
	subscribeCmd.Flags().DurationVar(&subscribeDuration, "duration", 0, "Stop after this long; 0 runs until Ctrl+C")
	subscribeCmd.Flags().Uint32Var(&subscribeBufferSize, "buffer", 1024, "Records kept between outputs in batched/latest modes")
	addConnectFlags(subscribeCmd)
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	mode, err := output.ParseMode(subscribeMode)
	if err != nil {
		return err
	}
	if mode != output.ModeLive && subscribeRate <= 0 {
		return fmt.Errorf("--rate must be positive in %s mode", mode)
	}

	var charUUIDs []string
	if len(args) > 1 {
		charUUIDs = parseCSVUUIDs(args[1])
	}
	if len(charUUIDs) == 0 && subscribeServiceUUID == "" {
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
		chars, err := resolveCharacteristics(ctx, p, subscribeServiceUUID, charUUIDs, timeout)
		if err != nil {
			return struct{}{}, err
		}
		if chars, err = notifiable(chars, len(charUUIDs) > 0); err != nil {
			return struct{}{}, err
		}

		ctx, cancel := withTimeout(ctx, subscribeDuration)
		defer cancel()
		return struct{}{}, subscribe(ctx, out, p, chars, mode, s.logger.WithField("peripheral", p.ID()))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// notifiable keeps the characteristics that support notifications. An
// explicitly requested characteristic without notify support is an error.
func notifiable(chars []*peripheral.Characteristic, explicit bool) ([]*peripheral.Characteristic, error) {
	var result []*peripheral.Characteristic
	for _, c := range chars {
		props := c.Properties()
		if props == 0 || props.CanSubscribe() {
			result = append(result, c)
			continue
		}
		if explicit {
			return nil, fmt.Errorf("characteristic %s does not support notifications", c.UUID())
		}
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no notifiable characteristics found")
	}
	return result, nil
}

// subscribe streams the values of chars to out until ctx is done, a value
// stream fails or the connection drops. Ending because ctx is done is not an
// error.
func subscribe(parent context.Context, out io.Writer, p *peripheral.Peripheral, chars []*peripheral.Characteristic, mode output.Mode, log *logrus.Entry) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	records := make(chan output.Record, 64)
	failed := make(chan error, len(chars)+1)
	fail := func(err error) {
		failed <- err
		cancel()
	}

	var g groutine.Group
	for _, c := range chars {
		values := p.ObserveValueUpdateAndSetNotification(c).Subscribe()
		g.Go(ctx, groutine.Name("subscribe", c.ID()), func(ctx context.Context) {
			err := stream.ForEach(ctx, values, func(d *peripheral.Data) error {
				select {
				case records <- output.Record{Time: time.Now(), Characteristic: d.Characteristic, Value: d.Value}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if err != nil && ctx.Err() == nil {
				fail(fmt.Errorf("subscription %s: %w", c.ID(), err))
			}
		})
	}

	state := p.ObserveConnectionState()
	g.Go(ctx, "subscribe-connection", func(ctx context.Context) {
		err := stream.ForEach(ctx, state, func(connected bool) error {
			if !connected {
				return ErrConnectionLost
			}
			return nil
		})
		if errors.Is(err, ErrConnectionLost) {
			fail(err)
		}
	})

	log.WithFields(logrus.Fields{"count": len(chars), "mode": mode}).Debug("Subscribed")

	paceErr := output.Pace(ctx, records, mode, subscribeRate, subscribeBufferSize, func(batch []output.Record) error {
		for _, r := range batch {
			printRecord(out, r, len(chars) > 1)
		}
		return nil
	})

	cancel()
	g.Wait()
	for _, c := range chars {
		p.SetNotifyValue(false, c)
	}

	select {
	case err := <-failed:
		return err
	default:
	}
	return paceErr
}

func printRecord(out io.Writer, r output.Record, prefix bool) {
	if prefix {
		fmt.Fprintf(out, "%s: ", device.ShortenUUID(r.Characteristic.Characteristic))
	}
	fmt.Fprintln(out, formatValue(r.Value, subscribeHex))
}
