package inspector

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/central"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/stream"
	"github.com/srg/blestream/peripheral"
)

// ProgressCallback is called when the inspection phase changes
type ProgressCallback func(phase string)

// InspectOptions defines options for inspecting a BLE device profile
type InspectOptions struct {
	ConnectTimeout time.Duration `default:"30s"`
	// OpTimeout bounds each discovery step and each read.
	OpTimeout time.Duration `default:"10s"`
	// ReadLimit caps the bytes kept from readable characteristics. Zero
	// disables reads.
	ReadLimit int `default:"64"`
	// Services restricts discovery; empty discovers everything.
	Services []device.UUID
}

// DefaultInspectOptions returns InspectOptions with every default applied.
func DefaultInspectOptions() *InspectOptions {
	opts := &InspectOptions{}
	defaults.SetDefaults(opts)
	return opts
}

// InspectCallback processes a connected peripheral and produces output of type R
type InspectCallback[R any] func(ctx context.Context, p *peripheral.Peripheral) (R, error)

// InspectDevice connects to the device at address, runs callback with the
// connected peripheral and disconnects afterwards.
func InspectDevice[R any](ctx context.Context, c *central.Central, address string, opts *InspectOptions, logger *logrus.Logger, progressCallback ProgressCallback, callback InspectCallback[R]) (R, error) {
	var zero R
	if opts == nil {
		opts = DefaultInspectOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	progressCallback("Connecting")

	p, err := c.PeripheralByAddress(address)
	if err != nil {
		progressCallback("Failed")
		return zero, err
	}

	connectCtx, cancel := withTimeout(ctx, opts.ConnectTimeout)
	_, err = stream.First(connectCtx, p.Connect(&device.ConnectOptions{ConnectTimeout: opts.ConnectTimeout}))
	cancel()
	if err != nil {
		progressCallback("Failed")
		return zero, err
	}

	progressCallback("Connected")

	defer func() {
		dctx, cancel := withTimeout(context.Background(), opts.OpTimeout)
		defer cancel()
		if _, err := stream.First(dctx, p.Disconnect()); err != nil {
			logger.WithError(err).Error("failed to disconnect device")
		}
	}()

	progressCallback("Processing results")

	return callback(ctx, p)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
