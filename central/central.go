// Package central coordinates peripherals over one hardware adapter. The
// Central is the adapter's delegate: it turns every callback into a bus event
// and keeps one Peripheral client per device ID.
package central

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"weak"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/bus"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/groutine"
	"github.com/srg/blestream/internal/stream"
	"github.com/srg/blestream/peripheral"
)

// ErrScanUnsupported is returned when the adapter cannot scan.
var ErrScanUnsupported = errors.New("adapter does not support scanning")

// ScanResult is one advertisement together with the client of its device.
type ScanResult struct {
	Peripheral    *peripheral.Peripheral
	Advertisement device.Advertisement
	RSSI          int
}

// Central owns the event bus and the peripheral registry of one adapter.
type Central struct {
	adapter device.Adapter
	bus     *bus.Bus
	logger  *logrus.Logger

	createMu sync.Mutex
	registry *hashmap.Map[string, weak.Pointer[peripheral.Peripheral]]
}

// New creates a Central and installs it as the adapter's delegate.
func New(adapter device.Adapter, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Central{
		adapter:  adapter,
		bus:      bus.New(logger),
		logger:   logger,
		registry: hashmap.New[string, weak.Pointer[peripheral.Peripheral]](),
	}
	adapter.SetDelegate(c)
	return c
}

// Bus exposes the event bus.
func (c *Central) Bus() *bus.Bus { return c.bus }

// Adapter returns the hardware adapter.
func (c *Central) Adapter() device.Adapter { return c.adapter }

// Peripheral returns the client of id, creating it on first use. While a
// caller holds the returned client, every lookup of id returns the same one.
func (c *Central) Peripheral(id device.ID) *peripheral.Peripheral {
	key := id.String()
	if wp, ok := c.registry.Get(key); ok {
		if p := wp.Value(); p != nil {
			return p
		}
	}

	c.createMu.Lock()
	defer c.createMu.Unlock()

	if wp, ok := c.registry.Get(key); ok {
		if p := wp.Value(); p != nil {
			return p
		}
	}

	self := weak.Make(c)
	p := peripheral.New(id, c.adapter, c.bus, func() peripheral.Coordinator {
		if cc := self.Value(); cc != nil {
			return cc
		}
		return nil
	}, c.logger)
	c.registry.Set(key, weak.Make(p))

	c.logger.WithField("peripheral", id).Debug("Peripheral client created")
	return p
}

// PeripheralByAddress resolves a platform address and returns its client.
func (c *Central) PeripheralByAddress(address string) (*peripheral.Peripheral, error) {
	id, err := c.adapter.Resolve(address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", address, err)
	}
	return c.Peripheral(id), nil
}

// Peripherals returns the live clients in the registry and prunes the
// collected ones.
func (c *Central) Peripherals() []*peripheral.Peripheral {
	var live []*peripheral.Peripheral
	var dead []string
	c.registry.Range(func(key string, wp weak.Pointer[peripheral.Peripheral]) bool {
		if p := wp.Value(); p != nil {
			live = append(live, p)
		} else {
			dead = append(dead, key)
		}
		return true
	})
	for _, key := range dead {
		c.registry.Del(key)
	}
	return live
}

// Connect issues the connect command for id.
func (c *Central) Connect(id device.ID, opts *device.ConnectOptions) {
	if opts == nil {
		opts = &device.ConnectOptions{}
	}
	c.adapter.Connect(id, opts)
}

// CancelConnection issues the disconnect command for id and resolves with
// true once the device reports disconnected. A ConnectionState event with an
// error fails the stream with ErrDisconnectionFailed.
func (c *Central) CancelConnection(id device.ID) *stream.Stream[bool] {
	s, e := stream.New[bool]("cancel-connection:" + id.String())
	sub := c.bus.ConnectionState.Subscribe(bus.ForPeripheral[bus.ConnectionStateEvent](id), func(ev bus.ConnectionStateEvent) {
		if ev.Err != nil {
			e.Fail(device.DisconnectionFailed(ev.Err))
			return
		}
		if !ev.Connected {
			e.Emit(true)
			e.Complete()
		}
	})
	s.OnTerminate(func(error) { sub.Unsubscribe() })

	c.adapter.CancelConnection(id)
	return s
}

// Scan reports advertisements until ctx is done or the returned stream is
// cancelled. Only advertisements listing one of services pass when services
// is not empty.
func (c *Central) Scan(ctx context.Context, services []device.UUID) *stream.Stream[ScanResult] {
	scanner, ok := c.adapter.(device.Scanner)
	if !ok {
		return stream.Failed[ScanResult]("scan", ErrScanUnsupported)
	}

	s, e := stream.New[ScanResult]("scan")
	scanCtx, cancel := context.WithCancel(ctx)
	s.OnTerminate(func(error) { cancel() })

	groutine.Go(scanCtx, "central-scan", func(ctx context.Context) {
		err := scanner.Scan(ctx, func(adv device.Advertisement) {
			if len(services) > 0 && !advertises(adv, services) {
				return
			}
			p := c.Peripheral(adv.ID)
			p.SetName(adv.LocalName)
			e.Emit(ScanResult{Peripheral: p, Advertisement: adv, RSSI: adv.RSSI})
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			c.logger.WithField("error", err).Error("Scan failed")
			e.Fail(err)
			return
		}
		e.Complete()
	})
	return s
}

func advertises(adv device.Advertisement, services []device.UUID) bool {
	for _, u := range adv.Services {
		if u.Matches(services) {
			return true
		}
	}
	return false
}

// Close releases the adapter.
func (c *Central) Close() error {
	return c.adapter.Close()
}
