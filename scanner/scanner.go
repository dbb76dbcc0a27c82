package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/central"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/ringchan"
	"github.com/srg/blestream/internal/stream"
	"github.com/srg/blestream/peripheral"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	if t == EventUpdated {
		return "updated"
	}
	return "new"
}

// Device is the latest advertisement seen for one physical device.
type Device struct {
	// Peripheral is the client the Central keeps for this device. Holding it
	// keeps the same instance alive for a later connect.
	Peripheral *peripheral.Peripheral `json:"-"`

	ID               device.ID     `json:"id"`
	Address          string        `json:"address"`
	Name             string        `json:"name,omitempty"`
	RSSI             int           `json:"rssi"`
	TxPower          *int          `json:"tx_power,omitempty"`
	Connectable      bool          `json:"connectable"`
	Services         []device.UUID `json:"services,omitempty"`
	ManufacturerData []byte        `json:"manufacturer_data,omitempty"`
	LastSeen         time.Time     `json:"last_seen"`
}

// DeviceEvent reports a discovery or an RSSI change.
type DeviceEvent struct {
	Type   DeviceEventType
	Device Device
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	// Duration bounds the scan; zero scans until ctx is done.
	Duration     time.Duration
	ServiceUUIDs []device.UUID
	AllowList    []string
	BlockList    []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration: 10 * time.Second,
	}
}

// Scanner collects advertisements into a de-duplicated device list.
type Scanner struct {
	central *central.Central
	devices *hashmap.Map[string, Device]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger
}

// NewScanner creates a scanner on top of c.
func NewScanner(c *central.Central, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		central: c,
		devices: hashmap.New[string, Device](),
		events:  ringchan.New[DeviceEvent](100),
		logger:  logger,
	}
}

// Scan performs BLE discovery with provided options and returns the devices
// seen, strongest signal first.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Device, error) {
	s.devices = hashmap.New[string, Device]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	results := s.central.Scan(ctx, opts.ServiceUUIDs)
	err := stream.ForEach(ctx, results, func(r central.ScanResult) error {
		s.handle(r, opts)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return s.Devices(), nil
}

// handle records r. Known devices produce an event only when their RSSI
// changed.
func (s *Scanner) handle(r central.ScanResult, opts *ScanOptions) {
	key := r.Advertisement.ID.String()

	prev, existing := s.devices.Get(key)
	if !existing && !includes(r.Advertisement.Address, opts) {
		return
	}

	dev := newDevice(r)
	if existing && dev.Name == "" {
		dev.Name = prev.Name
	}
	s.devices.Set(key, dev)

	switch {
	case !existing:
		s.logger.WithFields(logrus.Fields{
			"device":  dev.Name,
			"address": dev.Address,
			"rssi":    dev.RSSI,
		}).Info("Discovered new device")
		s.events.Send(DeviceEvent{Type: EventNew, Device: dev})
	case prev.RSSI != dev.RSSI:
		s.events.Send(DeviceEvent{Type: EventUpdated, Device: dev})
	}
}

func newDevice(r central.ScanResult) Device {
	adv := r.Advertisement
	return Device{
		Peripheral:       r.Peripheral,
		ID:               adv.ID,
		Address:          adv.Address,
		Name:             adv.LocalName,
		RSSI:             r.RSSI,
		TxPower:          adv.TxPower,
		Connectable:      adv.Connectable,
		Services:         adv.Services,
		ManufacturerData: adv.ManufacturerData,
		LastSeen:         time.Now(),
	}
}

// includes applies the allow and block lists.
func includes(address string, opts *ScanOptions) bool {
	match := func(list []string) bool {
		return slices.ContainsFunc(list, func(a string) bool { return strings.EqualFold(a, address) })
	}

	if match(opts.BlockList) {
		return false
	}
	return len(opts.AllowList) == 0 || match(opts.AllowList)
}

// Devices returns a snapshot of discovered devices sorted by RSSI, strongest
// first. Ties are ordered by address.
func (s *Scanner) Devices() []Device {
	devs := make([]Device, 0, s.devices.Len())
	s.devices.Range(func(_ string, d Device) bool {
		devs = append(devs, d)
		return true
	})

	slices.SortFunc(devs, func(a, b Device) int {
		if a.RSSI != b.RSSI {
			return b.RSSI - a.RSSI
		}
		return strings.Compare(a.Address, b.Address)
	})
	return devs
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
