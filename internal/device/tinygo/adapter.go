// Package tinygo implements device.Adapter on top of tinygo.org/x/bluetooth.
// It runs where go-ble has no host driver (Linux via BlueZ, Windows via
// WinRT) and on macOS through CoreBluetooth.
package tinygo

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/groutine"
	"tinygo.org/x/bluetooth"
)

type link struct {
	mu       sync.Mutex
	dev      bluetooth.Device
	address  string
	services map[device.UUID]bluetooth.DeviceService
	order    []device.ServiceInfo
	chars    map[device.CharacteristicID]bluetooth.DeviceCharacteristic
}

// Adapter drives bluetooth.DefaultAdapter.
type Adapter struct {
	logger  *logrus.Logger
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	mu       sync.RWMutex
	delegate device.Delegate

	addresses *hashmap.Map[string, string]
	links     *hashmap.Map[string, *link]
	worker    *groutine.Serial
}

// New wraps the default host adapter. It is enabled on first use.
func New(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		logger:    logger,
		adapter:   bluetooth.DefaultAdapter,
		addresses: hashmap.New[string, string](),
		links:     hashmap.New[string, *link](),
		worker:    groutine.NewSerial(context.Background(), "tinygo-radio", 64),
	}
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		if err := a.adapter.Enable(); err != nil {
			a.enableErr = fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
			return
		}
		// Fires with connected=false when a peripheral drops the link.
		a.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
			if connected {
				return
			}
			id := device.IDFromAddress(dev.Address.String())
			if _, ok := a.links.Get(id.String()); !ok {
				return
			}
			a.links.Del(id.String())
			a.logger.WithField("address", dev.Address.String()).Warn("Peripheral disconnected")
			if d := a.currentDelegate(); d != nil {
				d.DidUpdateConnectionState(id, false, nil)
			}
		})
	})
	return a.enableErr
}

func (a *Adapter) currentDelegate() device.Delegate {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.delegate
}

func (a *Adapter) submit(fn func(d device.Delegate)) {
	a.worker.Submit(func(context.Context) {
		if d := a.currentDelegate(); d != nil {
			fn(d)
		}
	})
}

func (a *Adapter) link(id device.ID) (*link, error) {
	l, ok := a.links.Get(id.String())
	if !ok {
		return nil, device.ErrNotConnected
	}
	return l, nil
}

func (a *Adapter) SetDelegate(d device.Delegate) {
	a.mu.Lock()
	a.delegate = d
	a.mu.Unlock()
}

func (a *Adapter) Resolve(address string) (device.ID, error) {
	if address == "" {
		return device.NilID, fmt.Errorf("device address is empty")
	}
	id := device.IDFromAddress(address)
	a.addresses.Set(id.String(), address)
	return id, nil
}

func (a *Adapter) Connect(id device.ID, opts *device.ConnectOptions) {
	a.submit(func(d device.Delegate) {
		if _, err := a.link(id); err == nil {
			d.DidUpdateConnectionState(id, true, nil)
			return
		}
		address, ok := a.addresses.Get(id.String())
		if !ok {
			d.DidUpdateConnectionState(id, false, device.ErrUnknownPeer)
			return
		}
		if err := a.enable(); err != nil {
			d.DidUpdateConnectionState(id, false, err)
			return
		}

		var addr bluetooth.Address
		addr.Set(address)
		params := bluetooth.ConnectionParams{}
		if opts != nil && opts.ConnectTimeout > 0 {
			params.ConnectionTimeout = bluetooth.NewDuration(opts.ConnectTimeout)
		}

		a.logger.WithField("address", address).Info("Connecting to BLE device...")
		dev, err := a.adapter.Connect(addr, params)
		if err != nil {
			d.DidUpdateConnectionState(id, false, fmt.Errorf("connect to %s: %w", address, err))
			return
		}
		a.links.Set(id.String(), &link{
			dev:      dev,
			address:  address,
			services: map[device.UUID]bluetooth.DeviceService{},
			chars:    map[device.CharacteristicID]bluetooth.DeviceCharacteristic{},
		})
		d.DidUpdateConnectionState(id, true, nil)
	})
}

func (a *Adapter) CancelConnection(id device.ID) {
	a.submit(func(d device.Delegate) {
		l, ok := a.links.Get(id.String())
		if !ok {
			d.DidUpdateConnectionState(id, false, nil)
			return
		}
		a.links.Del(id.String())
		if err := l.dev.Disconnect(); err != nil {
			a.links.Set(id.String(), l)
			d.DidUpdateConnectionState(id, true, err)
			return
		}
		d.DidUpdateConnectionState(id, false, nil)
	})
}

func (a *Adapter) Services(id device.ID) []device.ServiceInfo {
	l, err := a.link(id)
	if err != nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.order)
}

func (a *Adapter) DiscoverServices(id device.ID, uuids []device.UUID) {
	a.submit(func(d device.Delegate) {
		l, err := a.link(id)
		if err != nil {
			d.DidDiscoverServices(id, nil, err)
			return
		}
		filter, err := toUUIDs(uuids)
		if err != nil {
			d.DidDiscoverServices(id, nil, err)
			return
		}
		found, err := l.dev.DiscoverServices(filter)
		if err != nil {
			d.DidDiscoverServices(id, nil, err)
			return
		}
		infos := make([]device.ServiceInfo, 0, len(found))
		l.mu.Lock()
		for _, s := range found {
			u := fromUUID(s.UUID())
			l.services[u] = s
			infos = append(infos, device.ServiceInfo{UUID: u})
		}
		l.order = infos
		l.mu.Unlock()
		d.DidDiscoverServices(id, infos, nil)
	})
}

// DiscoverCharacteristics reports zero Properties: the bluetooth package does
// not expose characteristic properties on every platform.
func (a *Adapter) DiscoverCharacteristics(id device.ID, service device.UUID, uuids []device.UUID) {
	a.submit(func(d device.Delegate) {
		l, err := a.link(id)
		if err != nil {
			d.DidDiscoverCharacteristics(id, service, nil, err)
			return
		}
		l.mu.Lock()
		svc, ok := l.services[service]
		l.mu.Unlock()
		if !ok {
			d.DidDiscoverCharacteristics(id, service, nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service.String()}})
			return
		}
		filter, err := toUUIDs(uuids)
		if err != nil {
			d.DidDiscoverCharacteristics(id, service, nil, err)
			return
		}
		found, err := svc.DiscoverCharacteristics(filter)
		if err != nil {
			d.DidDiscoverCharacteristics(id, service, nil, err)
			return
		}
		infos := make([]device.CharacteristicInfo, 0, len(found))
		l.mu.Lock()
		for _, c := range found {
			u := fromUUID(c.UUID())
			l.chars[device.CharacteristicID{Service: service, Characteristic: u}] = c
			infos = append(infos, device.CharacteristicInfo{UUID: u})
		}
		l.mu.Unlock()
		d.DidDiscoverCharacteristics(id, service, infos, nil)
	})
}

func (a *Adapter) characteristic(id device.ID, cid device.CharacteristicID) (bluetooth.DeviceCharacteristic, error) {
	l, err := a.link(id)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chars[cid]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{cid.Service.String(), cid.Characteristic.String()},
		}
	}
	return c, nil
}

// maxValueLen is the largest attribute value allowed by the ATT protocol.
const maxValueLen = 512

func (a *Adapter) ReadValue(id device.ID, cid device.CharacteristicID) {
	a.submit(func(d device.Delegate) {
		c, err := a.characteristic(id, cid)
		if err != nil {
			d.DidUpdateValue(id, cid, nil, err)
			return
		}
		buf := make([]byte, maxValueLen)
		n, err := c.Read(buf)
		if err != nil {
			d.DidUpdateValue(id, cid, nil, err)
			return
		}
		d.DidUpdateValue(id, cid, buf[:n], nil)
	})
}

func (a *Adapter) WriteValue(id device.ID, cid device.CharacteristicID, data []byte, withResponse bool) {
	data = slices.Clone(data)
	a.submit(func(d device.Delegate) {
		c, err := a.characteristic(id, cid)
		if err == nil {
			if withResponse {
				_, err = c.Write(data)
			} else {
				_, err = c.WriteWithoutResponse(data)
			}
		}
		if withResponse {
			d.DidWriteValue(id, cid, err)
		} else if err != nil {
			a.logger.WithFields(logrus.Fields{"characteristic": cid, "error": err}).Warn("Write without response failed")
		}
	})
}

func (a *Adapter) SetNotify(id device.ID, cid device.CharacteristicID, enabled bool) {
	a.submit(func(d device.Delegate) {
		c, err := a.characteristic(id, cid)
		if err == nil {
			if enabled {
				err = c.EnableNotifications(func(buf []byte) {
					if d := a.currentDelegate(); d != nil {
						d.DidUpdateValue(id, cid, slices.Clone(buf), nil)
					}
				})
			} else {
				err = c.EnableNotifications(nil)
			}
		}
		if err == nil {
			return
		}
		if enabled {
			d.DidUpdateValue(id, cid, nil, err)
		} else {
			a.logger.WithFields(logrus.Fields{"characteristic": cid, "error": err}).Warn("Failed to disable notifications")
		}
	})
}

// ReadRSSI is not available for connected peripherals in the bluetooth package.
func (a *Adapter) ReadRSSI(id device.ID) {
	a.submit(func(d device.Delegate) {
		if _, err := a.link(id); err != nil {
			d.DidReadRSSI(id, 0, err)
			return
		}
		d.DidReadRSSI(id, 0, fmt.Errorf("read RSSI: %w", device.ErrUnsupported))
	})
}

// Scan reports advertisements until ctx is done.
func (a *Adapter) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	if err := a.enable(); err != nil {
		return err
	}

	done := make(chan struct{})
	groutine.Go(ctx, "tinygo-scan-stop", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	})

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := NewAdvertisement(result)
		a.addresses.Set(adv.ID.String(), adv.Address)
		handler(adv)
	})
	close(done)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

// Close disconnects every peripheral and stops the command worker.
func (a *Adapter) Close() error {
	a.links.Range(func(key string, l *link) bool {
		_ = l.dev.Disconnect()
		a.links.Del(key)
		return true
	})
	a.worker.Stop()
	return nil
}

// NewAdvertisement converts a scan result.
func NewAdvertisement(result bluetooth.ScanResult) device.Advertisement {
	address := result.Address.String()
	adv := device.Advertisement{
		ID:          device.IDFromAddress(address),
		Address:     address,
		LocalName:   result.LocalName(),
		RSSI:        int(result.RSSI),
		Connectable: true,
	}
	if md := result.ManufacturerData(); len(md) > 0 {
		adv.ManufacturerData = append([]byte{byte(md[0].CompanyID), byte(md[0].CompanyID >> 8)}, md[0].Data...)
	}
	return adv
}

func fromUUID(u bluetooth.UUID) device.UUID {
	return device.UUID(device.NormalizeUUID(u.String()))
}

func toUUIDs(uuids []device.UUID) ([]bluetooth.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	out := make([]bluetooth.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := bluetooth.ParseUUID(expand(u))
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", u, err)
		}
		out = append(out, parsed)
	}
	return out, nil
}

// expand turns a short SIG UUID into the dashed 128-bit form ParseUUID expects.
func expand(u device.UUID) string {
	s := u.String()
	switch len(s) {
	case 4:
		s = "0000" + s + "00001000800000805f9b34fb"
	case 8:
		s = s + "00001000800000805f9b34fb"
	}
	if len(s) != 32 {
		return s
	}
	return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
}

var (
	_ device.Adapter = (*Adapter)(nil)
	_ device.Scanner = (*Adapter)(nil)
)
