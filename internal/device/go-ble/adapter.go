// Package goble implements device.Adapter on top of github.com/go-ble/ble.
// Every command runs on a per-peripheral serial worker so go-ble's blocking
// calls never stall the caller, and results are reported through the
// delegate in command order.
package goble

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/groutine"
)

// DefaultConnectTimeout bounds Dial when ConnectOptions carries no timeout.
const DefaultConnectTimeout = 30 * time.Second

type link struct {
	mu       sync.Mutex
	client   ble.Client
	services map[device.UUID]*ble.Service
	order    []device.ServiceInfo
	chars    map[device.CharacteristicID]*ble.Characteristic
	closed   atomic.Bool
}

func (l *link) characteristic(cid device.CharacteristicID) (*ble.Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chars[cid]
	if !ok {
		return nil, &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{cid.Service.String(), cid.Characteristic.String()},
		}
	}
	return c, nil
}

// Adapter drives the host radio through go-ble.
type Adapter struct {
	logger *logrus.Logger

	devOnce sync.Once
	dev     ble.Device
	devErr  error

	mu       sync.RWMutex
	delegate device.Delegate

	addresses *hashmap.Map[string, string]
	links     *hashmap.Map[string, *link]
	workers   *hashmap.Map[string, *groutine.Serial]
	workerMu  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns an adapter. The radio is opened on first use.
func New(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		logger:    logger,
		addresses: hashmap.New[string, string](),
		links:     hashmap.New[string, *link](),
		workers:   hashmap.New[string, *groutine.Serial](),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (a *Adapter) device() (ble.Device, error) {
	a.devOnce.Do(func() {
		a.dev, a.devErr = DeviceFactory()
		if a.devErr != nil {
			a.devErr = NormalizeError(a.devErr)
			a.logger.WithField("error", a.devErr).Error("Failed to create BLE device")
		}
	})
	return a.dev, a.devErr
}

func (a *Adapter) currentDelegate() device.Delegate {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.delegate
}

// submit runs fn on the worker of id with the current delegate.
func (a *Adapter) submit(id device.ID, fn func(ctx context.Context, d device.Delegate)) {
	key := id.String()
	w, ok := a.workers.Get(key)
	if !ok {
		a.workerMu.Lock()
		if w, ok = a.workers.Get(key); !ok {
			w = groutine.NewSerial(a.ctx, groutine.Name("goble", id), 64)
			a.workers.Set(key, w)
		}
		a.workerMu.Unlock()
	}
	w.Submit(func(ctx context.Context) {
		if d := a.currentDelegate(); d != nil {
			fn(ctx, d)
		}
	})
}

func (a *Adapter) link(id device.ID) (*link, error) {
	l, ok := a.links.Get(id.String())
	if !ok || l.closed.Load() {
		return nil, device.ErrNotConnected
	}
	return l, nil
}

func (a *Adapter) SetDelegate(d device.Delegate) {
	a.mu.Lock()
	a.delegate = d
	a.mu.Unlock()
}

// Resolve accepts any address go-ble can dial and remembers it for id.
func (a *Adapter) Resolve(address string) (device.ID, error) {
	if address == "" {
		return device.NilID, fmt.Errorf("device address is empty")
	}
	id := device.IDFromAddress(address)
	a.addresses.Set(id.String(), address)
	return id, nil
}

func (a *Adapter) Connect(id device.ID, opts *device.ConnectOptions) {
	timeout := DefaultConnectTimeout
	if opts != nil && opts.ConnectTimeout > 0 {
		timeout = opts.ConnectTimeout
	}
	a.submit(id, func(ctx context.Context, d device.Delegate) {
		if l, err := a.link(id); err == nil && l != nil {
			d.DidUpdateConnectionState(id, true, nil)
			return
		}
		address, ok := a.addresses.Get(id.String())
		if !ok {
			d.DidUpdateConnectionState(id, false, device.ErrUnknownPeer)
			return
		}
		dev, err := a.device()
		if err != nil {
			d.DidUpdateConnectionState(id, false, err)
			return
		}

		log := a.logger.WithFields(logrus.Fields{"address": address, "timeout": timeout})
		log.Info("Connecting to BLE device...")

		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		client, err := dev.Dial(dialCtx, ble.NewAddr(address))
		if err != nil {
			log.WithField("error", err).Error("Failed to dial BLE device")
			d.DidUpdateConnectionState(id, false, NormalizeError(err))
			return
		}

		l := &link{
			client:   client,
			services: map[device.UUID]*ble.Service{},
			chars:    map[device.CharacteristicID]*ble.Characteristic{},
		}
		a.links.Set(id.String(), l)
		groutine.Go(a.ctx, groutine.Name("goble-monitor", id), func(ctx context.Context) {
			select {
			case <-client.Disconnected():
				if l.closed.CompareAndSwap(false, true) {
					a.logger.WithField("address", address).Warn("BLE device reported disconnection")
					if d := a.currentDelegate(); d != nil {
						d.DidUpdateConnectionState(id, false, nil)
					}
				}
			case <-ctx.Done():
			}
		})

		log.Info("BLE device connected")
		d.DidUpdateConnectionState(id, true, nil)
	})
}

func (a *Adapter) CancelConnection(id device.ID) {
	a.submit(id, func(_ context.Context, d device.Delegate) {
		l, err := a.link(id)
		if err != nil {
			d.DidUpdateConnectionState(id, false, nil)
			return
		}
		if !l.closed.CompareAndSwap(false, true) {
			return
		}
		if err := l.client.ClearSubscriptions(); err != nil {
			a.logger.WithField("error", err).Debug("Failed to clear subscriptions before disconnect")
		}
		if err := l.client.CancelConnection(); err != nil {
			d.DidUpdateConnectionState(id, true, NormalizeError(err))
			return
		}
		a.logger.WithField("peripheral", id).Info("BLE device disconnected")
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
	a.submit(id, func(_ context.Context, d device.Delegate) {
		l, err := a.link(id)
		if err != nil {
			d.DidDiscoverServices(id, nil, err)
			return
		}
		filter, err := toBLEUUIDs(uuids)
		if err != nil {
			d.DidDiscoverServices(id, nil, err)
			return
		}
		found, err := l.client.DiscoverServices(filter)
		if err != nil {
			d.DidDiscoverServices(id, nil, NormalizeError(err))
			return
		}

		infos := make([]device.ServiceInfo, 0, len(found))
		l.mu.Lock()
		for _, s := range found {
			u := fromBLEUUID(s.UUID)
			l.services[u] = s
			infos = append(infos, device.ServiceInfo{UUID: u})
		}
		l.order = infos
		l.mu.Unlock()

		d.DidDiscoverServices(id, infos, nil)
	})
}

func (a *Adapter) DiscoverCharacteristics(id device.ID, service device.UUID, uuids []device.UUID) {
	a.submit(id, func(_ context.Context, d device.Delegate) {
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
		filter, err := toBLEUUIDs(uuids)
		if err != nil {
			d.DidDiscoverCharacteristics(id, service, nil, err)
			return
		}
		found, err := l.client.DiscoverCharacteristics(filter, svc)
		if err != nil {
			d.DidDiscoverCharacteristics(id, service, nil, NormalizeError(err))
			return
		}

		infos := make([]device.CharacteristicInfo, 0, len(found))
		for _, c := range found {
			props := NewProperties(c.Property)
			if props.CanSubscribe() {
				// The CCCD is needed to subscribe later.
				if _, err := l.client.DiscoverDescriptors(nil, c); err != nil {
					a.logger.WithFields(logrus.Fields{"characteristic": c.UUID, "error": err}).Debug("Descriptor discovery failed")
				}
			}
			u := fromBLEUUID(c.UUID)
			l.mu.Lock()
			l.chars[device.CharacteristicID{Service: service, Characteristic: u}] = c
			l.mu.Unlock()
			infos = append(infos, device.CharacteristicInfo{UUID: u, Properties: props})
		}
		d.DidDiscoverCharacteristics(id, service, infos, nil)
	})
}

func (a *Adapter) ReadValue(id device.ID, cid device.CharacteristicID) {
	a.submit(id, func(_ context.Context, d device.Delegate) {
		l, err := a.link(id)
		if err != nil {
			d.DidUpdateValue(id, cid, nil, err)
			return
		}
		c, err := l.characteristic(cid)
		if err != nil {
			d.DidUpdateValue(id, cid, nil, err)
			return
		}
		value, err := l.client.ReadCharacteristic(c)
		d.DidUpdateValue(id, cid, value, NormalizeError(err))
	})
}

func (a *Adapter) WriteValue(id device.ID, cid device.CharacteristicID, data []byte, withResponse bool) {
	data = slices.Clone(data)
	a.submit(id, func(_ context.Context, d device.Delegate) {
		report := func(err error) {
			if withResponse {
				d.DidWriteValue(id, cid, err)
			} else if err != nil {
				a.logger.WithFields(logrus.Fields{"characteristic": cid, "error": err}).Warn("Write without response failed")
			}
		}
		l, err := a.link(id)
		if err != nil {
			report(err)
			return
		}
		c, err := l.characteristic(cid)
		if err != nil {
			report(err)
			return
		}
		report(NormalizeError(l.client.WriteCharacteristic(c, data, !withResponse)))
	})
}

func (a *Adapter) SetNotify(id device.ID, cid device.CharacteristicID, enabled bool) {
	a.submit(id, func(_ context.Context, d device.Delegate) {
		fail := func(err error) {
			if enabled {
				d.DidUpdateValue(id, cid, nil, err)
			} else {
				a.logger.WithFields(logrus.Fields{"characteristic": cid, "error": err}).Warn("Failed to disable notifications")
			}
		}
		l, err := a.link(id)
		if err != nil {
			fail(err)
			return
		}
		c, err := l.characteristic(cid)
		if err != nil {
			fail(err)
			return
		}
		// Indications only when the characteristic cannot notify.
		ind := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0

		if !enabled {
			if err := l.client.Unsubscribe(c, ind); err != nil {
				fail(NormalizeError(err))
			}
			return
		}
		err = l.client.Subscribe(c, ind, func(data []byte) {
			if d := a.currentDelegate(); d != nil {
				d.DidUpdateValue(id, cid, slices.Clone(data), nil)
			}
		})
		if err != nil {
			fail(NormalizeError(err))
			return
		}
		a.logger.WithFields(logrus.Fields{"peripheral": id, "characteristic": cid}).Info("Subscribed to characteristic notifications")
	})
}

func (a *Adapter) ReadRSSI(id device.ID) {
	a.submit(id, func(_ context.Context, d device.Delegate) {
		l, err := a.link(id)
		if err != nil {
			d.DidReadRSSI(id, 0, err)
			return
		}
		d.DidReadRSSI(id, l.client.ReadRSSI(), nil)
	})
}

// Scan reports advertisements until ctx is done. Every reported address
// becomes resolvable by its ID.
func (a *Adapter) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	dev, err := a.device()
	if err != nil {
		return err
	}
	err = dev.Scan(ctx, true, func(adv ble.Advertisement) {
		out := NewAdvertisement(adv)
		a.addresses.Set(out.ID.String(), out.Address)
		handler(out)
	})
	return NormalizeError(err)
}

// Close disconnects every peripheral and stops the radio.
func (a *Adapter) Close() error {
	a.links.Range(func(_ string, l *link) bool {
		if l.closed.CompareAndSwap(false, true) {
			_ = l.client.CancelConnection()
		}
		return true
	})
	a.cancel()
	a.workers.Range(func(_ string, w *groutine.Serial) bool {
		w.Stop()
		return true
	})
	if a.dev != nil {
		return NormalizeError(a.dev.Stop())
	}
	return nil
}

var (
	_ device.Adapter = (*Adapter)(nil)
	_ device.Scanner = (*Adapter)(nil)
)
