// Package sim is an in-memory device.Adapter. Simulated peripherals are
// described by PeripheralConfig (YAML or JSON) and answer every command
// asynchronously through the delegate, in command order.
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/groutine"
)

// ErrClosed is returned by Scan after Close.
var ErrClosed = errors.New("simulated adapter closed")

type peer struct {
	id           device.ID
	address      string
	name         string
	txPower      *int
	connectable  bool
	manufacturer []byte
	services     []*service
	connectErr   error

	mu         sync.Mutex
	rssi       int
	connected  bool
	discovered []device.ServiceInfo
	notifying  map[device.CharacteristicID]func()
}

func (p *peer) find(cid device.CharacteristicID) *characteristic {
	for _, s := range p.services {
		if s.uuid != cid.Service {
			continue
		}
		for _, c := range s.characteristics {
			if c.id.Characteristic == cid.Characteristic {
				return c
			}
		}
	}
	return nil
}

func (p *peer) advertisement() device.Advertisement {
	p.mu.Lock()
	rssi := p.rssi
	p.mu.Unlock()

	var advertised []device.UUID
	for _, s := range p.services {
		if s.advertised {
			advertised = append(advertised, s.uuid)
		}
	}
	return device.Advertisement{
		ID:               p.id,
		Address:          p.address,
		LocalName:        p.name,
		RSSI:             rssi,
		TxPower:          p.txPower,
		Connectable:      p.connectable,
		Services:         advertised,
		ManufacturerData: p.manufacturer,
	}
}

// Adapter simulates a BLE radio with a fixed set of peripherals.
type Adapter struct {
	logger *logrus.Logger
	opts   Options
	peers  *hashmap.Map[string, *peer]

	mu       sync.RWMutex
	delegate device.Delegate

	jobs   chan func()
	ctx    context.Context
	cancel context.CancelFunc
	group  groutine.Group
	closed atomic.Bool
}

// New builds an adapter from peripheral descriptions.
func New(peripherals []PeripheralConfig, opts Options, logger *logrus.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		logger: logger,
		opts:   opts,
		peers:  hashmap.New[string, *peer](),
		jobs:   make(chan func(), 256),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, cfg := range peripherals {
		p, err := cfg.build()
		if err != nil {
			cancel()
			return nil, err
		}
		a.peers.Set(p.id.String(), p)
	}

	a.group.Go(ctx, "sim-radio", a.run)
	return a, nil
}

func (a *Adapter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-a.jobs:
			if !a.sleep(ctx, a.opts.Latency) {
				return
			}
			job()
		}
	}
}

func (a *Adapter) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// submit queues fn to run on the radio goroutine with the current delegate.
func (a *Adapter) submit(fn func(d device.Delegate)) {
	if a.closed.Load() {
		return
	}
	job := func() {
		a.mu.RLock()
		d := a.delegate
		a.mu.RUnlock()
		if d != nil {
			fn(d)
		}
	}
	select {
	case a.jobs <- job:
	case <-a.ctx.Done():
	}
}

func (a *Adapter) peer(id device.ID) *peer {
	p, _ := a.peers.Get(id.String())
	return p
}

func (a *Adapter) SetDelegate(d device.Delegate) {
	a.mu.Lock()
	a.delegate = d
	a.mu.Unlock()
}

func (a *Adapter) Resolve(address string) (device.ID, error) {
	id := device.IDFromAddress(address)
	if a.peer(id) == nil {
		return device.NilID, fmt.Errorf("%w: %s", device.ErrUnknownPeer, address)
	}
	return id, nil
}

func (a *Adapter) Connect(id device.ID, opts *device.ConnectOptions) {
	a.logger.WithField("peripheral", id).Debug("sim: connect")
	a.submit(func(d device.Delegate) {
		p := a.peer(id)
		switch {
		case p == nil:
			d.DidUpdateConnectionState(id, false, device.ErrUnknownPeer)
		case !p.connectable:
			d.DidUpdateConnectionState(id, false, fmt.Errorf("peripheral %s is not connectable", p.address))
		case p.connectErr != nil:
			d.DidUpdateConnectionState(id, false, p.connectErr)
		case opts != nil && opts.ConnectTimeout > 0 && a.opts.Latency > opts.ConnectTimeout:
			d.DidUpdateConnectionState(id, false, context.DeadlineExceeded)
		default:
			p.mu.Lock()
			p.connected = true
			p.mu.Unlock()
			d.DidUpdateConnectionState(id, true, nil)
		}
	})
}

func (a *Adapter) CancelConnection(id device.ID) {
	a.logger.WithField("peripheral", id).Debug("sim: cancel connection")
	a.submit(func(d device.Delegate) {
		p := a.peer(id)
		if p == nil {
			d.DidUpdateConnectionState(id, false, device.ErrUnknownPeer)
			return
		}
		a.drop(p)
		d.DidUpdateConnectionState(id, false, nil)
	})
}

// Drop simulates a link loss initiated by the peripheral at address.
func (a *Adapter) Drop(address string) {
	id := device.IDFromAddress(address)
	a.submit(func(d device.Delegate) {
		if p := a.peer(id); p != nil {
			a.drop(p)
			d.DidUpdateConnectionState(id, false, nil)
		}
	})
}

// SetRSSI changes the signal strength reported for address.
func (a *Adapter) SetRSSI(address string, rssi int) {
	if p := a.peer(device.IDFromAddress(address)); p != nil {
		p.mu.Lock()
		p.rssi = rssi
		p.mu.Unlock()
	}
}

func (a *Adapter) drop(p *peer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.discovered = nil
	for cid, stop := range p.notifying {
		stop()
		delete(p.notifying, cid)
	}
}

// connected returns p if it is known and connected, or the error to report.
func (a *Adapter) connected(id device.ID) (*peer, error) {
	p := a.peer(id)
	if p == nil {
		return nil, device.ErrUnknownPeer
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, device.ErrNotConnected
	}
	return p, nil
}

func (a *Adapter) Services(id device.ID) []device.ServiceInfo {
	p := a.peer(id)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.discovered)
}

func (a *Adapter) DiscoverServices(id device.ID, uuids []device.UUID) {
	a.submit(func(d device.Delegate) {
		p, err := a.connected(id)
		if err != nil {
			d.DidDiscoverServices(id, nil, err)
			return
		}
		found := []device.ServiceInfo{}
		for _, s := range p.services {
			if len(uuids) == 0 || s.uuid.Matches(uuids) {
				found = append(found, device.ServiceInfo{UUID: s.uuid})
			}
		}
		p.mu.Lock()
		p.discovered = found
		p.mu.Unlock()
		d.DidDiscoverServices(id, found, nil)
	})
}

func (a *Adapter) DiscoverCharacteristics(id device.ID, svcUUID device.UUID, uuids []device.UUID) {
	a.submit(func(d device.Delegate) {
		p, err := a.connected(id)
		if err != nil {
			d.DidDiscoverCharacteristics(id, svcUUID, nil, err)
			return
		}
		for _, s := range p.services {
			if s.uuid != svcUUID {
				continue
			}
			found := []device.CharacteristicInfo{}
			for _, c := range s.characteristics {
				if len(uuids) == 0 || c.id.Characteristic.Matches(uuids) {
					found = append(found, device.CharacteristicInfo{UUID: c.id.Characteristic, Properties: c.props})
				}
			}
			d.DidDiscoverCharacteristics(id, svcUUID, found, nil)
			return
		}
		d.DidDiscoverCharacteristics(id, svcUUID, nil, &device.NotFoundError{Resource: "service", UUIDs: []string{svcUUID.String()}})
	})
}

func (a *Adapter) lookup(id device.ID, cid device.CharacteristicID) (*peer, *characteristic, error) {
	p, err := a.connected(id)
	if err != nil {
		return nil, nil, err
	}
	c := p.find(cid)
	if c == nil {
		return nil, nil, &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{cid.Service.String(), cid.Characteristic.String()},
		}
	}
	return p, c, nil
}

func (a *Adapter) ReadValue(id device.ID, cid device.CharacteristicID) {
	a.submit(func(d device.Delegate) {
		p, c, err := a.lookup(id, cid)
		switch {
		case err != nil:
		case c.readErr != nil:
			err = c.readErr
		case !c.props.Has(device.PropRead):
			err = fmt.Errorf("characteristic %s: read %w", cid, device.ErrUnsupported)
		}
		if err != nil {
			d.DidUpdateValue(id, cid, nil, err)
			return
		}
		p.mu.Lock()
		value := slices.Clone(c.value)
		p.mu.Unlock()
		d.DidUpdateValue(id, cid, value, nil)
	})
}

func (a *Adapter) WriteValue(id device.ID, cid device.CharacteristicID, data []byte, withResponse bool) {
	data = slices.Clone(data)
	a.submit(func(d device.Delegate) {
		p, c, err := a.lookup(id, cid)
		switch {
		case err != nil:
		case c.writeErr != nil:
			err = c.writeErr
		case withResponse && !c.props.Has(device.PropWrite):
			err = fmt.Errorf("characteristic %s: write %w", cid, device.ErrUnsupported)
		case !withResponse && !c.props.Has(device.PropWriteWithoutResponse):
			err = fmt.Errorf("characteristic %s: write without response %w", cid, device.ErrUnsupported)
		}
		if err == nil {
			p.mu.Lock()
			c.value = data
			p.mu.Unlock()
		}
		if withResponse {
			d.DidWriteValue(id, cid, err)
		} else if err != nil {
			a.logger.WithFields(logrus.Fields{"peripheral": id, "characteristic": cid, "error": err}).Warn("sim: unacknowledged write dropped")
		}
	})
}

func (a *Adapter) SetNotify(id device.ID, cid device.CharacteristicID, enabled bool) {
	a.submit(func(d device.Delegate) {
		p, c, err := a.lookup(id, cid)
		if err == nil && !c.props.CanSubscribe() {
			err = fmt.Errorf("characteristic %s: notify %w", cid, device.ErrUnsupported)
		}
		if err != nil {
			if enabled {
				d.DidUpdateValue(id, cid, nil, err)
			}
			return
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if stop, ok := p.notifying[cid]; ok {
			stop()
			delete(p.notifying, cid)
		}
		if !enabled {
			return
		}
		ctx, cancel := context.WithCancel(a.ctx)
		p.notifying[cid] = cancel
		a.group.Go(ctx, groutine.Name("sim-notify", cid), func(ctx context.Context) {
			a.notify(ctx, p, c)
		})
	})
}

// notify emits the configured notification sequence in a loop, or the
// current value when no sequence is configured.
func (a *Adapter) notify(ctx context.Context, p *peer, c *characteristic) {
	for i := 0; ; i++ {
		if !a.sleep(ctx, a.opts.NotifyInterval) {
			return
		}
		p.mu.Lock()
		value := slices.Clone(c.value)
		if len(c.notifications) > 0 {
			value = slices.Clone(c.notifications[i%len(c.notifications)])
		}
		p.mu.Unlock()

		a.mu.RLock()
		d := a.delegate
		a.mu.RUnlock()
		if d != nil {
			d.DidUpdateValue(p.id, c.id, value, nil)
		}
	}
}

func (a *Adapter) ReadRSSI(id device.ID) {
	a.submit(func(d device.Delegate) {
		p, err := a.connected(id)
		if err != nil {
			d.DidReadRSSI(id, 0, err)
			return
		}
		p.mu.Lock()
		rssi := p.rssi
		p.mu.Unlock()
		d.DidReadRSSI(id, rssi, nil)
	})
}

// Scan reports every simulated peripheral once per ScanInterval until ctx is
// done.
func (a *Adapter) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	if a.closed.Load() {
		return ErrClosed
	}
	ticker := time.NewTicker(max(a.opts.ScanInterval, time.Millisecond))
	defer ticker.Stop()
	for {
		a.peers.Range(func(_ string, p *peer) bool {
			handler(p.advertisement())
			return true
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.ctx.Done():
			return ErrClosed
		case <-ticker.C:
		}
	}
}

// Close stops the radio and every notification loop.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.cancel()
	a.group.Wait()
	return nil
}

var (
	_ device.Adapter = (*Adapter)(nil)
	_ device.Scanner = (*Adapter)(nil)
)
