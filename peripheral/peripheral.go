// Package peripheral is the client of one remote GATT server. Every operation
// turns a fire-and-forget adapter command plus the matching bus event into a
// stream that terminates exactly once.
//
// Operations of the same kind (connect, service discovery, characteristic
// discovery, acknowledged write, RSSI) are single-flight: starting one cancels the
// previous stream of that kind with stream.ErrCanceled. Bus handlers only
// hold weak references to the peripheral; once it is collected its pending
// streams fail with device.ErrDeallocated.
package peripheral

import (
	"errors"
	"runtime"
	"sync"
	"weak"

	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/bus"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/stream"
)

var errNoCoordinator = errors.New("central is gone")

// Coordinator issues connection commands on behalf of peripherals.
type Coordinator interface {
	Connect(id device.ID, opts *device.ConnectOptions)
	CancelConnection(id device.ID) *stream.Stream[bool]
}

// CoordinatorRef resolves the coordinator without owning it. It returns nil
// once the coordinator is gone.
type CoordinatorRef func() Coordinator

// Peripheral is the client of one remote device.
type Peripheral struct {
	id          device.ID
	adapter     device.Adapter
	bus         *bus.Bus
	coordinator CoordinatorRef
	logger      *logrus.Logger

	state *stream.Subject[bool]
	ops   *opTable

	mu       sync.RWMutex
	name     string
	services []*Service
}

// New creates the client of id. The connection state starts as disconnected
// and follows ConnectionState events of id from then on.
func New(id device.ID, adapter device.Adapter, b *bus.Bus, coordinator CoordinatorRef, logger *logrus.Logger) *Peripheral {
	if logger == nil {
		logger = logrus.New()
	}
	if coordinator == nil {
		coordinator = func() Coordinator { return nil }
	}

	state := stream.NewSubject("connection-state:"+id.String(), false)
	p := &Peripheral{
		id:          id,
		adapter:     adapter,
		bus:         b,
		coordinator: coordinator,
		logger:      logger,
		state:       state,
		ops:         newOpTable(state),
	}

	p.ops.stateSub = b.ConnectionState.Subscribe(bus.ForPeripheral[bus.ConnectionStateEvent](id), func(ev bus.ConnectionStateEvent) {
		state.Set(ev.Err == nil && ev.Connected)
	})

	runtime.AddCleanup(p, func(t *opTable) {
		t.shutdown(device.ErrDeallocated)
	}, p.ops)

	return p
}

// ID returns the device identity.
func (p *Peripheral) ID() device.ID { return p.id }

// Name returns the advertised local name, if known.
func (p *Peripheral) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// SetName records the advertised local name.
func (p *Peripheral) SetName(name string) {
	if name == "" {
		return
	}
	p.mu.Lock()
	p.name = name
	p.mu.Unlock()
}

// IsConnected reports the last known connection state.
func (p *Peripheral) IsConnected() bool {
	return p.state.Value()
}

// Connect asks the coordinator to connect and resolves with the peripheral
// once it reports connected. A ConnectionState event carrying an error fails
// the stream with ErrConnectionFailure. The command is always issued; an
// already connected peripheral resolves from its current state.
func (p *Peripheral) Connect(opts *device.ConnectOptions) *stream.Stream[*Peripheral] {
	s, e := begin[*Peripheral](p.ops, opConnect, p.opName(opConnect))

	coordinator := p.coordinator()
	if coordinator == nil {
		e.Fail(device.ConnectionFailure(errNoCoordinator))
		return s
	}
	if p.state.Value() {
		e.Emit(p)
		e.Complete()
		p.logger.WithField("peripheral", p.id).Debug("Already connected")
		coordinator.Connect(p.id, opts)
		return s
	}

	wp := weak.Make(p)
	bind(s, p.bus.ConnectionState.Subscribe(bus.ForPeripheral[bus.ConnectionStateEvent](p.id), func(ev bus.ConnectionStateEvent) {
		if ev.Err != nil {
			e.Fail(device.ConnectionFailure(ev.Err))
			return
		}
		if !ev.Connected {
			return
		}
		if pp := wp.Value(); pp != nil {
			e.Emit(pp)
			e.Complete()
			return
		}
		e.Fail(device.ErrDeallocated)
	}))

	p.logger.WithField("peripheral", p.id).Debug("Connecting...")
	coordinator.Connect(p.id, opts)
	return s
}

// Disconnect asks the coordinator to cancel the connection. Without a
// coordinator it fails immediately with ErrDisconnectionFailed.
func (p *Peripheral) Disconnect() *stream.Stream[bool] {
	coordinator := p.coordinator()
	if coordinator == nil {
		return stream.Failed[bool](p.opName("disconnect"), device.DisconnectionFailed(errNoCoordinator))
	}
	p.logger.WithField("peripheral", p.id).Debug("Disconnecting...")
	return coordinator.CancelConnection(p.id)
}

// ObserveConnectionState yields the current connection state and every later
// state event. It never fails and ends when cancelled or when the peripheral
// is collected.
func (p *Peripheral) ObserveConnectionState() *stream.Stream[bool] {
	return p.state.Observe()
}

// Services returns the services discovered so far.
func (p *Peripheral) Services() []*Service {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Service, len(p.services))
	copy(out, p.services)
	return out
}

// Service returns the discovered service with uuid, or nil.
func (p *Peripheral) Service(uuid device.UUID) *Service {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.services {
		if s.uuid == uuid {
			return s
		}
	}
	return nil
}

// service returns the cached Service for uuid, creating it on first sight.
func (p *Peripheral) service(uuid device.UUID) *Service {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.services {
		if s.uuid == uuid {
			return s
		}
	}
	s := &Service{uuid: uuid, peripheral: weak.Make(p)}
	p.services = append(p.services, s)
	return s
}

func (p *Peripheral) opName(kind opKind) string {
	return string(kind) + ":" + p.id.String()
}
