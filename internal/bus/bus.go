// Package bus is the multicast event bus between a hardware delegate and the
// peripheral clients. Each event kind has its own typed Topic shared by every
// peripheral; subscribers narrow a topic with a filter.
//
// Publish delivers synchronously on the caller's goroutine to a snapshot of
// the subscribers, so handlers must not block. A publish that starts after
// Unsubscribe has returned never reaches the cancelled handler.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blestream/internal/device"
)

type subscriber[E Event] struct {
	active  atomic.Bool
	filter  func(E) bool
	handler func(E)
}

func (s *subscriber[E]) deliver(e E) bool {
	if !s.active.Load() {
		return false
	}
	if s.filter != nil && !s.filter(e) {
		return false
	}
	s.handler(e)
	return true
}

// Subscription is the handle of one topic registration.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the registration. It is idempotent and safe to call from
// within the handler itself.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Topic is the multicast channel of one event kind.
type Topic[E Event] struct {
	kind   Kind
	logger *logrus.Logger

	mu   sync.Mutex
	subs []*subscriber[E]
}

// NewTopic creates an empty topic.
func NewTopic[E Event](kind Kind, logger *logrus.Logger) *Topic[E] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Topic[E]{kind: kind, logger: logger}
}

// Subscribe registers handler for events accepted by filter. A nil filter
// accepts every event.
func (t *Topic[E]) Subscribe(filter func(E) bool, handler func(E)) *Subscription {
	s := &subscriber[E]{filter: filter, handler: handler}
	s.active.Store(true)

	t.mu.Lock()
	subs := make([]*subscriber[E], len(t.subs), len(t.subs)+1)
	copy(subs, t.subs)
	t.subs = append(subs, s)
	t.mu.Unlock()

	return &Subscription{cancel: func() {
		s.active.Store(false)
		t.remove(s)
	}}
}

func (t *Topic[E]) remove(s *subscriber[E]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.subs {
		if cur == s {
			subs := make([]*subscriber[E], 0, len(t.subs)-1)
			subs = append(subs, t.subs[:i]...)
			t.subs = append(subs, t.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every matching subscriber and returns how many
// handlers ran.
func (t *Topic[E]) Publish(e E) int {
	t.mu.Lock()
	snapshot := t.subs
	t.mu.Unlock()

	delivered := 0
	for _, s := range snapshot {
		if s.deliver(e) {
			delivered++
		}
	}

	if t.logger.IsLevelEnabled(logrus.TraceLevel) {
		t.logger.WithFields(logrus.Fields{
			"kind":       t.kind,
			"peripheral": e.PeripheralID(),
			"delivered":  delivered,
			"error":      e.Cause(),
		}).Trace("Event published")
	}
	return delivered
}

// Len returns the number of live subscriptions.
func (t *Topic[E]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Kind returns the event kind of the topic.
func (t *Topic[E]) Kind() Kind { return t.kind }

// Bus groups one topic per event kind.
type Bus struct {
	ConnectionState           *Topic[ConnectionStateEvent]
	ServicesDiscovered        *Topic[ServicesDiscoveredEvent]
	CharacteristicsDiscovered *Topic[CharacteristicsDiscoveredEvent]
	ValueUpdated              *Topic[ValueUpdatedEvent]
	WriteAcknowledged         *Topic[WriteAcknowledgedEvent]
	RSSIRead                  *Topic[RSSIReadEvent]
}

// New creates a bus with empty topics.
func New(logger *logrus.Logger) *Bus {
	return &Bus{
		ConnectionState:           NewTopic[ConnectionStateEvent](KindConnectionState, logger),
		ServicesDiscovered:        NewTopic[ServicesDiscoveredEvent](KindServicesDiscovered, logger),
		CharacteristicsDiscovered: NewTopic[CharacteristicsDiscoveredEvent](KindCharacteristicsDiscovered, logger),
		ValueUpdated:              NewTopic[ValueUpdatedEvent](KindValueUpdated, logger),
		WriteAcknowledged:         NewTopic[WriteAcknowledgedEvent](KindWriteAcknowledged, logger),
		RSSIRead:                  NewTopic[RSSIReadEvent](KindRSSIRead, logger),
	}
}

// Publish routes e to the topic of its kind.
func (b *Bus) Publish(e Event) int {
	switch ev := e.(type) {
	case ConnectionStateEvent:
		return b.ConnectionState.Publish(ev)
	case ServicesDiscoveredEvent:
		return b.ServicesDiscovered.Publish(ev)
	case CharacteristicsDiscoveredEvent:
		return b.CharacteristicsDiscovered.Publish(ev)
	case ValueUpdatedEvent:
		return b.ValueUpdated.Publish(ev)
	case WriteAcknowledgedEvent:
		return b.WriteAcknowledged.Publish(ev)
	case RSSIReadEvent:
		return b.RSSIRead.Publish(ev)
	default:
		return 0
	}
}

// ForPeripheral returns a filter accepting events of one peripheral.
func ForPeripheral[E Event](id device.ID) func(E) bool {
	return func(e E) bool { return e.PeripheralID() == id }
}
