package peripheral

import (
	"sync"

	"github.com/srg/blestream/internal/bus"
	"github.com/srg/blestream/internal/stream"
)

// opKind names a single-flight slot. At most one operation per kind is in
// flight; starting another cancels the previous one.
type opKind string

const (
	opConnect                 opKind = "connect"
	opDiscoverServices        opKind = "discover-services"
	opDiscoverCharacteristics opKind = "discover-characteristics"
	opWrite                   opKind = "write"
	opRSSI                    opKind = "rssi"
)

type pending struct {
	cancel func()
	fail   func(error) bool
}

// opTable owns the in-flight operations of one peripheral. It never points
// back at the peripheral, so it can outlive it and fail what is left.
type opTable struct {
	mu       sync.Mutex
	slots    map[opKind]*pending
	streams  map[*pending]struct{}
	stateSub *bus.Subscription
	state    *stream.Subject[bool]
	closed   bool
}

func newOpTable(state *stream.Subject[bool]) *opTable {
	return &opTable{
		state:   state,
		slots:   make(map[opKind]*pending),
		streams: make(map[*pending]struct{}),
	}
}

// claim installs op in the slot of kind and cancels whatever it replaces.
func (t *opTable) claim(kind opKind, op *pending) {
	t.mu.Lock()
	prev := t.slots[kind]
	t.slots[kind] = op
	t.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
}

func (t *opTable) release(kind opKind, op *pending) {
	t.mu.Lock()
	if t.slots[kind] == op {
		delete(t.slots, kind)
	}
	t.mu.Unlock()
}

func (t *opTable) track(op *pending) {
	t.mu.Lock()
	t.streams[op] = struct{}{}
	t.mu.Unlock()
}

func (t *opTable) untrack(op *pending) {
	t.mu.Lock()
	delete(t.streams, op)
	t.mu.Unlock()
}

func (t *opTable) inFlight(kind opKind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[kind] != nil
}

// shutdown fails every pending operation with err, drops the connection
// state subscription and completes the state observers.
func (t *opTable) shutdown(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	ops := make([]*pending, 0, len(t.slots)+len(t.streams))
	for _, op := range t.slots {
		ops = append(ops, op)
	}
	for op := range t.streams {
		ops = append(ops, op)
	}
	sub := t.stateSub
	t.mu.Unlock()

	sub.Unsubscribe()
	for _, op := range ops {
		op.fail(err)
	}
	t.state.Complete()
}

// begin opens the stream of a single-flight operation of kind, superseding the
// previous one.
func begin[T any](t *opTable, kind opKind, name string) (*stream.Stream[T], *stream.Emitter[T]) {
	s, e := stream.New[T](name)
	op := &pending{cancel: s.Cancel, fail: e.Fail}
	s.OnTerminate(func(error) { t.release(kind, op) })
	t.claim(kind, op)
	return s, e
}

// open opens the stream of an operation that is not single-flight.
func open[T any](t *opTable, name string) (*stream.Stream[T], *stream.Emitter[T]) {
	s, e := stream.New[T](name)
	op := &pending{cancel: s.Cancel, fail: e.Fail}
	t.track(op)
	s.OnTerminate(func(error) { t.untrack(op) })
	return s, e
}

// bind ties a bus subscription to the lifetime of s.
func bind[T any](s *stream.Stream[T], sub *bus.Subscription) {
	s.OnTerminate(func(error) { sub.Unsubscribe() })
}
