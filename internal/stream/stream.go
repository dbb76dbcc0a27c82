// Package stream provides single-subscriber, cancellable, terminating value
// streams.
//
// A Stream is the consumer handle and an Emitter is the producer handle of the
// same pipe. Emission never blocks the producer: values are queued without
// bound and a named pump goroutine forwards them to the channel returned by
// C. A stream terminates exactly once, by Complete, Fail or Cancel; after
// termination nothing more is emitted and every OnTerminate hook has run.
package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/srg/blestream/internal/groutine"
)

var (
	// ErrCanceled terminates a stream cancelled by its consumer or superseded
	// by a newer operation of the same kind.
	ErrCanceled = errors.New("stream canceled")

	// ErrEmpty is returned by First when a stream completes without a value.
	ErrEmpty = errors.New("stream completed without a value")
)

// Stream is the consumer side of a pipe.
type Stream[T any] struct {
	name string

	mu         sync.Mutex
	queue      []T
	terminated bool
	err        error
	hooks      []func(error)

	signal    chan struct{}
	canceled  chan struct{}
	done      chan struct{}
	out       chan T
	startPump sync.Once
}

// Emitter is the producer side of a pipe.
type Emitter[T any] struct {
	s *Stream[T]
}

// New creates a pipe. name labels the pump goroutine.
func New[T any](name string) (*Stream[T], *Emitter[T]) {
	s := &Stream[T]{
		name:     name,
		signal:   make(chan struct{}, 1),
		canceled: make(chan struct{}),
		done:     make(chan struct{}),
		out:      make(chan T),
	}
	return s, &Emitter[T]{s: s}
}

// FromSlice returns a completed stream that yields items in order.
func FromSlice[T any](name string, items []T) *Stream[T] {
	s, e := New[T](name)
	for _, v := range items {
		e.Emit(v)
	}
	e.Complete()
	return s
}

// Just returns a completed stream that yields v.
func Just[T any](name string, v T) *Stream[T] {
	return FromSlice(name, []T{v})
}

// Failed returns a stream already terminated with err.
func Failed[T any](name string, err error) *Stream[T] {
	s, e := New[T](name)
	e.Fail(err)
	return s
}

// Name returns the label given at creation.
func (s *Stream[T]) Name() string { return s.name }

// C returns the value channel. It is closed after termination once every
// queued value has been delivered, or immediately on Cancel.
func (s *Stream[T]) C() <-chan T {
	s.startPump.Do(func() {
		groutine.Go(context.Background(), "stream:"+s.name, s.pump)
	})
	return s.out
}

// Done is closed when the stream terminates.
func (s *Stream[T]) Done() <-chan struct{} { return s.done }

// Err returns the terminal error: nil while running or after Complete,
// ErrCanceled after Cancel, the failure otherwise.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Terminated reports whether the stream has terminated.
func (s *Stream[T]) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Cancel terminates the stream with ErrCanceled and drops undelivered values.
// It is a no-op on a terminated stream.
func (s *Stream[T]) Cancel() {
	s.terminate(ErrCanceled, true)
}

// OnTerminate registers fn to run once with the terminal error. If the stream
// has already terminated fn runs immediately.
func (s *Stream[T]) OnTerminate(fn func(err error)) {
	s.mu.Lock()
	if s.terminated {
		err := s.err
		s.mu.Unlock()
		fn(err)
		return
	}
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

func (s *Stream[T]) terminate(err error, cancel bool) bool {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return false
	}
	s.terminated = true
	s.err = err
	if cancel {
		s.queue = nil
		close(s.canceled)
	}
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	close(s.done)
	s.wake()
	for _, h := range hooks {
		h(err)
	}
	return true
}

func (s *Stream[T]) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Stream[T]) pump(_ context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			v := s.queue[0]
			var zero T
			s.queue[0] = zero
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.canceled:
				return
			default:
			}
			select {
			case s.out <- v:
			case <-s.canceled:
				return
			}
			continue
		}
		if s.terminated {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		select {
		case <-s.signal:
		case <-s.canceled:
			return
		}
	}
}

// Emit queues v for delivery. It reports false when the stream has already
// terminated and v was dropped.
func (e *Emitter[T]) Emit(v T) bool {
	s := e.s
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.wake()
	return true
}

// Complete terminates the stream successfully. Queued values are still
// delivered. It reports whether this call terminated the stream.
func (e *Emitter[T]) Complete() bool {
	return e.s.terminate(nil, false)
}

// Fail terminates the stream with err. Queued values are still delivered.
// Fail(nil) is Complete. It reports whether this call terminated the stream.
func (e *Emitter[T]) Fail(err error) bool {
	return e.s.terminate(err, false)
}

// Done is closed when the stream terminates for any reason.
func (e *Emitter[T]) Done() <-chan struct{} { return e.s.done }

// Stream returns the consumer handle of the pipe.
func (e *Emitter[T]) Stream() *Stream[T] { return e.s }
