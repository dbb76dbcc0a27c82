package stream

import (
	"context"
	"sync"
)

// First waits for the first value of s and cancels the rest of the stream.
// It returns the terminal error if s ends before emitting, ErrEmpty if s
// completes empty, or ctx.Err() if ctx is done first.
func First[T any](ctx context.Context, s *Stream[T]) (T, error) {
	var zero T
	select {
	case v, ok := <-s.C():
		if !ok {
			if err := s.Err(); err != nil {
				return zero, err
			}
			return zero, ErrEmpty
		}
		s.Cancel()
		return v, nil
	case <-ctx.Done():
		s.Cancel()
		return zero, ctx.Err()
	}
}

// Collect gathers every value of s until it terminates. On failure the values
// received so far are returned together with the error.
func Collect[T any](ctx context.Context, s *Stream[T]) ([]T, error) {
	var items []T
	err := ForEach(ctx, s, func(v T) error {
		items = append(items, v)
		return nil
	})
	return items, err
}

// ForEach calls fn for every value of s until the stream terminates, fn
// returns an error, or ctx is done. The stream is cancelled in the latter two
// cases.
func ForEach[T any](ctx context.Context, s *Stream[T], fn func(T) error) error {
	c := s.C()
	for {
		select {
		case v, ok := <-c:
			if !ok {
				return s.Err()
			}
			if err := fn(v); err != nil {
				s.Cancel()
				return err
			}
		case <-ctx.Done():
			s.Cancel()
			return ctx.Err()
		}
	}
}

// Cold defers the creation of a stream until Subscribe. Each Subscribe runs
// the start function again and yields an independent stream.
type Cold[T any] struct {
	start func() *Stream[T]
}

// Defer wraps start into a Cold stream. start is expected to register its
// event subscription before issuing any side effect that may produce events.
func Defer[T any](start func() *Stream[T]) *Cold[T] {
	return &Cold[T]{start: start}
}

// Subscribe starts the deferred work and returns its stream.
func (c *Cold[T]) Subscribe() *Stream[T] {
	return c.start()
}

// Subject holds a current value and replays it to every new observer before
// forwarding every later Set. Complete ends all observers.
type Subject[T comparable] struct {
	name string

	mu        sync.Mutex
	value     T
	closed    bool
	observers map[*Emitter[T]]struct{}
}

// NewSubject creates a subject holding initial.
func NewSubject[T comparable](name string, initial T) *Subject[T] {
	return &Subject[T]{
		name:      name,
		value:     initial,
		observers: make(map[*Emitter[T]]struct{}),
	}
}

// Value returns the current value.
func (s *Subject[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set stores v and forwards it to every observer, even when it equals the
// current value. It reports whether the value changed.
func (s *Subject[T]) Set(v T) bool {
	s.mu.Lock()
	changed := s.value != v
	s.value = v
	for e := range s.observers {
		e.Emit(v)
	}
	s.mu.Unlock()
	return changed
}

// Complete ends every observer successfully. Later observers receive the
// current value and complete at once.
func (s *Subject[T]) Complete() {
	s.mu.Lock()
	s.closed = true
	observers := make([]*Emitter[T], 0, len(s.observers))
	for e := range s.observers {
		observers = append(observers, e)
	}
	s.mu.Unlock()

	for _, e := range observers {
		e.Complete()
	}
}

// Observe returns a stream that yields the current value and then every
// later Set. It never fails and ends when cancelled or on Complete.
func (s *Subject[T]) Observe() *Stream[T] {
	out, e := New[T](s.name)

	s.mu.Lock()
	e.Emit(s.value)
	if s.closed {
		s.mu.Unlock()
		e.Complete()
		return out
	}
	s.observers[e] = struct{}{}
	s.mu.Unlock()

	out.OnTerminate(func(error) {
		s.mu.Lock()
		delete(s.observers, e)
		s.mu.Unlock()
	})
	return out
}

// Observers returns the number of live observers.
func (s *Subject[T]) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}
