// Package groutine starts named goroutines. Names are attached as pprof labels
// so stream pumps and adapter commands are identifiable in profiles and dumps.
package groutine

import (
	"context"
	"fmt"
	"runtime/pprof"
	"sync"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name.
// If parentCtx is nil, context.Background() is used.
//
//	groutine.Go(ctx, "stream-pump", func(ctx context.Context) {
//	    // work
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Name builds a goroutine name of the form "<kind>:<id>".
func Name(kind string, id fmt.Stringer) string {
	if id == nil {
		return kind
	}
	return kind + ":" + id.String()
}

// Group tracks named goroutines so an owner can wait for them on shutdown.
// The zero value is ready to use.
type Group struct {
	wg sync.WaitGroup
}

// Go starts fn like the package-level Go and tracks it in the group.
func (g *Group) Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(parentCtx, name, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	})
}

// Wait blocks until every goroutine started through the group returns.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Serial runs submitted jobs one at a time, in submission order, on a single
// named goroutine. The zero value is not usable; use NewSerial.
type Serial struct {
	name string
	jobs chan func(ctx context.Context)
	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}
}

// NewSerial starts the worker. It runs until Stop or until parentCtx is done.
func NewSerial(parentCtx context.Context, name string, backlog int) *Serial {
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := context.WithCancel(parentCtx)
	s := &Serial{
		name: name,
		jobs: make(chan func(ctx context.Context), backlog),
		ctx:  ctx,
		stop: stop,
		done: make(chan struct{}),
	}
	Go(ctx, name, func(ctx context.Context) {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-s.jobs:
				job(ctx)
			}
		}
	})
	return s
}

// Submit queues job. It reports false when the worker has stopped.
func (s *Serial) Submit(job func(ctx context.Context)) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.jobs <- job:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Stop cancels the running job's context and waits for the worker to exit.
// Queued jobs are dropped.
func (s *Serial) Stop() {
	s.stop()
	<-s.done
}
