// Package output buffers characteristic values between the peripheral
// streams and the terminal, and paces them according to a Mode.
package output

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/blestream/internal/device"
	"github.com/srg/blestream/internal/groutine"
)

// Record is one value received from a characteristic.
type Record struct {
	Time           time.Time
	Characteristic device.CharacteristicID
	Value          []byte
}

// Metrics counts what went through a Collector.
type Metrics struct {
	Collected   int64
	Overwritten int64
	Errors      int64
}

const (
	stateStopped uint32 = iota
	stateRunning
	stateStopping
)

// MaxBufferSize guards against accidental misconfiguration.
const MaxBufferSize uint32 = 1024 * 1024

// Collector moves records from a channel into an overwrite-oldest ring
// buffer until stopped. Drain may run concurrently with collection.
type Collector struct {
	buffer mpmc.RichOverlappedRingBuffer[Record]
	state  atomic.Uint32
	stop   chan struct{}
	done   chan struct{}

	collected   atomic.Int64
	overwritten atomic.Int64
	errors      atomic.Int64
}

// NewCollector creates a collector keeping at most size records.
func NewCollector(size uint32) (*Collector, error) {
	if size == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if size > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", size, MaxBufferSize)
	}
	return &Collector{buffer: mpmc.NewOverlappedRingBuffer[Record](size)}, nil
}

// Start collects from in until Stop is called or in is closed.
func (c *Collector) Start(ctx context.Context, in <-chan Record) error {
	if !c.state.CompareAndSwap(stateStopped, stateRunning) {
		return fmt.Errorf("collector is already running")
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done

	groutine.Go(ctx, "output-collector", func(ctx context.Context) {
		defer func() {
			c.state.Store(stateStopped)
			close(done)
		}()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case rec, ok := <-in:
				if !ok {
					return
				}
				c.Add(rec)
			}
		}
	})
	return nil
}

// Add enqueues rec, overwriting the oldest record when full.
func (c *Collector) Add(rec Record) {
	overwrites, err := c.buffer.EnqueueM(rec)
	if err != nil {
		c.errors.Add(1)
		return
	}
	c.overwritten.Add(int64(overwrites))
	c.collected.Add(1)
}

// Stop ends collection and waits for the collecting goroutine. Records
// already buffered stay available to Drain.
func (c *Collector) Stop() {
	if c.state.CompareAndSwap(stateRunning, stateStopping) {
		close(c.stop)
	}
	if done := c.done; done != nil {
		<-done
	}
}

// Done is closed when the collecting goroutine exits.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Drain removes and returns every buffered record, oldest first.
func (c *Collector) Drain() []Record {
	var out []Record
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, rec)
	}
	return out
}

// Metrics returns the current counters.
func (c *Collector) Metrics() Metrics {
	return Metrics{
		Collected:   c.collected.Load(),
		Overwritten: c.overwritten.Load(),
		Errors:      c.errors.Load(),
	}
}
