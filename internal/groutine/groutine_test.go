package groutine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoPropagatesName(t *testing.T) {
	done := make(chan string, 1)
	Go(nil, "worker-42", func(ctx context.Context) {
		done <- GetName(ctx)
	})
	assert.Equal(t, "worker-42", <-done, "goroutine MUST see its own name in context")
}

func TestGetNameWithoutLabel(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	assert.Empty(t, GetName(nil)) //nolint:staticcheck // nil context is handled explicitly
}

func TestName(t *testing.T) {
	id := uuid.MustParse("a1b2c3d4-0000-0000-0000-000000000001")
	assert.Equal(t, "connect:a1b2c3d4-0000-0000-0000-000000000001", Name("connect", id))
	assert.Equal(t, "scan", Name("scan", nil))
}

func TestGroupWaitsForAll(t *testing.T) {
	var g Group
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		g.Go(context.Background(), "count", func(context.Context) {
			n.Add(1)
		})
	}
	g.Wait()
	require.Equal(t, int32(10), n.Load(), "Wait MUST return only after every goroutine finished")
}

func TestSerialPreservesOrder(t *testing.T) {
	s := NewSerial(context.Background(), "serial-test", 16)
	defer s.Stop()

	out := make(chan int, 10)
	for i := 0; i < 10; i++ {
		require.True(t, s.Submit(func(context.Context) { out <- i }))
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, i, <-out, "jobs MUST run in submission order")
	}
}

func TestSerialStop(t *testing.T) {
	s := NewSerial(context.Background(), "serial-stop", 1)

	started := make(chan struct{})
	canceled := make(chan struct{})
	require.True(t, s.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(canceled)
	}))
	<-started
	s.Stop()

	select {
	case <-canceled:
	default:
		t.Fatal("Stop MUST cancel the running job")
	}
	assert.False(t, s.Submit(func(context.Context) {}), "Submit MUST fail after Stop")
}
