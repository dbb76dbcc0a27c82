package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDropsOldest(t *testing.T) {
	// GOAL: Verify a full channel keeps the newest elements
	//
	// TEST SCENARIO: Send 10 values into capacity 3 → close → drain → only the last 3 remain
	rc := New[int](3)
	dropped := 0
	for i := 0; i < 10; i++ {
		if rc.Send(i) {
			dropped++
		}
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got)
	assert.Equal(t, 7, dropped)

	m := rc.Metrics()
	assert.Equal(t, int64(10), m.Sent)
	assert.Equal(t, int64(7), m.Dropped)
	assert.Zero(t, m.Received, "reads through C() MUST NOT be counted")
}

func TestTrySendAndReceive(t *testing.T) {
	rc := New[string](1)
	assert.Equal(t, 1, rc.Cap())

	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"), "TrySend MUST fail when full")
	assert.Equal(t, 1, rc.Len())

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = rc.TryReceive()
	assert.False(t, ok)

	rc.Send("c")
	v, ok = rc.Receive()
	require.True(t, ok)
	assert.Equal(t, "c", v)
	assert.Equal(t, int64(2), rc.Metrics().Received)
}

func TestClose(t *testing.T) {
	rc := New[int](2)
	rc.Send(1)
	rc.Close()
	rc.Close()

	assert.False(t, rc.Send(2), "Send after Close MUST be ignored")
	assert.False(t, rc.TrySend(2))

	v, ok := rc.Receive()
	assert.True(t, ok, "buffered values MUST survive Close")
	assert.Equal(t, 1, v)
	_, ok = rc.Receive()
	assert.False(t, ok)
}

func TestConcurrentProducers(t *testing.T) {
	// GOAL: Verify producers never block and the buffer never exceeds capacity
	//
	// TEST SCENARIO: 8 producers × 1000 sends into capacity 16 with no consumer → all return
	rc := New[int](16)
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, rc.Len())
	m := rc.Metrics()
	assert.Equal(t, int64(8000), m.Sent)
	assert.Equal(t, int64(8000-16), m.Dropped)
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
