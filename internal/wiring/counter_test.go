package wiring

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackpressureObjectCounter_AttemptRespectsCapacity(t *testing.T) {
	c := NewBackpressureObjectCounter("c", 2, 0)

	assert.True(t, c.AttemptOnRamp())
	assert.True(t, c.AttemptOnRamp())
	assert.False(t, c.AttemptOnRamp(), "third attempt exceeds capacity")
	assert.Equal(t, int64(2), c.Count())

	c.ForceOnRamp()
	assert.Equal(t, int64(3), c.Count(), "force ignores capacity")

	c.OffRamp()
	c.OffRamp()
	assert.True(t, c.AttemptOnRamp())
}

func TestBackpressureObjectCounter_OnRampBlocksUntilOffRamp(t *testing.T) {
	c := NewBackpressureObjectCounter("c", 1, time.Microsecond)
	c.OnRamp()

	var ramped atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.OnRamp()
		ramped.Store(true)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ramped.Load(), "OnRamp must block while at capacity")

	c.OffRamp()
	<-done
	assert.True(t, ramped.Load())
	assert.Equal(t, int64(1), c.Count())
}

func TestBackpressureObjectCounter_NeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	c := NewBackpressureObjectCounter("c", capacity, 0)

	var maxSeen atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				c.OnRamp()
				if n := c.Count(); n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				c.OffRamp()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(capacity))
	assert.Equal(t, int64(0), c.Count())
}

func TestBackpressureObjectCounter_RejectsNonPositiveCapacity(t *testing.T) {
	assert.Panics(t, func() { NewBackpressureObjectCounter("c", 0, 0) })
}

func TestStandardObjectCounter_WaitUntilEmpty(t *testing.T) {
	c := NewStandardObjectCounter(time.Microsecond)
	for range 5 {
		require.True(t, c.AttemptOnRamp())
	}

	go func() {
		for range 5 {
			time.Sleep(time.Millisecond)
			c.OffRamp()
		}
	}()
	c.WaitUntilEmpty()
	assert.Equal(t, int64(0), c.Count())
}

func TestMultiCounter_RampsEveryCounter(t *testing.T) {
	shared := NewBackpressureObjectCounter("shared", 1, 0)
	own := NewStandardObjectCounter(0)
	m := &multiCounter{primary: shared, others: []ObjectCounter{own}}

	require.True(t, m.AttemptOnRamp())
	assert.False(t, m.AttemptOnRamp(), "shared counter is full")
	assert.Equal(t, int64(1), own.Count(), "rejected attempt must not ramp the others")

	m.OffRamp()
	assert.Equal(t, int64(0), shared.Count())
	assert.Equal(t, int64(0), own.Count())
}

func TestNoOpObjectCounter(t *testing.T) {
	var c NoOpObjectCounter
	c.OnRamp()
	c.ForceOnRamp()
	assert.True(t, c.AttemptOnRamp())
	assert.Equal(t, int64(0), c.Count())
	c.WaitUntilEmpty()
}
