package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_NowAdvancesByStep(t *testing.T) {
	clock := NewFakeClock(Epoch, time.Millisecond)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Millisecond), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Millisecond), clock.Peek())
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	clock := NewFakeClock(Epoch, 0)

	clock.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour), clock.Now())
	assert.Equal(t, Epoch.Add(time.Hour), clock.Now(), "zero step never advances")

	clock.Set(Epoch)
	assert.Equal(t, Epoch, clock.Peek())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(Epoch, time.Nanosecond)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var (
		mu   sync.Mutex
		seen = make(map[time.Time]bool)
		wg   sync.WaitGroup
	)
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				now := clock.Now()
				mu.Lock()
				seen[now] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, numGoroutines*callsPerGoroutine, "every reading is unique")
}
