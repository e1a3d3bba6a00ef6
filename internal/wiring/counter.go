package wiring

import (
	"runtime"
	"sync/atomic"
	"time"
)

// ObjectCounter counts unhandled tasks for one or more schedulers and is the
// mechanism through which backpressure is applied.
type ObjectCounter interface {
	// OnRamp increments the count, blocking while the counter is at capacity.
	OnRamp()

	// AttemptOnRamp increments the count if capacity allows and reports
	// whether it did. It never blocks.
	AttemptOnRamp() bool

	// ForceOnRamp increments the count regardless of capacity.
	ForceOnRamp()

	// OffRamp decrements the count.
	OffRamp()

	// Count returns the current count.
	Count() int64

	// WaitUntilEmpty blocks until the count reaches zero.
	WaitUntilEmpty()
}

// NoOpObjectCounter counts nothing. Direct schedulers use it.
type NoOpObjectCounter struct{}

func (NoOpObjectCounter) OnRamp()             {}
func (NoOpObjectCounter) AttemptOnRamp() bool { return true }
func (NoOpObjectCounter) ForceOnRamp()        {}
func (NoOpObjectCounter) OffRamp()            {}
func (NoOpObjectCounter) Count() int64        { return 0 }
func (NoOpObjectCounter) WaitUntilEmpty()     {}

// StandardObjectCounter counts without a capacity limit.
type StandardObjectCounter struct {
	count atomic.Int64
	sleep time.Duration
}

// NewStandardObjectCounter returns an unbounded counter. sleep is the poll
// interval used by WaitUntilEmpty.
func NewStandardObjectCounter(sleep time.Duration) *StandardObjectCounter {
	return &StandardObjectCounter{sleep: sleep}
}

func (c *StandardObjectCounter) OnRamp()             { c.count.Add(1) }
func (c *StandardObjectCounter) AttemptOnRamp() bool { c.count.Add(1); return true }
func (c *StandardObjectCounter) ForceOnRamp()        { c.count.Add(1) }
func (c *StandardObjectCounter) OffRamp()            { c.count.Add(-1) }
func (c *StandardObjectCounter) Count() int64        { return c.count.Load() }

func (c *StandardObjectCounter) WaitUntilEmpty() {
	for c.count.Load() > 0 {
		pause(c.sleep)
	}
}

// BackpressureObjectCounter blocks OnRamp callers while the count is at
// capacity. Blocked callers poll, sleeping for the configured duration
// between attempts (or yielding the processor when it is zero).
type BackpressureObjectCounter struct {
	name     string
	capacity int64
	sleep    time.Duration
	count    atomic.Int64
}

// NewBackpressureObjectCounter returns a counter limited to capacity
// unhandled objects. capacity must be positive.
func NewBackpressureObjectCounter(name string, capacity int64, sleep time.Duration) *BackpressureObjectCounter {
	if capacity <= 0 {
		panic("wiring: backpressure counter capacity must be positive")
	}
	return &BackpressureObjectCounter{name: name, capacity: capacity, sleep: sleep}
}

// Name returns the counter's name.
func (c *BackpressureObjectCounter) Name() string { return c.name }

// Capacity returns the configured capacity.
func (c *BackpressureObjectCounter) Capacity() int64 { return c.capacity }

func (c *BackpressureObjectCounter) OnRamp() {
	for !c.AttemptOnRamp() {
		pause(c.sleep)
	}
}

func (c *BackpressureObjectCounter) AttemptOnRamp() bool {
	for {
		cur := c.count.Load()
		if cur >= c.capacity {
			return false
		}
		if c.count.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (c *BackpressureObjectCounter) ForceOnRamp() { c.count.Add(1) }
func (c *BackpressureObjectCounter) OffRamp()     { c.count.Add(-1) }
func (c *BackpressureObjectCounter) Count() int64 { return c.count.Load() }

func (c *BackpressureObjectCounter) WaitUntilEmpty() {
	for c.count.Load() > 0 {
		pause(c.sleep)
	}
}

func pause(d time.Duration) {
	if d <= 0 {
		runtime.Gosched()
		return
	}
	time.Sleep(d)
}

// multiCounter ramps several counters together. A scheduler with an external
// backpressure counter uses it to keep its own unhandled-task count accurate
// while the shared counter enforces the limit.
type multiCounter struct {
	primary ObjectCounter
	others  []ObjectCounter
}

func (m *multiCounter) OnRamp() {
	m.primary.OnRamp()
	for _, c := range m.others {
		c.ForceOnRamp()
	}
}

func (m *multiCounter) AttemptOnRamp() bool {
	if !m.primary.AttemptOnRamp() {
		return false
	}
	for _, c := range m.others {
		c.ForceOnRamp()
	}
	return true
}

func (m *multiCounter) ForceOnRamp() {
	m.primary.ForceOnRamp()
	for _, c := range m.others {
		c.ForceOnRamp()
	}
}

func (m *multiCounter) OffRamp() {
	m.primary.OffRamp()
	for _, c := range m.others {
		c.OffRamp()
	}
}

func (m *multiCounter) Count() int64 { return m.primary.Count() }

func (m *multiCounter) WaitUntilEmpty() {
	for _, c := range m.others {
		c.WaitUntilEmpty()
	}
}
