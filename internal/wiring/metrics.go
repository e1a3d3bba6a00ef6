package wiring

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "swirl_wiring"

// busyTimer measures the fraction of wall time a scheduler spends inside its
// handlers. Concurrent schedulers divide by their available parallelism.
type busyTimer struct {
	mu          sync.Mutex
	now         func() time.Time
	parallelism float64

	accumulated time.Duration // finished task time
	active      int64
	activeStart int64 // sum of start times (unix nanos) of active tasks

	lastSample time.Time
	lastBusy   time.Duration
}

func newBusyTimer(parallelism int, now func() time.Time) *busyTimer {
	if parallelism < 1 {
		parallelism = 1
	}
	return &busyTimer{now: now, parallelism: float64(parallelism), lastSample: now()}
}

func (b *busyTimer) start() int64 {
	ts := b.now().UnixNano()
	b.mu.Lock()
	b.active++
	b.activeStart += ts
	b.mu.Unlock()
	return ts
}

func (b *busyTimer) stop(started int64) {
	ts := b.now().UnixNano()
	b.mu.Lock()
	b.active--
	b.activeStart -= started
	b.accumulated += time.Duration(ts - started)
	b.mu.Unlock()
}

// fraction returns the busy fraction since the previous call, in [0, 1].
func (b *busyTimer) fraction() float64 {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	busy := b.accumulated + time.Duration(b.active*now.UnixNano()-b.activeStart)
	elapsed := now.Sub(b.lastSample)
	delta := busy - b.lastBusy
	b.lastSample = now
	b.lastBusy = busy
	if elapsed <= 0 {
		return 0
	}
	f := float64(delta) / (float64(elapsed) * b.parallelism)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func registerSchedulerMetrics(reg prometheus.Registerer, s *schedulerCore) error {
	if reg == nil {
		return nil
	}
	labels := prometheus.Labels{"scheduler": s.name}

	if s.unhandledMetric {
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "unhandled_tasks",
			Help:        "Number of tasks submitted to the scheduler and not yet handled.",
			ConstLabels: labels,
		}, func() float64 { return float64(s.own.Count()) })
		if err := reg.Register(g); err != nil {
			return fmt.Errorf("register unhandled_tasks for %s: %w", s.name, err)
		}
	}
	if s.busyMetric {
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "busy_fraction",
			Help:        "Fraction of time the scheduler spent running handlers since the last scrape.",
			ConstLabels: labels,
		}, s.busy.fraction)
		if err := reg.Register(g); err != nil {
			return fmt.Errorf("register busy_fraction for %s: %w", s.name, err)
		}
	}
	return nil
}
