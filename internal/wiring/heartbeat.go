package wiring

import (
	"sync"
	"time"
)

type heartbeat struct {
	period time.Duration
	now    func() time.Time
	out    *OutputWire[time.Time]
}

func (h *heartbeat) run(stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(h.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.out.Forward(h.now())
		}
	}
}

// BuildHeartbeatWire returns a wire that carries the current time once per
// period after the model starts. Ticks are best effort: a slow consumer
// delays the next tick rather than queuing a burst.
func (m *Model) BuildHeartbeatWire(period time.Duration) (*OutputWire[time.Time], error) {
	if period <= 0 {
		err := newConfigError(ErrCodeInvalidHeartbeat, "", "heartbeat period %s must be positive", period)
		m.recordBuildError(err)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil, newConfigError(ErrCodeAlreadyStarted, "", "cannot add a heartbeat to a started model")
	}
	hb := &heartbeat{period: period, now: m.now, out: &OutputWire[time.Time]{model: m}}
	m.heartbeats = append(m.heartbeats, hb)
	return hb.out, nil
}

// BuildHeartbeatWireHz returns a heartbeat wire ticking hz times per second.
func (m *Model) BuildHeartbeatWireHz(hz float64) (*OutputWire[time.Time], error) {
	if hz <= 0 {
		err := newConfigError(ErrCodeInvalidHeartbeat, "", "heartbeat frequency %g must be positive", hz)
		m.recordBuildError(err)
		return nil, err
	}
	return m.BuildHeartbeatWire(time.Duration(float64(time.Second) / hz))
}
