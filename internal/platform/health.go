package platform

import (
	"log/slog"
	"time"

	"github.com/roach88/swirl/internal/wiring"
)

// Health is a periodic snapshot of queue depths.
type Health struct {
	Time time.Time

	// UnhandledTasks maps each queued stage to its backlog.
	UnhandledTasks map[string]int64
}

// Backlog returns the total number of unhandled tasks.
func (h Health) Backlog() int64 {
	var n int64
	for _, c := range h.UnhandledTasks {
		n += c
	}
	return n
}

func (p *Pipeline) buildHealth(period time.Duration) error {
	ticks, err := p.model.BuildHeartbeatWire(period)
	if err != nil {
		return err
	}
	s, err := wiring.NewScheduler[Health](p.model, "health_monitor", wiring.Direct)
	if err != nil {
		return err
	}
	stages := p.flushOrder
	ticks.SolderTo(wiring.NewInputWire[time.Time, Health](s, "heartbeat").
		Bind(func(now time.Time) (Health, error) {
			h := Health{Time: now, UnhandledTasks: make(map[string]int64, len(stages))}
			for _, st := range stages {
				h.UnhandledTasks[st.Name()] = st.UnhandledTaskCount()
			}
			slog.Debug("pipeline health", "backlog", h.Backlog())
			return h, nil
		}), wiring.SolderPut)
	p.health = s.Output()
	return nil
}
