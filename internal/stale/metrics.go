package stale

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts stale events and resubmitted transactions. A nil *Metrics
// records nothing.
type Metrics struct {
	stale       prometheus.Counter
	resubmitted prometheus.Counter
	tooOld      prometheus.Counter
}

// NewMetrics registers the stale counters on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swirl",
			Subsystem: "stale",
			Name:      "events_total",
			Help:      "Self events that became ancient before reaching consensus.",
		}),
		resubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swirl",
			Subsystem: "stale",
			Name:      "resubmitted_transactions_total",
			Help:      "System transactions resubmitted from stale events.",
		}),
		tooOld: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swirl",
			Subsystem: "stale",
			Name:      "abandoned_transactions_total",
			Help:      "State signature transactions too old to resubmit.",
		}),
	}
	for name, c := range map[string]prometheus.Collector{
		"events_total":                   m.stale,
		"resubmitted_transactions_total": m.resubmitted,
		"abandoned_transactions_total":   m.tooOld,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}
	return m, nil
}

func (m *Metrics) staleEvent() {
	if m != nil {
		m.stale.Inc()
	}
}

func (m *Metrics) resubmit() {
	if m != nil {
		m.resubmitted.Inc()
	}
}

func (m *Metrics) abandon() {
	if m != nil {
		m.tooOld.Inc()
	}
}
