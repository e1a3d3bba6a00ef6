package intake

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons reported as the "reason" label.
const (
	ReasonNoSignature        = "no_signature"
	ReasonNotHashed          = "not_hashed"
	ReasonSelfParentCreator  = "self_parent_creator"
	ReasonOtherParentCreator = "other_parent_creator"
	ReasonIdenticalParents   = "identical_parents"
	ReasonGeneration         = "generation"
	ReasonBirthRound         = "birth_round"
	ReasonTooManyTxs         = "too_many_transactions"
	ReasonPayloadTooLarge    = "payload_too_large"
	ReasonDuplicate          = "duplicate"
	ReasonAncient            = "ancient"
	ReasonUnknownCreator     = "unknown_creator"
	ReasonBadSignature       = "bad_signature"
)

// Metrics counts dropped events per stage and reason. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	dropped *prometheus.CounterVec
	hits    prometheus.Counter
}

// NewMetrics registers the intake counters on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swirl",
			Subsystem: "intake",
			Name:      "dropped_events_total",
			Help:      "Events dropped by an intake stage.",
		}, []string{"stage", "reason"}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swirl",
			Subsystem: "intake",
			Name:      "signature_cache_hits_total",
			Help:      "Signature checks answered from the verified-signature cache.",
		}),
	}
	if err := reg.Register(m.dropped); err != nil {
		return nil, fmt.Errorf("register dropped_events_total: %w", err)
	}
	if err := reg.Register(m.hits); err != nil {
		return nil, fmt.Errorf("register signature_cache_hits_total: %w", err)
	}
	return m, nil
}

func (m *Metrics) drop(stage, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(stage, reason).Inc()
}

func (m *Metrics) cacheHit() {
	if m == nil {
		return
	}
	m.hits.Inc()
}
