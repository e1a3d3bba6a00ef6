package intake

import (
	"log/slog"

	"github.com/roach88/swirl/internal/hashgraph"
)

const stageValidator = "internal_validator"

// Limits bounds the transaction content of a single event.
type Limits struct {
	MaxTransactions int
	MaxPayloadBytes int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxTransactions: 1024, MaxPayloadBytes: 1 << 20}
}

// InternalValidator rejects events that are not self-consistent. It checks
// nothing that needs state beyond the event itself.
type InternalValidator struct {
	limits  Limits
	metrics *Metrics
}

// NewInternalValidator returns a validator enforcing limits.
func NewInternalValidator(limits Limits, metrics *Metrics) *InternalValidator {
	return &InternalValidator{limits: limits, metrics: metrics}
}

// Validate returns e if it is well formed, nil otherwise.
func (v *InternalValidator) Validate(e *hashgraph.GossipEvent) (*hashgraph.GossipEvent, error) {
	if reason := v.check(e); reason != "" {
		v.metrics.drop(stageValidator, reason)
		slog.Debug("invalid event dropped",
			"event", e.String(),
			"reason", reason,
		)
		return nil, nil
	}
	return e, nil
}

func (v *InternalValidator) check(e *hashgraph.GossipEvent) string {
	if !e.IsHashed() {
		return ReasonNotHashed
	}
	if len(e.Signature) == 0 {
		return ReasonNoSignature
	}

	sp, op := e.SelfParent, e.OtherParent
	if sp != nil && sp.Creator != e.Creator() {
		return ReasonSelfParentCreator
	}
	if op != nil && op.Creator == e.Creator() {
		return ReasonOtherParentCreator
	}
	if sp != nil && op != nil && sp.Hash == op.Hash {
		return ReasonIdenticalParents
	}

	want := hashgraph.FirstGeneration
	for _, p := range e.Parents() {
		want = max(want, p.Generation+1)
		if e.BirthRound() < p.BirthRound {
			return ReasonBirthRound
		}
	}
	if e.Generation() != want {
		return ReasonGeneration
	}

	if v.limits.MaxTransactions > 0 && len(e.Transactions) > v.limits.MaxTransactions {
		return ReasonTooManyTxs
	}
	if v.limits.MaxPayloadBytes > 0 && e.PayloadBytes() > v.limits.MaxPayloadBytes {
		return ReasonPayloadTooLarge
	}
	return ""
}
