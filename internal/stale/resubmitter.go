package stale

import (
	"log/slog"

	"github.com/roach88/swirl/internal/hashgraph"
)

//go:generate go run go.uber.org/mock/mockgen -package=stalemock -destination=stalemock/pool.go -mock_names=TransactionPool=TransactionPool . TransactionPool

// TransactionPool accepts transactions for inclusion in a future self event.
type TransactionPool interface {
	// SubmitSystemTransaction queues tx and reports whether it was accepted.
	SubmitSystemTransaction(tx hashgraph.Transaction) bool
}

// DefaultMaxSignatureResubmitAge is how many rounds a state signature stays
// worth resubmitting.
const DefaultMaxSignatureResubmitAge = 16

// Resubmitter puts the system transactions of stale events back into the
// pool. Application transactions are left to their clients. Not safe for
// concurrent use.
type Resubmitter struct {
	pool    TransactionPool
	maxAge  int64
	latest  int64
	metrics *Metrics
}

// NewResubmitter returns a resubmitter feeding pool. State signatures for
// rounds more than maxAge behind the latest consensus round are dropped.
func NewResubmitter(pool TransactionPool, maxAge int64, metrics *Metrics) *Resubmitter {
	return &Resubmitter{pool: pool, maxAge: maxAge, metrics: metrics}
}

// SetEventWindow records the latest consensus round.
func (r *Resubmitter) SetEventWindow(w hashgraph.EventWindow) {
	r.latest = w.LatestConsensusRound
}

// Resubmit submits e's eligible system transactions and returns those the
// pool accepted.
func (r *Resubmitter) Resubmit(e *hashgraph.GossipEvent) []hashgraph.Transaction {
	var out []hashgraph.Transaction
	for _, tx := range e.SystemTransactions() {
		if tx.SignatureRound > 0 && r.latest-tx.SignatureRound > r.maxAge {
			r.metrics.abandon()
			continue
		}
		if !r.pool.SubmitSystemTransaction(tx) {
			slog.Warn("transaction pool rejected resubmitted transaction",
				"event", e.String(),
				"tx_id", tx.ID,
			)
			continue
		}
		r.metrics.resubmit()
		out = append(out, tx)
	}
	return out
}
