package store

import (
	"context"
	"fmt"

	"github.com/roach88/swirl/internal/hashgraph"
)

// Divergence describes the first point where a replay disagrees with the
// journal.
type Divergence struct {
	Round int64 `json:"round"`

	// Order is the consensus order of the first differing event, or -1
	// when the round as a whole differs.
	Order  int64  `json:"order"`
	Reason string `json:"reason"`
}

// DivergenceError is returned by Verify when a replay disagrees with the
// journal.
type DivergenceError struct {
	RunID string
	Divergence
}

// Error implements the error interface.
func (e *DivergenceError) Error() string {
	if e.Order >= 0 {
		return fmt.Sprintf("run %s diverged at round %d, order %d: %s", e.RunID, e.Round, e.Order, e.Reason)
	}
	return fmt.Sprintf("run %s diverged at round %d: %s", e.RunID, e.Round, e.Reason)
}

// VerifyResult summarises a successful replay.
type VerifyResult struct {
	Rounds int
	Events int
}

// Verify compares replayed rounds with the journal of runID, round by round
// and event by event. It returns a *DivergenceError at the first mismatch.
// Replaying fewer or more rounds than were journaled is a divergence.
func (s *Store) Verify(ctx context.Context, runID string, replayed []hashgraph.ConsensusRound) (VerifyResult, error) {
	journal, err := s.ReadRounds(ctx, runID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify: %w", err)
	}
	order, err := s.ReadOrder(ctx, runID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify: %w", err)
	}
	diverged := func(round, ord int64, format string, args ...any) (VerifyResult, error) {
		return VerifyResult{}, &DivergenceError{
			RunID:      runID,
			Divergence: Divergence{Round: round, Order: ord, Reason: fmt.Sprintf(format, args...)},
		}
	}

	var res VerifyResult
	next := 0
	for i, r := range replayed {
		if i >= len(journal) {
			return diverged(r.RoundNumber, -1, "round not in journal")
		}
		want := journal[i]
		if want.Round != r.RoundNumber {
			return diverged(want.Round, -1, "replay produced round %d", r.RoundNumber)
		}
		hash, err := hashgraph.SnapshotHash(r.Snapshot)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("verify round %d: %w", r.RoundNumber, err)
		}
		for _, ce := range r.ConsensusEvents {
			if next >= len(order) || order[next].Round != r.RoundNumber {
				return diverged(r.RoundNumber, ce.ConsensusOrder, "extra event %s", ce.Event.Hash().Short())
			}
			rec := order[next]
			if rec.ConsensusOrder != ce.ConsensusOrder || rec.EventHash != ce.Event.Hash() {
				return diverged(r.RoundNumber, rec.ConsensusOrder, "journal has %s, replay has %s",
					rec.EventHash.Short(), ce.Event.Hash().Short())
			}
			if !rec.ConsensusTimestamp.Equal(ce.ConsensusTimestamp) {
				return diverged(r.RoundNumber, rec.ConsensusOrder, "timestamp %s, replay has %s",
					rec.ConsensusTimestamp, ce.ConsensusTimestamp)
			}
			next++
			res.Events++
		}
		if next < len(order) && order[next].Round == r.RoundNumber {
			return diverged(r.RoundNumber, order[next].ConsensusOrder, "missing event %s", order[next].EventHash.Short())
		}
		if want.SnapshotHash != hash {
			return diverged(r.RoundNumber, -1, "snapshot hash %s, replay has %s",
				want.SnapshotHash.Short(), hash.Short())
		}
		res.Rounds++
	}
	if len(replayed) < len(journal) {
		return diverged(journal[len(replayed)].Round, -1, "round missing from replay")
	}
	return res, nil
}
