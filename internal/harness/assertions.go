package harness

import (
	"fmt"
	"slices"
	"time"
)

// evaluate checks one assertion and returns a failure message, or "" when
// it holds.
func evaluate(a Assertion, r *Result) string {
	base := r.Baseline()
	switch a.Type {
	case AssertReleasedOrder:
		if !slices.Equal(a.Labels, base.Released) {
			return fmt.Sprintf("expected %v, got %v", a.Labels, base.Released)
		}
	case AssertReleasedCount:
		if len(base.Released) != a.Count {
			return fmt.Sprintf("expected %d released events, got %d", a.Count, len(base.Released))
		}
	case AssertBufferedCount:
		if base.Buffered != a.Count {
			return fmt.Sprintf("expected %d buffered orphans, got %d", a.Count, base.Buffered)
		}
	case AssertMinRounds:
		if len(base.Rounds) < a.Count {
			return fmt.Sprintf("expected at least %d rounds, got %d", a.Count, len(base.Rounds))
		}
	case AssertConsensusOrder:
		return checkConsensusOrder(base)
	case AssertTopological:
		return checkTopological(r.dag, base.Released)
	case AssertDeterministic:
		for _, o := range r.Outcomes[1:] {
			if msg := compareRounds(base, o); msg != "" {
				return msg
			}
		}
	default:
		return fmt.Sprintf("unknown assertion type %q", a.Type)
	}
	return ""
}

// checkConsensusOrder verifies that rounds are consecutive, order numbers
// are sequential and consensus timestamps strictly increase.
func checkConsensusOrder(o Outcome) string {
	var (
		nextOrder int64 = -1
		lastRound int64
		lastTime  time.Time
	)
	for i, r := range o.Rounds {
		if i > 0 && r.RoundNumber != lastRound+1 {
			return fmt.Sprintf("round %d follows round %d", r.RoundNumber, lastRound)
		}
		lastRound = r.RoundNumber
		for j, ce := range r.ConsensusEvents {
			if ce.RoundReceived != r.RoundNumber {
				return fmt.Sprintf("round %d event %d was received in round %d", r.RoundNumber, j, ce.RoundReceived)
			}
			if nextOrder >= 0 && ce.ConsensusOrder != nextOrder {
				return fmt.Sprintf("round %d: consensus order %d, expected %d", r.RoundNumber, ce.ConsensusOrder, nextOrder)
			}
			nextOrder = ce.ConsensusOrder + 1
			ts := ce.ConsensusTimestamp
			if !lastTime.IsZero() && !ts.After(lastTime) {
				return fmt.Sprintf("round %d: timestamp %s does not follow %s", r.RoundNumber, ts, lastTime)
			}
			lastTime = ts
		}
	}
	return ""
}

// checkTopological verifies that every event appears after those of its
// parents that appear at all.
func checkTopological(d *dag, order []string) string {
	pos := make(map[string]int, len(order))
	for i, l := range order {
		pos[l] = i
	}
	for i, l := range order {
		for _, p := range d.parents[l] {
			if j, ok := pos[p]; ok && j > i {
				return fmt.Sprintf("%s at %d precedes its parent %s at %d", l, i, p, j)
			}
		}
	}
	return ""
}

// compareRounds compares the rounds both outcomes decided.
func compareRounds(base, o Outcome) string {
	n := min(len(base.Rounds), len(o.Rounds))
	for i := range n {
		br, or := base.Rounds[i], o.Rounds[i]
		if br.RoundNumber != or.RoundNumber {
			return fmt.Sprintf("%s: round %d where baseline has round %d", o.Delivery, or.RoundNumber, br.RoundNumber)
		}
		if len(br.ConsensusEvents) != len(or.ConsensusEvents) {
			return fmt.Sprintf("%s: round %d has %d events, baseline has %d",
				o.Delivery, br.RoundNumber, len(or.ConsensusEvents), len(br.ConsensusEvents))
		}
		for j := range br.ConsensusEvents {
			if br.ConsensusEvents[j].Event.Hash() != or.ConsensusEvents[j].Event.Hash() {
				return fmt.Sprintf("%s: round %d differs at position %d", o.Delivery, br.RoundNumber, j)
			}
		}
	}
	return ""
}
