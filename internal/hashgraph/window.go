package hashgraph

import (
	"errors"
	"fmt"
)

// ErrNoEventWindow is returned by window-dependent operations invoked before
// an event window has been set. It indicates a caller ordering bug.
var ErrNoEventWindow = errors.New("event window not set")

// AncientMode selects the sequence number used to measure event age.
type AncientMode int

const (
	// GenerationThreshold measures age in generations.
	GenerationThreshold AncientMode = iota
	// BirthRoundThreshold measures age in birth rounds.
	BirthRoundThreshold
)

// String implements fmt.Stringer.
func (m AncientMode) String() string {
	switch m {
	case GenerationThreshold:
		return "generation"
	case BirthRoundThreshold:
		return "birth_round"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseAncientMode parses the String form of an AncientMode.
func ParseAncientMode(s string) (AncientMode, error) {
	switch s {
	case "generation", "":
		return GenerationThreshold, nil
	case "birth_round":
		return BirthRoundThreshold, nil
	default:
		return 0, fmt.Errorf("unknown ancient mode %q", s)
	}
}

// FirstIndicator is the lowest ancient indicator an event can have.
func (m AncientMode) FirstIndicator() int64 {
	if m == BirthRoundThreshold {
		return FirstRound
	}
	return FirstGeneration
}

// EventWindow is an immutable value describing which events are still
// relevant. AncientThreshold never decreases over the lifetime of a node.
type EventWindow struct {
	LatestConsensusRound int64
	AncientThreshold     int64
	ExpiredThreshold     int64
	AncientMode          AncientMode
}

// GenesisEventWindow returns the window in effect before any round has
// reached consensus.
func GenesisEventWindow(mode AncientMode) EventWindow {
	return EventWindow{
		LatestConsensusRound: RoundUndefined,
		AncientThreshold:     mode.FirstIndicator(),
		ExpiredThreshold:     mode.FirstIndicator(),
		AncientMode:          mode,
	}
}

// IsAncient reports whether the described event is ancient.
func (w EventWindow) IsAncient(d EventDescriptor) bool {
	return d.AncientIndicator(w.AncientMode) < w.AncientThreshold
}

// IsAncientIndicator reports whether an ancient indicator lies below the
// threshold.
func (w EventWindow) IsAncientIndicator(indicator int64) bool {
	return indicator < w.AncientThreshold
}

// IsExpired reports whether the described event is expired.
func (w EventWindow) IsExpired(d EventDescriptor) bool {
	return d.AncientIndicator(w.AncientMode) < w.ExpiredThreshold
}

// PendingConsensusRound is the round currently being decided.
func (w EventWindow) PendingConsensusRound() int64 {
	return w.LatestConsensusRound + 1
}

// String implements fmt.Stringer.
func (w EventWindow) String() string {
	return fmt.Sprintf("EventWindow{round=%d ancient=%d expired=%d mode=%s}",
		w.LatestConsensusRound, w.AncientThreshold, w.ExpiredThreshold, w.AncientMode)
}
