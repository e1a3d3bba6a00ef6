package hashgraph

import "time"

// MinimumJudgeInfo records the smallest ancient indicator among the judges
// (famous witnesses) of a decided round.
type MinimumJudgeInfo struct {
	Round                        int64
	MinimumJudgeAncientThreshold int64
}

// ConsensusSnapshot is enough state to resume consensus at Round without
// replaying history.
type ConsensusSnapshot struct {
	Round       int64
	JudgeHashes []Hash

	// WitnessHashes lists every witness of Round known when it was decided,
	// judges included. A restarted engine anchors round numbering on them.
	WitnessHashes []Hash

	// MinimumJudgeInfo is ordered oldest round first and covers the rounds
	// that are still non-ancient.
	MinimumJudgeInfo []MinimumJudgeInfo

	NextConsensusNumber int64
	ConsensusTimestamp  time.Time
}

// AncientThreshold returns the minimum judge indicator of the oldest
// non-ancient round, or the mode's first indicator when the snapshot carries
// no judge info.
func (s ConsensusSnapshot) AncientThreshold(mode AncientMode) int64 {
	if len(s.MinimumJudgeInfo) == 0 {
		return mode.FirstIndicator()
	}
	return s.MinimumJudgeInfo[0].MinimumJudgeAncientThreshold
}

// MinimumGenerationNonAncient is AncientThreshold in generation mode.
func (s ConsensusSnapshot) MinimumGenerationNonAncient() int64 {
	return s.AncientThreshold(GenerationThreshold)
}

// ConsensusEvent is an event together with the data consensus assigned it.
type ConsensusEvent struct {
	Event              *GossipEvent
	RoundReceived      int64
	ConsensusTimestamp time.Time
	ConsensusOrder     int64
}

// RoundGenerations summarises the generations of the events in a round.
type RoundGenerations struct {
	MinRoundGeneration      int64
	MaxRoundGeneration      int64
	MinGenerationNonAncient int64
}

// ConsensusRound is an ordered batch of events that reached consensus in the
// same round, with a snapshot of consensus state after the round. It is
// immutable once emitted.
type ConsensusRound struct {
	RoundNumber     int64
	ConsensusEvents []ConsensusEvent

	// KeystoneEvent is the event whose insertion decided the round.
	KeystoneEvent *GossipEvent
	Generations   RoundGenerations
	Snapshot      ConsensusSnapshot
}

// Events returns the round's events in consensus order.
func (r ConsensusRound) Events() []*GossipEvent {
	out := make([]*GossipEvent, len(r.ConsensusEvents))
	for i, ce := range r.ConsensusEvents {
		out[i] = ce.Event
	}
	return out
}

// IsEmpty reports whether no event reached consensus in the round.
func (r ConsensusRound) IsEmpty() bool {
	return len(r.ConsensusEvents) == 0
}
