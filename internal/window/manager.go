// Package window derives the event window from consensus rounds.
package window

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/swirl/internal/hashgraph"
)

// DefaultRoundsExpired is how many decided rounds keep events unexpired.
const DefaultRoundsExpired = 500

// Manager tracks the newest event window. It is not safe for concurrent use;
// windows it returns are values and may be shared freely.
type Manager struct {
	roundsExpired int
	current       hashgraph.EventWindow
	set           bool

	// history holds the minimum judge indicator of up to roundsExpired
	// decided rounds, oldest first.
	history []hashgraph.MinimumJudgeInfo
}

// NewManager returns a manager with no window set.
func NewManager(roundsExpired int) (*Manager, error) {
	if roundsExpired < 1 {
		return nil, fmt.Errorf("rounds_expired must be at least 1, got %d", roundsExpired)
	}
	return &Manager{roundsExpired: roundsExpired}, nil
}

// SetInitial installs the starting window, at genesis or after a reconnect.
func (m *Manager) SetInitial(w hashgraph.EventWindow) {
	m.current = w
	m.set = true
	m.history = nil
}

// Current returns the newest window, or ErrNoEventWindow.
func (m *Manager) Current() (hashgraph.EventWindow, error) {
	if !m.set {
		return hashgraph.EventWindow{}, hashgraph.ErrNoEventWindow
	}
	return m.current, nil
}

// AddConsensusRound derives and stores the window following r.
func (m *Manager) AddConsensusRound(r hashgraph.ConsensusRound) (hashgraph.EventWindow, error) {
	if !m.set {
		return hashgraph.EventWindow{}, fmt.Errorf("add round %d: %w", r.RoundNumber, hashgraph.ErrNoEventWindow)
	}
	if info := r.Snapshot.MinimumJudgeInfo; len(info) > 0 {
		m.history = append(m.history, info[len(info)-1])
		if over := len(m.history) - m.roundsExpired; over > 0 {
			m.history = slices.Clone(m.history[over:])
		}
	}
	expired := m.current.ExpiredThreshold
	if len(m.history) > 0 {
		expired = m.history[0].MinimumJudgeAncientThreshold
	}
	next := Derive(m.current, r, expired)
	if next.AncientThreshold != m.current.AncientThreshold {
		slog.Debug("ancient threshold advanced",
			"round", r.RoundNumber,
			"ancient_threshold", next.AncientThreshold,
			"expired_threshold", next.ExpiredThreshold,
		)
	}
	m.current = next
	return next, nil
}

// Derive computes the window following round r. The ancient threshold is the
// minimum judge indicator of the oldest non-ancient round in r's snapshot.
// Neither threshold decreases, and the expired threshold never exceeds the
// ancient threshold.
func Derive(prev hashgraph.EventWindow, r hashgraph.ConsensusRound, expired int64) hashgraph.EventWindow {
	ancient := max(prev.AncientThreshold, r.Snapshot.AncientThreshold(prev.AncientMode))
	expired = min(max(prev.ExpiredThreshold, expired), ancient)
	return hashgraph.EventWindow{
		LatestConsensusRound: max(prev.LatestConsensusRound, r.RoundNumber),
		AncientThreshold:     ancient,
		ExpiredThreshold:     expired,
		AncientMode:          prev.AncientMode,
	}
}

// FromSnapshot returns the window in effect right after the snapshot's
// round, for restarts and out-of-band snapshot updates.
func FromSnapshot(s hashgraph.ConsensusSnapshot, mode hashgraph.AncientMode) hashgraph.EventWindow {
	ancient := s.AncientThreshold(mode)
	return hashgraph.EventWindow{
		LatestConsensusRound: s.Round,
		AncientThreshold:     ancient,
		ExpiredThreshold:     min(mode.FirstIndicator(), ancient),
		AncientMode:          mode,
	}
}
