package stale

import (
	"fmt"
	"log/slog"

	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/sequence"
)

// Detector tracks this node's own events until they either reach consensus
// or become ancient. Each tracked event ends in exactly one of the two
// states. Not safe for concurrent use.
type Detector struct {
	self    hashgraph.NodeID
	window  *hashgraph.EventWindow
	pending *sequence.Map[hashgraph.EventDescriptor, *hashgraph.GossipEvent]
	metrics *Metrics
}

// NewDetector returns a detector for events created by self.
func NewDetector(self hashgraph.NodeID, metrics *Metrics) *Detector {
	return &Detector{self: self, metrics: metrics}
}

// SetInitialEventWindow installs the first window. Nothing is reported
// stale by it.
func (d *Detector) SetInitialEventWindow(w hashgraph.EventWindow) {
	mode := w.AncientMode
	d.pending = sequence.NewMap[hashgraph.EventDescriptor, *hashgraph.GossipEvent](
		w.AncientThreshold,
		func(k hashgraph.EventDescriptor) int64 { return k.AncientIndicator(mode) },
	)
	d.window = &w
}

// AddSelfEvent starts tracking e. An event that is already ancient is
// returned as stale right away. Events by other creators are ignored.
func (d *Detector) AddSelfEvent(e *hashgraph.GossipEvent) ([]*hashgraph.GossipEvent, error) {
	if d.window == nil {
		return nil, fmt.Errorf("add self event %s: %w", e, hashgraph.ErrNoEventWindow)
	}
	if e.Creator() != d.self {
		return nil, nil
	}
	if d.window.IsAncient(e.Descriptor) {
		d.report(e)
		return []*hashgraph.GossipEvent{e}, nil
	}
	d.pending.Put(e.Descriptor, e)
	return nil, nil
}

// AddConsensusRound stops tracking every self event that reached consensus
// in r.
func (d *Detector) AddConsensusRound(r hashgraph.ConsensusRound) error {
	if d.window == nil {
		return fmt.Errorf("add round %d: %w", r.RoundNumber, hashgraph.ErrNoEventWindow)
	}
	for _, ce := range r.ConsensusEvents {
		if ce.Event.Creator() == d.self {
			d.pending.Remove(ce.Event.Descriptor)
		}
	}
	return nil
}

// SetEventWindow installs w and returns the tracked events it made ancient,
// oldest first.
func (d *Detector) SetEventWindow(w hashgraph.EventWindow) ([]*hashgraph.GossipEvent, error) {
	if d.window == nil {
		return nil, fmt.Errorf("set event window: %w", hashgraph.ErrNoEventWindow)
	}
	d.window = &w
	var stale []*hashgraph.GossipEvent
	d.pending.ShiftWindow(w.AncientThreshold, func(_ hashgraph.EventDescriptor, e *hashgraph.GossipEvent) {
		d.report(e)
		stale = append(stale, e)
	})
	return stale, nil
}

func (d *Detector) report(e *hashgraph.GossipEvent) {
	d.metrics.staleEvent()
	slog.Warn("self event went stale",
		"event", e.String(),
		"transactions", len(e.Transactions),
	)
}

// Pending returns the number of tracked events.
func (d *Detector) Pending() int {
	if d.pending == nil {
		return 0
	}
	return d.pending.Len()
}

// Clear stops tracking every event and installs w, for reconnects. Nothing
// is reported stale by it.
func (d *Detector) Clear(w hashgraph.EventWindow) {
	if n := d.Pending(); n > 0 {
		slog.Info("stale detector cleared", "dropped_pending", n)
	}
	d.SetInitialEventWindow(w)
}
