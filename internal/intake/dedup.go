package intake

import (
	"log/slog"

	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/sequence"
)

const stageDedup = "deduplicator"

// Deduplicator forwards only the first copy of each event. Two copies are the
// same event when both descriptor and signature match, so a validly signed
// event is never shadowed by an earlier copy carrying a bad signature.
//
// Not safe for concurrent use; run it on a sequential scheduler.
type Deduplicator struct {
	window  *hashgraph.EventWindow
	seen    *sequence.Map[hashgraph.EventDescriptor, map[string]struct{}]
	metrics *Metrics
}

// NewDeduplicator returns a deduplicator with no event window.
func NewDeduplicator(metrics *Metrics) *Deduplicator {
	return &Deduplicator{metrics: metrics}
}

// HandleEvent returns e the first time it is seen, nil afterwards. Ancient
// events are dropped.
func (d *Deduplicator) HandleEvent(e *hashgraph.GossipEvent) (*hashgraph.GossipEvent, error) {
	if d.window == nil {
		return nil, hashgraph.ErrNoEventWindow
	}
	if d.window.IsAncient(e.Descriptor) {
		d.metrics.drop(stageDedup, ReasonAncient)
		return nil, nil
	}

	sigs, ok := d.seen.Get(e.Descriptor)
	if !ok {
		sigs = make(map[string]struct{}, 1)
		d.seen.Put(e.Descriptor, sigs)
	}
	sig := string(e.Signature)
	if _, dup := sigs[sig]; dup {
		d.metrics.drop(stageDedup, ReasonDuplicate)
		slog.Debug("duplicate event dropped", "event", e.String())
		return nil, nil
	}
	sigs[sig] = struct{}{}
	return e, nil
}

// SetEventWindow installs w and forgets every event it makes ancient.
func (d *Deduplicator) SetEventWindow(w hashgraph.EventWindow) {
	if d.seen == nil || d.window.AncientMode != w.AncientMode {
		mode := w.AncientMode
		d.seen = sequence.NewMap[hashgraph.EventDescriptor, map[string]struct{}](
			w.AncientThreshold,
			func(k hashgraph.EventDescriptor) int64 { return k.AncientIndicator(mode) },
		)
	}
	d.window = &w
	d.seen.ShiftWindow(w.AncientThreshold, nil)
}

// Clear forgets every event and installs w, which may be older than the
// current window.
func (d *Deduplicator) Clear(w hashgraph.EventWindow) {
	d.seen = nil
	d.SetEventWindow(w)
}

// Len returns the number of tracked descriptors.
func (d *Deduplicator) Len() int {
	if d.seen == nil {
		return 0
	}
	return d.seen.Len()
}
