// Package orphan holds events until their parents have been seen and then
// releases them in topological order.
package orphan

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/sequence"
)

type orphan struct {
	event   *hashgraph.GossipEvent
	missing int
	dead    bool
}

// Buffer releases an event only after both of its parents have been
// released or have become ancient. Released events are emitted parents
// first.
//
// Not safe for concurrent use; run it on a sequential scheduler.
type Buffer struct {
	window *hashgraph.EventWindow

	// released holds every non-ancient event already emitted.
	released *sequence.Set[hashgraph.EventDescriptor]
	// orphans holds events waiting on at least one parent.
	orphans *sequence.Map[hashgraph.EventDescriptor, *orphan]
	// waiting maps a missing parent to the orphans that need it.
	waiting *sequence.Map[hashgraph.EventDescriptor, []*orphan]
}

// NewBuffer returns an empty buffer with no event window.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// HandleEvent buffers e or releases it, along with every orphan it
// unblocks.
func (b *Buffer) HandleEvent(e *hashgraph.GossipEvent) ([]*hashgraph.GossipEvent, error) {
	if b.window == nil {
		return nil, hashgraph.ErrNoEventWindow
	}
	if b.window.IsAncient(e.Descriptor) {
		slog.Debug("ancient event dropped by orphan buffer", "event", e.String())
		return nil, nil
	}
	if b.released.Contains(e.Descriptor) || b.orphans.Contains(e.Descriptor) {
		return nil, nil
	}

	o := &orphan{event: e}
	for _, p := range e.Parents() {
		if b.satisfied(p) {
			continue
		}
		o.missing++
		children, _ := b.waiting.Get(p)
		b.waiting.Put(p, append(children, o))
	}
	if o.missing > 0 {
		b.orphans.Put(e.Descriptor, o)
		return nil, nil
	}
	return b.release([]*orphan{o}), nil
}

// SetEventWindow installs w, drops orphans that became ancient, and releases
// orphans whose only missing parents became ancient.
func (b *Buffer) SetEventWindow(w hashgraph.EventWindow) []*hashgraph.GossipEvent {
	if b.window == nil || b.window.AncientMode != w.AncientMode {
		b.reset(w)
		return nil
	}
	b.window = &w
	b.released.ShiftWindow(w.AncientThreshold, nil)

	b.orphans.ShiftWindow(w.AncientThreshold, func(d hashgraph.EventDescriptor, o *orphan) {
		o.dead = true
		slog.Warn("orphan aged out before its parents arrived",
			"event", d.String(),
			"missing_parents", o.missing,
			"ancient_threshold", w.AncientThreshold,
		)
	})

	var ready []*orphan
	b.waiting.ShiftWindow(w.AncientThreshold, func(_ hashgraph.EventDescriptor, children []*orphan) {
		for _, o := range children {
			if o.dead {
				continue
			}
			o.missing--
			if o.missing == 0 {
				b.orphans.Remove(o.event.Descriptor)
				ready = append(ready, o)
			}
		}
	})
	slices.SortFunc(ready, compareOrphans)
	out := b.release(ready)
	slog.Debug("orphan buffer window shifted",
		"ancient_threshold", w.AncientThreshold,
		"released", len(out),
		"orphans", b.orphans.Len(),
		"tracked", b.released.Len(),
	)
	return out
}

// Clear drops every buffered orphan, forgets released events and installs
// w, which may be older than the current window. Reconnects use it before
// events from the snapshot onward are delivered again.
func (b *Buffer) Clear(w hashgraph.EventWindow) {
	b.reset(w)
}

// Len returns the number of buffered orphans.
func (b *Buffer) Len() int {
	if b.orphans == nil {
		return 0
	}
	return b.orphans.Len()
}

// MissingParents returns the number of distinct parents orphans wait on.
func (b *Buffer) MissingParents() int {
	if b.waiting == nil {
		return 0
	}
	return b.waiting.Len()
}

func (b *Buffer) reset(w hashgraph.EventWindow) {
	mode := w.AncientMode
	seqOf := func(d hashgraph.EventDescriptor) int64 { return d.AncientIndicator(mode) }
	b.window = &w
	b.released = sequence.NewSet(w.AncientThreshold, seqOf)
	b.orphans = sequence.NewMap[hashgraph.EventDescriptor, *orphan](w.AncientThreshold, seqOf)
	b.waiting = sequence.NewMap[hashgraph.EventDescriptor, []*orphan](w.AncientThreshold, seqOf)
}

func (b *Buffer) satisfied(p hashgraph.EventDescriptor) bool {
	return b.window.IsAncient(p) || b.released.Contains(p)
}

// release emits ready orphans and, breadth first, every orphan they unblock.
// A child is emitted only once its last missing parent has been emitted, so
// the output is topologically ordered.
func (b *Buffer) release(ready []*orphan) []*hashgraph.GossipEvent {
	var out []*hashgraph.GossipEvent
	for len(ready) > 0 {
		o := ready[0]
		ready = ready[1:]

		d := o.event.Descriptor
		b.released.Add(d)
		out = append(out, o.event)

		children, ok := b.waiting.Remove(d)
		if !ok {
			continue
		}
		for _, c := range children {
			c.missing--
			if c.missing == 0 {
				b.orphans.Remove(c.event.Descriptor)
				ready = append(ready, c)
			}
		}
	}
	return out
}

func compareOrphans(a, b *orphan) int {
	if c := cmp.Compare(a.event.Generation(), b.event.Generation()); c != 0 {
		return c
	}
	return a.event.Hash().Compare(b.event.Hash())
}
