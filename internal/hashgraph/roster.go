package hashgraph

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
)

// RosterEntry is one consensus participant.
type RosterEntry struct {
	ID        NodeID
	Weight    int64
	PublicKey ed25519.PublicKey
}

// Roster is the fixed, weighted set of nodes taking part in consensus.
// Entries are kept sorted by ID so every node derives the same member
// indices.
type Roster struct {
	entries []RosterEntry
	index   map[NodeID]int
	total   int64
}

// NewRoster validates entries and builds a roster.
func NewRoster(entries []RosterEntry) (*Roster, error) {
	if len(entries) == 0 {
		return nil, errors.New("roster: no entries")
	}

	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b RosterEntry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	r := &Roster{entries: sorted, index: make(map[NodeID]int, len(sorted))}
	for i, e := range sorted {
		if _, dup := r.index[e.ID]; dup {
			return nil, fmt.Errorf("roster: duplicate node %s", e.ID)
		}
		if e.Weight < 0 {
			return nil, fmt.Errorf("roster: node %s has negative weight %d", e.ID, e.Weight)
		}
		if e.PublicKey != nil && len(e.PublicKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("roster: node %s public key has %d bytes", e.ID, len(e.PublicKey))
		}
		r.index[e.ID] = i
		r.total += e.Weight
	}
	if r.total <= 0 {
		return nil, errors.New("roster: total weight must be positive")
	}
	return r, nil
}

// Len returns the number of members.
func (r *Roster) Len() int { return len(r.entries) }

// Entries returns the members in ID order.
func (r *Roster) Entries() []RosterEntry { return slices.Clone(r.entries) }

// Entry returns the member at index i.
func (r *Roster) Entry(i int) RosterEntry { return r.entries[i] }

// Index returns the member index of id.
func (r *Roster) Index(id NodeID) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

// Contains reports whether id is a member.
func (r *Roster) Contains(id NodeID) bool {
	_, ok := r.index[id]
	return ok
}

// Weight returns the weight of id, or zero for non-members.
func (r *Roster) Weight(id NodeID) int64 {
	if i, ok := r.index[id]; ok {
		return r.entries[i].Weight
	}
	return 0
}

// TotalWeight returns the sum of all member weights.
func (r *Roster) TotalWeight() int64 { return r.total }

// PublicKey returns the signing key of id.
func (r *Roster) PublicKey(id NodeID) (ed25519.PublicKey, bool) {
	i, ok := r.index[id]
	if !ok || r.entries[i].PublicKey == nil {
		return nil, false
	}
	return r.entries[i].PublicKey, true
}
