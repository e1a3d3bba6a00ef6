package testutil

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/roach88/swirl/internal/hashgraph"
)

// EventBuilder creates hashed, signed events for unit tests.
//
// Keys are derived from the node id, so two builders always produce the same
// events for the same calls.
type EventBuilder struct {
	clock *FakeClock
	keys  map[hashgraph.NodeID]ed25519.PrivateKey
	last  map[hashgraph.NodeID]*hashgraph.GossipEvent

	birthRound int64
}

// NewEventBuilder returns a builder for nodes 0..n-1 whose clock starts at
// Epoch and advances a millisecond per event.
func NewEventBuilder(n int) *EventBuilder {
	b := &EventBuilder{
		clock: NewFakeClock(Epoch, time.Millisecond),
		keys:  make(map[hashgraph.NodeID]ed25519.PrivateKey, n),
		last:  make(map[hashgraph.NodeID]*hashgraph.GossipEvent, n),

		birthRound: hashgraph.FirstRound,
	}
	for i := 0; i < n; i++ {
		b.keys[hashgraph.NodeID(i)] = NodeKey(hashgraph.NodeID(i))
	}
	return b
}

// NodeKey returns the deterministic test key of id.
func NodeKey(id hashgraph.NodeID) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	copy(seed, fmt.Sprintf("swirl-test-node-%d", uint64(id)))
	return ed25519.NewKeyFromSeed(seed)
}

// SetBirthRound makes later events carry birth round r, or their newest
// parent's when that is higher.
func (b *EventBuilder) SetBirthRound(r int64) {
	b.birthRound = r
}

// Roster returns an equally weighted roster of the builder's nodes.
func (b *EventBuilder) Roster() *hashgraph.Roster {
	entries := make([]hashgraph.RosterEntry, 0, len(b.keys))
	for id, key := range b.keys {
		entries = append(entries, hashgraph.RosterEntry{
			ID:        id,
			Weight:    1,
			PublicKey: key.Public().(ed25519.PublicKey),
		})
	}
	r, err := hashgraph.NewRoster(entries)
	if err != nil {
		panic(err)
	}
	return r
}

// Event creates the next event of creator. The self-parent is creator's
// previous event; otherParent may be nil. The event is hashed and signed.
func (b *EventBuilder) Event(creator hashgraph.NodeID, otherParent *hashgraph.GossipEvent, txs ...hashgraph.Transaction) *hashgraph.GossipEvent {
	e := b.Unsigned(creator, b.last[creator], otherParent, txs...)
	b.Sign(e)
	b.last[creator] = e
	return e
}

// Unsigned creates a hashed but unsigned event with explicit parents. It does
// not change the builder's notion of creator's latest event.
func (b *EventBuilder) Unsigned(creator hashgraph.NodeID, selfParent, otherParent *hashgraph.GossipEvent, txs ...hashgraph.Transaction) *hashgraph.GossipEvent {
	e := &hashgraph.GossipEvent{
		Descriptor: hashgraph.EventDescriptor{
			Creator:    creator,
			Generation: hashgraph.FirstGeneration,
			BirthRound: b.birthRound,
		},
		CreationTime: b.clock.Now(),
		Transactions: txs,
	}
	for _, p := range []*hashgraph.GossipEvent{selfParent, otherParent} {
		if p == nil {
			continue
		}
		e.Descriptor.Generation = max(e.Descriptor.Generation, p.Generation()+1)
		e.Descriptor.BirthRound = max(e.Descriptor.BirthRound, p.BirthRound())
	}
	if selfParent != nil {
		d := selfParent.Descriptor
		e.SelfParent = &d
	}
	if otherParent != nil {
		d := otherParent.Descriptor
		e.OtherParent = &d
	}
	e.Descriptor.Hash = hashgraph.MustEventHash(e)
	return e
}

// Sign signs e with its creator's key.
func (b *EventBuilder) Sign(e *hashgraph.GossipEvent) {
	key, ok := b.keys[e.Creator()]
	if !ok {
		key = NodeKey(e.Creator())
	}
	hash := e.Hash()
	e.Signature = ed25519.Sign(key, hash[:])
}

// Last returns creator's most recent event from Event.
func (b *EventBuilder) Last(creator hashgraph.NodeID) *hashgraph.GossipEvent {
	return b.last[creator]
}
