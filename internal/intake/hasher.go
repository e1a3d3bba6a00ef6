package intake

import (
	"fmt"

	"github.com/roach88/swirl/internal/hashgraph"
)

// Hasher computes the event hash and stores it in the event's descriptor.
// A hash supplied by the sender is always recomputed.
type Hasher struct{}

// NewHasher returns a Hasher.
func NewHasher() *Hasher { return &Hasher{} }

// Hash attaches the hash of e and returns e. It never drops.
func (h *Hasher) Hash(e *hashgraph.GossipEvent) (*hashgraph.GossipEvent, error) {
	hash, err := hashgraph.EventHash(e)
	if err != nil {
		return nil, fmt.Errorf("hash event from %s: %w", e.Creator(), err)
	}
	e.Descriptor.Hash = hash
	return e, nil
}
