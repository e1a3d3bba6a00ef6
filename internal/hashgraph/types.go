package hashgraph

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"
)

// NodeID identifies a roster member.
type NodeID uint64

// String implements fmt.Stringer.
func (id NodeID) String() string {
	return fmt.Sprintf("node%d", uint64(id))
}

// HashSize is the size of an event hash in bytes (SHA-384).
const HashSize = 48

// Hash is a cryptographic event or snapshot hash.
type Hash [HashSize]byte

// String returns the full lowercase hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters, for logs.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

// IsZero reports whether the hash has not been computed.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Compare orders hashes lexicographically.
func (h Hash) Compare(o Hash) int {
	return bytes.Compare(h[:], o[:])
}

// ParseHash decodes a hex string produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("parse hash: want %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Sequence number constants.
const (
	// FirstGeneration is the generation of an event without parents.
	FirstGeneration int64 = 0
	// RoundUndefined marks "no round yet".
	RoundUndefined int64 = 0
	// FirstRound is the first consensus round.
	FirstRound int64 = 1
)

// EventDescriptor is the identity of an event. It is comparable and used as a
// map key everywhere. It never carries payload.
type EventDescriptor struct {
	Hash       Hash
	Creator    NodeID
	Generation int64
	BirthRound int64
}

// AncientIndicator returns the sequence number used to measure the age of the
// event under the given mode.
func (d EventDescriptor) AncientIndicator(mode AncientMode) int64 {
	if mode == BirthRoundThreshold {
		return d.BirthRound
	}
	return d.Generation
}

// String implements fmt.Stringer.
func (d EventDescriptor) String() string {
	return fmt.Sprintf("(%s gen=%d br=%d %s)", d.Creator, d.Generation, d.BirthRound, d.Hash.Short())
}

// TransactionKind distinguishes application transactions from system
// transactions created by the platform itself.
type TransactionKind int

const (
	// ApplicationTransaction is submitted by a client; clients own retries.
	ApplicationTransaction TransactionKind = iota + 1
	// SystemTransaction is created by the node (e.g. state signatures).
	SystemTransaction
)

// String implements fmt.Stringer.
func (k TransactionKind) String() string {
	switch k {
	case ApplicationTransaction:
		return "application"
	case SystemTransaction:
		return "system"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Transaction is an opaque payload carried by an event.
type Transaction struct {
	Kind    TransactionKind
	ID      string
	Payload []byte

	// SignatureRound is the round a state-signature system transaction signs.
	// Zero for every other transaction.
	SignatureRound int64
}

// IsSystem reports whether the transaction was created by the platform.
func (t Transaction) IsSystem() bool {
	return t.Kind == SystemTransaction
}

// GossipEvent is a vertex of the hashgraph.
//
// A GossipEvent is immutable once Descriptor.Hash is set. The only fields a
// holder may still write are the routing metadata SenderID and ReceivedAt,
// and only before the event enters the pipeline.
type GossipEvent struct {
	Descriptor   EventDescriptor
	SelfParent   *EventDescriptor
	OtherParent  *EventDescriptor
	CreationTime time.Time
	Transactions []Transaction
	Signature    []byte

	SenderID   NodeID
	ReceivedAt time.Time
}

// Hash returns the event hash (zero before hashing).
func (e *GossipEvent) Hash() Hash { return e.Descriptor.Hash }

// Creator returns the creating node.
func (e *GossipEvent) Creator() NodeID { return e.Descriptor.Creator }

// Generation returns the event generation.
func (e *GossipEvent) Generation() int64 { return e.Descriptor.Generation }

// BirthRound returns the event birth round.
func (e *GossipEvent) BirthRound() int64 { return e.Descriptor.BirthRound }

// IsHashed reports whether the hasher has run.
func (e *GossipEvent) IsHashed() bool { return !e.Descriptor.Hash.IsZero() }

// AncientIndicator is shorthand for e.Descriptor.AncientIndicator(mode).
func (e *GossipEvent) AncientIndicator(mode AncientMode) int64 {
	return e.Descriptor.AncientIndicator(mode)
}

// Parents returns the declared parents, self-parent first.
func (e *GossipEvent) Parents() []EventDescriptor {
	parents := make([]EventDescriptor, 0, 2)
	if e.SelfParent != nil {
		parents = append(parents, *e.SelfParent)
	}
	if e.OtherParent != nil {
		parents = append(parents, *e.OtherParent)
	}
	return parents
}

// Equal reports descriptor equality; two events are equal iff their
// descriptors are equal.
func (e *GossipEvent) Equal(o *GossipEvent) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Descriptor == o.Descriptor
}

// SystemTransactions returns the system transactions carried by the event.
func (e *GossipEvent) SystemTransactions() []Transaction {
	var out []Transaction
	for _, tx := range e.Transactions {
		if tx.IsSystem() {
			out = append(out, tx)
		}
	}
	return out
}

// PayloadBytes returns the total payload size of all transactions.
func (e *GossipEvent) PayloadBytes() int {
	n := 0
	for _, tx := range e.Transactions {
		n += len(tx.Payload)
	}
	return n
}

// String implements fmt.Stringer.
func (e *GossipEvent) String() string {
	return e.Descriptor.String()
}
