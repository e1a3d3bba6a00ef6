// Package sim generates reproducible gossip histories.
//
// A Simulator plays a fully connected network in which one random node at a
// time creates an event whose other-parent is the latest event of another
// random node. The same Config always yields the same events, byte for byte.
//
// Events are born in the network's pending round: one past the newest round
// reported to ObserveConsensusRound. GenerateDecided reports rounds as it
// goes, which gives events the birth rounds a live network would stamp.
package sim

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/swirl/internal/hashgraph"
)

// Epoch is the creation time of the first simulated event.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Config parameterises a simulated network.
type Config struct {
	Nodes int
	Seed  uint64

	// Weights optionally assigns a weight per node; all nodes weigh 1
	// when empty.
	Weights []int64

	// TransactionsPerEvent application transactions are added to every
	// event.
	TransactionsPerEvent int

	// Every SystemTransactionEvery-th event of a node carries a state
	// signature system transaction. Zero disables them.
	SystemTransactionEvery int

	// Step is the wall time between consecutive events.
	Step time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Nodes < 1 {
		errs = append(errs, fmt.Errorf("nodes must be at least 1, got %d", c.Nodes))
	}
	if len(c.Weights) > 0 && len(c.Weights) != c.Nodes {
		errs = append(errs, fmt.Errorf("weights has %d entries for %d nodes", len(c.Weights), c.Nodes))
	}
	if c.TransactionsPerEvent < 0 {
		errs = append(errs, errors.New("transactions_per_event must not be negative"))
	}
	if c.SystemTransactionEvery < 0 {
		errs = append(errs, errors.New("system_transaction_every must not be negative"))
	}
	if c.Step < 0 {
		errs = append(errs, errors.New("step must not be negative"))
	}
	return errors.Join(errs...)
}

// Simulator creates events for a simulated network. It is not safe for
// concurrent use.
type Simulator struct {
	cfg    Config
	src    *rand.ChaCha8
	rng    *rand.Rand
	roster *hashgraph.Roster
	keys   []ed25519.PrivateKey
	latest []*hashgraph.GossipEvent
	counts []int
	now    time.Time

	// pending is the birth round of the next event.
	pending int64
}

// Decider runs consensus on generated events. *consensus.Engine satisfies
// it.
type Decider interface {
	AddEvent(*hashgraph.GossipEvent) ([]hashgraph.ConsensusRound, error)
}

// New returns a simulator for cfg.
func New(cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	if cfg.Step == 0 {
		cfg.Step = time.Millisecond
	}
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:], cfg.Seed)
	src := rand.NewChaCha8(seed)

	s := &Simulator{
		cfg:    cfg,
		src:    src,
		rng:    rand.New(src),
		keys:   make([]ed25519.PrivateKey, cfg.Nodes),
		latest: make([]*hashgraph.GossipEvent, cfg.Nodes),
		counts:  make([]int, cfg.Nodes),
		now:     Epoch,
		pending: hashgraph.FirstRound,
	}
	entries := make([]hashgraph.RosterEntry, cfg.Nodes)
	for i := range cfg.Nodes {
		s.keys[i] = NodeKey(cfg.Seed, hashgraph.NodeID(i))
		w := int64(1)
		if len(cfg.Weights) > 0 {
			w = cfg.Weights[i]
		}
		entries[i] = hashgraph.RosterEntry{
			ID:        hashgraph.NodeID(i),
			Weight:    w,
			PublicKey: s.keys[i].Public().(ed25519.PublicKey),
		}
	}
	roster, err := hashgraph.NewRoster(entries)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	s.roster = roster
	return s, nil
}

// NodeKey derives the signing key of node id in the network seeded with
// seed.
func NodeKey(seed uint64, id hashgraph.NodeID) ed25519.PrivateKey {
	b := make([]byte, ed25519.SeedSize)
	binary.LittleEndian.PutUint64(b[0:8], seed)
	binary.LittleEndian.PutUint64(b[8:16], uint64(id))
	copy(b[16:], "swirl-sim")
	return ed25519.NewKeyFromSeed(b)
}

// Roster returns the simulated network's roster.
func (s *Simulator) Roster() *hashgraph.Roster { return s.roster }

// Next creates one event.
func (s *Simulator) Next() *hashgraph.GossipEvent {
	n := s.cfg.Nodes
	creator := s.rng.IntN(n)
	var other *hashgraph.GossipEvent
	if n > 1 {
		o := s.rng.IntN(n - 1)
		if o >= creator {
			o++
		}
		other = s.latest[o]
	}
	e := s.create(creator, s.latest[creator], other)
	s.latest[creator] = e
	return e
}

// ObserveConsensusRound records that round reached consensus. Events
// created afterwards are born in the round after it. Older rounds are
// ignored.
func (s *Simulator) ObserveConsensusRound(round int64) {
	s.pending = max(s.pending, round+1)
}

// PendingRound returns the birth round of the next event.
func (s *Simulator) PendingRound() int64 { return s.pending }

// GenerateDecided creates count events, handing each to d as soon as it is
// created and observing every round d decides. It returns the events in
// creation order and the decided rounds.
func (s *Simulator) GenerateDecided(count int, d Decider) ([]*hashgraph.GossipEvent, []hashgraph.ConsensusRound, error) {
	events := make([]*hashgraph.GossipEvent, count)
	var decided []hashgraph.ConsensusRound
	for i := range events {
		e := s.Next()
		events[i] = e
		rounds, err := d.AddEvent(e)
		if err != nil {
			return nil, nil, fmt.Errorf("sim: event %d: %w", i, err)
		}
		for _, r := range rounds {
			s.ObserveConsensusRound(r.RoundNumber)
		}
		decided = append(decided, rounds...)
	}
	return events, decided, nil
}

// Generate creates count events in creation order, which is a topological
// order.
func (s *Simulator) Generate(count int) []*hashgraph.GossipEvent {
	out := make([]*hashgraph.GossipEvent, count)
	for i := range out {
		out[i] = s.Next()
	}
	return out
}

func (s *Simulator) create(creator int, selfParent, otherParent *hashgraph.GossipEvent) *hashgraph.GossipEvent {
	id := hashgraph.NodeID(creator)
	s.counts[creator]++
	e := &hashgraph.GossipEvent{
		Descriptor: hashgraph.EventDescriptor{
			Creator:    id,
			Generation: hashgraph.FirstGeneration,
			BirthRound: s.pending,
		},
		CreationTime: s.now,
		Transactions: s.transactions(creator),
	}
	s.now = s.now.Add(s.cfg.Step)
	for _, p := range []*hashgraph.GossipEvent{selfParent, otherParent} {
		if p == nil {
			continue
		}
		e.Descriptor.Generation = max(e.Descriptor.Generation, p.Generation()+1)
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
	h := e.Hash()
	e.Signature = ed25519.Sign(s.keys[creator], h[:])
	return e
}

func (s *Simulator) transactions(creator int) []hashgraph.Transaction {
	var txs []hashgraph.Transaction
	for range s.cfg.TransactionsPerEvent {
		payload := make([]byte, 8)
		binary.LittleEndian.PutUint64(payload, s.rng.Uint64())
		txs = append(txs, hashgraph.Transaction{
			Kind:    hashgraph.ApplicationTransaction,
			ID:      s.newID(),
			Payload: payload,
		})
	}
	if every := s.cfg.SystemTransactionEvery; every > 0 && s.counts[creator]%every == 0 {
		txs = append(txs, hashgraph.Transaction{
			Kind:           hashgraph.SystemTransaction,
			ID:             s.newID(),
			SignatureRound: int64(s.counts[creator] / every),
		})
	}
	return txs
}

// newID draws a version 4 UUID from the simulator's random stream so IDs
// are reproducible.
func (s *Simulator) newID() string {
	return uuid.Must(uuid.NewRandomFromReader(s.src)).String()
}

// Shuffle returns events in a random order in which every parent still
// precedes its children. Each step picks among the lag earliest deliverable
// events, so no event is delayed without bound. Parents missing from events
// count as delivered.
func Shuffle(events []*hashgraph.GossipEvent, seed uint64, lag int) []*hashgraph.GossipEvent {
	if lag < 1 {
		lag = 1
	}
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:], seed)
	rng := rand.New(rand.NewChaCha8(key))

	pos := make(map[hashgraph.Hash]int, len(events))
	for i, e := range events {
		pos[e.Hash()] = i
	}
	waiting := make([]int, len(events))
	children := make([][]int, len(events))
	for i, e := range events {
		for _, p := range e.Parents() {
			if j, ok := pos[p.Hash]; ok {
				waiting[i]++
				children[j] = append(children[j], i)
			}
		}
	}

	var ready []int
	for i, w := range waiting {
		if w == 0 {
			ready = append(ready, i)
		}
	}
	out := make([]*hashgraph.GossipEvent, 0, len(events))
	for len(ready) > 0 {
		k := rng.IntN(min(lag, len(ready)))
		i := ready[k]
		ready = slices.Delete(ready, k, k+1)
		out = append(out, events[i])
		for _, c := range children[i] {
			waiting[c]--
			if waiting[c] == 0 {
				at, _ := slices.BinarySearch(ready, c)
				ready = slices.Insert(ready, at, c)
			}
		}
	}
	return out
}
