package sim

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/swirl/internal/hashgraph"
)

func hashes(events []*hashgraph.GossipEvent) []hashgraph.Hash {
	out := make([]hashgraph.Hash, len(events))
	for i, e := range events {
		out[i] = e.Hash()
	}
	return out
}

func TestSimulatorIsReproducible(t *testing.T) {
	cfg := Config{Nodes: 4, Seed: 7, TransactionsPerEvent: 2, SystemTransactionEvery: 3}

	a, err := New(cfg)
	require.NoError(t, err)
	b, err := New(cfg)
	require.NoError(t, err)

	assert.Equal(t, hashes(a.Generate(200)), hashes(b.Generate(200)))

	c, err := New(Config{Nodes: 4, Seed: 8})
	require.NoError(t, err)
	assert.NotEqual(t, hashes(a.Generate(10)), hashes(c.Generate(10)))
}

func TestSimulatorEventsAreWellFormed(t *testing.T) {
	s, err := New(Config{Nodes: 5, Seed: 1, TransactionsPerEvent: 1, SystemTransactionEvery: 2})
	require.NoError(t, err)
	events := s.Generate(300)

	seen := make(map[hashgraph.Hash]*hashgraph.GossipEvent)
	systemTxs := 0
	for _, e := range events {
		key, ok := s.Roster().PublicKey(e.Creator())
		require.True(t, ok)
		h := e.Hash()
		assert.True(t, ed25519.Verify(key, h[:], e.Signature), "signature of %s", e)
		assert.Equal(t, hashgraph.MustEventHash(e), h)

		for _, p := range e.Parents() {
			parent, ok := seen[p.Hash]
			require.True(t, ok, "parent of %s created later", e)
			assert.Less(t, parent.Generation(), e.Generation())
			assert.True(t, parent.CreationTime.Before(e.CreationTime))
		}
		if e.SelfParent != nil {
			assert.Equal(t, e.Creator(), e.SelfParent.Creator)
		}
		if e.OtherParent != nil {
			assert.NotEqual(t, e.Creator(), e.OtherParent.Creator)
		}
		for _, tx := range e.Transactions {
			_, err := uuid.Parse(tx.ID)
			assert.NoError(t, err)
			if tx.IsSystem() {
				systemTxs++
				assert.Positive(t, tx.SignatureRound)
			}
		}
		seen[h] = e
	}
	assert.Positive(t, systemTxs)
}

// everyTenth decides one round per ten events it is given.
type everyTenth struct {
	n     int
	round int64
}

func (d *everyTenth) AddEvent(*hashgraph.GossipEvent) ([]hashgraph.ConsensusRound, error) {
	d.n++
	if d.n%10 != 0 {
		return nil, nil
	}
	d.round++
	return []hashgraph.ConsensusRound{{RoundNumber: d.round}}, nil
}

func TestGenerateDecidedStampsPendingRound(t *testing.T) {
	s, err := New(Config{Nodes: 4, Seed: 3})
	require.NoError(t, err)
	events, rounds, err := s.GenerateDecided(100, &everyTenth{})
	require.NoError(t, err)
	require.Len(t, events, 100)
	require.Len(t, rounds, 10)

	for i, e := range events {
		assert.Equal(t, int64(i/10)+hashgraph.FirstRound, e.BirthRound(), "event %d", i)
		assert.Equal(t, hashgraph.MustEventHash(e), e.Hash())
	}
	assert.Equal(t, int64(11), s.PendingRound())

	s.ObserveConsensusRound(4)
	assert.Equal(t, int64(11), s.PendingRound(), "the pending round never moves back")
}

func TestGenerateWithoutDecisionsUsesFirstRound(t *testing.T) {
	s, err := New(Config{Nodes: 3, Seed: 2})
	require.NoError(t, err)
	for _, e := range s.Generate(50) {
		assert.Equal(t, hashgraph.FirstRound, e.BirthRound())
	}
}

type failingDecider struct{}

func (failingDecider) AddEvent(*hashgraph.GossipEvent) ([]hashgraph.ConsensusRound, error) {
	return nil, errors.New("boom")
}

func TestGenerateDecidedStopsOnError(t *testing.T) {
	s, err := New(Config{Nodes: 2, Seed: 1})
	require.NoError(t, err)
	_, _, err = s.GenerateDecided(5, failingDecider{})
	assert.ErrorContains(t, err, "event 0: boom")
}

func TestShuffleKeepsParentsFirst(t *testing.T) {
	s, err := New(Config{Nodes: 4, Seed: 3})
	require.NoError(t, err)
	events := s.Generate(400)

	for _, seed := range []uint64{1, 2, 3} {
		shuffled := Shuffle(events, seed, 8)
		require.Len(t, shuffled, len(events))
		assert.ElementsMatch(t, hashes(events), hashes(shuffled))

		delivered := make(map[hashgraph.Hash]bool)
		for _, e := range shuffled {
			for _, p := range e.Parents() {
				assert.True(t, delivered[p.Hash], "%s delivered before its parent", e)
			}
			delivered[e.Hash()] = true
		}
	}

	assert.Equal(t, hashes(Shuffle(events, 9, 8)), hashes(Shuffle(events, 9, 8)))
	assert.NotEqual(t, hashes(events), hashes(Shuffle(events, 9, 8)))
	assert.Equal(t, hashes(events), hashes(Shuffle(events, 9, 1)))
}

func TestShuffleTreatsMissingParentsAsDelivered(t *testing.T) {
	s, err := New(Config{Nodes: 3, Seed: 5})
	require.NoError(t, err)
	events := s.Generate(60)

	tail := events[30:]
	assert.Len(t, Shuffle(tail, 1, 4), len(tail))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no nodes", Config{}},
		{"weights mismatch", Config{Nodes: 2, Weights: []int64{1}}},
		{"negative transactions", Config{Nodes: 2, TransactionsPerEvent: -1}},
		{"negative system cadence", Config{Nodes: 2, SystemTransactionEvery: -1}},
		{"negative step", Config{Nodes: 2, Step: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}

	s, err := New(Config{Nodes: 3, Weights: []int64{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(6), s.Roster().TotalWeight())
}
