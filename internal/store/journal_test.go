package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/swirl/internal/consensus"
	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/sim"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// decide runs count simulated events through a consensus engine.
func decide(t *testing.T, seed uint64, count int) []hashgraph.ConsensusRound {
	t.Helper()
	s, err := sim.New(sim.Config{Nodes: 4, Seed: seed, TransactionsPerEvent: 1})
	require.NoError(t, err)
	cfg := consensus.DefaultConfig()
	cfg.RoundsNonAncient = 6
	e, err := consensus.New(s.Roster(), cfg)
	require.NoError(t, err)

	var out []hashgraph.ConsensusRound
	for _, ev := range s.Generate(count) {
		rounds, err := e.AddEvent(ev)
		require.NoError(t, err)
		out = append(out, rounds...)
	}
	require.NotEmpty(t, out)
	return out
}

func journal(t *testing.T, s *Store, id string, rounds []hashgraph.ConsensusRound) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WriteRun(ctx, Run{ID: id, Seed: 7, Nodes: 4, Events: 800, ConfigHash: "cfg"}))
	for _, r := range rounds {
		require.NoError(t, s.WriteRound(ctx, id, r))
	}
}

func TestWriteAndReadRounds(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	rounds := decide(t, 7, 800)
	journal(t, s, "run-1", rounds)

	run, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, Run{ID: "run-1", Seed: 7, Nodes: 4, Events: 800, ConfigHash: "cfg"}, run)

	recs, err := s.ReadRounds(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, len(rounds))
	total := 0
	for i, rec := range recs {
		assert.Equal(t, rounds[i].RoundNumber, rec.Round)
		assert.Equal(t, len(rounds[i].ConsensusEvents), rec.EventCount)
		assert.Equal(t, len(rounds[i].Snapshot.JudgeHashes), rec.JudgeCount)
		total += rec.EventCount
	}

	order, err := s.ReadOrder(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, order, total)
	for i, rec := range order {
		assert.Equal(t, int64(i), rec.ConsensusOrder-order[0].ConsensusOrder)
	}
	first := rounds[0].ConsensusEvents[0]
	assert.Equal(t, first.Event.Hash(), order[0].EventHash)
	assert.Equal(t, first.Event.Creator(), order[0].Creator)
	assert.True(t, first.ConsensusTimestamp.Equal(order[0].ConsensusTimestamp))
}

func TestWriteRoundIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	rounds := decide(t, 7, 500)
	journal(t, s, "run-1", rounds)
	journal(t, s, "run-1", rounds)

	recs, err := s.ReadRounds(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, recs, len(rounds))
}

func TestWriteRoundRequiresRun(t *testing.T) {
	s := createTestStore(t)
	rounds := decide(t, 7, 500)
	assert.Error(t, s.WriteRound(context.Background(), "missing", rounds[0]))
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	rounds := decide(t, 11, 800)
	journal(t, s, "run-1", rounds)

	mid := rounds[len(rounds)/2]
	got, err := s.ReadSnapshot(ctx, "run-1", mid.RoundNumber)
	require.NoError(t, err)
	want, err := hashgraph.SnapshotHash(mid.Snapshot)
	require.NoError(t, err)
	have, err := hashgraph.SnapshotHash(got)
	require.NoError(t, err)
	assert.Equal(t, want, have)
	assert.Equal(t, mid.Snapshot.JudgeHashes, got.JudgeHashes)
	assert.Equal(t, mid.Snapshot.MinimumJudgeInfo, got.MinimumJudgeInfo)

	latest, err := s.LatestSnapshot(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rounds[len(rounds)-1].RoundNumber, latest.Round)

	_, err = s.ReadSnapshot(ctx, "run-1", 10_000)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LatestSnapshot(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadRuns(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.WriteRun(ctx, Run{ID: "b", Seed: 2}))
	require.NoError(t, s.WriteRun(ctx, Run{ID: "a", Seed: 1}))

	runs, err := s.ReadRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	_, err = s.ReadRun(ctx, "c")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	rounds := decide(t, 13, 800)
	journal(t, s, "run-1", rounds)

	t.Run("identical replay", func(t *testing.T) {
		res, err := s.Verify(ctx, "run-1", decide(t, 13, 800))
		require.NoError(t, err)
		assert.Equal(t, len(rounds), res.Rounds)
		assert.Positive(t, res.Events)
	})

	t.Run("different history", func(t *testing.T) {
		_, err := s.Verify(ctx, "run-1", decide(t, 14, 800))
		var de *DivergenceError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "run-1", de.RunID)
		assert.Equal(t, rounds[0].RoundNumber, de.Round)
	})

	t.Run("short replay", func(t *testing.T) {
		_, err := s.Verify(ctx, "run-1", rounds[:len(rounds)-1])
		var de *DivergenceError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, rounds[len(rounds)-1].RoundNumber, de.Round)
		assert.Contains(t, de.Error(), "missing from replay")
	})

	t.Run("long replay", func(t *testing.T) {
		_, err := s.Verify(ctx, "run-1", decide(t, 13, 1200))
		var de *DivergenceError
		require.ErrorAs(t, err, &de)
		assert.Contains(t, de.Error(), "not in journal")
	})
}
