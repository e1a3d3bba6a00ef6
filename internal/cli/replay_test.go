package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/store"
)

// journal runs a simulation into a fresh database and returns its paths.
func journal(t *testing.T, lag string) (cfg, db string) {
	t.Helper()
	dir := t.TempDir()
	cfg = writeFile(t, dir, "node.cue", fourNodes)
	db = filepath.Join(dir, "journal.db")
	_, err := execute(t, "run", "--config", cfg, "--db", db, "--events", "1200", "--seed", "5", "--lag", lag)
	require.NoError(t, err)
	return cfg, db
}

func TestReplayVerifiesRun(t *testing.T) {
	cfg, db := journal(t, "0")

	out, err := execute(t, "replay", "--config", cfg, "--db", db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "replayed deterministically")
}

func TestReplayIgnoresDeliveryOrder(t *testing.T) {
	cfg, db := journal(t, "12")

	out, err := execute(t, "--format", "json", "replay", "--config", cfg, "--db", db)
	require.NoError(t, err, out)

	status, res, _ := decode[ReplayResult](t, out)
	assert.Equal(t, "ok", status)
	assert.True(t, res.Deterministic)
	assert.Positive(t, res.Rounds)
	assert.Positive(t, res.Events)
	assert.Nil(t, res.Divergence)
}

func TestReplayDetectsDivergence(t *testing.T) {
	cfg, db := journal(t, "0")

	out, err := execute(t, "--format", "json", "replay", "--config", cfg, "--db", db, "--seed", "6")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	status, res, cliErr := decode[ReplayResult](t, out)
	assert.Equal(t, "error", status)
	require.NotNil(t, cliErr)
	assert.Equal(t, ErrCodeDeterminism, cliErr.Code)
	assert.False(t, res.Deterministic)
	assert.Equal(t, uint64(6), res.Seed)
	require.NotNil(t, res.Divergence)
	assert.NotEmpty(t, res.Divergence.Reason)

	out, err = execute(t, "replay", "--config", cfg, "--db", db, "--seed", "6")
	require.Error(t, err)
	assert.Contains(t, out, "diverged (seed 6)")
}

func TestReplayCommandErrors(t *testing.T) {
	cfg, db := journal(t, "0")
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.db")
	st, err := store.Open(empty)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing database", []string{"--db", filepath.Join(dir, "missing.db")}, "database not found"},
		{"empty journal", []string{"--db", empty}, "no runs journaled"},
		{"unknown run", []string{"--db", db, "--config", cfg, "--run", "nope"}, "run nope not found"},
		{"other configuration", []string{"--db", db}, "differs from the one run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"replay"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestBirthRoundRunReplays(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "node.cue", `
self_id: 0
roster: [{id: 0}, {id: 1}, {id: 2}, {id: 3}]
consensus: {rounds_non_ancient: 4, ancient_mode: "birth_round"}
heartbeat_period: "0s"
`)
	db := filepath.Join(dir, "journal.db")
	out, err := execute(t, "--format", "json", "run", "--config", cfg, "--db", db, "--events", "1500", "--seed", "9", "--lag", "6")
	require.NoError(t, err, out)
	_, run, _ := decode[RunResult](t, out)
	require.Greater(t, run.Rounds, 20)

	st, err := store.Open(db)
	require.NoError(t, err)
	snap, err := st.LatestSnapshot(context.Background(), run.RunID)
	require.NoError(t, st.Close())
	require.NoError(t, err)
	assert.Greater(t, snap.AncientThreshold(hashgraph.BirthRoundThreshold), hashgraph.FirstRound,
		"simulated events carry advancing birth rounds")

	out, err = execute(t, "--format", "json", "replay", "--config", cfg, "--db", db)
	require.NoError(t, err, out)
	_, res, _ := decode[ReplayResult](t, out)
	assert.True(t, res.Deterministic)
}
