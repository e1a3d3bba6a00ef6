package store

import (
	"context"
	"fmt"

	"github.com/roach88/swirl/internal/hashgraph"
)

// Run identifies one journaled execution.
type Run struct {
	ID         string
	Seed       uint64
	Nodes      int
	Events     int
	ConfigHash string
}

// WriteRun inserts a run record. Duplicate IDs are silently ignored.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, seed, nodes, events, config_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, int64(run.Seed), run.Nodes, run.Events, run.ConfigHash)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// WriteRound journals a decided round and its events in one transaction.
// Writing a round that is already journaled is a no-op, so a restarted run
// may re-deliver rounds.
//
// The run referenced by runID must exist (foreign key constraint).
func (s *Store) WriteRound(ctx context.Context, runID string, r hashgraph.ConsensusRound) error {
	snapshot, err := marshalSnapshot(r.Snapshot)
	if err != nil {
		return fmt.Errorf("write round %d: %w", r.RoundNumber, err)
	}
	snapshotHash, err := hashgraph.SnapshotHash(r.Snapshot)
	if err != nil {
		return fmt.Errorf("write round %d: %w", r.RoundNumber, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write round %d: begin: %w", r.RoundNumber, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO rounds
		(run_id, round, event_count, judge_count, consensus_timestamp, snapshot_hash, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, round) DO NOTHING
	`,
		runID,
		r.RoundNumber,
		len(r.ConsensusEvents),
		len(r.Snapshot.JudgeHashes),
		r.Snapshot.ConsensusTimestamp.UnixNano(),
		snapshotHash.String(),
		snapshot,
	)
	if err != nil {
		return fmt.Errorf("write round %d: %w", r.RoundNumber, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO consensus_events
		(run_id, consensus_order, round, event_hash, creator, generation, consensus_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write round %d: prepare: %w", r.RoundNumber, err)
	}
	defer stmt.Close()

	for _, ce := range r.ConsensusEvents {
		if _, err := stmt.ExecContext(ctx,
			runID,
			ce.ConsensusOrder,
			r.RoundNumber,
			ce.Event.Hash().String(),
			int64(ce.Event.Creator()),
			ce.Event.Generation(),
			ce.ConsensusTimestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("write round %d: event %d: %w", r.RoundNumber, ce.ConsensusOrder, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write round %d: commit: %w", r.RoundNumber, err)
	}
	return nil
}
