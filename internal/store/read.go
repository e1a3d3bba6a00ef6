package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/swirl/internal/hashgraph"
)

// RoundRecord is one journaled round.
type RoundRecord struct {
	Round              int64
	EventCount         int
	JudgeCount         int
	ConsensusTimestamp time.Time
	SnapshotHash       hashgraph.Hash
}

// OrderRecord is one journaled event in consensus order.
type OrderRecord struct {
	ConsensusOrder     int64
	Round              int64
	EventHash          hashgraph.Hash
	Creator            hashgraph.NodeID
	Generation         int64
	ConsensusTimestamp time.Time
}

// ReadRun returns the run with the given ID, or ErrNotFound.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seed, nodes, events, config_hash
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ReadRuns returns every run, ordered by ID.
func (s *Store) ReadRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seed, nodes, events, config_hash
		FROM runs
		ORDER BY id ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("read runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("read runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var run Run
	var seed int64
	if err := sc.Scan(&run.ID, &seed, &run.Nodes, &run.Events, &run.ConfigHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	run.Seed = uint64(seed)
	return run, nil
}

// ReadRounds returns the journaled rounds of a run, ordered by round.
func (s *Store) ReadRounds(ctx context.Context, runID string) ([]RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round, event_count, judge_count, consensus_timestamp, snapshot_hash
		FROM rounds
		WHERE run_id = ?
		ORDER BY round ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundRecord
	for rows.Next() {
		var (
			rec  RoundRecord
			ts   int64
			hash string
		)
		if err := rows.Scan(&rec.Round, &rec.EventCount, &rec.JudgeCount, &ts, &hash); err != nil {
			return nil, fmt.Errorf("read rounds: %w", err)
		}
		if rec.SnapshotHash, err = hashgraph.ParseHash(hash); err != nil {
			return nil, fmt.Errorf("read rounds: round %d: %w", rec.Round, err)
		}
		rec.ConsensusTimestamp = fromNanos(ts)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rounds: %w", err)
	}
	return out, nil
}

// ReadOrder returns the journaled events of a run in consensus order.
func (s *Store) ReadOrder(ctx context.Context, runID string) ([]OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT consensus_order, round, event_hash, creator, generation, consensus_timestamp
		FROM consensus_events
		WHERE run_id = ?
		ORDER BY consensus_order ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read order: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var (
			rec     OrderRecord
			hash    string
			creator int64
			ts      int64
		)
		if err := rows.Scan(&rec.ConsensusOrder, &rec.Round, &hash, &creator, &rec.Generation, &ts); err != nil {
			return nil, fmt.Errorf("read order: %w", err)
		}
		if rec.EventHash, err = hashgraph.ParseHash(hash); err != nil {
			return nil, fmt.Errorf("read order: event %d: %w", rec.ConsensusOrder, err)
		}
		rec.Creator = hashgraph.NodeID(creator)
		rec.ConsensusTimestamp = fromNanos(ts)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read order: %w", err)
	}
	return out, nil
}

// ReadSnapshot returns the snapshot journaled after round, or ErrNotFound.
func (s *Store) ReadSnapshot(ctx context.Context, runID string, round int64) (hashgraph.ConsensusSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM rounds WHERE run_id = ? AND round = ?
	`, runID, round).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return hashgraph.ConsensusSnapshot{}, fmt.Errorf("read snapshot %d: %w", round, ErrNotFound)
	}
	if err != nil {
		return hashgraph.ConsensusSnapshot{}, fmt.Errorf("read snapshot %d: %w", round, err)
	}
	return unmarshalSnapshot(data)
}

// LatestSnapshot returns the snapshot of the highest journaled round, or
// ErrNotFound when the run has no rounds.
func (s *Store) LatestSnapshot(ctx context.Context, runID string) (hashgraph.ConsensusSnapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM rounds WHERE run_id = ? ORDER BY round DESC LIMIT 1
	`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return hashgraph.ConsensusSnapshot{}, fmt.Errorf("latest snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return hashgraph.ConsensusSnapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	return unmarshalSnapshot(data)
}
