package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/swirl/internal/hashgraph"
)

// marshalSnapshot converts a snapshot to canonical JSON TEXT for storage.
func marshalSnapshot(s hashgraph.ConsensusSnapshot) (string, error) {
	data, err := hashgraph.MarshalSnapshot(s)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(data), nil
}

// snapshotJSON mirrors the canonical snapshot encoding.
type snapshotJSON struct {
	Round               int64           `json:"round"`
	Judges              []string        `json:"judges"`
	Witnesses           []string        `json:"witnesses"`
	MinimumJudgeInfo    []judgeInfoJSON `json:"minimum_judge_info"`
	NextConsensusNumber int64           `json:"next_consensus_number"`
	ConsensusTimestamp  int64           `json:"consensus_timestamp"`
}

type judgeInfoJSON struct {
	Round     int64 `json:"round"`
	Threshold int64 `json:"threshold"`
}

// unmarshalSnapshot converts snapshot TEXT back to a ConsensusSnapshot.
func unmarshalSnapshot(data string) (hashgraph.ConsensusSnapshot, error) {
	var raw snapshotJSON
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return hashgraph.ConsensusSnapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	judges, err := parseHashes(raw.Judges)
	if err != nil {
		return hashgraph.ConsensusSnapshot{}, fmt.Errorf("unmarshal snapshot judges: %w", err)
	}
	witnesses, err := parseHashes(raw.Witnesses)
	if err != nil {
		return hashgraph.ConsensusSnapshot{}, fmt.Errorf("unmarshal snapshot witnesses: %w", err)
	}
	infos := make([]hashgraph.MinimumJudgeInfo, len(raw.MinimumJudgeInfo))
	for i, info := range raw.MinimumJudgeInfo {
		infos[i] = hashgraph.MinimumJudgeInfo{Round: info.Round, MinimumJudgeAncientThreshold: info.Threshold}
	}
	return hashgraph.ConsensusSnapshot{
		Round:               raw.Round,
		JudgeHashes:         judges,
		WitnessHashes:       witnesses,
		MinimumJudgeInfo:    infos,
		NextConsensusNumber: raw.NextConsensusNumber,
		ConsensusTimestamp:  fromNanos(raw.ConsensusTimestamp),
	}, nil
}

func parseHashes(in []string) ([]hashgraph.Hash, error) {
	out := make([]hashgraph.Hash, len(in))
	for i, s := range in {
		h, err := hashgraph.ParseHash(s)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

// Timestamps are stored as Unix nanoseconds and read back in UTC.
func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
