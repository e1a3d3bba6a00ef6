package hashgraph

import (
	"crypto/sha512"
	"fmt"
)

// Domain prefixes for hashing. The version suffix allows migrating the
// algorithm later.
const (
	DomainEvent    = "swirl/event/v1"
	DomainSnapshot = "swirl/snapshot/v1"
)

// hashWithDomain computes SHA-384(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) Hash {
	h := sha512.New384()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// EventHash computes the hash of an event from its hashed fields: creator,
// generation, birth round, parent descriptors, creation time and
// transactions. The signature and routing metadata are excluded.
func EventHash(e *GossipEvent) (Hash, error) {
	obj := map[string]any{
		"creator":       e.Descriptor.Creator,
		"generation":    e.Descriptor.Generation,
		"birth_round":   e.Descriptor.BirthRound,
		"creation_time": e.CreationTime.UnixNano(),
		"transactions":  transactionsToCanonical(e.Transactions),
	}
	if e.SelfParent != nil {
		obj["self_parent"] = descriptorToCanonical(*e.SelfParent)
	}
	if e.OtherParent != nil {
		obj["other_parent"] = descriptorToCanonical(*e.OtherParent)
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return Hash{}, fmt.Errorf("EventHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// SnapshotHash computes a content hash for a consensus snapshot, used by the
// round journal to detect divergence.
func SnapshotHash(s ConsensusSnapshot) (Hash, error) {
	canonical, err := MarshalSnapshot(s)
	if err != nil {
		return Hash{}, fmt.Errorf("SnapshotHash: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MarshalSnapshot returns the canonical JSON form of s. Hashes are lowercase
// hex and the timestamp is Unix nanoseconds.
func MarshalSnapshot(s ConsensusSnapshot) ([]byte, error) {
	judges := make([]any, len(s.JudgeHashes))
	for i, h := range s.JudgeHashes {
		judges[i] = h
	}
	witnesses := make([]any, len(s.WitnessHashes))
	for i, h := range s.WitnessHashes {
		witnesses[i] = h
	}
	infos := make([]any, len(s.MinimumJudgeInfo))
	for i, info := range s.MinimumJudgeInfo {
		infos[i] = map[string]any{
			"round":     info.Round,
			"threshold": info.MinimumJudgeAncientThreshold,
		}
	}
	obj := map[string]any{
		"round":                 s.Round,
		"judges":                judges,
		"witnesses":             witnesses,
		"minimum_judge_info":    infos,
		"next_consensus_number": s.NextConsensusNumber,
		"consensus_timestamp":   s.ConsensusTimestamp.UnixNano(),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return canonical, nil
}

// MustEventHash is like EventHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEventHash(e *GossipEvent) Hash {
	h, err := EventHash(e)
	if err != nil {
		panic(err)
	}
	return h
}

func descriptorToCanonical(d EventDescriptor) map[string]any {
	return map[string]any{
		"hash":        d.Hash,
		"creator":     d.Creator,
		"generation":  d.Generation,
		"birth_round": d.BirthRound,
	}
}

func transactionsToCanonical(txs []Transaction) []any {
	out := make([]any, len(txs))
	for i, tx := range txs {
		out[i] = map[string]any{
			"kind":            int(tx.Kind),
			"id":              tx.ID,
			"payload":         tx.Payload,
			"signature_round": tx.SignatureRound,
		}
	}
	return out
}
