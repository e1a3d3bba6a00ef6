package hashgraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() *GossipEvent {
	parent := EventDescriptor{Hash: Hash{1}, Creator: 0, Generation: 3, BirthRound: 2}
	other := EventDescriptor{Hash: Hash{2}, Creator: 1, Generation: 5, BirthRound: 2}
	return &GossipEvent{
		Descriptor:   EventDescriptor{Creator: 0, Generation: 6, BirthRound: 3},
		SelfParent:   &parent,
		OtherParent:  &other,
		CreationTime: time.Unix(1700000000, 42),
		Transactions: []Transaction{
			{Kind: ApplicationTransaction, ID: "tx-1", Payload: []byte("hello")},
			{Kind: SystemTransaction, ID: "sig-9", Payload: []byte{0xff}, SignatureRound: 9},
		},
		Signature: []byte("sig"),
	}
}

func TestEventHashDeterminism(t *testing.T) {
	h1, err := EventHash(sampleEvent())
	require.NoError(t, err)
	h2, err := EventHash(sampleEvent())
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "EventHash must be deterministic")
	assert.False(t, h1.IsZero())
	assert.Len(t, h1.String(), 96, "SHA-384 hex is 96 characters")
}

func TestEventHashExcludesSignatureAndRouting(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()
	b.Signature = []byte("different")
	b.SenderID = 7
	b.ReceivedAt = time.Now()

	assert.Equal(t, MustEventHash(a), MustEventHash(b))
}

func TestEventHashChangesWithHashedFields(t *testing.T) {
	base := MustEventHash(sampleEvent())

	mutations := map[string]func(e *GossipEvent){
		"creator":      func(e *GossipEvent) { e.Descriptor.Creator = 9 },
		"generation":   func(e *GossipEvent) { e.Descriptor.Generation++ },
		"birth round":  func(e *GossipEvent) { e.Descriptor.BirthRound++ },
		"time":         func(e *GossipEvent) { e.CreationTime = e.CreationTime.Add(time.Nanosecond) },
		"self parent":  func(e *GossipEvent) { e.SelfParent = nil },
		"other parent": func(e *GossipEvent) { e.OtherParent.Hash = Hash{3} },
		"payload":      func(e *GossipEvent) { e.Transactions[0].Payload = []byte("bye") },
		"kind":         func(e *GossipEvent) { e.Transactions[1].Kind = ApplicationTransaction },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := sampleEvent()
			mutate(e)
			assert.NotEqual(t, base, MustEventHash(e))
		})
	}
}

func TestSnapshotHash(t *testing.T) {
	s := ConsensusSnapshot{
		Round:               4,
		JudgeHashes:         []Hash{{1}, {2}},
		MinimumJudgeInfo:    []MinimumJudgeInfo{{Round: 3, MinimumJudgeAncientThreshold: 5}, {Round: 4, MinimumJudgeAncientThreshold: 7}},
		NextConsensusNumber: 12,
		ConsensusTimestamp:  time.Unix(10, 0),
	}
	h1, err := SnapshotHash(s)
	require.NoError(t, err)

	s.NextConsensusNumber = 13
	h2, err := SnapshotHash(s)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestParseHashRoundTrip(t *testing.T) {
	h := MustEventHash(sampleEvent())
	parsed, err := ParseHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("abcd")
	assert.Error(t, err)
}
