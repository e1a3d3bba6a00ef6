package intake

import (
	"crypto/ed25519"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/testutil"
)

func droppedCount(t *testing.T, reg *prometheus.Registry, stage, reason string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "swirl_intake_dropped_events_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["stage"] == stage && labels["reason"] == reason {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func newMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	return m, reg
}

func TestHasher_RecomputesHash(t *testing.T) {
	b := testutil.NewEventBuilder(1)
	e := b.Event(0, nil)
	want := e.Hash()
	e.Descriptor.Hash = hashgraph.Hash{1, 2, 3}

	got, err := NewHasher().Hash(e)
	require.NoError(t, err)
	assert.Same(t, e, got)
	assert.Equal(t, want, got.Hash())
}

func TestInternalValidator(t *testing.T) {
	b := testutil.NewEventBuilder(3)
	p0 := b.Event(0, nil)
	p1 := b.Event(1, nil)

	tests := []struct {
		name   string
		mutate func() *hashgraph.GossipEvent
		reason string
	}{
		{
			name:   "valid",
			mutate: func() *hashgraph.GossipEvent { return b.Event(0, p1) },
		},
		{
			name: "missing hash",
			mutate: func() *hashgraph.GossipEvent {
				e := b.Event(2, nil)
				e.Descriptor.Hash = hashgraph.Hash{}
				return e
			},
			reason: ReasonNotHashed,
		},
		{
			name: "missing signature",
			mutate: func() *hashgraph.GossipEvent {
				e := b.Event(2, nil)
				e.Signature = nil
				return e
			},
			reason: ReasonNoSignature,
		},
		{
			name: "self parent from another creator",
			mutate: func() *hashgraph.GossipEvent {
				e := b.Unsigned(2, p0, nil)
				b.Sign(e)
				return e
			},
			reason: ReasonSelfParentCreator,
		},
		{
			name: "other parent from same creator",
			mutate: func() *hashgraph.GossipEvent {
				e := b.Unsigned(0, nil, p0)
				b.Sign(e)
				return e
			},
			reason: ReasonOtherParentCreator,
		},
		{
			name: "identical parents",
			mutate: func() *hashgraph.GossipEvent {
				e := b.Unsigned(0, p0, nil)
				d := *e.SelfParent
				d.Creator = 1
				e.OtherParent = &d
				b.Sign(e)
				return e
			},
			reason: ReasonIdenticalParents,
		},
		{
			name: "wrong generation",
			mutate: func() *hashgraph.GossipEvent {
				e := b.Unsigned(2, nil, p1)
				e.Descriptor.Generation = 7
				b.Sign(e)
				return e
			},
			reason: ReasonGeneration,
		},
		{
			name: "birth round below parent",
			mutate: func() *hashgraph.GossipEvent {
				parent := b.Unsigned(1, nil, nil)
				parent.Descriptor.BirthRound = 5
				e := b.Unsigned(2, nil, parent)
				e.Descriptor.BirthRound = 4
				b.Sign(e)
				return e
			},
			reason: ReasonBirthRound,
		},
		{
			name: "too many transactions",
			mutate: func() *hashgraph.GossipEvent {
				return b.Event(2, nil,
					hashgraph.Transaction{Kind: hashgraph.ApplicationTransaction},
					hashgraph.Transaction{Kind: hashgraph.ApplicationTransaction},
					hashgraph.Transaction{Kind: hashgraph.ApplicationTransaction},
				)
			},
			reason: ReasonTooManyTxs,
		},
		{
			name: "payload too large",
			mutate: func() *hashgraph.GossipEvent {
				return b.Event(2, nil, hashgraph.Transaction{Kind: hashgraph.ApplicationTransaction, Payload: make([]byte, 65)})
			},
			reason: ReasonPayloadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics, reg := newMetrics(t)
			v := NewInternalValidator(Limits{MaxTransactions: 2, MaxPayloadBytes: 64}, metrics)

			got, err := v.Validate(tt.mutate())
			require.NoError(t, err)
			if tt.reason == "" {
				assert.NotNil(t, got)
				return
			}
			assert.Nil(t, got)
			assert.Equal(t, 1.0, droppedCount(t, reg, stageValidator, tt.reason))
		})
	}
}

func TestDeduplicator(t *testing.T) {
	metrics, reg := newMetrics(t)
	d := NewDeduplicator(metrics)
	b := testutil.NewEventBuilder(2)
	e := b.Event(0, nil)

	_, err := d.HandleEvent(e)
	require.ErrorIs(t, err, hashgraph.ErrNoEventWindow)

	d.SetEventWindow(hashgraph.GenesisEventWindow(hashgraph.GenerationThreshold))

	got, err := d.HandleEvent(e)
	require.NoError(t, err)
	assert.Same(t, e, got)

	again := *e
	got, err = d.HandleEvent(&again)
	require.NoError(t, err)
	assert.Nil(t, got, "same descriptor and signature is a duplicate")
	assert.Equal(t, 1.0, droppedCount(t, reg, stageDedup, ReasonDuplicate))

	resigned := *e
	resigned.Signature = []byte("different")
	got, err = d.HandleEvent(&resigned)
	require.NoError(t, err)
	assert.NotNil(t, got, "a different signature is a different event")
	assert.Equal(t, 1, d.Len())
}

func TestDeduplicator_DropsAncientAndForgets(t *testing.T) {
	d := NewDeduplicator(nil)
	b := testutil.NewEventBuilder(1)
	e0 := b.Event(0, nil)
	e1 := b.Event(0, nil)
	e2 := b.Event(0, nil)

	d.SetEventWindow(hashgraph.GenesisEventWindow(hashgraph.GenerationThreshold))
	for _, e := range []*hashgraph.GossipEvent{e0, e1, e2} {
		got, err := d.HandleEvent(e)
		require.NoError(t, err)
		require.NotNil(t, got)
	}
	assert.Equal(t, 3, d.Len())

	d.SetEventWindow(hashgraph.EventWindow{
		LatestConsensusRound: 3,
		AncientThreshold:     2,
		AncientMode:          hashgraph.GenerationThreshold,
	})
	assert.Equal(t, 1, d.Len())

	got, err := d.HandleEvent(e1)
	require.NoError(t, err)
	assert.Nil(t, got, "ancient events are dropped")

	d.Clear(hashgraph.GenesisEventWindow(hashgraph.GenerationThreshold))
	assert.Equal(t, 0, d.Len())
	got, err = d.HandleEvent(e2)
	require.NoError(t, err)
	assert.NotNil(t, got)
	got, err = d.HandleEvent(e1)
	require.NoError(t, err)
	assert.NotNil(t, got, "an older window after Clear admits events again")
}

type countingVerifier struct {
	calls int
}

func (v *countingVerifier) Verify(key ed25519.PublicKey, message, sig []byte) bool {
	v.calls++
	return Ed25519Verifier{}.Verify(key, message, sig)
}

func TestSignatureValidator(t *testing.T) {
	metrics, reg := newMetrics(t)
	b := testutil.NewEventBuilder(2)
	verifier := &countingVerifier{}
	v, err := NewSignatureValidator(b.Roster(), verifier, 16, metrics)
	require.NoError(t, err)

	good := b.Event(0, nil)
	_, err = v.Validate(good)
	require.ErrorIs(t, err, hashgraph.ErrNoEventWindow)

	v.SetEventWindow(hashgraph.GenesisEventWindow(hashgraph.GenerationThreshold))

	got, err := v.Validate(good)
	require.NoError(t, err)
	assert.Same(t, good, got)

	got, err = v.Validate(good)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Equal(t, 1, verifier.calls, "second check is answered by the cache")

	forged := b.Event(1, nil)
	forged.Signature[0] ^= 0xff
	got, err = v.Validate(forged)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1.0, droppedCount(t, reg, stageSignature, ReasonBadSignature))

	stranger := testutil.NewEventBuilder(5).Event(4, nil)
	got, err = v.Validate(stranger)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1.0, droppedCount(t, reg, stageSignature, ReasonUnknownCreator))
}

func TestSignatureValidator_DropsAncient(t *testing.T) {
	b := testutil.NewEventBuilder(1)
	v, err := NewSignatureValidator(b.Roster(), Ed25519Verifier{}, 0, nil)
	require.NoError(t, err)
	v.SetEventWindow(hashgraph.EventWindow{AncientThreshold: 5, AncientMode: hashgraph.GenerationThreshold})

	got, err := v.Validate(b.Event(0, nil))
	require.NoError(t, err)
	assert.Nil(t, got)
}
