package hashgraph

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoster(t *testing.T) {
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	r, err := NewRoster([]RosterEntry{
		{ID: 3, Weight: 10},
		{ID: 1, Weight: 5, PublicKey: pub},
		{ID: 2, Weight: 0},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, int64(15), r.TotalWeight())
	assert.Equal(t, NodeID(1), r.Entry(0).ID, "entries are sorted by id")

	i, ok := r.Index(3)
	require.True(t, ok)
	assert.Equal(t, 2, i)
	assert.Equal(t, int64(10), r.Weight(3))
	assert.Equal(t, int64(0), r.Weight(99))
	assert.False(t, r.Contains(99))

	_, ok = r.PublicKey(1)
	assert.True(t, ok)
	_, ok = r.PublicKey(3)
	assert.False(t, ok, "member without a key")
}

func TestNewRoster_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		entries []RosterEntry
	}{
		{"empty", nil},
		{"duplicate", []RosterEntry{{ID: 1, Weight: 1}, {ID: 1, Weight: 1}}},
		{"negative weight", []RosterEntry{{ID: 1, Weight: -1}, {ID: 2, Weight: 3}}},
		{"zero total", []RosterEntry{{ID: 1}, {ID: 2}}},
		{"short key", []RosterEntry{{ID: 1, Weight: 1, PublicKey: []byte{1, 2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRoster(tt.entries)
			assert.Error(t, err)
		})
	}
}
