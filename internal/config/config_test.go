package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/swirl/internal/consensus"
	"github.com/roach88/swirl/internal/hashgraph"
	"github.com/roach88/swirl/internal/platform"
	"github.com/roach88/swirl/internal/wiring"
)

func TestDefaultMatchesPlatformDefaults(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	want := platform.DefaultConfig(0)
	assert.Equal(t, want, cfg.Platform)
	assert.Equal(t, 1, cfg.Roster.Len())
	assert.Equal(t, int64(1), cfg.Roster.TotalWeight())
	assert.Len(t, cfg.Fingerprint, 64)
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(filepath.Join("testdata", "node.cue"))
	require.NoError(t, err)

	p := cfg.Platform
	assert.Equal(t, hashgraph.NodeID(2), p.SelfID)
	assert.Equal(t, 8, p.Consensus.RoundsNonAncient)
	assert.Equal(t, 64, p.RoundsExpired)
	assert.Equal(t, consensus.TieBreakHash, p.Consensus.TieBreak)
	assert.Equal(t, 12, p.Consensus.CoinFrequency, "defaults fill unset fields")
	assert.Equal(t, platform.StageConfig{Type: wiring.Sequential, Capacity: 100}, p.Stages.Hasher)
	assert.Equal(t, platform.StageConfig{Type: wiring.Concurrent, Capacity: 500}, p.Stages.Validator)
	assert.Equal(t, time.Microsecond, p.BackpressureSleep)
	assert.Equal(t, 250*time.Millisecond, p.HeartbeatPeriod)

	assert.Equal(t, 4, cfg.Roster.Len())
	assert.Equal(t, int64(35), cfg.Roster.TotalWeight())
	assert.Equal(t, int64(5), cfg.Roster.Weight(3))
}

func TestFingerprint(t *testing.T) {
	a, err := Load("a.cue", []byte(`consensus: coin_frequency: 12`))
	require.NoError(t, err)
	b, err := Default()
	require.NoError(t, err)
	c, err := Load("c.cue", []byte(`consensus: coin_frequency: 13`))
	require.NoError(t, err)

	assert.Equal(t, b.Fingerprint, a.Fingerprint, "stating a default does not change the configuration")
	assert.NotEqual(t, b.Fingerprint, c.Fingerprint)
}

func TestPublicKeys(t *testing.T) {
	key := "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"
	cfg, err := Load("keys.cue", []byte(`roster: [{id: 0, public_key: "`+key+`"}, {id: 1}]`))
	require.NoError(t, err)

	pub, ok := cfg.Roster.PublicKey(0)
	require.True(t, ok)
	assert.Len(t, pub, 32)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", `consensus: {`, ""},
		{"unknown field", `consensus: coin_flips: 3`, "coin_flips"},
		{"out of range", `consensus: coin_frequency: 2`, "coin_frequency"},
		{"bad enum", `consensus: tie_break: "random"`, "tie_break"},
		{"bad duration", `heartbeat_period: "soon"`, "heartbeat_period"},
		{"short key", `roster: [{id: 0, public_key: "abcd"}]`, "public_key"},
		{"self not in roster", `self_id: 9`, "self_id"},
		{"duplicate node", `roster: [{id: 0}, {id: 0}]`, "duplicate node"},
		{"expired below non-ancient", `consensus: rounds_expired: 3`, "rounds_expired"},
		{"concurrent consensus", `intake: consensus: type: "concurrent"`, "consensus must be sequential"},
		{"bad supermajority", `consensus: supermajority: {numerator: 1, denominator: 3}`, "supermajority"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("bad.cue", []byte(tt.src))
			require.Error(t, err)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestErrorsAreTyped(t *testing.T) {
	_, err := Load("typed.cue", []byte("consensus: {\n\tcoin_frequency: 2\n}\n"))
	require.Error(t, err)

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Path, "coin_frequency")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}
