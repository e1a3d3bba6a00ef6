package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenarioDefaults(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: defaults
description: "stage defaults to consensus"
network: {nodes: 2, seed: 1, events: 10}
assertions:
  - type: consensus_order
`))
	require.NoError(t, err)
	assert.Equal(t, StageConsensus, s.Stage)
	assert.Equal(t, &Network{Nodes: 2, Seed: 1, Events: 10}, s.Network)
	assert.Nil(t, s.Delivery.Shuffle)
}

func TestParseScenarioRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: x\ndescription: d\nnetwork: {nodes: 1, events: 1}\nasertions: []\n", "field asertions not found"},
		{"no name", "description: d\nnetwork: {nodes: 1, events: 1}\nassertions: [{type: topological}]\n", "name is required"},
		{"no description", "name: x\nnetwork: {nodes: 1, events: 1}\nassertions: [{type: topological}]\n", "description is required"},
		{"bad stage", "name: x\ndescription: d\nstage: gossip\nnetwork: {nodes: 1, events: 1}\nassertions: [{type: topological}]\n", "unknown stage"},
		{"no source", "name: x\ndescription: d\nassertions: [{type: topological}]\n", "exactly one of network and events"},
		{"both sources", "name: x\ndescription: d\nnetwork: {nodes: 1, events: 1}\nevents: [{label: a}]\nassertions: [{type: topological}]\n", "exactly one of network and events"},
		{"no assertions", "name: x\ndescription: d\nnetwork: {nodes: 1, events: 1}\n", "assertions list is required"},
		{"empty network", "name: x\ndescription: d\nnetwork: {nodes: 0, events: 1}\nassertions: [{type: topological}]\n", "must be positive"},
		{"late parent", "name: x\ndescription: d\nevents: [{label: a, self_parent: b}, {label: b}]\nassertions: [{type: topological}]\n", "must be declared earlier"},
		{"duplicate label", "name: x\ndescription: d\nevents: [{label: a}, {label: a}]\nassertions: [{type: topological}]\n", "duplicate label"},
		{"unknown delivery label", "name: x\ndescription: d\nevents: [{label: a}]\ndelivery: {order: [z]}\nassertions: [{type: topological}]\n", "unknown label"},
		{"order and shuffle", "name: x\ndescription: d\nevents: [{label: a}]\ndelivery: {order: [a], shuffle: {seed: 1}}\nassertions: [{type: topological}]\n", "mutually exclusive"},
		{"order for network", "name: x\ndescription: d\nnetwork: {nodes: 1, events: 1}\ndelivery: {order: [e0]}\nassertions: [{type: topological}]\n", "order needs explicit events"},
		{"unknown assertion", "name: x\ndescription: d\nnetwork: {nodes: 1, events: 1}\nassertions: [{type: eventually}]\n", "unknown assertion type"},
		{"deterministic without permutations", "name: x\ndescription: d\nnetwork: {nodes: 1, events: 1}\nassertions: [{type: deterministic}]\n", "needs permutations"},
		{"released_order on consensus", "name: x\ndescription: d\nnetwork: {nodes: 1, events: 1}\nassertions: [{type: released_order, labels: [e0]}]\n", "needs the orphan stage"},
		{"min_rounds on orphan", "name: x\ndescription: d\nstage: orphan\nnetwork: {nodes: 1, events: 1}\nassertions: [{type: min_rounds, count: 1}]\n", "needs a consensus stage"},
		{"bad ancient mode", "name: x\ndescription: d\nnetwork: {nodes: 1, events: 1}\nconsensus: {ancient_mode: age}\nassertions: [{type: topological}]\n", "unknown ancient mode"},
		{"bad tie break", "name: x\ndescription: d\nnetwork: {nodes: 1, events: 1}\nconsensus: {tie_break: coin}\nassertions: [{type: topological}]\n", "consensus:"},
		{"released_order without labels", "name: x\ndescription: d\nstage: orphan\nnetwork: {nodes: 1, events: 1}\nassertions: [{type: released_order}]\n", "labels are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenariosRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	body := []byte("name: same\ndescription: d\nnetwork: {nodes: 1, events: 1}\nassertions: [{type: topological}]\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), body, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), body, 0o644))

	scenarios, err := LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario name "same" already used`)
	assert.Len(t, scenarios, 1)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}
