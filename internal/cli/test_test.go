package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chainScenario = `
name: chain
description: "three events delivered backwards"
stage: orphan
events:
  - {label: a, creator: 0}
  - {label: b, creator: 0, self_parent: a}
  - {label: c, creator: 0, self_parent: b}
delivery:
  order: [c, b, a]
assertions:
  - type: released_order
    labels: [a, b, c]
`

func TestTestCommandRunsHarnessScenarios(t *testing.T) {
	out, err := execute(t, "test", "../harness/testdata/scenarios", "--filter", "orphan_*")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ orphan_reverse_delivery")
	assert.Contains(t, out, "✓ orphan_missing_parent")
	assert.Contains(t, out, "3 passed, 0 failed, 3 total")
}

func TestTestCommandReportsFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scenarios/ok.yaml", chainScenario)
	writeFile(t, dir, "scenarios/bad.yaml", `
name: bad
description: "expects too many orphans"
stage: orphan
network: {nodes: 2, seed: 1, events: 20}
assertions:
  - type: buffered_count
    count: 3
`)

	out, err := execute(t, "--format", "json", "test", filepath.Join(dir, "scenarios"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	status, res, cliErr := decode[TestResult](t, out)
	assert.Equal(t, "error", status)
	require.NotNil(t, cliErr)
	assert.Equal(t, ErrCodeScenario, cliErr.Code)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Passed)
	require.Len(t, res.Scenarios, 2)
	assert.Equal(t, "bad", res.Scenarios[0].Name)
	assert.False(t, res.Scenarios[0].Pass)
	assert.Contains(t, res.Scenarios[0].Errors[0], "expected 3 buffered orphans, got 0")
}

func TestTestCommandGoldenFiles(t *testing.T) {
	dir := t.TempDir()
	scenarios := filepath.Join(dir, "scenarios")
	writeFile(t, dir, "scenarios/chain.yaml", chainScenario)
	golden := filepath.Join(dir, "golden", "chain.golden")

	_, err := execute(t, "test", scenarios, "--update")
	require.NoError(t, err)
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Equal(t, `{"released":["a","b","c"],"rounds":[],"scenario":"chain"}`, string(data))

	_, err = execute(t, "test", scenarios)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte(`{"released":[]}`), 0o644))
	out, err := execute(t, "test", scenarios)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "invalid/x.yaml", "name: x\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing directory", []string{filepath.Join(dir, "missing")}, "scenarios directory not found"},
		{"invalid scenario", []string{filepath.Join(dir, "invalid")}, "failed to load scenarios"},
		{"bad filter", []string{dir, "--filter", "["}, "invalid filter pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"test"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestTestCommandNoScenarios(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}
