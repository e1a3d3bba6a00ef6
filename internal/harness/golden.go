package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/swirl/internal/hashgraph"
)

// Trace is the label-level record of a baseline delivery.
type Trace struct {
	Scenario string
	Released []string
	Rounds   []RoundTrace
}

// RoundTrace lists the labels of one round's events in consensus order.
type RoundTrace struct {
	Round  int64
	Events []string
}

// TraceOf builds the trace of a result's baseline delivery.
func TraceOf(r *Result) Trace {
	base := r.Baseline()
	t := Trace{Scenario: r.Scenario, Released: base.Released}
	for _, round := range base.Rounds {
		rt := RoundTrace{Round: round.RoundNumber}
		for _, ce := range round.ConsensusEvents {
			rt.Events = append(rt.Events, r.dag.label(ce.Event))
		}
		t.Rounds = append(t.Rounds, rt)
	}
	return t
}

// MarshalCanonical encodes the trace as canonical JSON.
func (t Trace) MarshalCanonical() ([]byte, error) {
	rounds := make([]any, len(t.Rounds))
	for i, r := range t.Rounds {
		rounds[i] = map[string]any{
			"round":  r.Round,
			"events": labelList(r.Events),
		}
	}
	return hashgraph.MarshalCanonical(map[string]any{
		"scenario": t.Scenario,
		"released": labelList(t.Released),
		"rounds":   rounds,
	})
}

func labelList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// AssertGolden compares the result's trace against
// testdata/golden/{scenario}.golden.
func AssertGolden(t *testing.T, r *Result) {
	t.Helper()

	data, err := TraceOf(r).MarshalCanonical()
	if err != nil {
		t.Fatalf("marshal trace: %v", err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, r.Scenario, data)
}
