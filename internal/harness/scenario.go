package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Stage selects what a scenario drives.
const (
	StageOrphan    = "orphan"
	StageConsensus = "consensus"
	StagePipeline  = "pipeline"
)

// Scenario defines a conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Stage is one of orphan, consensus or pipeline. Default: consensus.
	Stage string `yaml:"stage,omitempty"`

	// Network simulates a gossip network. Exactly one of Network and
	// Events is set.
	Network *Network `yaml:"network,omitempty"`

	// Events spells out a DAG by label, in creation order.
	Events []EventSpec `yaml:"events,omitempty"`

	Delivery Delivery `yaml:"delivery,omitempty"`

	// Consensus overrides the default consensus parameters.
	Consensus ConsensusOverrides `yaml:"consensus,omitempty"`

	// Permutations is how many extra shuffled deliveries to run.
	Permutations int `yaml:"permutations,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// Network parameterises a simulated network.
type Network struct {
	Nodes                int     `yaml:"nodes"`
	Seed                 uint64  `yaml:"seed"`
	Weights              []int64 `yaml:"weights,omitempty"`
	Events               int     `yaml:"events"`
	TransactionsPerEvent int     `yaml:"transactions_per_event,omitempty"`
}

// EventSpec is one labelled event of an explicit DAG.
type EventSpec struct {
	Label       string `yaml:"label"`
	Creator     uint64 `yaml:"creator"`
	SelfParent  string `yaml:"self_parent,omitempty"`
	OtherParent string `yaml:"other_parent,omitempty"`
}

// Delivery describes the order in which events reach the stage. With
// neither field set, events arrive in creation order.
type Delivery struct {
	// Order lists labels in delivery order. Events not listed are never
	// delivered.
	Order []string `yaml:"order,omitempty"`

	Shuffle *Shuffle `yaml:"shuffle,omitempty"`
}

// Shuffle delivers events in a random topological-ish order: an event may
// arrive up to Lag positions after its parents would have allowed.
type Shuffle struct {
	Seed uint64 `yaml:"seed"`
	Lag  int    `yaml:"lag"`
}

// ConsensusOverrides replaces consensus parameters when non-zero.
type ConsensusOverrides struct {
	RoundsNonAncient int    `yaml:"rounds_non_ancient,omitempty"`
	CoinFrequency    int    `yaml:"coin_frequency,omitempty"`
	TieBreak         string `yaml:"tie_break,omitempty"`

	// AncientMode is generation or birth_round. A simulated network in
	// birth_round mode stamps each event with the round its network had
	// pending when the event was created.
	AncientMode string `yaml:"ancient_mode,omitempty"`
}

// Assertion checks the outcome of a scenario.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Count is used by released_count, buffered_count and min_rounds.
	Count int `yaml:"count,omitempty"`

	// Labels is used by released_order.
	Labels []string `yaml:"labels,omitempty"`
}

// Assertion type constants.
const (
	AssertReleasedOrder  = "released_order"
	AssertReleasedCount  = "released_count"
	AssertBufferedCount  = "buffered_count"
	AssertMinRounds      = "min_rounds"
	AssertConsensusOrder = "consensus_order"
	AssertTopological    = "topological"
	AssertDeterministic  = "deterministic"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos do not silently disable a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if scenario.Stage == "" {
		scenario.Stage = StageConsensus
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", scenario.Name, err)
	}
	return &scenario, nil
}

// LoadScenarios loads every .yaml and .yml file in dir, sorted by name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	slices.Sort(paths)

	var out []*Scenario
	var errs []error
	names := make(map[string]string)
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		if prev, dup := names[s.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: scenario name %q already used by %s", p, s.Name, prev))
			continue
		}
		names[s.Name] = p
		out = append(out, s)
	}
	return out, errors.Join(errs...)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	switch s.Stage {
	case StageOrphan, StageConsensus, StagePipeline:
	default:
		return fmt.Errorf("unknown stage %q", s.Stage)
	}
	if (s.Network == nil) == (len(s.Events) == 0) {
		return errors.New("exactly one of network and events is required")
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}
	if s.Permutations < 0 {
		return errors.New("permutations must not be negative")
	}
	if _, err := consensusConfig(s.Consensus); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	if s.Delivery.Shuffle != nil && len(s.Delivery.Order) > 0 {
		return errors.New("delivery: order and shuffle are mutually exclusive")
	}

	if n := s.Network; n != nil {
		if n.Nodes < 1 || n.Events < 1 {
			return errors.New("network: nodes and events must be positive")
		}
		if len(s.Delivery.Order) > 0 {
			return errors.New("delivery: order needs explicit events")
		}
	}

	labels := make(map[string]bool, len(s.Events))
	for i, e := range s.Events {
		if e.Label == "" {
			return fmt.Errorf("events[%d]: label is required", i)
		}
		if labels[e.Label] {
			return fmt.Errorf("events[%d]: duplicate label %q", i, e.Label)
		}
		for _, p := range []string{e.SelfParent, e.OtherParent} {
			if p != "" && !labels[p] {
				return fmt.Errorf("events[%d]: parent %q must be declared earlier", i, p)
			}
		}
		labels[e.Label] = true
	}
	for i, l := range s.Delivery.Order {
		if !labels[l] {
			return fmt.Errorf("delivery.order[%d]: unknown label %q", i, l)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, s); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion, s *Scenario) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertReleasedOrder:
		if len(a.Labels) == 0 {
			return fmt.Errorf("assertions[%d]: labels are required for released_order", index)
		}
	case AssertReleasedCount, AssertBufferedCount, AssertMinRounds:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertConsensusOrder, AssertTopological:
	case AssertDeterministic:
		if s.Permutations == 0 {
			return fmt.Errorf("assertions[%d]: deterministic needs permutations", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	orphanOnly := a.Type == AssertReleasedOrder || a.Type == AssertBufferedCount
	if orphanOnly && s.Stage != StageOrphan {
		return fmt.Errorf("assertions[%d]: %s needs the orphan stage", index, a.Type)
	}
	roundsOnly := a.Type == AssertMinRounds || a.Type == AssertConsensusOrder
	if roundsOnly && s.Stage == StageOrphan {
		return fmt.Errorf("assertions[%d]: %s needs a consensus stage", index, a.Type)
	}
	return nil
}
