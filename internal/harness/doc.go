// Package harness runs conformance scenarios against the orphan buffer, the
// consensus engine and the full pipeline.
//
// # Scenario Format
//
// Scenarios are YAML files. A scenario either simulates a network or spells
// out a small DAG by label:
//
//	name: orphan_reverse_delivery
//	description: "Children delivered before parents are released parents first"
//	stage: orphan
//	events:
//	  - {label: a0, creator: 0}
//	  - {label: a1, creator: 0, self_parent: a0}
//	delivery:
//	  order: [a1, a0]
//	assertions:
//	  - type: released_order
//	    labels: [a0, a1]
//
//	name: four_nodes_shuffled
//	description: "Consensus is independent of delivery order"
//	stage: consensus
//	network: {nodes: 4, seed: 7, events: 1200}
//	delivery:
//	  shuffle: {seed: 1, lag: 8}
//	permutations: 3
//	assertions:
//	  - type: min_rounds
//	    count: 10
//	  - type: deterministic
//
// # Deliveries
//
// The scenario's own delivery is the baseline. Each permutation delivers the
// same events again, shuffled with the next seed, and runs concurrently with
// the others. The deterministic assertion compares every permutation with
// the baseline over the rounds both decided.
//
// # Golden Traces
//
// A Trace names events by label, so scenarios with explicit events produce
// byte-stable traces that are compared against testdata/golden. Regenerate
// them with:
//
//	go test ./internal/harness -update
package harness
