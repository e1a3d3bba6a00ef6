// Package consensus implements hashgraph virtual voting over a DAG of
// gossip events.
//
// Events must be added in topological order (parents before children); the
// orphan buffer upstream guarantees this. For each added event the engine
// computes its round and witness status, runs the fame election for
// undecided witnesses, and emits every round whose witnesses all have
// decided fame, in round order. Each emitted round carries the events that
// reached consensus in it, sorted into the global consensus order.
//
// Forks (two events by one creator at the same generation) are not
// detected; ancestry tests assume each creator's events form a chain.
package consensus
