// Package hashgraph defines the in-memory data model shared by every stage of
// the event pipeline: event descriptors, gossip events, transactions, event
// windows, consensus rounds and consensus snapshots.
//
// Events are immutable once hashed. Every relationship between events is
// expressed through EventDescriptor values used as map keys, never through
// pointers to parents, so stages can forget ancient events by deleting map
// entries.
//
// Hashes are SHA-384 over a canonical JSON encoding of the hashed fields with
// domain separation (see hash.go).
package hashgraph
