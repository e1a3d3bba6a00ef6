// Package store journals decided consensus rounds in SQLite.
//
// A journal holds one or more runs. For each run it records every decided
// round with the snapshot taken after it, and every event in consensus
// order. Replaying a run re-derives the rounds and compares them with the
// journal row by row.
//
// # Ordering
//
// Every query orders by round or consensus_order, never by insertion time,
// so reads are deterministic across replays.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability and performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
