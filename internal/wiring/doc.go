// Package wiring is the task-scheduling substrate the event pipeline is
// built on.
//
// A Model owns a static graph of schedulers. Each Scheduler has zero or more
// typed InputWires, each bound to exactly one handler, and exactly one typed
// OutputWire that may be soldered to any number of downstream input wires.
//
// Scheduler types:
//
//   - Direct: the handler runs on the caller's goroutine. No queue, no
//     capacity limit.
//   - Sequential: one goroutine drains a FIFO queue; tasks run in strict
//     submission order.
//   - Concurrent: tasks run on the model's shared, bounded worker pool with
//     no ordering guarantee between tasks.
//
// Backpressure is an ObjectCounter per scheduler counting unhandled tasks.
// A Put onto a full scheduler blocks the caller until capacity frees up;
// Inject bypasses the limit and Offer drops the task instead of waiting.
// Nothing in this package ever drops a Put task silently while the model is
// running.
//
// Lifecycle: build schedulers and wires, bind every input, Start, then Stop.
// Start fails fast on unbound inputs and on cycles of blocking (Put) edges.
package wiring
