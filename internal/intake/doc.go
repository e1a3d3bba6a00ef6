// Package intake holds the per-event stages that sit between gossip and the
// orphan buffer: hashing, structural validation, deduplication and signature
// validation.
//
// Every stage maps an event to the same event or to nothing. A stage returns
// (nil, nil) to drop an event; the drop is logged at debug level and counted
// in the swirl_intake_dropped_events_total counter. A non-nil error means the
// stage could not run at all, for example because no event window was set.
package intake
