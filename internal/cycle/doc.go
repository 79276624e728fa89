// Package cycle runs the poll pipeline: fetch a snapshot, reconcile it into a
// plan, cancel every pending delivery, and schedule the plan.
//
// Cycles never overlap. Within a process a mutex serializes them; across
// processes sharing a state directory an advisory file lock does, so a CLI
// "poll" cannot interleave with the daemon's loop.
package cycle
