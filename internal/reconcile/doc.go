// Package reconcile decides, per poll, which notification groups to hand to
// the scheduler.
//
// Clustered categories are recomputed in full every poll. Transition tracked
// categories notify only on a persisted false to true edge per identity and
// stay armed until an explicit clear. Delta categories notify on identities
// absent from the previous poll. Next-only categories track just the nearest
// future event. Groups emitted by edge-triggered paths wait in an outbox until
// delivered, so a later cancel-all cannot lose them.
package reconcile
