// Package daemon coordinates the long-running cropwatch process.
//
// It wires configuration, the state store, the reconciler, the delivery
// scheduler, and the poll loop into a single lifecycle with flock-based
// locking to prevent multiple instances. An HTTP API exposes status, the
// pending schedule, tracked state, and manual triggers.
//
// Keep orchestration logic here: clustering and reconciliation live in their
// own packages while the daemon focuses on startup, shutdown, and wiring.
package daemon
