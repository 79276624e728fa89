// Package state persists dedup state: transition flags, last scheduled
// identities, previous identity sets, the delivery outbox, and the delivery
// ledger.
//
// Every backend implements Store, whose Update performs an atomic
// read-modify-write of a single key. The SQLite backend is the default and
// follows the queue database conventions (WAL, busy retries, a versioned
// schema); PostgreSQL serves deployments where several hosts share state;
// the memory backend serves tests and dry runs.
package state
