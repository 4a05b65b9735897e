// Package store provides the SQLite-backed primary store for crosstx.
//
// The primary store is authoritative: a transaction commits only when every
// one of its writes landed here. Each entity is one row keyed by
// (kind, id) holding the payload's canonical JSON and its digest.
//
// # Write semantics
//
//   - Upsert is last-write-wins per (kind, id).
//   - Delete of a missing row succeeds, which keeps compensation idempotent.
//   - Every statement is a single autocommit write; crosstx never holds an
//     SQLite transaction open across a caller's code.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=FULL: a returned Upsert survives power loss
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
