// Package txn coordinates writes that must land in a durable primary store
// and are replicated best-effort to a secondary store.
//
// A transaction is scoped to Manager.Run. Each Save applies immediately to
// the primary store, so there is no two-phase commit; atomicity comes from
// compensation. When a primary write fails, or the caller's function returns
// an error or panics, every operation already applied is compensated in
// strict reverse order before Run returns.
//
// Lifecycle:
//
//	pending ──(scope exits cleanly)──────────────────────► committed
//	pending ──(primary failure / caller error)──► rolling_back ──► failed
//
// committed and failed are terminal. A Save on a terminal transaction
// returns ErrTransactionClosed and never triggers compensation again.
//
// Secondary writes are attempted only after the primary write succeeds and
// only while the secondary is enabled. Their failures are logged, counted,
// and recorded on the operation; they never change the outcome.
//
// Every finished transaction appends one entry to the transaction log.
package txn
