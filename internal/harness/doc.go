// Package harness runs transaction scenarios described in YAML.
//
// A scenario is a sequence of transactions, each a list of saves against
// the closed entity kinds, with optional injected store faults, secondary
// toggles, and a caller error that aborts the transaction on exit. Every
// scenario runs against a fresh in-memory SQLite primary store and log,
// an in-memory secondary, a fake clock, and sequential transaction IDs,
// so its outcome is deterministic and can be snapshotted as a golden file.
//
// Example:
//
//	name: usage_rollback
//	description: a failed stats write leaves no usage record behind
//	secondary: true
//	transactions:
//	  - name: A
//	    steps:
//	      - save: usage_record
//	        record: {id: u-a, user_id: alice, tokens: 150}
//	assertions:
//	  - type: primary_count
//	    kind: usage_record
//	    count: 1
package harness
