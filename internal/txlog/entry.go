package txlog

import (
	"time"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
)

// Terminal states as stored in the log.
const (
	StateCommitted = "committed"
	StateFailed    = "failed"
)

// Primary outcomes for an operation.
const (
	PrimaryApplied = "applied"
	PrimaryFailed  = "failed"
)

// Entry is one finished transaction.
type Entry struct {
	Seq                  int64             `json:"seq"`
	TxnID                string            `json:"txn_id"`
	State                string            `json:"state"`
	OperationCount       int               `json:"operation_count"`
	Duration             time.Duration     `json:"duration_ns"`
	RecordedAt           time.Time         `json:"recorded_at"`
	Error                string            `json:"error,omitempty"`
	ErrorCode            string            `json:"error_code,omitempty"`
	SecondaryFailures    int               `json:"secondary_failures"`
	CompensationFailures int               `json:"compensation_failures"`
	Operations           []OperationRecord `json:"operations"`
}

// OperationRecord is the audit trail of a single operation.
// PreImage is only meaningful when HadPreImage is true.
type OperationRecord struct {
	Seq               int           `json:"seq"`
	Kind              entity.Kind   `json:"kind"`
	EntityID          string        `json:"entity_id"`
	Digest            string        `json:"digest"`
	Primary           string        `json:"primary"`
	Secondary         string        `json:"secondary"`
	Compensated       bool          `json:"compensated"`
	CompensationError string        `json:"compensation_error,omitempty"`
	HadPreImage       bool          `json:"had_pre_image,omitempty"`
	PreImage          record.Object `json:"pre_image,omitempty"`
}

// FailedCompensations returns the operations whose compensation was
// attempted and failed, in the order they appear in the entry.
func (e Entry) FailedCompensations() []OperationRecord {
	var out []OperationRecord
	for _, op := range e.Operations {
		if op.CompensationError != "" && !op.Compensated {
			out = append(out, op)
		}
	}
	return out
}
