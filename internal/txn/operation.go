package txn

import (
	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
	"github.com/roach88/crosstx/internal/txlog"
)

// SecondaryResult is the outcome of replicating an operation.
type SecondaryResult string

const (
	SecondarySkipped   SecondaryResult = "skipped"
	SecondarySucceeded SecondaryResult = "succeeded"
	SecondaryFailed    SecondaryResult = "failed"
)

// Operation is one Save within a transaction.
//
// Payload is a deep copy taken at Save time; later mutation of the caller's
// record has no effect on it.
type Operation struct {
	Seq      int
	Kind     entity.Kind
	EntityID string
	Payload  record.Object
	Digest   string

	Applied    bool
	PrimaryErr error

	SecondaryResult SecondaryResult
	SecondaryErr    error

	Compensated     bool
	CompensationErr error

	// PreImage is the primary record as it was before this write, captured
	// for cumulative kinds only. HadPreImage is false when none existed.
	PreImage    record.Object
	HadPreImage bool
}

// clone returns a copy safe to hand to callers.
func (op *Operation) clone() Operation {
	c := *op
	c.Payload = op.Payload.Clone()
	c.PreImage = op.PreImage.Clone()
	return c
}

func (op *Operation) auditRecord() txlog.OperationRecord {
	rec := txlog.OperationRecord{
		Seq:         op.Seq,
		Kind:        op.Kind,
		EntityID:    op.EntityID,
		Digest:      op.Digest,
		Primary:     txlog.PrimaryApplied,
		Secondary:   string(op.SecondaryResult),
		Compensated: op.Compensated,
		HadPreImage: op.HadPreImage,
		PreImage:    op.PreImage,
	}
	if !op.Applied {
		rec.Primary = txlog.PrimaryFailed
	}
	if rec.Secondary == "" {
		rec.Secondary = string(SecondarySkipped)
	}
	if op.CompensationErr != nil {
		rec.CompensationError = op.CompensationErr.Error()
	}
	return rec
}

// operationFromAudit rebuilds enough of an Operation to compensate it again.
func operationFromAudit(rec txlog.OperationRecord) *Operation {
	return &Operation{
		Seq:             rec.Seq,
		Kind:            rec.Kind,
		EntityID:        rec.EntityID,
		Digest:          rec.Digest,
		Applied:         rec.Primary == txlog.PrimaryApplied,
		SecondaryResult: SecondaryResult(rec.Secondary),
		PreImage:        rec.PreImage,
		HadPreImage:     rec.HadPreImage,
	}
}
