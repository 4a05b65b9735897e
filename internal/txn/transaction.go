package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
)

// Transaction is a unit of work scoped to one Manager.Run call.
//
// Thread-safety: a transaction belongs to the goroutine running the Run
// callback. The internal mutex only keeps accessors consistent if the
// transaction leaks to another goroutine.
type Transaction struct {
	m  *Manager
	id string

	mu       sync.Mutex
	state    State
	ops      []*Operation
	started  time.Time
	ended    time.Time
	err      *Error // primary write failure
	cause    error  // caller error or panic that aborted the transaction
	secFails int
	cmpFails int
}

// ID returns the transaction ID.
func (t *Transaction) ID() string {
	return t.id
}

// State returns the current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Operations returns a copy of the operations attempted so far, in
// submission order.
func (t *Transaction) Operations() []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Operation, len(t.ops))
	for i, op := range t.ops {
		out[i] = op.clone()
	}
	return out
}

// Err returns the primary write error that failed the transaction, if any.
func (t *Transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		return nil
	}
	return t.err
}

// Save writes rec to the primary store and replicates it to the secondary.
//
// The record is validated before any I/O; a malformed record returns a
// validation error and leaves the transaction untouched. If the primary
// write fails, every earlier operation is compensated in reverse order,
// the transaction becomes failed, and a primary write error is returned.
// Secondary failures are never returned.
//
// Once started, store I/O is not interrupted by ctx cancellation.
func (t *Transaction) Save(ctx context.Context, kind entity.Kind, rec record.Object) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StatePending {
		return fmt.Errorf("%w: %s is %s", ErrTransactionClosed, t.id, t.state)
	}

	op, err := t.prepare(kind, rec)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ioCtx := context.WithoutCancel(ctx)
	h := t.m.handlers[kind]

	if err := t.applyPrimary(ioCtx, h, op); err != nil {
		op.PrimaryErr = err
		t.ops = append(t.ops, op)
		t.err = newOpError(ErrCodePrimaryWrite, "primary store rejected write", t.id, op, err)
		t.m.logger.Info("primary write failed, rolling back",
			"txn_id", t.id, "kind", op.Kind, "entity_id", op.EntityID, "seq", op.Seq, "error", err)
		t.rollback(ioCtx)
		return t.err
	}
	op.Applied = true
	t.ops = append(t.ops, op)

	t.replicate(ioCtx, h, op)
	return nil
}

// prepare validates rec and builds its operation.
func (t *Transaction) prepare(kind entity.Kind, rec record.Object) (*Operation, error) {
	invalid := func(err error) *Error {
		return &Error{Code: ErrCodeValidation, Message: "record rejected", TxnID: t.id, Kind: kind, Err: err}
	}

	if err := t.m.schemas.Validate(kind, rec); err != nil {
		return nil, invalid(err)
	}
	id, ok := entity.IDOf(rec)
	if !ok {
		return nil, invalid(&entity.ValidationError{Kind: kind, Detail: "missing id"})
	}

	payload := rec.Clone()
	digest, err := record.Digest(payload)
	if err != nil {
		return nil, invalid(err)
	}

	return &Operation{
		Seq:      len(t.ops) + 1,
		Kind:     kind,
		EntityID: id,
		Payload:  payload,
		Digest:   digest,
	}, nil
}

func (t *Transaction) applyPrimary(ctx context.Context, h Handler, op *Operation) error {
	if op.Kind.Cumulative() {
		pre, found, err := t.m.primary.Get(ctx, op.Kind, op.EntityID)
		if err != nil {
			return fmt.Errorf("read pre-image: %w", err)
		}
		op.PreImage = pre
		op.HadPreImage = found
	}
	return h.ApplyPrimary(ctx, op)
}

func (t *Transaction) replicate(ctx context.Context, h Handler, op *Operation) {
	if !t.m.secondaryEnabled() {
		op.SecondaryResult = SecondarySkipped
		return
	}

	err := h.ApplySecondary(ctx, op)
	t.m.metrics.SecondaryWrite(ctx, string(op.Kind), err == nil)
	if err != nil {
		op.SecondaryResult = SecondaryFailed
		op.SecondaryErr = newOpError(ErrCodeSecondaryWrite, "secondary store rejected write", t.id, op, err)
		t.secFails++
		t.m.logger.Warn("secondary write failed",
			"txn_id", t.id, "kind", op.Kind, "entity_id", op.EntityID, "error", err)
		return
	}
	op.SecondaryResult = SecondarySucceeded
}

// rollback compensates applied operations newest first and marks the
// transaction failed. Caller must hold t.mu and the state must be pending.
func (t *Transaction) rollback(ctx context.Context) {
	t.transition(StateRollingBack)

	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		if !op.Applied || op.Compensated {
			continue
		}
		err := t.compensate(ctx, op)
		t.m.metrics.Compensation(ctx, string(op.Kind), err == nil)
		if err != nil {
			op.CompensationErr = newOpError(ErrCodeCompensation, "compensation failed", t.id, op, err)
			t.cmpFails++
			t.m.logger.Error("compensation failed",
				"txn_id", t.id, "kind", op.Kind, "entity_id", op.EntityID, "seq", op.Seq, "error", err)
			continue
		}
		op.Compensated = true
	}

	t.transition(StateFailed)
	t.ended = t.m.now()
}

// compensate runs the handler's Compensate, turning a panic into an error
// so the rest of the rollback still runs.
func (t *Transaction) compensate(ctx context.Context, op *Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensate panicked: %v", r)
		}
	}()
	return t.m.handlers[op.Kind].Compensate(ctx, op)
}

// resolve settles a transaction whose Run callback has returned.
func (t *Transaction) resolve(ctx context.Context, callerErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateRollingBack {
		// A rollback was cut short by a panic; settle it as failed.
		if t.cause == nil && t.err == nil {
			t.cause = callerErr
		}
		t.transition(StateFailed)
		t.ended = t.m.now()
		return
	}
	if t.state != StatePending {
		return
	}
	if callerErr != nil {
		t.cause = callerErr
		t.m.logger.Info("transaction aborted by caller, rolling back",
			"txn_id", t.id, "operations", len(t.ops), "error", callerErr)
		t.rollback(context.WithoutCancel(ctx))
		return
	}
	t.transition(StateCommitted)
	t.ended = t.m.now()
}

func (t *Transaction) transition(to State) {
	if !t.state.CanTransition(to) {
		panic(fmt.Sprintf("txn %s: illegal transition %s -> %s", t.id, t.state, to))
	}
	t.state = to
}
