package txn

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
)

// Primary is the durable store every transaction must succeed against.
type Primary interface {
	Upsert(ctx context.Context, kind entity.Kind, id string, obj record.Object) error
	Get(ctx context.Context, kind entity.Kind, id string) (record.Object, bool, error)
	Delete(ctx context.Context, kind entity.Kind, id string) error
	Count(ctx context.Context, kind entity.Kind) (int64, error)
}

// Secondary is the best-effort replica.
type Secondary interface {
	Upsert(ctx context.Context, kind entity.Kind, id string, obj record.Object) error
	Delete(ctx context.Context, kind entity.Kind, id string) error
	Count(ctx context.Context, kind entity.Kind) (int64, error)
	Enabled() bool
}

// Handler applies and reverses one kind's operations.
//
// Compensate must be idempotent: running it twice leaves the stores as
// running it once does.
type Handler interface {
	ApplyPrimary(ctx context.Context, op *Operation) error
	ApplySecondary(ctx context.Context, op *Operation) error
	Compensate(ctx context.Context, op *Operation) error
}

// handlerFor binds each kind to its compensation strategy. Every kind in
// entity.Kinds must have a case; New fails otherwise.
func handlerFor(kind entity.Kind, primary Primary, secondary Secondary, logger *slog.Logger) (Handler, error) {
	base := stores{primary: primary, secondary: secondary, logger: logger}
	switch kind {
	case entity.UsageRecord, entity.Conversation:
		return &deleteHandler{base}, nil
	case entity.UserStats:
		return &restoreHandler{base}, nil
	default:
		return nil, fmt.Errorf("no handler for entity kind %q", kind)
	}
}

type stores struct {
	primary   Primary
	secondary Secondary
	logger    *slog.Logger
}

func (s stores) ApplyPrimary(ctx context.Context, op *Operation) error {
	return s.primary.Upsert(ctx, op.Kind, op.EntityID, op.Payload)
}

func (s stores) ApplySecondary(ctx context.Context, op *Operation) error {
	return s.secondary.Upsert(ctx, op.Kind, op.EntityID, op.Payload)
}

func (s stores) secondaryEnabled() bool {
	return s.secondary != nil && s.secondary.Enabled()
}

// reverseSecondary undoes a replicated write. Failures are logged only:
// the replica is allowed to drift and reconciliation reports it.
func (s stores) reverseSecondary(ctx context.Context, op *Operation, undo func() error) {
	if op.SecondaryResult != SecondarySucceeded || !s.secondaryEnabled() {
		return
	}
	if err := undo(); err != nil {
		s.logger.Warn("secondary compensation failed",
			"kind", op.Kind, "entity_id", op.EntityID, "error", err)
	}
}

// deleteHandler serves kinds whose records are created once; undoing the
// write means removing the record.
type deleteHandler struct {
	stores
}

func (h *deleteHandler) Compensate(ctx context.Context, op *Operation) error {
	if err := h.primary.Delete(ctx, op.Kind, op.EntityID); err != nil {
		return err
	}
	h.reverseSecondary(ctx, op, func() error {
		return h.secondary.Delete(ctx, op.Kind, op.EntityID)
	})
	return nil
}

// restoreHandler serves cumulative kinds; undoing the write means putting
// back the record captured before it, or deleting it if there was none.
//
// A concurrent writer's update between the pre-image read and compensation
// is overwritten by the restore.
type restoreHandler struct {
	stores
}

func (h *restoreHandler) Compensate(ctx context.Context, op *Operation) error {
	if err := h.restore(ctx, h.primary.Upsert, h.primary.Delete, op); err != nil {
		return err
	}
	h.reverseSecondary(ctx, op, func() error {
		return h.restore(ctx, h.secondary.Upsert, h.secondary.Delete, op)
	})
	return nil
}

func (h *restoreHandler) restore(
	ctx context.Context,
	upsert func(context.Context, entity.Kind, string, record.Object) error,
	del func(context.Context, entity.Kind, string) error,
	op *Operation,
) error {
	if op.HadPreImage {
		return upsert(ctx, op.Kind, op.EntityID, op.PreImage)
	}
	return del(ctx, op.Kind, op.EntityID)
}
