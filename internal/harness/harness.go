package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
	"github.com/roach88/crosstx/internal/store"
	"github.com/roach88/crosstx/internal/testutil"
	"github.com/roach88/crosstx/internal/txlog"
	"github.com/roach88/crosstx/internal/txn"
)

// scenarioEpoch is the fake clock's start, so every timestamp a scenario
// writes is reproducible.
var scenarioEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the scenario execution environment.
type Harness struct {
	primary   *store.Store
	faultyPri *testutil.FaultyStore
	secondary *testutil.MemoryStore
	faultySec *testutil.FaultyStore
	log       *txlog.Log
	manager   *txn.Manager
}

// Option configures a scenario run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger routes the manager's logs to logger. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory databases for isolation.
// An error is returned only when the scenario could not be executed;
// failed expectations and assertions are reported on the Result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	h, err := newHarness(scenario, o)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Transactions {
		outcome, err := h.runTransaction(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("transaction %d (%s): %w", i, step.Name, err)
		}
		result.Transactions = append(result.Transactions, outcome)

		if step.Expect != nil {
			if outcome.State != step.Expect.State {
				result.AddError(fmt.Sprintf("transaction %s: expected state %s, got %s", step.Name, step.Expect.State, outcome.State))
			}
			if step.Expect.ErrorCode != "" && outcome.ErrorCode != step.Expect.ErrorCode {
				result.AddError(fmt.Sprintf("transaction %s: expected error code %s, got %q", step.Name, step.Expect.ErrorCode, outcome.ErrorCode))
			}
		}
	}

	for _, kind := range entity.Kinds() {
		n, err := h.primary.Count(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", kind, err)
		}
		result.PrimaryCounts[kind] = n
	}

	actx := &AssertionContext{Ctx: ctx, Harness: h, Result: result}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, o options) (*Harness, error) {
	clock := testutil.NewFakeClock(scenarioEpoch, time.Millisecond)

	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	log, err := txlog.Open(":memory:")
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create in-memory log: %w", err)
	}

	secondary := testutil.NewMemoryStore()
	secondary.SetEnabled(scenario.Secondary)

	h := &Harness{
		primary:   st,
		faultyPri: testutil.NewFaultyStore(st),
		secondary: secondary,
		faultySec: testutil.NewFaultyStore(secondary),
		log:       log,
	}

	h.manager, err = txn.New(h.faultyPri, log,
		txn.WithSecondary(h.faultySec),
		txn.WithLogger(o.logger),
		txn.WithClock(clock.Now),
		txn.WithIDGenerator(testutil.NewSequentialIDs("txn")),
	)
	if err != nil {
		log.Close()
		st.Close()
		return nil, err
	}
	return h, nil
}

func (h *Harness) close() {
	h.manager.Close(context.Background())
	h.primary.Close()
}

type preparedSave struct {
	kind entity.Kind
	rec  record.Object
}

func (h *Harness) runTransaction(ctx context.Context, step TransactionStep) (TransactionOutcome, error) {
	saves := make([]*preparedSave, len(step.Steps))
	for i, s := range step.Steps {
		if s.SetSecondary != nil {
			continue
		}
		rec, err := record.ObjectFromGo(s.Record)
		if err != nil {
			return TransactionOutcome{}, fmt.Errorf("steps[%d]: %w", i, err)
		}
		saves[i] = &preparedSave{kind: entity.Kind(s.Save), rec: rec}
	}

	defer h.faultyPri.Clear()
	defer h.faultySec.Clear()

	var txID string
	_ = h.manager.Run(ctx, func(ctx context.Context, tx *txn.Transaction) error {
		txID = tx.ID()
		for i, s := range step.Steps {
			if s.SetSecondary != nil {
				h.secondary.SetEnabled(*s.SetSecondary)
				continue
			}
			sv := saves[i]
			h.armFault(s.Fail, sv)
			if err := tx.Save(ctx, sv.kind, sv.rec); err != nil {
				return err
			}
		}
		if step.CallerError != "" {
			return errors.New(step.CallerError)
		}
		return nil
	})

	entry, err := h.log.Get(ctx, txID)
	if err != nil {
		return TransactionOutcome{}, fmt.Errorf("read log entry: %w", err)
	}
	return TransactionOutcome{
		Name:              step.Name,
		ID:                entry.TxnID,
		State:             entry.State,
		ErrorCode:         entry.ErrorCode,
		Operations:        entry.OperationCount,
		SecondaryFailures: entry.SecondaryFailures,
	}, nil
}

func (h *Harness) armFault(target string, sv *preparedSave) {
	id, _ := entity.IDOf(sv.rec)
	switch target {
	case FailPrimary:
		h.faultyPri.FailOn(testutil.OpUpsert, sv.kind, id, 1)
	case FailSecondary:
		h.faultySec.FailOn(testutil.OpUpsert, sv.kind, id, 1)
	}
}
