package txn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/reconcile"
	"github.com/roach88/crosstx/internal/telemetry"
	"github.com/roach88/crosstx/internal/txlog"
)

// Log is the audit log a Manager appends to.
type Log interface {
	Append(ctx context.Context, e txlog.Entry) error
	Recent(ctx context.Context, limit int) ([]txlog.Entry, error)
	Get(ctx context.Context, txnID string) (txlog.Entry, error)
	Close() error
}

// Manager starts transactions and owns the stores, handlers, and log.
//
// Thread-safety: safe for concurrent use. Concurrent transactions are not
// isolated from each other; the last write to a record wins.
type Manager struct {
	primary   Primary
	secondary Secondary
	log       Log
	handlers  map[entity.Kind]Handler
	overrides map[entity.Kind]Handler
	schemas   *entity.Schemas
	validator *reconcile.Validator

	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	ids     IDGenerator

	mu          sync.Mutex
	closed      bool
	inflight    sync.WaitGroup
	closeLog    sync.Once
	closeLogErr error
}

// Option configures a Manager.
type Option func(*Manager)

// WithSecondary sets the best-effort replica.
func WithSecondary(s Secondary) Option {
	return func(m *Manager) {
		m.secondary = s
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics sets the metric instruments. The default records nothing.
func WithMetrics(mt *telemetry.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithTracer sets the tracer used for one span per transaction.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithClock overrides the wall clock used for durations and log stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator overrides transaction ID generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) {
		m.ids = g
	}
}

// WithHandler replaces the built-in handler for kind.
func WithHandler(kind entity.Kind, h Handler) Option {
	return func(m *Manager) {
		if m.overrides == nil {
			m.overrides = make(map[entity.Kind]Handler)
		}
		m.overrides[kind] = h
	}
}

// New creates a Manager. It fails if any entity kind has no handler.
func New(primary Primary, log Log, opts ...Option) (*Manager, error) {
	if primary == nil {
		return nil, errors.New("txn: primary store is required")
	}
	if log == nil {
		return nil, errors.New("txn: transaction log is required")
	}

	schemas, err := entity.DefaultSchemas()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		primary: primary,
		log:     log,
		schemas: schemas,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: telemetry.NoopMetrics(),
		tracer:  nooptrace.NewTracerProvider().Tracer(""),
		now:     time.Now,
		ids:     UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.handlers = make(map[entity.Kind]Handler, len(entity.Kinds()))
	for _, kind := range entity.Kinds() {
		if h, ok := m.overrides[kind]; ok {
			m.handlers[kind] = h
			continue
		}
		h, err := handlerFor(kind, m.primary, m.secondary, m.logger)
		if err != nil {
			return nil, err
		}
		m.handlers[kind] = h
	}

	m.validator = reconcile.NewValidator(m.primary, m.secondary).WithClock(m.now)
	return m, nil
}

func (m *Manager) secondaryEnabled() bool {
	return m.secondary != nil && m.secondary.Enabled()
}

// Run executes fn inside a new transaction.
//
// If fn returns nil and every Save succeeded, the transaction commits. If
// fn returns an error, every applied operation is compensated and that same
// error is returned unchanged. If fn returns nil after a Save failed, the
// primary write error is returned. A panic in fn is re-raised after the
// rollback completes and the log entry is written.
//
// Starting a transaction does no I/O.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.inflight.Done()

	tx := &Transaction{
		m:       m,
		id:      m.ids.Generate(),
		state:   StatePending,
		started: m.now(),
	}

	ctx, span := m.tracer.Start(ctx, "crosstx.transaction",
		trace.WithAttributes(attribute.String("crosstx.txn_id", tx.id)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			tx.resolve(ctx, fmt.Errorf("panic: %v", r))
			m.finish(ctx, tx, span)
			panic(r)
		}
	}()

	callerErr := fn(ctx, tx)
	tx.resolve(ctx, callerErr)
	m.finish(ctx, tx, span)

	if callerErr != nil {
		return callerErr
	}
	return tx.Err()
}

func (m *Manager) enter() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	m.inflight.Add(1)
	return nil
}

// finish records the outcome of a resolved transaction.
func (m *Manager) finish(ctx context.Context, tx *Transaction, span trace.Span) {
	entry := tx.logEntry()
	elapsed := entry.Duration

	m.metrics.TransactionFinished(ctx, entry.State, elapsed)
	span.SetAttributes(
		attribute.String("crosstx.state", entry.State),
		attribute.Int("crosstx.operations", entry.OperationCount),
	)

	if entry.State == txlog.StateFailed {
		span.SetStatus(codes.Error, entry.Error)
		m.logger.Info("transaction failed",
			"txn_id", tx.id, "operations", entry.OperationCount, "error_code", entry.ErrorCode,
			"compensation_failures", entry.CompensationFailures, "duration", elapsed)
	} else {
		m.logger.Debug("transaction committed",
			"txn_id", tx.id, "operations", entry.OperationCount,
			"secondary_failures", entry.SecondaryFailures, "duration", elapsed)
	}

	if err := m.log.Append(context.WithoutCancel(ctx), entry); err != nil {
		m.metrics.LogWriteFailed(ctx)
		m.logger.Warn("transaction log write failed",
			"txn_id", tx.id, "state", entry.State,
			"error", &Error{Code: ErrCodeLogWrite, Message: "append failed", TxnID: tx.id, Err: err})
	}
}

// logEntry builds the audit entry of a resolved transaction.
func (t *Transaction) logEntry() txlog.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := txlog.Entry{
		TxnID:                t.id,
		State:                string(t.state),
		OperationCount:       len(t.ops),
		Duration:             t.ended.Sub(t.started),
		RecordedAt:           t.ended,
		SecondaryFailures:    t.secFails,
		CompensationFailures: t.cmpFails,
		Operations:           make([]txlog.OperationRecord, len(t.ops)),
	}
	for i, op := range t.ops {
		e.Operations[i] = op.auditRecord()
	}

	switch {
	case t.err != nil:
		e.Error = t.err.Error()
		e.ErrorCode = string(t.err.Code)
	case t.cause != nil:
		// A validation error handed back by the callback keeps its code.
		code := CodeOf(t.cause)
		if code == "" {
			code = ErrCodeAborted
		}
		e.Error = t.cause.Error()
		e.ErrorCode = string(code)
	}
	return e
}

// History returns up to limit log entries, most recent first.
// A non-positive limit means the default of 50.
func (m *Manager) History(ctx context.Context, limit int) ([]txlog.Entry, error) {
	if limit <= 0 {
		limit = txlog.DefaultLimit
	}
	return m.log.Recent(ctx, limit)
}

// ValidateConsistency compares per-kind record counts between the stores.
// It never modifies either store.
func (m *Manager) ValidateConsistency(ctx context.Context) (*reconcile.Report, error) {
	report, err := m.validator.Validate(ctx)
	if err != nil {
		return nil, err
	}
	m.metrics.Consistency(ctx, report.TotalInconsistencies, report.Deltas())
	if report.TotalInconsistencies > 0 {
		m.logger.Warn("stores are inconsistent", "inconsistencies", report.TotalInconsistencies)
	}
	return report, nil
}

// Redrive re-runs the compensations recorded as failed for a failed
// transaction, newest first, and returns how many now succeeded. The log
// entry itself is never modified.
func (m *Manager) Redrive(ctx context.Context, txnID string) (int, error) {
	entry, err := m.log.Get(ctx, txnID)
	if err != nil {
		return 0, err
	}
	if entry.State != txlog.StateFailed {
		return 0, fmt.Errorf("redrive %s: transaction is %s, not failed", txnID, entry.State)
	}

	pending := entry.FailedCompensations()
	ioCtx := context.WithoutCancel(ctx)
	var (
		succeeded int
		errs      []error
	)
	for i := len(pending) - 1; i >= 0; i-- {
		op := operationFromAudit(pending[i])
		h, ok := m.handlers[op.Kind]
		if !ok {
			errs = append(errs, fmt.Errorf("redrive %s: no handler for kind %q", txnID, op.Kind))
			continue
		}
		err := h.Compensate(ioCtx, op)
		m.metrics.Compensation(ioCtx, string(op.Kind), err == nil)
		if err != nil {
			errs = append(errs, newOpError(ErrCodeCompensation, "redriven compensation failed", txnID, op, err))
			continue
		}
		succeeded++
		m.logger.Info("compensation redriven", "txn_id", txnID, "kind", op.Kind, "entity_id", op.EntityID)
	}
	return succeeded, errors.Join(errs...)
}

// Close stops accepting transactions, waits for those in flight, and
// flushes and closes the transaction log. If ctx expires first the log is
// left open and a later Close may finish the job.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("close: waiting for in-flight transactions: %w", ctx.Err())
	}

	m.closeLog.Do(func() {
		m.closeLogErr = m.log.Close()
	})
	if m.closeLogErr != nil {
		return fmt.Errorf("close transaction log: %w", m.closeLogErr)
	}
	return nil
}
