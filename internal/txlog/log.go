// Package txlog persists one audit entry per finished transaction.
//
// The log is its own SQLite database so it can be checkpointed and closed
// independently of the primary store. Entries are append-only: the schema
// carries triggers that abort any UPDATE or DELETE on txn_log.
package txlog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/crosstx/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// DefaultLimit is used by Recent when the caller passes a non-positive limit.
const DefaultLimit = 50

var (
	// ErrNotFound is returned by Get when no entry has the requested ID.
	ErrNotFound = errors.New("transaction not found in log")
	// ErrClosed is returned by any call made after Close.
	ErrClosed = errors.New("transaction log is closed")
)

// Log is the append-only transaction log.
type Log struct {
	mu  sync.Mutex // serializes Append and Close
	db  *sql.DB
	now func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the clock used when an entry has no RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// Open creates or opens the log database at path.
func Open(path string, opts ...Option) (*Log, error) {
	db, err := store.OpenDB(path, "NORMAL")
	if err != nil {
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply log schema: %w", err)
	}

	l := &Log{db: db, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("log schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Append records e as a single row. The insert is atomic: either the whole
// entry is visible afterwards or none of it is.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if e.TxnID == "" {
		return errors.New("append: empty transaction ID")
	}
	if e.State != StateCommitted && e.State != StateFailed {
		return fmt.Errorf("append %s: state %q is not terminal", e.TxnID, e.State)
	}

	ops := e.Operations
	if ops == nil {
		ops = []OperationRecord{}
	}
	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("append %s: marshal operations: %w", e.TxnID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return ErrClosed
	}

	recordedAt := e.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = l.now()
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO txn_log (
			txn_id, state, operation_count, duration_ns, recorded_at,
			error, error_code, secondary_failures, compensation_failures, operations
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TxnID, e.State, e.OperationCount, int64(e.Duration), recordedAt.UTC().Format(time.RFC3339Nano),
		e.Error, e.ErrorCode, e.SecondaryFailures, e.CompensationFailures, string(opsJSON))
	if err != nil {
		return fmt.Errorf("append %s: %w", e.TxnID, err)
	}
	return nil
}

// Close checkpoints the WAL into the main database file and closes it.
// Calling Close more than once is safe.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}

	_, ckErr := l.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := l.db.Close()
	l.db = nil
	if ckErr != nil {
		return errors.Join(fmt.Errorf("checkpoint: %w", ckErr), err)
	}
	return err
}

func (l *Log) handle() (*sql.DB, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil, ErrClosed
	}
	return l.db, nil
}
