package txlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const selectColumns = `
	seq, txn_id, state, operation_count, duration_ns, recorded_at,
	error, error_code, secondary_failures, compensation_failures, operations`

// Recent returns up to limit entries, most recently appended first.
// A non-positive limit means DefaultLimit.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	db, err := l.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT`+selectColumns+` FROM txn_log ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Get returns the entry for txnID, or ErrNotFound.
func (l *Log) Get(ctx context.Context, txnID string) (Entry, error) {
	db, err := l.handle()
	if err != nil {
		return Entry{}, err
	}

	row := db.QueryRowContext(ctx, `SELECT`+selectColumns+` FROM txn_log WHERE txn_id = ?`, txnID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, txnID)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e          Entry
		durationNS int64
		recordedAt string
		opsJSON    string
	)
	err := s.Scan(&e.Seq, &e.TxnID, &e.State, &e.OperationCount, &durationNS, &recordedAt,
		&e.Error, &e.ErrorCode, &e.SecondaryFailures, &e.CompensationFailures, &opsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}

	e.Duration = time.Duration(durationNS)
	e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s: parse recorded_at: %w", e.TxnID, err)
	}
	if err := json.Unmarshal([]byte(opsJSON), &e.Operations); err != nil {
		return Entry{}, fmt.Errorf("entry %s: decode operations: %w", e.TxnID, err)
	}
	return e, nil
}
