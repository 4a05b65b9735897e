package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
)

// Row is a stored record with its metadata.
type Row struct {
	Kind      entity.Kind
	ID        string
	Payload   record.Object
	Digest    string
	UpdatedAt time.Time
}

// Get returns the record (kind, id). found is false when no such record exists.
func (s *Store) Get(ctx context.Context, kind entity.Kind, id string) (obj record.Object, found bool, err error) {
	var payload string
	err = s.db.QueryRowContext(ctx, `
		SELECT payload FROM records WHERE kind = ? AND id = ?
	`, string(kind), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}

	obj, err = record.Unmarshal([]byte(payload))
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}
	return obj, true, nil
}

// Count returns the number of records of kind.
func (s *Store) Count(ctx context.Context, kind entity.Kind) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records WHERE kind = ?
	`, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

// List returns up to limit records of kind ordered by id (binary collation).
// Returns an empty slice (not nil) when there are none.
func (s *Store) List(ctx context.Context, kind entity.Kind, limit int) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, id, payload, digest, updated_at
		FROM records
		WHERE kind = ?
		ORDER BY id COLLATE BINARY ASC
		LIMIT ?
	`, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var (
			r         Row
			k         string
			payload   string
			updatedAt string
		)
		if err := rows.Scan(&k, &r.ID, &payload, &r.Digest, &updatedAt); err != nil {
			return nil, fmt.Errorf("list %s: scan: %w", kind, err)
		}
		r.Kind = entity.Kind(k)
		if r.Payload, err = record.Unmarshal([]byte(payload)); err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", kind, r.ID, err)
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			r.UpdatedAt = t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: iterate: %w", kind, err)
	}
	return out, nil
}
