package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
)

// Upsert creates or replaces the record (kind, id).
// The payload is stored as canonical JSON alongside its digest.
func (s *Store) Upsert(ctx context.Context, kind entity.Kind, id string, obj record.Object) error {
	payload, err := record.Marshal(obj)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", kind, id, err)
	}
	digest, err := record.Digest(obj)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", kind, id, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (kind, id, payload, digest, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			digest = excluded.digest,
			updated_at = excluded.updated_at
	`,
		string(kind),
		id,
		string(payload),
		digest,
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", kind, id, err)
	}
	return nil
}

// Delete removes the record (kind, id). Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, kind entity.Kind, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM records WHERE kind = ? AND id = ?
	`, string(kind), id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", kind, id, err)
	}
	return nil
}
