package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
)

func TestUpsert_InsertsThenReplaces(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, entity.UsageRecord, "u-1", usageRecord("u-1", "alice", 150)))
	require.NoError(t, s.Upsert(ctx, entity.UsageRecord, "u-1", usageRecord("u-1", "alice", 200)))

	n, err := s.Count(ctx, entity.UsageRecord)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "upsert must not duplicate rows")

	got, found, err := s.Get(ctx, entity.UsageRecord, "u-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record.Int(200), got["tokens"])
}

func TestUpsert_StoresCanonicalPayloadAndDigest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	obj := usageRecord("u-1", "alice", 150)

	require.NoError(t, s.Upsert(ctx, entity.UsageRecord, "u-1", obj))

	var payload, digest, updatedAt string
	err := s.db.QueryRow(`SELECT payload, digest, updated_at FROM records WHERE kind = ? AND id = ?`,
		"usage_record", "u-1").Scan(&payload, &digest, &updatedAt)
	require.NoError(t, err)

	assert.Equal(t, `{"id":"u-1","tokens":150,"user_id":"alice"}`, payload)
	assert.Equal(t, record.MustDigest(obj), digest)
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), updatedAt)
}

func TestUpsert_SameIDDifferentKindsAreDistinct(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, entity.UsageRecord, "alice", usageRecord("alice", "alice", 1)))
	require.NoError(t, s.Upsert(ctx, entity.UserStats, "alice", record.Object{
		"id": record.String("alice"), "user_id": record.String("alice"), "total_tokens": record.Int(1),
	}))

	for _, k := range []entity.Kind{entity.UsageRecord, entity.UserStats} {
		n, err := s.Count(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, k)
	}
}

func TestUpsert_RejectsNonCanonicalValue(t *testing.T) {
	s := createTestStore(t)
	err := s.Upsert(context.Background(), entity.UsageRecord, "u-1", record.Object{"id": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert usage_record/u-1")
}

func TestDelete_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, entity.UsageRecord, "u-1", usageRecord("u-1", "alice", 1)))
	require.NoError(t, s.Delete(ctx, entity.UsageRecord, "u-1"))
	require.NoError(t, s.Delete(ctx, entity.UsageRecord, "u-1"))

	_, found, err := s.Get(ctx, entity.UsageRecord, "u-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWrite_CancelledContext(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Upsert(ctx, entity.UsageRecord, "u-1", usageRecord("u-1", "alice", 1))
	require.Error(t, err)
}
