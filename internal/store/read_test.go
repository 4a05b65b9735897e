package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crosstx/internal/entity"
)

func TestGet_Missing(t *testing.T) {
	s := createTestStore(t)

	obj, found, err := s.Get(context.Background(), entity.UserStats, "nobody")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, obj)
}

func TestCount_EmptyKind(t *testing.T) {
	s := createTestStore(t)

	n, err := s.Count(context.Background(), entity.Conversation)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestList_OrderedByIDAndLimited(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"u-3", "u-1", "u-2"} {
		require.NoError(t, s.Upsert(ctx, entity.UsageRecord, id, usageRecord(id, "alice", 1)))
	}

	rows, err := s.List(ctx, entity.UsageRecord, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "u-1", rows[0].ID)
	assert.Equal(t, "u-2", rows[1].ID)
	assert.Equal(t, entity.UsageRecord, rows[0].Kind)
	assert.Equal(t, fixedNow, rows[0].UpdatedAt)
	assert.NotEmpty(t, rows[0].Digest)
}

func TestList_EmptyReturnsNonNil(t *testing.T) {
	s := createTestStore(t)

	rows, err := s.List(context.Background(), entity.UsageRecord, 10)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestGet_CorruptPayload(t *testing.T) {
	s := createTestStore(t)
	_, err := s.db.Exec(`INSERT INTO records (kind, id, payload, digest, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"user_stats", "alice", `{"total_tokens":1.5}`, "x", "2026-03-01T12:00:00Z")
	require.NoError(t, err)

	_, _, err = s.Get(context.Background(), entity.UserStats, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("get %s/%s", entity.UserStats, "alice"))
}
