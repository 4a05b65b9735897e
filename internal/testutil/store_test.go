package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
)

func TestMemoryStore_CopiesOnWriteAndRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	obj := record.Object{"id": record.String("u-1"), "tokens": record.Int(1)}

	require.NoError(t, s.Upsert(ctx, entity.UsageRecord, "u-1", obj))
	obj["tokens"] = record.Int(99)

	got, found, err := s.Get(ctx, entity.UsageRecord, "u-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record.Int(1), got["tokens"])

	got["tokens"] = record.Int(5)
	again, _, _ := s.Get(ctx, entity.UsageRecord, "u-1")
	assert.Equal(t, record.Int(1), again["tokens"])
}

func TestMemoryStore_CountDeleteAndCalls(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, entity.UsageRecord, "b", record.Object{}))
	require.NoError(t, s.Upsert(ctx, entity.UsageRecord, "a", record.Object{}))
	require.NoError(t, s.Delete(ctx, entity.UsageRecord, "b"))
	require.NoError(t, s.Delete(ctx, entity.UsageRecord, "missing"))

	n, err := s.Count(ctx, entity.UsageRecord)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"a"}, s.IDs(entity.UsageRecord))
	assert.Equal(t, []Call{
		{Op: "upsert", Kind: entity.UsageRecord, EntityID: "b"},
		{Op: "upsert", Kind: entity.UsageRecord, EntityID: "a"},
		{Op: "delete", Kind: entity.UsageRecord, EntityID: "b"},
		{Op: "delete", Kind: entity.UsageRecord, EntityID: "missing"},
	}, s.Calls())
}

func TestMemoryStore_Toggle(t *testing.T) {
	s := NewMemoryStore()
	assert.True(t, s.Enabled())
	s.SetEnabled(false)
	assert.False(t, s.Enabled())
}

func TestFaultyStore_FailsChosenCallsOnly(t *testing.T) {
	inner := NewMemoryStore()
	f := NewFaultyStore(inner).FailOn(OpUpsert, entity.UserStats, "alice", 1)
	ctx := context.Background()

	err := f.Upsert(ctx, entity.UserStats, "alice", record.Object{})
	require.ErrorIs(t, err, ErrInjected)
	assert.Contains(t, err.Error(), "upsert user_stats/alice")

	require.NoError(t, f.Upsert(ctx, entity.UserStats, "alice", record.Object{}), "fault fires once")
	require.NoError(t, f.Upsert(ctx, entity.UsageRecord, "alice", record.Object{}))
}

func TestFaultyStore_WildcardAndForever(t *testing.T) {
	f := NewFaultyStore(NewMemoryStore()).FailOn(OpDelete, entity.UsageRecord, "", -1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, f.Delete(ctx, entity.UsageRecord, "any"), ErrInjected)
	}

	f.Clear()
	assert.NoError(t, f.Delete(ctx, entity.UsageRecord, "any"))
}

func TestFaultyStore_CountAndGet(t *testing.T) {
	f := NewFaultyStore(NewMemoryStore()).
		FailOn(OpCount, entity.Conversation, "", 1).
		FailOn(OpGet, entity.UserStats, "bob", 1)
	ctx := context.Background()

	_, err := f.Count(ctx, entity.Conversation)
	assert.ErrorIs(t, err, ErrInjected)
	_, _, err = f.Get(ctx, entity.UserStats, "bob")
	assert.ErrorIs(t, err, ErrInjected)
}

func TestFaultyStore_EnabledForwards(t *testing.T) {
	inner := NewMemoryStore()
	f := NewFaultyStore(inner)
	assert.True(t, f.Enabled())
	inner.SetEnabled(false)
	assert.False(t, f.Enabled())
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("")
	assert.Equal(t, "txn-1", g.Generate())
	assert.Equal(t, "txn-2", g.Generate())
	assert.Equal(t, "s-1", NewSequentialIDs("s").Generate())
}
