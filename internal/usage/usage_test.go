package usage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
	"github.com/roach88/crosstx/internal/testutil"
	"github.com/roach88/crosstx/internal/txlog"
	"github.com/roach88/crosstx/internal/txn"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) (*Tracker, *testutil.MemoryStore, *testutil.FaultyStore) {
	t.Helper()
	mem := testutil.NewMemoryStore()
	primary := testutil.NewFaultyStore(mem)

	log, err := txlog.Open(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	m, err := txn.New(primary, log)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })

	n := 0
	tracker := NewTracker(m, primary,
		WithClock(func() time.Time { return epoch }),
		WithIDs(func() string { n++; return fmt.Sprintf("evt-%d", n) }),
	)
	return tracker, mem, primary
}

func TestRecord_AccumulatesStats(t *testing.T) {
	tracker, mem, _ := newTracker(t)
	ctx := context.Background()

	s, err := tracker.Record(ctx, Event{UserID: "alice", Tokens: 150, Model: "m-large"})
	require.NoError(t, err)
	assert.Equal(t, Stats{UserID: "alice", TotalTokens: 150, RequestCount: 1}, s)

	s, err = tracker.Record(ctx, Event{UserID: "alice", PromptTokens: 50, CompletionTokens: 25})
	require.NoError(t, err)
	assert.Equal(t, Stats{UserID: "alice", TotalTokens: 225, RequestCount: 2}, s)

	assert.Equal(t, []string{"evt-1", "evt-2"}, mem.IDs(entity.UsageRecord))

	rec, found, err := mem.Get(ctx, entity.UsageRecord, "evt-2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record.Int(75), rec["tokens"])
	assert.Equal(t, record.Int(50), rec["prompt_tokens"])
	assert.Equal(t, record.String("2026-03-01T12:00:00Z"), rec["created_at"])
}

func TestRecord_StatsFailureLeavesNoTrace(t *testing.T) {
	tracker, mem, primary := newTracker(t)
	ctx := context.Background()

	_, err := tracker.Record(ctx, Event{UserID: "alice", Tokens: 150})
	require.NoError(t, err)

	primary.FailOn(testutil.OpUpsert, entity.UserStats, "alice", 1)
	_, err = tracker.Record(ctx, Event{UserID: "alice", Tokens: 75})
	require.Error(t, err)
	assert.True(t, txn.IsPrimaryWriteError(err))

	assert.Equal(t, []string{"evt-1"}, mem.IDs(entity.UsageRecord))
	stats, _, err := mem.Get(ctx, entity.UserStats, "alice")
	require.NoError(t, err)
	assert.Equal(t, record.Int(150), stats["total_tokens"])
	assert.Equal(t, record.Int(1), stats["request_count"])
}

func TestRecord_RequiresUser(t *testing.T) {
	tracker, mem, _ := newTracker(t)

	_, err := tracker.Record(context.Background(), Event{Tokens: 1})
	require.Error(t, err)
	assert.Empty(t, mem.Calls())
}

func TestSaveConversation_WithUsage(t *testing.T) {
	tracker, mem, _ := newTracker(t)
	ctx := context.Background()

	conv := Conversation{
		ID:     "c-1",
		UserID: "bob",
		Title:  "hello",
		Messages: []Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	}
	stats, err := tracker.SaveConversation(ctx, conv, &Event{Tokens: 12})
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(12), stats.TotalTokens)

	rec, found, err := mem.Get(ctx, entity.UsageRecord, "evt-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record.String("c-1"), rec["conversation_id"])
	assert.Equal(t, record.String("bob"), rec["user_id"])

	c, found, err := mem.Get(ctx, entity.Conversation, "c-1")
	require.NoError(t, err)
	require.True(t, found)
	msgs, ok := c["messages"].(record.List)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestSaveConversation_InvalidMessageRollsBackNothingWritten(t *testing.T) {
	tracker, mem, _ := newTracker(t)

	_, err := tracker.SaveConversation(context.Background(), Conversation{
		ID: "c-1", UserID: "bob", Messages: []Message{{Role: "narrator", Content: "once upon"}},
	}, nil)
	require.Error(t, err)
	assert.True(t, txn.IsValidationError(err))
	assert.Empty(t, mem.IDs(entity.Conversation))
}

func TestSaveConversation_WithoutUsage(t *testing.T) {
	tracker, mem, _ := newTracker(t)

	stats, err := tracker.SaveConversation(context.Background(), Conversation{ID: "c-1", UserID: "bob"}, nil)
	require.NoError(t, err)
	assert.Nil(t, stats)
	assert.Equal(t, []string{"c-1"}, mem.IDs(entity.Conversation))
	assert.Empty(t, mem.IDs(entity.UsageRecord))
}
