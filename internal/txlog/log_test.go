package txlog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "log.db"), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func committed(id string, ops int) Entry {
	return Entry{TxnID: id, State: StateCommitted, OperationCount: ops, Duration: 3 * time.Millisecond}
}

func TestAppendAndGet_RoundTripsOperations(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	e := Entry{
		TxnID:                "txn-b",
		State:                StateFailed,
		OperationCount:       2,
		Duration:             42 * time.Microsecond,
		RecordedAt:           fixedNow.Add(time.Second),
		Error:                "primary write failed",
		ErrorCode:            "PRIMARY_WRITE",
		CompensationFailures: 1,
		Operations: []OperationRecord{
			{Seq: 1, Kind: entity.UsageRecord, EntityID: "u-1", Digest: "d1", Primary: PrimaryApplied, Secondary: "skipped", Compensated: true},
			{Seq: 2, Kind: entity.UserStats, EntityID: "alice", Digest: "d2", Primary: PrimaryFailed, Secondary: "skipped",
				CompensationError: "disk full", HadPreImage: true,
				PreImage: record.Object{"id": record.String("alice"), "total_tokens": record.Int(10)}},
		},
	}
	require.NoError(t, l.Append(ctx, e))

	got, err := l.Get(ctx, "txn-b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Seq)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 42*time.Microsecond, got.Duration)
	assert.True(t, got.RecordedAt.Equal(fixedNow.Add(time.Second)))
	assert.Equal(t, "PRIMARY_WRITE", got.ErrorCode)
	assert.Equal(t, e.Operations, got.Operations)

	failed := got.FailedCompensations()
	require.Len(t, failed, 1)
	assert.Equal(t, "alice", failed[0].EntityID)
}

func TestAppend_DefaultsRecordedAtFromClock(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.Append(context.Background(), committed("txn-a", 1)))

	got, err := l.Get(context.Background(), "txn-a")
	require.NoError(t, err)
	assert.True(t, got.RecordedAt.Equal(fixedNow))
	assert.NotNil(t, got.Operations)
	assert.Empty(t, got.Operations)
}

func TestAppend_RejectsNonTerminalState(t *testing.T) {
	l := openTestLog(t)

	err := l.Append(context.Background(), Entry{TxnID: "txn-x", State: "pending"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not terminal")

	err = l.Append(context.Background(), Entry{State: StateCommitted})
	require.Error(t, err)
}

func TestAppend_DuplicateIDRejected(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, committed("txn-a", 1)))
	require.Error(t, l.Append(ctx, committed("txn-a", 1)))
}

func TestLog_IsAppendOnly(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.Append(context.Background(), committed("txn-a", 1)))

	_, err := l.db.Exec(`UPDATE txn_log SET state = 'failed' WHERE txn_id = 'txn-a'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = l.db.Exec(`DELETE FROM txn_log`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")
}

func TestRecent_MostRecentFirstAndLimited(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, l.Append(ctx, committed(fmt.Sprintf("txn-%d", i), i)))
	}

	entries, err := l.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "txn-5", entries[0].TxnID)
	assert.Equal(t, "txn-4", entries[1].TxnID)
	assert.Equal(t, "txn-3", entries[2].TxnID)

	all, err := l.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestRecent_Empty(t *testing.T) {
	l := openTestLog(t)

	entries, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestGet_NotFound(t *testing.T) {
	l := openTestLog(t)

	_, err := l.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppend_ConcurrentWritersAllLand(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.Append(ctx, committed(fmt.Sprintf("txn-%02d", i), 1)))
		}(i)
	}
	wg.Wait()

	entries, err := l.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestClose_PersistsAndRejectsFurtherUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	ctx := context.Background()

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, committed("txn-a", 1)))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Append(ctx, committed("txn-b", 1)), ErrClosed)
	_, err = l.Recent(ctx, 1)
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "txn-a")
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, got.State)
}
