package txn

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
	"github.com/roach88/crosstx/internal/testutil"
	"github.com/roach88/crosstx/internal/txlog"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	primaryMem *testutil.MemoryStore
	primary    *testutil.FaultyStore
	secondary  *testutil.MemoryStore
	log        *txlog.Log
	clock      *testutil.FakeClock
	m          *Manager
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		primaryMem: testutil.NewMemoryStore(),
		secondary:  testutil.NewMemoryStore(),
		clock:      testutil.NewFakeClock(epoch, time.Millisecond),
	}
	f.primary = testutil.NewFaultyStore(f.primaryMem)

	log, err := txlog.Open(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	f.log = log

	base := []Option{
		WithSecondary(f.secondary),
		WithClock(f.clock.Now),
		WithIDGenerator(testutil.NewSequentialIDs("txn")),
	}
	m, err := New(f.primary, log, append(base, opts...)...)
	require.NoError(t, err)
	f.m = m
	t.Cleanup(func() { m.Close(context.Background()) })
	return f
}

func (f *fixture) count(t *testing.T, kind entity.Kind) int64 {
	t.Helper()
	n, err := f.primaryMem.Count(context.Background(), kind)
	require.NoError(t, err)
	return n
}

func (f *fixture) totalTokens(t *testing.T, user string) int64 {
	t.Helper()
	obj, found, err := f.primaryMem.Get(context.Background(), entity.UserStats, user)
	require.NoError(t, err)
	require.True(t, found, "user_stats %s missing", user)
	n, ok := obj.GetInt("total_tokens")
	require.True(t, ok)
	return n
}

func usageRecord(id string, tokens int64) record.Object {
	return record.NewObject(
		record.F{Key: "id", Value: record.String(id)},
		record.F{Key: "user_id", Value: record.String("alice")},
		record.F{Key: "tokens", Value: record.Int(tokens)},
	)
}

func userStats(user string, total int64) record.Object {
	return record.NewObject(
		record.F{Key: "id", Value: record.String(user)},
		record.F{Key: "user_id", Value: record.String(user)},
		record.F{Key: "total_tokens", Value: record.Int(total)},
	)
}

// recordingHandler writes to a MemoryStore and records the order of every
// call it receives. Saves whose entity ID is in failIDs fail on the primary;
// compensating an ID in panicIDs panics.
type recordingHandler struct {
	mu       *sync.Mutex
	calls    *[]string
	store    *testutil.MemoryStore
	failIDs  map[string]bool
	panicIDs map[string]bool
}

var errRecordingFail = errors.New("recording handler: forced failure")

func (h *recordingHandler) note(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.calls = append(*h.calls, s)
}

func (h *recordingHandler) ApplyPrimary(ctx context.Context, op *Operation) error {
	h.note("apply " + op.EntityID)
	if h.failIDs[op.EntityID] {
		return errRecordingFail
	}
	return h.store.Upsert(ctx, op.Kind, op.EntityID, op.Payload)
}

func (h *recordingHandler) ApplySecondary(context.Context, *Operation) error {
	return nil
}

func (h *recordingHandler) Compensate(ctx context.Context, op *Operation) error {
	h.note("compensate " + op.EntityID)
	if h.panicIDs[op.EntityID] {
		panic("compensate " + op.EntityID + ": store driver crashed")
	}
	return h.store.Delete(ctx, op.Kind, op.EntityID)
}

// failingLog is a Log whose Append always fails.
type failingLog struct {
	*txlog.Log
}

func (failingLog) Append(context.Context, txlog.Entry) error {
	return errors.New("disk full")
}
