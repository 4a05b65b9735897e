package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crosstx/internal/entity"
)

type fakeCounts struct {
	counts  map[entity.Kind]int64
	enabled bool
	calls   int
	err     error
}

func (f *fakeCounts) Count(_ context.Context, kind entity.Kind) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[kind], nil
}

func (f *fakeCounts) Enabled() bool { return f.enabled }

var validatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestValidate_ReportsSignedDeltasAndAbsoluteTotal(t *testing.T) {
	primary := &fakeCounts{counts: map[entity.Kind]int64{entity.UsageRecord: 5, entity.UserStats: 1, entity.Conversation: 2}}
	secondary := &fakeCounts{enabled: true, counts: map[entity.Kind]int64{entity.UsageRecord: 3, entity.UserStats: 1, entity.Conversation: 4}}

	report, err := NewValidator(primary, secondary).WithClock(func() time.Time { return validatedAt }).Validate(context.Background())
	require.NoError(t, err)

	assert.True(t, report.SecondaryEnabled)
	assert.Equal(t, validatedAt, report.ValidatedAt)
	assert.Equal(t, []KindCount{
		{Kind: entity.UsageRecord, Primary: 5, Secondary: 3, Delta: 2},
		{Kind: entity.UserStats, Primary: 1, Secondary: 1, Delta: 0},
		{Kind: entity.Conversation, Primary: 2, Secondary: 4, Delta: -2},
	}, report.Kinds)
	assert.Equal(t, int64(4), report.TotalInconsistencies)
	assert.False(t, report.Consistent())
	assert.Equal(t, map[string]int64{"usage_record": 2, "user_stats": 0, "conversation": -2}, report.Deltas())
}

func TestValidate_DisabledSecondaryTouchesNothing(t *testing.T) {
	primary := &fakeCounts{counts: map[entity.Kind]int64{entity.UsageRecord: 9}}
	secondary := &fakeCounts{enabled: false}

	report, err := NewValidator(primary, secondary).Validate(context.Background())
	require.NoError(t, err)

	assert.False(t, report.SecondaryEnabled)
	assert.True(t, report.Consistent())
	assert.Empty(t, report.Kinds)
	assert.Zero(t, primary.calls)
	assert.Zero(t, secondary.calls)
}

func TestValidate_NilSecondary(t *testing.T) {
	report, err := NewValidator(&fakeCounts{}, nil).Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.TotalInconsistencies)
}

func TestValidate_CountErrors(t *testing.T) {
	boom := errors.New("boom")

	_, err := NewValidator(&fakeCounts{err: boom}, &fakeCounts{enabled: true}).Validate(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "count primary usage_record")

	_, err = NewValidator(&fakeCounts{}, &fakeCounts{enabled: true, err: boom}).Validate(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "count secondary")
}
