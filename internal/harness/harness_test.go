package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crosstx/internal/entity"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_RollbackRestoresStats(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/usage_rollback.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	b, ok := result.Outcome("B")
	require.True(t, ok)
	assert.Equal(t, "failed", b.State)
	assert.Equal(t, "PRIMARY_WRITE", b.ErrorCode)
	assert.Equal(t, "txn-2", b.ID)

	assert.Equal(t, int64(1), result.PrimaryCounts[entity.UsageRecord])
	assert.Equal(t, int64(1), result.PrimaryCounts[entity.UserStats])
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong
description: expectations that do not hold
transactions:
  - name: A
    steps:
      - save: usage_record
        record: {id: u-1, user_id: alice, tokens: 5}
    expect:
      state: failed
assertions:
  - type: primary_count
    kind: usage_record
    count: 2
  - type: field_equals
    kind: usage_record
    id: u-1
    field: tokens
    value: 6
  - type: field_equals
    kind: usage_record
    id: missing
    field: tokens
    value: 6
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "expected state failed, got committed")
	assert.Contains(t, result.Errors[1], "expected 2 usage_record records")
	assert.Contains(t, result.Errors[2], "u-1.tokens = 6")
	assert.Contains(t, result.Errors[3], "not found")
}

func TestRun_CallerErrorAborts(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: abort
description: the callback gives up after saving
secondary: true
transactions:
  - name: A
    steps:
      - save: conversation
        record: {id: c-1, user_id: alice, title: hi}
    caller_error: user cancelled
    expect:
      state: failed
      error_code: ABORTED
assertions:
  - type: primary_count
    kind: conversation
    count: 0
  - type: secondary_count
    kind: conversation
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SecondaryToggle(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: toggle
description: writes made while the replica is off are not replicated
secondary: true
transactions:
  - name: A
    steps:
      - set_secondary: false
      - save: usage_record
        record: {id: u-1, user_id: alice, tokens: 1}
      - set_secondary: true
      - save: usage_record
        record: {id: u-2, user_id: alice, tokens: 2}
assertions:
  - type: primary_count
    kind: usage_record
    count: 2
  - type: secondary_count
    kind: usage_record
    count: 1
  - type: inconsistencies
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ValidationFailure(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: invalid
description: a record missing its user is rejected before any write
transactions:
  - name: A
    steps:
      - save: usage_record
        record: {id: u-1, tokens: 1}
    expect:
      state: failed
      error_code: VALIDATION
assertions:
  - type: primary_count
    kind: usage_record
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
