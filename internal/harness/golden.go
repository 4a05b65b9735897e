package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/crosstx/internal/record"
)

// Snapshot renders the deterministic part of a result as canonical JSON.
// Transaction IDs are left out so snapshots survive ID scheme changes.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	counts := make(map[string]any, len(result.PrimaryCounts))
	for kind, n := range result.PrimaryCounts {
		counts[string(kind)] = n
	}

	txs := make([]any, len(result.Transactions))
	for i, o := range result.Transactions {
		txs[i] = map[string]any{
			"name":       o.Name,
			"state":      o.State,
			"error_code": o.ErrorCode,
			"operations": o.Operations,
		}
	}

	obj, err := record.ObjectFromGo(map[string]any{
		"scenario":       scenarioName,
		"primary_counts": counts,
		"transactions":   txs,
	})
	if err != nil {
		return nil, err
	}
	return record.Marshal(obj)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}

	snapshot, err := Snapshot(scenario.Name, result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, snapshot)

	return result, nil
}
