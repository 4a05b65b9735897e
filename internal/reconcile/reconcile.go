// Package reconcile compares the primary and secondary stores.
//
// Validation is count-based and read-only: it reports how far the replica
// has drifted per entity kind but never repairs it.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/crosstx/internal/entity"
)

// Counter counts records of a kind.
type Counter interface {
	Count(ctx context.Context, kind entity.Kind) (int64, error)
}

// Replica is a Counter that may be switched off.
type Replica interface {
	Counter
	Enabled() bool
}

// KindCount is the comparison for one kind. Delta is primary minus secondary.
type KindCount struct {
	Kind      entity.Kind `json:"kind"`
	Primary   int64       `json:"primary"`
	Secondary int64       `json:"secondary"`
	Delta     int64       `json:"delta"`
}

// Report is the result of one validation run.
type Report struct {
	SecondaryEnabled     bool        `json:"secondary_enabled"`
	Kinds                []KindCount `json:"kinds"`
	TotalInconsistencies int64       `json:"total_inconsistencies"`
	ValidatedAt          time.Time   `json:"validated_at"`
}

// Consistent reports whether no kind differs between the stores.
func (r *Report) Consistent() bool {
	return r.TotalInconsistencies == 0
}

// Deltas returns the per-kind deltas keyed by kind name.
func (r *Report) Deltas() map[string]int64 {
	out := make(map[string]int64, len(r.Kinds))
	for _, kc := range r.Kinds {
		out[string(kc.Kind)] = kc.Delta
	}
	return out
}

// Validator compares record counts between a primary and a replica.
type Validator struct {
	primary   Counter
	secondary Replica
	now       func() time.Time
}

// NewValidator creates a Validator. secondary may be nil.
func NewValidator(primary Counter, secondary Replica) *Validator {
	return &Validator{primary: primary, secondary: secondary, now: time.Now}
}

// WithClock returns v with its timestamp source replaced.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate counts every kind in both stores. When the secondary is absent
// or disabled it returns a report with zero inconsistencies and touches
// neither store.
func (v *Validator) Validate(ctx context.Context) (*Report, error) {
	report := &Report{Kinds: []KindCount{}, ValidatedAt: v.now()}
	if v.secondary == nil || !v.secondary.Enabled() {
		return report, nil
	}
	report.SecondaryEnabled = true

	for _, kind := range entity.Kinds() {
		p, err := v.primary.Count(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("count primary %s: %w", kind, err)
		}
		s, err := v.secondary.Count(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("count secondary %s: %w", kind, err)
		}

		kc := KindCount{Kind: kind, Primary: p, Secondary: s, Delta: p - s}
		report.Kinds = append(report.Kinds, kc)
		report.TotalInconsistencies += abs(kc.Delta)
	}
	return report, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
