package harness

import (
	"context"
	"fmt"
	"reflect"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/record"
)

// AssertionContext provides what assertions need to inspect final state.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
	Result  *Result
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("Assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertPrimaryCount:
		return assertCount(a, func(k entity.Kind) (int64, error) {
			return actx.Harness.primary.Count(actx.Ctx, k)
		})
	case AssertSecondaryCount:
		return assertCount(a, func(k entity.Kind) (int64, error) {
			return actx.Harness.secondary.Count(actx.Ctx, k)
		})
	case AssertFieldEquals:
		return assertFieldEquals(a, actx)
	case AssertTransactionState:
		return assertTransactionState(a, actx.Result)
	case AssertInconsistencies:
		report, err := actx.Harness.manager.ValidateConsistency(actx.Ctx)
		if err != nil {
			return err
		}
		if report.TotalInconsistencies != *a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d", *a.Count),
				Actual:   fmt.Sprintf("%d", report.TotalInconsistencies),
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertCount(a Assertion, count func(entity.Kind) (int64, error)) error {
	kind := entity.Kind(a.Kind)
	n, err := count(kind)
	if err != nil {
		return err
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s records", *a.Count, kind),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func assertFieldEquals(a Assertion, actx *AssertionContext) error {
	kind := entity.Kind(a.Kind)
	obj, found, err := actx.Harness.primary.Get(actx.Ctx, kind, a.ID)
	if err != nil {
		return err
	}
	if !found {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s/%s to exist", kind, a.ID),
			Actual:   "not found",
		}
	}

	want, err := record.FromGo(a.Value)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	got, ok := obj[a.Field]
	if !ok || !reflect.DeepEqual(got, want) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s/%s.%s = %v", kind, a.ID, a.Field, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertTransactionState(a Assertion, result *Result) error {
	o, ok := result.Outcome(a.Transaction)
	if !ok {
		return fmt.Errorf("transaction %q did not run", a.Transaction)
	}
	if o.State != a.State {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s to be %s", a.Transaction, a.State),
			Actual:   o.State,
		}
	}
	return nil
}
