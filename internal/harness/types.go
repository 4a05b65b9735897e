package harness

import (
	"github.com/roach88/crosstx/internal/entity"
)

// TransactionOutcome is how one scenario transaction ended, as recorded in
// the transaction log.
type TransactionOutcome struct {
	Name              string `json:"name"`
	ID                string `json:"id"`
	State             string `json:"state"`
	ErrorCode         string `json:"error_code"`
	Operations        int    `json:"operations"`
	SecondaryFailures int    `json:"secondary_failures"`
}

// Result holds the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Transactions are in scenario order.
	Transactions []TransactionOutcome `json:"transactions"`

	// PrimaryCounts is the final record count per kind in the primary store.
	PrimaryCounts map[entity.Kind]int64 `json:"primary_counts"`

	// Errors lists every failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates an empty, passing result.
func NewResult() *Result {
	return &Result{
		Pass:          true,
		Transactions:  []TransactionOutcome{},
		PrimaryCounts: make(map[entity.Kind]int64),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Outcome returns the outcome of the named transaction.
func (r *Result) Outcome(name string) (TransactionOutcome, bool) {
	for _, o := range r.Transactions {
		if o.Name == name {
			return o, true
		}
	}
	return TransactionOutcome{}, false
}
