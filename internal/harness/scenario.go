package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/crosstx/internal/entity"
	"github.com/roach88/crosstx/internal/txn"
)

// Scenario defines a transaction scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Secondary enables the secondary store at start.
	Secondary bool `yaml:"secondary"`

	// Transactions run in order, each in its own Manager.Run.
	Transactions []TransactionStep `yaml:"transactions"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// TransactionStep is one transaction.
type TransactionStep struct {
	// Name labels the transaction in assertions and snapshots.
	Name string `yaml:"name"`

	// Steps run in order until one fails.
	Steps []Step `yaml:"steps"`

	// CallerError, when set, is returned by the callback after the steps,
	// rolling the transaction back.
	CallerError string `yaml:"caller_error,omitempty"`

	// Expect optionally checks the outcome of this transaction.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step is either a save or a secondary toggle.
type Step struct {
	// Save is the entity kind to save.
	Save string `yaml:"save,omitempty"`

	// Record is the payload for Save.
	Record map[string]any `yaml:"record,omitempty"`

	// Fail injects a one-shot failure into this save's write on the named
	// store: "primary" or "secondary".
	Fail string `yaml:"fail,omitempty"`

	// SetSecondary switches the secondary store on or off.
	SetSecondary *bool `yaml:"set_secondary,omitempty"`
}

// Expect is the expected outcome of a transaction.
type Expect struct {
	State     string `yaml:"state"`
	ErrorCode string `yaml:"error_code,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind is the entity kind (primary_count, secondary_count, field_equals).
	Kind string `yaml:"kind,omitempty"`

	// ID is the entity ID (field_equals).
	ID string `yaml:"id,omitempty"`

	// Field and Value are the expected field (field_equals).
	Field string `yaml:"field,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Count is the expected count (primary_count, secondary_count, inconsistencies).
	Count *int64 `yaml:"count,omitempty"`

	// Transaction and State check a transaction's final state (transaction_state).
	Transaction string `yaml:"transaction,omitempty"`
	State       string `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertPrimaryCount     = "primary_count"
	AssertSecondaryCount   = "secondary_count"
	AssertFieldEquals      = "field_equals"
	AssertTransactionState = "transaction_state"
	AssertInconsistencies  = "inconsistencies"
)

// Fault targets.
const (
	FailPrimary   = "primary"
	FailSecondary = "secondary"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Transactions) == 0 {
		return fmt.Errorf("transactions list is required and must be non-empty")
	}

	names := make(map[string]bool, len(s.Transactions))
	for i, tx := range s.Transactions {
		if tx.Name == "" {
			return fmt.Errorf("transactions[%d]: name is required", i)
		}
		if names[tx.Name] {
			return fmt.Errorf("transactions[%d]: duplicate name %q", i, tx.Name)
		}
		names[tx.Name] = true

		for j, step := range tx.Steps {
			if err := validateStep(step); err != nil {
				return fmt.Errorf("transactions[%d].steps[%d]: %w", i, j, err)
			}
		}
		if tx.Expect != nil {
			if err := validateState(tx.Expect.State); err != nil {
				return fmt.Errorf("transactions[%d].expect: %w", i, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, names); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch {
	case step.SetSecondary != nil && step.Save != "":
		return fmt.Errorf("a step is either save or set_secondary, not both")
	case step.SetSecondary != nil:
		return nil
	case step.Save == "":
		return fmt.Errorf("save or set_secondary is required")
	}

	if _, err := entity.Parse(step.Save); err != nil {
		return err
	}
	if step.Record == nil {
		return fmt.Errorf("record is required for save")
	}
	switch step.Fail {
	case "", FailPrimary, FailSecondary:
	default:
		return fmt.Errorf("fail must be %q or %q, got %q", FailPrimary, FailSecondary, step.Fail)
	}
	return nil
}

func validateState(s string) error {
	switch txn.State(s) {
	case txn.StateCommitted, txn.StateFailed:
		return nil
	default:
		return fmt.Errorf("state must be committed or failed, got %q", s)
	}
}

func validateAssertion(a Assertion, txNames map[string]bool) error {
	switch a.Type {
	case AssertPrimaryCount, AssertSecondaryCount:
		if _, err := entity.Parse(a.Kind); err != nil {
			return err
		}
		if a.Count == nil {
			return fmt.Errorf("count is required for %s", a.Type)
		}
	case AssertFieldEquals:
		if _, err := entity.Parse(a.Kind); err != nil {
			return err
		}
		if a.ID == "" || a.Field == "" {
			return fmt.Errorf("id and field are required for field_equals")
		}
	case AssertTransactionState:
		if !txNames[a.Transaction] {
			return fmt.Errorf("unknown transaction %q", a.Transaction)
		}
		return validateState(a.State)
	case AssertInconsistencies:
		if a.Count == nil {
			return fmt.Errorf("count is required for inconsistencies")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
