package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/patientdb/internal/patient"
)

// Scenario defines a multi-replica synchronization scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Replicas lists replica names. Each becomes one replica with its
	// own registry, broadcaster and view.
	Replicas []string `yaml:"replicas"`

	// SharedStore makes every replica use one database instead of one
	// database each.
	SharedStore bool `yaml:"shared_store,omitempty"`

	// Steps are gateway operations, executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace, views and stores.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one gateway operation on one replica. Exactly one of Insert,
// Update, Delete and Query is set.
type Step struct {
	// Replica names the replica whose gateway runs the operation.
	Replica string `yaml:"replica"`

	Insert *patient.Input `yaml:"insert,omitempty"`
	Update *UpdateStep    `yaml:"update,omitempty"`
	Delete string         `yaml:"delete,omitempty"`
	Query  *QueryStep     `yaml:"query,omitempty"`

	// As labels the id generated by an insert for later $label references.
	As string `yaml:"as,omitempty"`

	// Expect describes the expected outcome. Nil means success.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// UpdateStep is the payload of an update step.
type UpdateStep struct {
	ID  string          `yaml:"id"`
	Set patient.Partial `yaml:"set"`
}

// QueryStep is the payload of a query step.
type QueryStep struct {
	SQL    string `yaml:"sql"`
	Params []any  `yaml:"params,omitempty"`
}

// StepExpect specifies the expected outcome of a step.
type StepExpect struct {
	// Error is the expected error code (VALIDATION, NOT_FOUND, STORAGE).
	// Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Rows is the expected row count of a query step.
	Rows *int `yaml:"rows,omitempty"`
}

// Assertion validates the trace, a view or a store.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event of Event (and ID, and Data subset) was observed
	// - "trace_order": Events were observed in this order
	// - "trace_count": exactly Count events of Event were observed
	// - "view": Replica's projection holds record ID matching Expect, or lacks it when Absent
	// - "view_count": Replica's projection holds exactly Count records
	// - "final_state": Replica's Table has exactly one row matching Where, with Expect values
	Type string `yaml:"type"`

	// Replica restricts the assertion to one replica. Required for view,
	// view_count and final_state; optional for trace assertions.
	Replica string `yaml:"replica,omitempty"`

	// Event is the event kind (trace_contains, trace_count).
	Event patient.Kind `yaml:"event,omitempty"`

	// Events is the expected kind order (trace_order).
	Events []patient.Kind `yaml:"events,omitempty"`

	// ID is a patient id or $label (trace_contains, view).
	ID string `yaml:"id,omitempty"`

	// Table is the table queried by final_state. Defaults to patients.
	Table string `yaml:"table,omitempty"`

	// Where specifies column filters (final_state). $label values resolve.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values. Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts the record is missing (view).
	Absent bool `yaml:"absent,omitempty"`

	// Count is the expected number (trace_count, view_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertView          = "view"
	AssertViewCount     = "view_count"
	AssertFinalState    = "final_state"
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
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks required fields and cross-references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("at least one replica is required")
	}

	replicas := make(map[string]bool, len(s.Replicas))
	for i, name := range s.Replicas {
		if name == "" {
			return fmt.Errorf("replicas[%d]: name is required", i)
		}
		if strings.HasPrefix(name, "$") {
			return fmt.Errorf("replicas[%d]: name %q must not start with $", i, name)
		}
		if replicas[name] {
			return fmt.Errorf("replicas[%d]: duplicate replica %q", i, name)
		}
		replicas[name] = true
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	labels := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, replicas, labels); err != nil {
			return err
		}
		if step.As != "" {
			labels[step.As] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, replicas); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step Step, replicas, labels map[string]bool) error {
	if !replicas[step.Replica] {
		return fmt.Errorf("steps[%d]: unknown replica %q", index, step.Replica)
	}

	ops := 0
	if step.Insert != nil {
		ops++
	}
	if step.Update != nil {
		ops++
	}
	if step.Delete != "" {
		ops++
	}
	if step.Query != nil {
		ops++
	}
	if ops != 1 {
		return fmt.Errorf("steps[%d]: exactly one of insert, update, delete, query is required", index)
	}

	if step.As != "" {
		if step.Insert == nil {
			return fmt.Errorf("steps[%d]: as is only valid on insert", index)
		}
		if labels[step.As] {
			return fmt.Errorf("steps[%d]: label %q already used", index, step.As)
		}
	}
	if step.Query != nil && step.Query.SQL == "" {
		return fmt.Errorf("steps[%d]: query sql is required", index)
	}
	if step.Expect != nil && step.Expect.Error != "" {
		switch patient.ErrorCode(step.Expect.Error) {
		case patient.CodeValidation, patient.CodeNotFound, patient.CodeStorage:
		default:
			return fmt.Errorf("steps[%d]: unknown error code %q", index, step.Expect.Error)
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion, replicas map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Replica != "" && !replicas[a.Replica] {
		return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
	}

	switch a.Type {
	case AssertTraceContains:
		if !a.Event.Valid() {
			return fmt.Errorf("assertions[%d]: valid event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if !a.Event.Valid() {
			return fmt.Errorf("assertions[%d]: valid event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertView:
		if a.Replica == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: replica and id are required for view", index)
		}
		if a.Absent && len(a.Expect) > 0 {
			return fmt.Errorf("assertions[%d]: absent and expect are mutually exclusive", index)
		}
	case AssertViewCount:
		if a.Replica == "" {
			return fmt.Errorf("assertions[%d]: replica is required for view_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for view_count", index)
		}
	case AssertFinalState:
		if a.Replica == "" {
			return fmt.Errorf("assertions[%d]: replica is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
