package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/patientdb/internal/patient"
	"github.com/roach88/patientdb/internal/replica"
)

// defaultTable is queried by final_state when no table is named.
const defaultTable = "patients"

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", event.Seq, event.Replica, event.Kind, event.ID)
		}
	}

	return buf.String()
}

// AssertionContext provides the replicas and labels assertions resolve
// against.
type AssertionContext struct {
	Ctx      context.Context
	Replicas map[string]*replica.Replica
	IDs      map[string]string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion, actx)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertView, AssertViewCount, AssertFinalState:
			r, ok := lookupReplica(actx, assertion.Replica)
			if !ok {
				err = fmt.Errorf("assertion[%d]: %s requires replica %q", i, assertion.Type, assertion.Replica)
				break
			}
			switch assertion.Type {
			case AssertView:
				err = assertView(r, assertion, actx)
			case AssertViewCount:
				err = assertViewCount(r, assertion)
			default:
				err = assertFinalState(actx.Ctx, r, assertion, actx)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func lookupReplica(actx *AssertionContext, name string) (*replica.Replica, bool) {
	if actx == nil || actx.Replicas == nil {
		return nil, false
	}
	r, ok := actx.Replicas[name]
	return r, ok
}

func labels(actx *AssertionContext) map[string]string {
	if actx == nil {
		return nil
	}
	return actx.IDs
}

// filterTrace returns the events observed by replica, or every event when
// replica is empty.
func filterTrace(trace []TraceEvent, replica string) []TraceEvent {
	if replica == "" {
		return trace
	}
	var out []TraceEvent
	for _, event := range trace {
		if event.Replica == replica {
			out = append(out, event)
		}
	}
	return out
}

// assertTraceContains checks if the trace contains an event matching the
// kind, id and data (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion, actx *AssertionContext) error {
	id, err := resolveRef(assertion.ID, labels(actx))
	if err != nil {
		return err
	}

	for _, event := range filterTrace(trace, assertion.Replica) {
		if event.Kind != assertion.Event {
			continue
		}
		if id != "" && event.ID != id {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal(event.Data, &data); err != nil {
			continue
		}
		if matchFields(data, assertion.Expect) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s%s with data %v", assertion.Event, describeTarget(assertion.Replica, id), assertion.Expect),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the kinds appear in the specified order.
// Kinds don't need to be consecutive (intervening events are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range filterTrace(trace, assertion.Replica) {
		if next < len(assertion.Events) && event.Kind == assertion.Events[next] {
			next++
		}
	}

	if next < len(assertion.Events) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("events in order%s: %v", describeTarget(assertion.Replica, ""), assertion.Events),
			Actual:   fmt.Sprintf("matched %d of %d, missing %s at position %d", next, len(assertion.Events), assertion.Events[next], next+1),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount checks if the kind appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range filterTrace(trace, assertion.Replica) {
		if event.Kind == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s%s", assertion.Count, assertion.Event, describeTarget(assertion.Replica, "")),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertView checks a replica's projection for one record.
func assertView(r *replica.Replica, assertion Assertion, actx *AssertionContext) error {
	id, err := resolveRef(assertion.ID, labels(actx))
	if err != nil {
		return err
	}

	rec, found := r.View().Get(id)
	if assertion.Absent {
		if found {
			return &AssertionError{
				Type:     AssertView,
				Expected: fmt.Sprintf("no record %s in view of %s", id, assertion.Replica),
				Actual:   fmt.Sprintf("record present: %+v", rec),
			}
		}
		return nil
	}
	if !found {
		return &AssertionError{
			Type:     AssertView,
			Expected: fmt.Sprintf("record %s in view of %s", id, assertion.Replica),
			Actual:   "record not found",
		}
	}

	fields, err := recordFields(rec)
	if err != nil {
		return err
	}
	for key, expected := range assertion.Expect {
		actual := fields[key]
		if !stateValuesEqual(expected, actual) {
			return &AssertionError{
				Type:     AssertView,
				Expected: fmt.Sprintf("field %q = %v", key, expected),
				Actual:   fmt.Sprintf("field %q = %v", key, actual),
			}
		}
	}
	return nil
}

// assertViewCount checks the number of records in a replica's projection.
func assertViewCount(r *replica.Replica, assertion Assertion) error {
	if n := r.View().Len(); n != assertion.Count {
		return &AssertionError{
			Type:     AssertViewCount,
			Expected: fmt.Sprintf("%d records in view of %s", assertion.Count, assertion.Replica),
			Actual:   fmt.Sprintf("%d records", n),
		}
	}
	return nil
}

// recordFields flattens a record into its wire field names.
func recordFields(rec patient.Patient) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return fields, nil
}

// assertFinalState checks that exactly one row of a replica's table matches
// Where and carries the expected values. Queries use parameterized SQL and
// validate expected values using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, r *replica.Replica, assertion Assertion, actx *AssertionContext) error {
	table := assertion.Table
	if table == "" {
		table = defaultTable
	}
	if !validIdentifier.MatchString(table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", table, validIdentifier.String())
	}

	where, err := resolveWhere(assertion.Where, labels(actx))
	if err != nil {
		return err
	}
	whereSQL, whereArgs, err := buildWhereClause(where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	res, err := r.Store().Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s of %s", table, assertion.Replica),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	whereDesc := formatWhereClause(where)
	switch res.RowCount {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s of %s where %s", table, assertion.Replica, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s of %s where %s", table, assertion.Replica, whereDesc),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", res.RowCount),
		}
	}

	row := res.Rows[0]
	for key, expectedValue := range assertion.Expect {
		actualValue, exists := row[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, res.Columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

func resolveWhere(where map[string]any, ids map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(where))
	for k, v := range where {
		if s, ok := v.(string); ok {
			id, err := resolveRef(s, ids)
			if err != nil {
				return nil, err
			}
			v = id
		}
		out[k] = v
	}
	return out, nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
//
// Security: Column names are validated against a whitelist pattern to prevent
// SQL injection via identifier interpolation.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		if where[key] == nil {
			clauses = append(clauses, fmt.Sprintf("%s IS NULL", key))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML-decoded value to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func describeTarget(replica, id string) string {
	var parts []string
	if id != "" {
		parts = append(parts, "id "+id)
	}
	if replica != "" {
		parts = append(parts, "on "+replica)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, " ") + ")"
}

// stateValuesEqual compares expected and actual values.
// Handles type coercion for SQLite values which may be returned as different types.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case string:
		if actualStr, ok := actual.(string); ok {
			return exp == actualStr
		}
		return false
	case int:
		switch a := actual.(type) {
		case int64:
			return int64(exp) == a
		case int:
			return exp == a
		case float64:
			return float64(exp) == a
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		// SQLite stores booleans as integers
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// matchFields checks if actual contains all expected fields (subset match).
// Extra keys in actual are ignored. An expected nil matches an absent key.
func matchFields(actual map[string]any, expected map[string]any) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists && expectedVal != nil {
			return false
		}
		if !stateValuesEqual(expectedVal, actualVal) {
			return false
		}
	}
	return true
}
