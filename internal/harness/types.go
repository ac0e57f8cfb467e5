package harness

import (
	"encoding/json"

	"github.com/roach88/patientdb/internal/patient"
)

// TraceEvent is one event as observed by one replica's registry.
type TraceEvent struct {
	Seq     int             `json:"seq"`
	Replica string          `json:"replica"`
	Kind    patient.Kind    `json:"event"`
	ID      string          `json:"id"`
	Data    json.RawMessage `json:"data"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step met its expectation and
	// every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every observed event in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	// IDs maps each `as:` label to the generated id.
	IDs map[string]string `json:"ids,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		IDs:    make(map[string]string),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an observed event with the next sequence number.
func (r *Result) AddTrace(replica string, ev patient.Event, data json.RawMessage) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     len(r.Trace) + 1,
		Replica: replica,
		Kind:    ev.Kind(),
		ID:      ev.PatientID(),
		Data:    data,
	})
}
