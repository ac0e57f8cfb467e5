package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/patientdb/internal/broadcast/memory"
	"github.com/roach88/patientdb/internal/patient"
	"github.com/roach88/patientdb/internal/replica"
	"github.com/roach88/patientdb/internal/store"
	"github.com/roach88/patientdb/internal/testutil"
)

// sharedPrefix prefixes ids generated by a shared store.
const sharedPrefix = "patient"

// errUnresolved is returned for a $label no insert step recorded.
var errUnresolved = errors.New("unresolved reference")

// Harness is the scenario execution engine.
// It owns the replicas, their stores and the medium connecting them.
type Harness struct {
	replicas map[string]*replica.Replica
	order    []string
	stores   []*store.Store
	result   *Result
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory databases. Step failures and
// assertion failures are recorded in the result; the returned error is
// reserved for setup failures.
//
// Execution flow:
// 1. Open stores and join every replica to a synchronous in-memory hub
// 2. Record each replica's events into the trace
// 3. Execute steps, checking each step's expected outcome
// 4. Evaluate assertions against the trace, views and stores
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	h, err := newHarness(ctx, scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step); err != nil {
			h.result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		}
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Replicas: h.replicas,
		IDs:      h.result.IDs,
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}

	return h.result, nil
}

func newHarness(ctx context.Context, scenario *Scenario) (*Harness, error) {
	h := &Harness{
		replicas: make(map[string]*replica.Replica, len(scenario.Replicas)),
		result:   NewResult(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	hub := memory.NewHub(memory.WithSynchronous(), memory.WithLogger(h.logger))

	var shared *store.Store
	if scenario.SharedStore {
		st, err := openStore(sharedPrefix)
		if err != nil {
			return nil, err
		}
		shared = st
		h.stores = append(h.stores, st)
	}

	for _, name := range scenario.Replicas {
		st := shared
		if st == nil {
			var err error
			if st, err = openStore(name); err != nil {
				h.close()
				return nil, err
			}
			h.stores = append(h.stores, st)
		}

		r, err := replica.New(ctx, st, hub.Join(),
			replica.WithID(name),
			replica.WithLogger(h.logger),
			replica.WithEnvelopeIDs(testutil.NewSequenceIDGenerator("env-"+name)),
			replica.WithClock(func() time.Time { return testutil.Epoch }),
		)
		if err != nil {
			h.close()
			return nil, fmt.Errorf("replica %s: %w", name, err)
		}
		h.replicas[name] = r
		h.order = append(h.order, name)
		h.record(name, r)
	}

	return h, nil
}

// openStore opens an in-memory store with a stepping clock and ids
// prefixed by prefix.
func openStore(prefix string) (*store.Store, error) {
	clock := testutil.NewStepClock(testutil.Epoch, time.Second)
	st, err := store.Open(":memory:",
		store.WithClock(clock.Now),
		store.WithIDGenerator(testutil.NewSequenceIDGenerator(prefix)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	return st, nil
}

// record subscribes to every event kind on r and appends deliveries to the
// trace.
func (h *Harness) record(name string, r *replica.Replica) {
	for _, kind := range patient.Kinds() {
		r.Events().Subscribe(kind, func(ev patient.Event) error {
			data, err := patient.MarshalPayload(ev)
			if err != nil {
				return err
			}
			h.result.AddTrace(name, ev, data)
			return nil
		})
	}
}

func (h *Harness) close() {
	for _, name := range h.order {
		h.replicas[name].Close()
	}
	for _, st := range h.stores {
		st.Close()
	}
}

// executeStep runs one gateway operation and checks its outcome against
// step.Expect.
func (h *Harness) executeStep(ctx context.Context, step Step) error {
	gw := h.replicas[step.Replica].Gateway()

	var (
		err  error
		rows = -1
	)
	switch {
	case step.Insert != nil:
		var rec patient.Patient
		rec, err = gw.Insert(ctx, *step.Insert)
		if err == nil && step.As != "" {
			h.result.IDs[step.As] = rec.ID
		}
	case step.Update != nil:
		id, rerr := resolveRef(step.Update.ID, h.result.IDs)
		if rerr != nil {
			return rerr
		}
		_, err = gw.Update(ctx, id, step.Update.Set)
	case step.Delete != "":
		id, rerr := resolveRef(step.Delete, h.result.IDs)
		if rerr != nil {
			return rerr
		}
		err = gw.Delete(ctx, id)
	case step.Query != nil:
		params, rerr := resolveParams(step.Query.Params, h.result.IDs)
		if rerr != nil {
			return rerr
		}
		res, qerr := gw.Query(ctx, step.Query.SQL, params...)
		if qerr == nil {
			rows = res.RowCount
		}
		err = qerr
	}

	h.logger.Info("step completed", "replica", step.Replica, "error", err)
	return checkOutcome(step.Expect, err, rows)
}

func checkOutcome(expect *StepExpect, err error, rows int) error {
	var want patient.ErrorCode
	if expect != nil {
		want = patient.ErrorCode(expect.Error)
	}

	switch {
	case want == "" && err != nil:
		return fmt.Errorf("unexpected error: %w", err)
	case want != "" && err == nil:
		return fmt.Errorf("expected %s error, got success", want)
	case want != "" && patient.CodeOf(err) != want:
		return fmt.Errorf("expected %s error, got: %w", want, err)
	}

	if expect != nil && expect.Rows != nil && err == nil && rows != *expect.Rows {
		return fmt.Errorf("expected %d rows, got %d", *expect.Rows, rows)
	}
	return nil
}

// resolveRef resolves a $label to the id recorded for it. Other values are
// returned as is.
func resolveRef(ref string, ids map[string]string) (string, error) {
	label, ok := strings.CutPrefix(ref, "$")
	if !ok {
		return ref, nil
	}
	id, found := ids[label]
	if !found {
		return "", fmt.Errorf("%w %q", errUnresolved, ref)
	}
	return id, nil
}

func resolveParams(params []any, ids map[string]string) ([]any, error) {
	out := make([]any, len(params))
	for i, p := range params {
		s, ok := p.(string)
		if !ok {
			out[i] = p
			continue
		}
		v, err := resolveRef(s, ids)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
