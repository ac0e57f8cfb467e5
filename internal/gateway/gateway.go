// Package gateway implements the Mutation Gateway: the only code path that
// mutates the record store, and therefore the only producer of domain
// events.
//
// Every successful write emits exactly one event after its transaction
// commits. Failed writes emit nothing. Reads and ad-hoc queries never emit.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/roach88/patientdb/internal/patient"
	"github.com/roach88/patientdb/internal/store"
)

// Store is the record store surface the gateway drives.
// Implemented by *store.Store.
type Store interface {
	InsertPatient(ctx context.Context, in patient.Input) (patient.Patient, error)
	UpdatePatient(ctx context.Context, id string, p patient.Partial) (patient.Patient, error)
	DeletePatient(ctx context.Context, id string) (bool, error)
	GetPatient(ctx context.Context, id string) (patient.Patient, error)
	ListPatients(ctx context.Context) ([]patient.Patient, error)
	Query(ctx context.Context, query string, args ...any) (*store.Result, error)
}

// Emitter receives the event of each committed mutation.
// Implemented by *broadcast.Broadcaster and *events.Registry.
type Emitter interface {
	Emit(ctx context.Context, ev patient.Event)
}

// Gateway translates CRUD intents into store transactions and events.
//
// Thread-safety: safe for concurrent use when the Store and Emitter are.
// The SQLite store serializes writers, so events from one gateway are
// emitted in commit order per caller.
type Gateway struct {
	store   Store
	emitter Emitter
	logger  *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a gateway over s that reports mutations to e.
func New(s Store, e Emitter, opts ...Option) *Gateway {
	g := &Gateway{
		store:   s,
		emitter: e,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Insert validates in, stores it and emits Inserted with the materialized
// record.
func (g *Gateway) Insert(ctx context.Context, in patient.Input) (patient.Patient, error) {
	valid, err := patient.ValidateInput(in)
	if err != nil {
		return patient.Patient{}, err
	}

	rec, err := g.store.InsertPatient(ctx, valid)
	if err != nil {
		return patient.Patient{}, patient.NewStorageError("insert", err)
	}

	g.logger.Debug("patient inserted", "patient_id", rec.ID)
	g.emitter.Emit(ctx, patient.Inserted{Patient: rec})
	return rec, nil
}

// Update applies p to the record with the given id and emits Updated with
// the full post-update record. updated_at is refreshed even for an empty
// partial.
func (g *Gateway) Update(ctx context.Context, id string, p patient.Partial) (patient.Patient, error) {
	id, err := requireID(id)
	if err != nil {
		return patient.Patient{}, err
	}
	valid, err := patient.ValidatePartial(p)
	if err != nil {
		return patient.Patient{}, err
	}

	rec, err := g.store.UpdatePatient(ctx, id, valid)
	if errors.Is(err, store.ErrNotFound) {
		return patient.Patient{}, patient.NewNotFoundError(id)
	}
	if err != nil {
		return patient.Patient{}, patient.NewStorageError("update", err)
	}

	g.logger.Debug("patient updated", "patient_id", rec.ID)
	g.emitter.Emit(ctx, patient.Updated{Patient: rec})
	return rec, nil
}

// Delete removes the record with the given id and emits Deleted. Deleting
// an absent id succeeds and still emits Deleted, so consumers can reconcile
// idempotently.
func (g *Gateway) Delete(ctx context.Context, id string) error {
	id, err := requireID(id)
	if err != nil {
		return err
	}

	existed, err := g.store.DeletePatient(ctx, id)
	if err != nil {
		return patient.NewStorageError("delete", err)
	}

	g.logger.Debug("patient deleted", "patient_id", id, "existed", existed)
	g.emitter.Emit(ctx, patient.Deleted{ID: id})
	return nil
}

// GetAll returns every record, newest first.
func (g *Gateway) GetAll(ctx context.Context) ([]patient.Patient, error) {
	recs, err := g.store.ListPatients(ctx)
	if err != nil {
		return nil, patient.NewStorageError("get all", err)
	}
	return recs, nil
}

// GetByID returns the record with the given id. found is false when the
// record is absent; that is not an error. The id is trimmed as for Update
// and Delete, and a blank id finds nothing.
func (g *Gateway) GetByID(ctx context.Context, id string) (rec patient.Patient, found bool, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return patient.Patient{}, false, nil
	}
	rec, err = g.store.GetPatient(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return patient.Patient{}, false, nil
	}
	if err != nil {
		return patient.Patient{}, false, patient.NewStorageError("get", err)
	}
	return rec, true, nil
}

// Query runs an ad-hoc read. It never emits events, and statements that
// would modify the store are rejected by the engine. Failures carry the
// engine's message unmodified.
func (g *Gateway) Query(ctx context.Context, sql string, params ...any) (*store.Result, error) {
	res, err := g.store.Query(ctx, sql, params...)
	if err != nil {
		return nil, patient.NewStorageError("", err)
	}
	return res, nil
}

func requireID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", patient.NewValidationError("id", "id is required")
	}
	return id, nil
}
