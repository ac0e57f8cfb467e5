// Package projection keeps an id-keyed view of patient records current
// from domain events, the way a list or detail screen would.
//
// Applying events is idempotent and tolerant of reordering across
// replicas:
//   - Inserted and Updated upsert unless the id is tombstoned or the held
//     record is at least as new (last write wins on updated_at)
//   - Deleted removes the record and tombstones the id
//
// Replaying any event therefore leaves the view unchanged.
package projection

import (
	"cmp"
	"slices"
	"sync"

	"github.com/roach88/patientdb/internal/events"
	"github.com/roach88/patientdb/internal/patient"
)

// View is a projection of patient records.
//
// Thread-safety: all methods are safe for concurrent use.
type View struct {
	mu         sync.RWMutex
	records    map[string]patient.Patient
	tombstones map[string]struct{}

	registry *events.Registry
	subs     []events.Subscription
}

// New creates an empty view.
func New() *View {
	return &View{
		records:    make(map[string]patient.Patient),
		tombstones: make(map[string]struct{}),
	}
}

// Attach subscribes the view to every event kind on r. Attaching an
// already attached view first detaches it.
func (v *View) Attach(r *events.Registry) {
	v.Detach()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.registry = r
	for _, kind := range patient.Kinds() {
		v.subs = append(v.subs, r.On(kind, func(ev patient.Event) { v.Apply(ev) }))
	}
}

// Detach removes the view's subscriptions. Safe to call when not attached.
func (v *View) Detach() {
	v.mu.Lock()
	r, subs := v.registry, v.subs
	v.registry, v.subs = nil, nil
	v.mu.Unlock()

	for _, sub := range subs {
		r.Off(sub)
	}
}

// Load seeds the view from a store snapshot. Tombstoned ids are skipped.
func (v *View) Load(recs []patient.Patient) {
	for _, rec := range recs {
		v.Apply(patient.Inserted{Patient: rec})
	}
}

// Apply folds ev into the view and reports whether anything changed.
func (v *View) Apply(ev patient.Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch e := ev.(type) {
	case patient.Inserted:
		return v.upsert(e.Patient)
	case patient.Updated:
		return v.upsert(e.Patient)
	case patient.Deleted:
		_, held := v.records[e.ID]
		_, dead := v.tombstones[e.ID]
		delete(v.records, e.ID)
		v.tombstones[e.ID] = struct{}{}
		return held || !dead
	}
	return false
}

// upsert must be called with v.mu held.
func (v *View) upsert(rec patient.Patient) bool {
	if _, dead := v.tombstones[rec.ID]; dead {
		return false
	}
	if held, ok := v.records[rec.ID]; ok && !rec.UpdatedAt.After(held.UpdatedAt) {
		return false
	}
	v.records[rec.ID] = rec
	return true
}

// Get returns the record with the given id.
func (v *View) Get(id string) (patient.Patient, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rec, ok := v.records[id]
	return rec, ok
}

// Tombstoned reports whether id has been deleted.
func (v *View) Tombstoned(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, dead := v.tombstones[id]
	return dead
}

// Len returns the number of live records.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

// All returns the live records in store order: newest created_at first,
// ties broken by id.
func (v *View) All() []patient.Patient {
	v.mu.RLock()
	out := make([]patient.Patient, 0, len(v.records))
	for _, rec := range v.records {
		out = append(out, rec)
	}
	v.mu.RUnlock()

	slices.SortFunc(out, func(a, b patient.Patient) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
