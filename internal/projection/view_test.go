package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/patientdb/internal/events"
	"github.com/roach88/patientdb/internal/patient"
	"github.com/roach88/patientdb/internal/testutil"
)

func record(id, name string, updated time.Duration) patient.Patient {
	return patient.Patient{
		ID:        id,
		Name:      name,
		DOB:       "1990-01-01",
		CreatedAt: testutil.Epoch,
		UpdatedAt: testutil.Epoch.Add(updated),
	}
}

func TestApply_InsertThenReplayIsNoop(t *testing.T) {
	v := New()
	ev := patient.Inserted{Patient: record("p1", "Alice", 0)}

	assert.True(t, v.Apply(ev))
	before := v.All()

	assert.False(t, v.Apply(ev))
	assert.Equal(t, before, v.All())
}

func TestApply_UpdatedReplayIsNoop(t *testing.T) {
	v := New()
	v.Apply(patient.Inserted{Patient: record("p1", "Alice", 0)})
	upd := patient.Updated{Patient: record("p1", "Alicia", time.Second)}

	assert.True(t, v.Apply(upd))
	once := v.All()
	assert.False(t, v.Apply(upd))
	assert.Equal(t, once, v.All())
}

func TestApply_OlderUpdateLoses(t *testing.T) {
	v := New()
	v.Apply(patient.Updated{Patient: record("p1", "newer", 2*time.Second)})

	assert.False(t, v.Apply(patient.Updated{Patient: record("p1", "older", time.Second)}))

	got, ok := v.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "newer", got.Name)
}

func TestApply_UpdateBeforeInsertUpserts(t *testing.T) {
	v := New()

	// Reordered delivery: the update overtakes the insert.
	v.Apply(patient.Updated{Patient: record("p1", "Alicia", time.Second)})
	v.Apply(patient.Inserted{Patient: record("p1", "Alice", 0)})

	got, ok := v.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "Alicia", got.Name)
}

func TestApply_DeleteTombstones(t *testing.T) {
	v := New()
	v.Apply(patient.Inserted{Patient: record("p1", "Alice", 0)})

	assert.True(t, v.Apply(patient.Deleted{ID: "p1"}))
	_, ok := v.Get("p1")
	assert.False(t, ok)
	assert.True(t, v.Tombstoned("p1"))

	assert.False(t, v.Apply(patient.Deleted{ID: "p1"}), "replayed delete is a no-op")
}

func TestApply_UpdateForTombstonedIDIsIgnored(t *testing.T) {
	v := New()
	v.Apply(patient.Inserted{Patient: record("p1", "Alice", 0)})
	v.Apply(patient.Deleted{ID: "p1"})

	assert.False(t, v.Apply(patient.Updated{Patient: record("p1", "ghost", time.Hour)}))
	assert.Equal(t, 0, v.Len())
}

func TestApply_DeleteOfUnknownIDStillTombstones(t *testing.T) {
	v := New()

	assert.True(t, v.Apply(patient.Deleted{ID: "p1"}))
	assert.False(t, v.Apply(patient.Inserted{Patient: record("p1", "late", 0)}))
	assert.Equal(t, 0, v.Len())
}

func TestAll_StoreOrder(t *testing.T) {
	v := New()
	a := record("b", "same-time-b", 0)
	b := record("a", "same-time-a", 0)
	c := record("c", "newest", 0)
	c.CreatedAt = testutil.Epoch.Add(time.Minute)
	c.UpdatedAt = c.CreatedAt

	v.Load([]patient.Patient{a, b, c})

	var ids []string
	for _, rec := range v.All() {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestAttach_FollowsRegistry(t *testing.T) {
	r := events.New()
	v := New()
	v.Attach(r)

	r.Publish(patient.Inserted{Patient: record("p1", "Alice", 0)})
	assert.Equal(t, 1, v.Len())

	for _, kind := range patient.Kinds() {
		assert.Equal(t, 1, r.Len(kind))
	}

	v.Detach()
	v.Detach()
	for _, kind := range patient.Kinds() {
		assert.Equal(t, 0, r.Len(kind), "detach must not leak subscriptions")
	}

	r.Publish(patient.Deleted{ID: "p1"})
	assert.Equal(t, 1, v.Len())
}

func TestAttach_Twice(t *testing.T) {
	r := events.New()
	v := New()
	v.Attach(r)
	v.Attach(r)

	assert.Equal(t, 1, r.Len(patient.KindInserted))
}
