package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/patientdb/internal/patient"
	"github.com/roach88/patientdb/internal/testutil"
)

func TestInsertPatient_AssignsIdentityAndTimestamps(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, err := s.InsertPatient(ctx, patient.Input{
		Name:  "Alice",
		DOB:   "1990-01-01",
		Email: "alice@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "p-0001", rec.ID)
	assert.Equal(t, "Alice", rec.Name)
	assert.Equal(t, "1990-01-01", rec.DOB)
	assert.Equal(t, "alice@example.com", rec.Email)
	assert.Empty(t, rec.Phone)
	assert.Empty(t, rec.Address)
	assert.True(t, rec.CreatedAt.Equal(testutil.Epoch))
	assert.True(t, rec.CreatedAt.Equal(rec.UpdatedAt), "created_at must equal updated_at on insert")
}

func TestInsertPatient_DefaultGeneratorProducesUUIDs(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	a, err := s.InsertPatient(context.Background(), aliceInput())
	require.NoError(t, err)
	b, err := s.InsertPatient(context.Background(), aliceInput())
	require.NoError(t, err)

	assert.Len(t, a.ID, 36)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestInsertPatient_RegeneratesOnCollision(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(testutil.NewFixedIDGenerator("dup", "dup", "fresh")))
	ctx := context.Background()

	first, err := s.InsertPatient(ctx, aliceInput())
	require.NoError(t, err)
	second, err := s.InsertPatient(ctx, aliceInput())
	require.NoError(t, err)

	assert.Equal(t, "dup", first.ID)
	assert.Equal(t, "fresh", second.ID)
}

func TestInsertPatient_GivesUpAfterRepeatedCollisions(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(testutil.NewFixedIDGenerator("x", "x", "x", "x")))
	ctx := context.Background()

	_, err := s.InsertPatient(ctx, aliceInput())
	require.NoError(t, err)

	_, err = s.InsertPatient(ctx, aliceInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no unused id")

	n, err := s.CountPatients(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdatePatient_MergesAndRefreshesUpdatedAt(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, err := s.InsertPatient(ctx, patient.Input{Name: "Alice", DOB: "1990-01-01", Phone: "555"})
	require.NoError(t, err)

	updated, err := s.UpdatePatient(ctx, rec.ID, patient.Partial{Email: patient.String("a@x.org")})
	require.NoError(t, err)

	assert.Equal(t, rec.ID, updated.ID)
	assert.Equal(t, "Alice", updated.Name)
	assert.Equal(t, "555", updated.Phone)
	assert.Equal(t, "a@x.org", updated.Email)
	assert.True(t, updated.CreatedAt.Equal(rec.CreatedAt))
	assert.True(t, updated.UpdatedAt.After(rec.UpdatedAt))
	assert.True(t, updated.UpdatedAt.Equal(testutil.Epoch.Add(time.Second)))

	stored, err := s.GetPatient(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, stored)
}

func TestUpdatePatient_EmptyStringClearsOptionalField(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, err := s.InsertPatient(ctx, patient.Input{Name: "Alice", DOB: "1990-01-01", Phone: "555"})
	require.NoError(t, err)

	updated, err := s.UpdatePatient(ctx, rec.ID, patient.Partial{Phone: patient.String("")})
	require.NoError(t, err)
	assert.Empty(t, updated.Phone)

	var isNull bool
	err = s.db.QueryRow("SELECT phone IS NULL FROM patients WHERE id = ?", rec.ID).Scan(&isNull)
	require.NoError(t, err)
	assert.True(t, isNull)
}

func TestUpdatePatient_EmptyPartialStillAdvancesUpdatedAt(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, err := s.InsertPatient(ctx, aliceInput())
	require.NoError(t, err)

	updated, err := s.UpdatePatient(ctx, rec.ID, patient.Partial{})
	require.NoError(t, err)
	assert.Equal(t, rec.Name, updated.Name)
	assert.True(t, updated.UpdatedAt.After(rec.UpdatedAt))
}

func TestUpdatePatient_FrozenClockStillMovesForward(t *testing.T) {
	frozen := testutil.NewStepClock(testutil.Epoch, 0)
	s := createTestStore(t, WithClock(frozen.Now))
	ctx := context.Background()

	rec, err := s.InsertPatient(ctx, aliceInput())
	require.NoError(t, err)

	first, err := s.UpdatePatient(ctx, rec.ID, patient.Partial{Name: patient.String("Alicia")})
	require.NoError(t, err)
	second, err := s.UpdatePatient(ctx, rec.ID, patient.Partial{Name: patient.String("Ali")})
	require.NoError(t, err)

	assert.True(t, first.UpdatedAt.Equal(rec.UpdatedAt.Add(time.Microsecond)))
	assert.True(t, second.UpdatedAt.Equal(first.UpdatedAt.Add(time.Microsecond)))
}

func TestUpdatePatient_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.UpdatePatient(context.Background(), "missing", patient.Partial{Name: patient.String("X")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletePatient_RemovesAndRetires(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, err := s.InsertPatient(ctx, aliceInput())
	require.NoError(t, err)

	existed, err := s.DeletePatient(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = s.GetPatient(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	retired, err := s.IsRetired(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, retired)
}

func TestDeletePatient_AbsentIsNotAnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	existed, err := s.DeletePatient(ctx, "never-existed")
	require.NoError(t, err)
	assert.False(t, existed)

	retired, err := s.IsRetired(ctx, "never-existed")
	require.NoError(t, err)
	assert.False(t, retired, "only deleted records retire their id")
}

func TestDeletePatient_Twice(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec, err := s.InsertPatient(ctx, aliceInput())
	require.NoError(t, err)

	existed, err := s.DeletePatient(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.DeletePatient(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestRetiredIDIsNeverReused(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(testutil.NewFixedIDGenerator("a", "a", "b")))
	ctx := context.Background()

	first, err := s.InsertPatient(ctx, aliceInput())
	require.NoError(t, err)
	require.Equal(t, "a", first.ID)

	_, err = s.DeletePatient(ctx, "a")
	require.NoError(t, err)

	second, err := s.InsertPatient(ctx, aliceInput())
	require.NoError(t, err)
	assert.Equal(t, "b", second.ID)
}
