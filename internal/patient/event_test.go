package patient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePatient() Patient {
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	return Patient{
		ID:        "p-1",
		Name:      "Alice",
		DOB:       "1990-01-01",
		Phone:     "555-0100",
		CreatedAt: ts,
		UpdatedAt: ts.Add(time.Second),
	}
}

func TestEventKinds(t *testing.T) {
	p := samplePatient()

	assert.Equal(t, KindInserted, Inserted{Patient: p}.Kind())
	assert.Equal(t, KindUpdated, Updated{Patient: p}.Kind())
	assert.Equal(t, KindDeleted, Deleted{ID: "p-1"}.Kind())

	assert.Equal(t, "p-1", Inserted{Patient: p}.PatientID())
	assert.Equal(t, "p-1", Deleted{ID: "p-1"}.PatientID())
}

func TestKindValid(t *testing.T) {
	for _, k := range Kinds() {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, Kind("patientPurged").Valid())
	assert.False(t, Kind("").Valid())
}

func TestPayload_InsertedCarriesFullRecord(t *testing.T) {
	p := samplePatient()

	data, err := MarshalPayload(Inserted{Patient: p})
	require.NoError(t, err)

	ev, err := UnmarshalEvent(KindInserted, data)
	require.NoError(t, err)

	got, ok := ev.(Inserted)
	require.True(t, ok, "expected Inserted, got %T", ev)
	assert.Equal(t, p, got.Patient)
}

func TestPayload_UpdatedDecodesAsUpdated(t *testing.T) {
	data, err := MarshalPayload(Updated{Patient: samplePatient()})
	require.NoError(t, err)

	ev, err := UnmarshalEvent(KindUpdated, data)
	require.NoError(t, err)
	assert.IsType(t, Updated{}, ev)
}

func TestPayload_DeletedCarriesOnlyID(t *testing.T) {
	data, err := MarshalPayload(Deleted{ID: "p-9"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p-9"}`, string(data))

	ev, err := UnmarshalEvent(KindDeleted, data)
	require.NoError(t, err)
	assert.Equal(t, Deleted{ID: "p-9"}, ev)
}

func TestUnmarshalEvent_Rejects(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		data string
	}{
		{"unknown kind", Kind("patientPurged"), `{"id":"x"}`},
		{"not json", KindInserted, `{{`},
		{"missing id", KindUpdated, `{"name":"Alice"}`},
		{"deleted missing id", KindDeleted, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalEvent(tt.kind, []byte(tt.data))
			require.Error(t, err)
			assert.True(t, IsSerialization(err))
		})
	}
}
