package broadcast

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/patientdb/internal/patient"
	"github.com/roach88/patientdb/internal/testutil"
)

func indented(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.Indent(&buf, data, "", "  "))
	return buf.Bytes()
}

func TestEnvelope_WireFormat(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name string
		ev   patient.Event
	}{
		{"envelope_inserted", patient.Inserted{Patient: alice()}},
		{"envelope_deleted", patient.Deleted{ID: "p-0001"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := mustEncode(t, "env-0001", "replica-a", tt.ev)
			g.Assert(t, tt.name, indented(t, data))
		})
	}
}

func TestEnvelope_RoundTripsEvent(t *testing.T) {
	for _, ev := range []patient.Event{
		patient.Inserted{Patient: alice()},
		patient.Updated{Patient: alice()},
		patient.Deleted{ID: "p-0001"},
	} {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			env, err := Decode(mustEncode(t, "env-1", "replica-a", ev))
			require.NoError(t, err)

			assert.Equal(t, "env-1", env.ID)
			assert.Equal(t, "replica-a", env.Origin)
			assert.Equal(t, ev.Kind(), env.Kind)
			assert.True(t, env.SentAt.Equal(testutil.Epoch))

			got, err := env.Event()
			require.NoError(t, err)
			assert.Equal(t, ev, got)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"empty object", `{}`},
		{"missing origin", `{"id":"e1","event":"patientDeleted","data":{"id":"p1"}}`},
		{"unknown event", `{"id":"e1","origin":"r","event":"patientExploded","data":{"id":"p1"}}`},
		{"missing data", `{"id":"e1","origin":"r","event":"patientDeleted"}`},
		{"null data", `{"id":"e1","origin":"r","event":"patientDeleted","data":null}`},
		{"wrong type", `{"id":7,"origin":"r","event":"patientDeleted","data":{"id":"p1"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
