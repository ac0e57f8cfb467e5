package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/patientdb/internal/patient"
)

// Envelope is the serialized form of a domain event on the medium.
type Envelope struct {
	ID      string          `json:"id"`
	Origin  string          `json:"origin"`
	Kind    patient.Kind    `json:"event"`
	Payload json.RawMessage `json:"data"`
	SentAt  time.Time       `json:"sent_at"`
}

// ErrMalformed marks a message that could not be decoded into an Envelope.
var ErrMalformed = errors.New("malformed envelope")

// NewEnvelope wraps ev for the wire.
func NewEnvelope(id, origin string, ev patient.Event, sentAt time.Time) (Envelope, error) {
	payload, err := patient.MarshalPayload(ev)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:      id,
		Origin:  origin,
		Kind:    ev.Kind(),
		Payload: payload,
		SentAt:  sentAt.UTC(),
	}, nil
}

// Event rebuilds the typed domain event carried by the envelope.
func (e Envelope) Event() (patient.Event, error) {
	return patient.UnmarshalEvent(e.Kind, e.Payload)
}

// Encode serializes an envelope.
func Encode(e Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, patient.NewSerializationError(e.Kind, err)
	}
	return data, nil
}

// Decode parses a message and checks the fields every envelope must carry.
// All failures wrap ErrMalformed.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case e.ID == "":
		return Envelope{}, fmt.Errorf("%w: missing id", ErrMalformed)
	case e.Origin == "":
		return Envelope{}, fmt.Errorf("%w: missing origin", ErrMalformed)
	case !e.Kind.Valid():
		return Envelope{}, fmt.Errorf("%w: unknown event %q", ErrMalformed, e.Kind)
	case len(e.Payload) == 0 || string(e.Payload) == "null":
		return Envelope{}, fmt.Errorf("%w: missing data", ErrMalformed)
	}
	return e, nil
}
