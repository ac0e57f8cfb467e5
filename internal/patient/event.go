package patient

import (
	"encoding/json"
	"fmt"
)

// Kind names an event stream in the local registry and on the wire.
type Kind string

const (
	KindInserted Kind = "patientInserted"
	KindUpdated  Kind = "patientUpdated"
	KindDeleted  Kind = "patientDeleted"
)

// Kinds returns every event kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindInserted, KindUpdated, KindDeleted}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindInserted, KindUpdated, KindDeleted:
		return true
	}
	return false
}

// Event is a completed mutation. The set of implementations is closed:
// Inserted, Updated and Deleted.
type Event interface {
	Kind() Kind
	PatientID() string
	isEvent()
}

// Inserted reports a newly created record.
type Inserted struct {
	Patient Patient
}

// Updated reports the full record after an update.
type Updated struct {
	Patient Patient
}

// Deleted reports a removed identity. It is also emitted when the identity
// was already absent.
type Deleted struct {
	ID string
}

func (Inserted) Kind() Kind { return KindInserted }
func (Updated) Kind() Kind  { return KindUpdated }
func (Deleted) Kind() Kind  { return KindDeleted }

func (e Inserted) PatientID() string { return e.Patient.ID }
func (e Updated) PatientID() string  { return e.Patient.ID }
func (e Deleted) PatientID() string  { return e.ID }

func (Inserted) isEvent() {}
func (Updated) isEvent()  {}
func (Deleted) isEvent()  {}

type deletedPayload struct {
	ID string `json:"id"`
}

// MarshalPayload encodes the event body. Inserted and Updated encode the
// record; Deleted encodes {"id": ...}.
func MarshalPayload(ev Event) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch e := ev.(type) {
	case Inserted:
		data, err = json.Marshal(e.Patient)
	case Updated:
		data, err = json.Marshal(e.Patient)
	case Deleted:
		data, err = json.Marshal(deletedPayload{ID: e.ID})
	default:
		return nil, NewSerializationError("", fmt.Errorf("unsupported event type %T", ev))
	}
	if err != nil {
		return nil, NewSerializationError(ev.Kind(), err)
	}
	return data, nil
}

// UnmarshalEvent rebuilds a typed event from its kind and encoded body.
func UnmarshalEvent(kind Kind, data []byte) (Event, error) {
	switch kind {
	case KindInserted, KindUpdated:
		var p Patient
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, NewSerializationError(kind, err)
		}
		if p.ID == "" {
			return nil, NewSerializationError(kind, fmt.Errorf("payload missing id"))
		}
		if kind == KindInserted {
			return Inserted{Patient: p}, nil
		}
		return Updated{Patient: p}, nil
	case KindDeleted:
		var d deletedPayload
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, NewSerializationError(kind, err)
		}
		if d.ID == "" {
			return nil, NewSerializationError(kind, fmt.Errorf("payload missing id"))
		}
		return Deleted{ID: d.ID}, nil
	default:
		return nil, NewSerializationError(kind, fmt.Errorf("unknown event kind %q", kind))
	}
}
