package patient

import "time"

// Patient is a fully materialized patient record as returned by the store.
//
// ID is assigned by the store at insert and never reused. CreatedAt is set
// once; UpdatedAt is refreshed on every successful update, so
// CreatedAt <= UpdatedAt holds for every record.
type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DOB       string    `json:"dob"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input is the payload for an insert. Name and DOB are required; DOB is a
// calendar date in YYYY-MM-DD form.
type Input struct {
	Name    string `json:"name" yaml:"name"`
	DOB     string `json:"dob" yaml:"dob"`
	Email   string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone   string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

// Partial is the payload for an update. A nil field is left untouched.
// A non-nil empty string clears an optional field; Name and DOB cannot be
// cleared.
type Partial struct {
	Name    *string `json:"name,omitempty" yaml:"name,omitempty"`
	DOB     *string `json:"dob,omitempty" yaml:"dob,omitempty"`
	Email   *string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone   *string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Address *string `json:"address,omitempty" yaml:"address,omitempty"`
}

// IsEmpty reports whether the partial touches no field.
func (p Partial) IsEmpty() bool {
	return p.Name == nil && p.DOB == nil && p.Email == nil && p.Phone == nil && p.Address == nil
}

// String returns a pointer to s. Handy for building a Partial.
func String(s string) *string {
	return &s
}
