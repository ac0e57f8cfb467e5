package patient

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures surfaced by the synchronization core.
type ErrorCode string

const (
	// CodeValidation marks a missing or malformed field. Never retried.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeNotFound marks an update against an absent identity.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeStorage marks a transaction or engine failure. Safe to retry; no
	// partial mutation is visible.
	CodeStorage ErrorCode = "STORAGE"

	// CodeSerialization marks an event that cannot be encoded for, or
	// decoded from, the broadcast medium.
	CodeSerialization ErrorCode = "SERIALIZATION"
)

// Error is the single error type returned across the gateway boundary.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the failing operation ("insert", "update", ...). Empty when the
	// underlying message must be surfaced unmodified.
	Op string

	// Field names the offending input field (validation only).
	Field string

	// ID is the patient identity involved, if any.
	ID string

	// Kind is the event kind involved (serialization only).
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Code {
	case CodeValidation:
		if e.Field != "" {
			return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case CodeNotFound:
		return fmt.Sprintf("%s: patient %q not found", e.Code, e.ID)
	case CodeStorage:
		if e.Op == "" && e.Err != nil {
			return e.Err.Error()
		}
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Op)
	case CodeSerialization:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Code, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports a rejected input field.
func NewValidationError(field, message string) *Error {
	return &Error{Code: CodeValidation, Field: field, Message: message}
}

// NewNotFoundError reports an absent identity.
func NewNotFoundError(id string) *Error {
	return &Error{Code: CodeNotFound, ID: id}
}

// NewStorageError wraps an engine failure for op. Pass an empty op to keep
// the engine's message verbatim.
func NewStorageError(op string, err error) *Error {
	return &Error{Code: CodeStorage, Op: op, Err: err}
}

// NewSerializationError wraps an encode or decode failure.
func NewSerializationError(kind Kind, err error) *Error {
	return &Error{Code: CodeSerialization, Kind: kind, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsStorage returns true if err is a storage error.
func IsStorage(err error) bool { return CodeOf(err) == CodeStorage }

// IsSerialization returns true if err is a serialization error.
func IsSerialization(err error) bool { return CodeOf(err) == CodeSerialization }
