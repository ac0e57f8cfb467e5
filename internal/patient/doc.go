// Package patient defines the patient record, the mutation inputs accepted by
// the gateway, the closed set of domain events, and the error taxonomy shared
// by every layer of the synchronization core.
//
// # Domain Events
//
// Event is a sealed union over Inserted, Updated and Deleted. Inserted and
// Updated always carry the full post-mutation record, never a diff, so a
// subscriber can rebuild current state without consulting the store. Deleted
// carries only the identity.
//
// # Errors
//
// All errors produced by the gateway are *Error values with one of the codes
// CodeValidation, CodeNotFound, CodeStorage or CodeSerialization. Use the
// IsValidation, IsNotFound, IsStorage and IsSerialization helpers; they see
// through wrapping.
package patient
