// Package events implements the Local Event Registry: synchronous,
// in-process publish/subscribe keyed by patient event kind.
//
// A Registry is an ordinary value owned by the composition root and passed
// to the gateway and broadcaster explicitly. Several registries can coexist
// in one process, which is how tests model multiple replicas.
//
// Delivery guarantees:
//   - Handlers for a kind run in registration order, synchronously, on the
//     publishing goroutine.
//   - Publish sees the subscriber set as of the moment it was called.
//     Subscribing or unsubscribing from inside a handler is safe.
//   - A handler that returns an error or panics is logged and skipped;
//     later handlers still run and Publish never fails.
package events
