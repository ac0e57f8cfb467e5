// Package broadcast implements the Cross-Tab Broadcaster: it carries every
// locally published patient event to the other replicas sharing a medium,
// and re-injects events received from them into the local registry.
//
// Wire format: one JSON Envelope per message.
//
//	{"id":"<uuidv7>","origin":"<replica id>","event":"patientInserted","data":{...},"sent_at":"..."}
//
// Receive path, in order:
//  1. decode; malformed messages are logged, counted and dropped
//  2. drop the sender's own echo (Origin == local origin)
//  3. drop envelope ids already seen (bounded LRU)
//  4. drop when the local registry has no subscribers for the kind
//  5. publish locally
//
// Received envelopes are never posted again. Delivery is best-effort with
// no ordering guarantee across origins.
//
// Media live in subpackages: memory (in-process hub), redis (Pub/Sub) and
// wsrelay (WebSocket relay).
package broadcast
