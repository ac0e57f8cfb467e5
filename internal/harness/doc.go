// Package harness runs multi-replica synchronization scenarios.
//
// A scenario declares a set of replicas, a sequence of gateway operations
// issued on specific replicas, and assertions over the resulting event
// trace, each replica's projection view and each replica's store.
//
// # Scenario Format
//
//	name: two_tabs_sync
//	description: "A mutation in one replica reaches the other"
//	replicas: [a, b]
//	shared_store: false
//	steps:
//	  - replica: a
//	    insert: { name: Alice, dob: "1990-01-01" }
//	    as: alice
//	  - replica: a
//	    update: { id: $alice, set: { phone: "555-0100" } }
//	  - replica: b
//	    delete: $alice
//	  - replica: a
//	    update: { id: $alice, set: { name: Ghost } }
//	    expect: { error: NOT_FOUND }
//	  - replica: b
//	    query: { sql: "SELECT id FROM patients" }
//	    expect: { rows: 0 }
//	assertions:
//	  - type: trace_count
//	    replica: b
//	    event: patientInserted
//	    count: 1
//	  - type: view
//	    replica: b
//	    id: $alice
//	    absent: true
//
// An id written as $name refers to the id generated by the insert step
// labelled `as: name`.
//
// # Assertion Types
//
//   - trace_contains: an event of the kind (and id, and data subset) was observed
//   - trace_order: event kinds were observed in this order
//   - trace_count: a replica observed exactly N events of a kind
//   - view: a replica's projection holds (or lacks) a record
//   - view_count: a replica's projection holds exactly N records
//   - final_state: exactly one row in a replica's table (patients unless
//     named) matches, with the expected column values
//
// # Deterministic Execution
//
// Replicas share a synchronous in-memory medium, so every envelope is
// delivered before the posting step returns. Each store gets a stepping
// clock and sequential ids prefixed with the replica name, so traces are
// identical across runs and suitable for golden comparison.
package harness
