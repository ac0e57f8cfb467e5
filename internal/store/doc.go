// Package store provides the SQLite-backed Record Store for patient records.
//
// The store owns a single table:
//
//	patients(id, name, dob, email, phone, address, created_at, updated_at)
//
// with an index on name. This schema is the on-disk contract other tools may
// rely on. A companion retired_ids table remembers every deleted identity so
// an id is never handed out twice.
//
// # Identity and Time
//
//   - IDs are generated by the store at insert (UUIDv4 by default).
//   - Timestamps are UTC text in a fixed-width layout (TimestampLayout), so
//     lexical and chronological order agree.
//   - updated_at is strictly increasing per record: an update commits at
//     max(now, previous updated_at + 1µs).
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes (file databases)
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Every mutation runs in its own transaction. The store itself never emits
// events; that is the gateway's job.
package store
