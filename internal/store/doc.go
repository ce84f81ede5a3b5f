// Package store provides SQLite-backed durable storage for graffiti documents.
//
// The store is an append-only version log:
//   - Every write inserts a new row; its seq (INTEGER PRIMARY KEY
//     AUTOINCREMENT) is the document's SequenceID and gives a total order
//     over all versions
//   - A replace tombstones the current version and inserts the next one in
//     a single transaction
//   - A delete only sets the tombstone flag
//   - At most one live (non-tombstoned) version exists per object id,
//     enforced by a partial UNIQUE index
//
// # Optimistic Concurrency
//
// Replace and Delete take the sequence id the caller last read. If the
// current live version has a different seq the call fails with a
// CONFLICT error and nothing changes.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// I/O failures are returned as TRANSIENT errors.
package store
