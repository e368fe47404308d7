// Package store is the SQLite run log of the harness.
//
// Three append-only tables:
//   - runs: one row per scenario execution, with its final status
//   - steps: the trace of a run, one row per driven step
//   - snapshots: inspector readings taken during a run
//
// # Ordering
//
// Steps and snapshots carry seq, the harness's logical clock. Reads use
// ORDER BY seq ASC, id ASC COLLATE BINARY so the same run always reads
// back in the same order, never by wall time.
//
// Step and snapshot ids are content-addressed (see internal/ir/hash.go),
// so rewriting the same event is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
