// Package store provides the SQLite-backed persistence gateway for member
// records, contracts and the effect outbox.
//
// Every write is a single statement or a single transaction, so a record
// is never observed half-written.
//
// # Conditional Writes
//
//   - InsertMember is insert-if-absent: ON CONFLICT(id) DO NOTHING
//   - UpdateMember is compare-and-swap on the version column
//   - InsertContract relies on a partial UNIQUE index over live statuses,
//     so two issuers racing for the same member cannot both succeed
//   - TransitionContract is compare-and-swap on the status column
//   - Effects are written in the same transaction as the state change that
//     produced them; ON CONFLICT(effect_key) DO NOTHING dedupes replays
//
// # Errors
//
// Missing records return errs.NotFound. Lost conditional writes return
// errs.Conflict. Timeouts and SQLITE_BUSY/SQLITE_LOCKED return
// errs.Transient. Every call is bounded by the store's operation timeout.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
