// Package model defines the durable record types of the community service.
//
// This package contains types and pure helpers only. All other internal
// packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Member ids are the platform's stable user ids, never reassigned
//   - Counters are non-negative; only the rollover step zeroes daily counters
//   - At most one contract per member is live (Active or ExpiringSoon)
//   - Effects carry a natural idempotency key (member + kind + target)
//   - All JSON tags use snake_case
package model
