// Package harness runs YAML scenarios against the real service wired to a
// simulated gateway, and checks the outcome.
//
// # Scenario Format
//
//	name: missed_join
//	description: "A member who joined while offline is picked up"
//	start: 2026-03-10T12:00:00Z
//	persisted:
//	  members:
//	    - id: A
//	      name: Alice
//	roster:
//	  - id: A
//	  - id: C
//	    name: Cleo
//	ready: true
//	steps:
//	  - reconcile: true
//	  - event: { type: message_sent, member: C, magnitude: 3 }
//	  - advance: 24h
//	  - rollover: true
//	assertions:
//	  - type: effect_count
//	    op: grant_role
//	    member: C
//	    count: 1
//	  - type: member_state
//	    member: C
//	    expect: { tier: recruit, lifetime_messages: 3 }
//
// # Steps
//
// Each step does exactly one thing: apply a platform event, run a
// reconciliation pass, run the contract scan, run the day rollover, renew
// a member's contract, advance the clock, replace the live roster, or
// toggle the connection. Events are applied synchronously in step order.
//
// # Assertion Types
//
//   - effect_count: outbound calls matching op/member/contains, exactly count
//   - effect_order: ops (as "op:member") appear in that order
//   - member_exists / member_absent: a member record is or is not persisted
//   - member_state: subset match on a member's fields and counters
//   - contract_state: subset match on a member's current contract
//   - outbox: number of outbox entries in a given state
//
// # Deterministic Testing
//
// A scenario runs on a fresh in-memory store with a manual clock, sequential
// contract ids and a league of one team with a fixed salary unless the
// scenario overrides it. The outbound trace is therefore byte-identical
// across runs and can be compared against golden files.
package harness
