// Package engine is the internal event bus between the platform adapter
// and the community service.
//
// ARCHITECTURE:
//
// Single-Writer-Per-Member Worker Loops:
// Events are routed to one of N FIFO queues by a hash of the member id.
// Each queue is drained by exactly one goroutine, so all events of one
// member are handled in arrival order while different members proceed in
// parallel. This complements, and does not replace, the per-member locks
// held by the service: scans and reconciliation reach the same records
// from outside the engine.
//
// Event Processing Flow:
//  1. The adapter calls Enqueue with a typed gateway.Event
//  2. The event is stamped with a seq from the logical Clock
//  3. The shard worker dequeues it and calls Handler.HandleEvent
//  4. Failures are logged with full event context and processing continues
//
// The clock also counts processed events; reconciliation records it in its
// cursor for diagnostics.
package engine
