// Package gateway describes the chat platform as seen by the core.
//
// The platform is an external collaborator: a source of typed membership
// and activity events, a live roster snapshot, and a sink for outbound
// role changes and direct messages. The adapter translating a platform SDK
// into these types lives outside this module; Simulated stands in for it
// in the CLI and in tests.
package gateway
