// Package keylock serializes mutations per member id.
//
// Locks are striped over a fixed array of mutexes selected by an FNV-1a
// hash of the key. Two ids may share a stripe; that only costs throughput,
// never correctness. Callers must not acquire a second key while holding
// one, since two keys can map to the same stripe.
package keylock

import (
	"hash/fnv"
	"sync"

	"github.com/lwidev/therockqc/internal/model"
)

// DefaultShards is the stripe count used when New is given n <= 0.
const DefaultShards = 64

// Locker is a sharded per-key mutex.
// The zero value is not usable; use New.
type Locker struct {
	shards []sync.Mutex
}

// New creates a Locker with n stripes.
func New(n int) *Locker {
	if n <= 0 {
		n = DefaultShards
	}
	return &Locker{shards: make([]sync.Mutex, n)}
}

// Lock acquires the stripe of id and returns the matching unlock func.
//
//	unlock := l.Lock(id)
//	defer unlock()
func (l *Locker) Lock(id model.MemberID) func() {
	mu := &l.shards[l.Shard(id)]
	mu.Lock()
	return mu.Unlock
}

// Shard returns the stripe index of id.
// Also used by the engine to route a member's events to one worker.
func (l *Locker) Shard(id model.MemberID) int {
	return ShardOf(id, len(l.shards))
}

// Len returns the stripe count.
func (l *Locker) Len() int { return len(l.shards) }

// ShardOf maps id onto [0, n).
func ShardOf(id model.MemberID, n int) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}
