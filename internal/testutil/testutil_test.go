package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Hour), c.Advance(time.Hour))
	assert.Equal(t, start.Add(time.Hour), c.Advance(-time.Minute))
	assert.Equal(t, start.Add(time.Hour).AddDate(0, 0, 2), c.AdvanceDays(2))

	c.Set(start)
	assert.Equal(t, start.Add(time.Hour).AddDate(0, 0, 2), c.Now(), "Set must not go backwards")
}

func TestSequenceIDs(t *testing.T) {
	g := NewSequenceIDs("c")
	assert.Equal(t, "c-1", g.Generate())
	assert.Equal(t, "c-2", g.Generate())
	assert.Equal(t, "id-1", NewSequenceIDs("").Generate())
}

func TestSequenceIDs_ConcurrentUnique(t *testing.T) {
	g := NewSequenceIDs("c")
	var mu sync.Mutex
	seen := map[string]bool{}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 100)
}
