package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates "<prefix>-1", "<prefix>-2", ...
//
// Unlike a fixed list of IDs it never runs out, which suits scenario runs
// whose transaction count is only known from the scenario file.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix means "txn".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "txn"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
