package txn

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces transaction IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 transaction IDs.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined IDs, for deterministic tests.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next ID. Panics once every ID has been used, which
// means a test started more transactions than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all IDs exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
