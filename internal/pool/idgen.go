package pool

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces the GUIDs pool.json uses to name store
// directories. A one-method interface so tests can substitute
// deterministic IDs for the real UUIDv7 generator.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator is the default IDGenerator: time-sortable UUIDv7
// strings, so directory listings roughly follow creation order.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns a predetermined sequence of IDs, for
// deterministic tests.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("pool: FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
