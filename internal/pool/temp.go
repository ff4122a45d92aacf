package pool

import (
	"fmt"
	"os"
	"strings"

	"github.com/roach88/mercury/internal/canon"
	"github.com/roach88/mercury/internal/store"
)

const tempNamePrefix = "tmp-"

// RentedTemp is a checked-out temporary store. Callers must call
// Return exactly once when finished.
type RentedTemp struct {
	pool *Pool
	name string
	s    *store.Store
}

// Store returns the underlying quad store.
func (r *RentedTemp) Store() *store.Store { return r.s }

// Return releases and permanently deletes the temporary store. Unlike
// a buffer pool lease, a rented temp store is not recycled for a later
// Rent: store.Store holds live mmap'd file handles and resetting one to
// empty would need a primitive neither internal/atom nor internal/quad
// exposes, so Return's job is the part of the contract that actually
// matters for correctness — guaranteeing no temp directory outlives
// its rental, crash or no crash — rather than reuse for its own sake.
func (r *RentedTemp) Return() error {
	return r.pool.Delete(r.name)
}

// CreateTemp creates and opens a new anonymous temporary store for
// purpose (a short, free-form label persisted in pool.json for
// diagnostics — e.g. "service-materialization"). The returned
// RentedTemp's entry is marked checked-out immediately, so a crash
// before Return is detected and swept on the next Open.
func (p *Pool) CreateTemp(purpose string) (*RentedTemp, error) {
	p.mu.Lock()

	guid := p.idGen.Generate()
	// Temp names are content-addressed from (purpose, guid): stable,
	// collision-resistant, and self-describing in pool.json dumps.
	name := tempNamePrefix + canon.MustHash("mercury/tmp/v1", canon.Object{
		"purpose": canon.String(purpose),
		"guid":    canon.String(guid),
	})[:16]
	p.meta.Stores[name] = storeEntry{GUID: guid, Temp: true, CheckedOut: true, Purpose: purpose}
	if err := saveMeta(p.dir, p.meta); err != nil {
		delete(p.meta.Stores, name)
		p.mu.Unlock()
		return nil, err
	}
	dir := p.storeDir(guid)
	p.mu.Unlock()

	s, err := store.Open(dir)
	if err != nil {
		_ = p.Delete(name)
		return nil, fmt.Errorf("pool: open temp store: %w", err)
	}

	p.mu.Lock()
	p.open[name] = s
	p.mu.Unlock()

	return &RentedTemp{pool: p, name: name, s: s}, nil
}

// Rent is CreateTemp with a generic purpose label, for callers that
// just need scratch storage and don't care to name it.
func (p *Pool) Rent() (*RentedTemp, error) {
	return p.CreateTemp("rent")
}

// sweepOrphanedTemps removes every Temp store entry left CheckedOut —
// no Pool handle in the current process could have checked one out
// before this Open call ran, so a CheckedOut temp entry found at Open
// time can only be left over from a process that exited without
// calling Return (crash or otherwise).
func (p *Pool) sweepOrphanedTemps() error {
	var orphans []string
	for name, entry := range p.meta.Stores {
		if entry.Temp && entry.CheckedOut {
			orphans = append(orphans, name)
		}
	}
	if len(orphans) == 0 {
		return nil
	}

	for _, name := range orphans {
		entry := p.meta.Stores[name]
		delete(p.meta.Stores, name)
		if p.meta.Active == name {
			p.meta.Active = ""
		}
		if err := os.RemoveAll(p.storeDir(entry.GUID)); err != nil {
			return fmt.Errorf("sweep %q: %w", name, err)
		}
	}
	return saveMeta(p.dir, p.meta)
}

// ListStores returns every named store in the pool, excluding
// temporary ones created via CreateTemp/Rent.
func (p *Pool) ListStores() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var names []string
	for name := range p.meta.Stores {
		if !strings.HasPrefix(name, tempNamePrefix) {
			names = append(names, name)
		}
	}
	return names
}
