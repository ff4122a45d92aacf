package mercury

import (
	"github.com/roach88/mercury/internal/pool"
)

// Pool is a named collection of stores under one directory, with
// atomic name-to-directory remapping and a crash-safe temporary-store
// lifecycle.
type Pool struct {
	p *pool.Pool
}

// OpenPool opens or creates a pool rooted at dir, sweeping any
// temporary stores a crashed process left behind.
func OpenPool(dir string) (*Pool, error) {
	p, err := pool.Open(dir)
	if err != nil {
		return nil, err
	}
	return &Pool{p: p}, nil
}

// Create creates a named store in the pool.
func (p *Pool) Create(name string) (*Store, error) {
	st, err := p.p.Create(name)
	if err != nil {
		return nil, err
	}
	return wrapStore(st), nil
}

// Get returns the named store, opening it if needed.
func (p *Pool) Get(name string) (*Store, error) {
	st, err := p.p.Store(name)
	if err != nil {
		return nil, err
	}
	return wrapStore(st), nil
}

// Delete removes a named store and its directory.
func (p *Pool) Delete(name string) error { return p.p.Delete(name) }

// Active returns the active store name.
func (p *Pool) Active() string { return p.p.Active() }

// SetActive marks a name active.
func (p *Pool) SetActive(name string) error { return p.p.SetActive(name) }

// Switch atomically swaps the directories behind two names — the
// switch half of copy/switch compaction.
func (p *Pool) Switch(a, b string) error { return p.p.Switch(a, b) }

// ListStores returns every named store.
func (p *Pool) ListStores() []string { return p.p.ListStores() }

// Close closes every open store and persists the pool metadata.
func (p *Pool) Close() error { return p.p.Close() }

// TempStore is a rented anonymous store; Return deletes it.
type TempStore struct {
	rt *pool.RentedTemp
	s  *Store
}

// Store returns the rented store.
func (t *TempStore) Store() *Store { return t.s }

// Return hands the store back to the pool, which deletes it.
func (t *TempStore) Return() error { return t.rt.Return() }

// Rent leases an anonymous temporary store for scratch or staging
// work. Query execution does not rent one: SERVICE results are kept as
// in-memory rows.
func (p *Pool) Rent() (*TempStore, error) {
	rt, err := p.p.Rent()
	if err != nil {
		return nil, err
	}
	return &TempStore{rt: rt, s: wrapStore(rt.Store())}, nil
}

// CreateTemp leases a purpose-labeled temporary store.
func (p *Pool) CreateTemp(purpose string) (*TempStore, error) {
	rt, err := p.p.CreateTemp(purpose)
	if err != nil {
		return nil, err
	}
	return &TempStore{rt: rt, s: wrapStore(rt.Store())}, nil
}
