package pool

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/mercury/internal/store"
)

// Pool is a named collection of quad-store directories rooted at dir,
// with an "active" name and atomic name<->directory remapping.
type Pool struct {
	dir   string
	idGen IDGenerator

	mu   sync.Mutex
	meta meta
	open map[string]*store.Store // name -> already-opened Store
}

// Option configures a Pool at Open time.
type Option func(*Pool)

// WithIDGenerator overrides the default UUIDv7Generator — tests use
// this to get deterministic store directory names.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pool) { p.idGen = g }
}

// Open opens or creates a pool rooted at dir, sweeping any temp stores
// left checked-out by a process that never called Return (see temp.go).
func Open(dir string, opts ...Option) (*Pool, error) {
	if err := os.MkdirAll(filepath.Join(dir, "stores"), 0o755); err != nil {
		return nil, fmt.Errorf("pool: mkdir %s: %w", dir, err)
	}

	m, err := loadMeta(dir)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		dir:   dir,
		idGen: UUIDv7Generator{},
		meta:  m,
		open:  make(map[string]*store.Store),
	}
	for _, o := range opts {
		o(p)
	}

	if err := p.sweepOrphanedTemps(); err != nil {
		return nil, fmt.Errorf("pool: orphan sweep: %w", err)
	}

	return p, nil
}

func (p *Pool) storeDir(guid string) string {
	return filepath.Join(p.dir, "stores", guid)
}

// Create registers a new named store and returns it opened. Create
// fails if name already exists.
func (p *Pool) Create(name string) (*store.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.meta.Stores[name]; exists {
		return nil, fmt.Errorf("pool: store %q already exists", name)
	}
	if len(p.meta.Stores) >= p.meta.Settings.MaxPooledStores && p.meta.Settings.MaxPooledStores > 0 {
		return nil, fmt.Errorf("pool: at capacity (%d stores)", p.meta.Settings.MaxPooledStores)
	}

	guid := p.idGen.Generate()
	p.meta.Stores[name] = storeEntry{GUID: guid}
	if err := saveMeta(p.dir, p.meta); err != nil {
		delete(p.meta.Stores, name)
		return nil, err
	}

	s, err := store.Open(p.storeDir(guid))
	if err != nil {
		return nil, fmt.Errorf("pool: open new store %q: %w", name, err)
	}
	p.open[name] = s
	return s, nil
}

// Store returns the named store, opening it on first access. The
// returned *store.Store is cached for the life of the Pool.
func (p *Pool) Store(name string) (*store.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.open[name]; ok {
		return s, nil
	}

	entry, ok := p.meta.Stores[name]
	if !ok {
		return nil, fmt.Errorf("pool: no such store %q", name)
	}

	s, err := store.Open(p.storeDir(entry.GUID))
	if err != nil {
		return nil, fmt.Errorf("pool: open store %q: %w", name, err)
	}
	p.open[name] = s
	return s, nil
}

// Delete closes (if open) and permanently removes the named store.
func (p *Pool) Delete(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.meta.Stores[name]
	if !ok {
		return fmt.Errorf("pool: no such store %q", name)
	}

	if s, open := p.open[name]; open {
		if err := s.Close(); err != nil {
			return fmt.Errorf("pool: close %q before delete: %w", name, err)
		}
		delete(p.open, name)
	}

	delete(p.meta.Stores, name)
	if p.meta.Active == name {
		p.meta.Active = ""
	}
	if err := saveMeta(p.dir, p.meta); err != nil {
		return err
	}

	return os.RemoveAll(p.storeDir(entry.GUID))
}

// Active returns the current active store name, or "" if none is set.
func (p *Pool) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta.Active
}

// SetActive designates name as the active store. name must already
// exist.
func (p *Pool) SetActive(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.meta.Stores[name]; !ok {
		return fmt.Errorf("pool: no such store %q", name)
	}
	prev := p.meta.Active
	p.meta.Active = name
	if err := saveMeta(p.dir, p.meta); err != nil {
		p.meta.Active = prev
		return err
	}
	return nil
}

// Switch atomically exchanges the GUIDs that names a and b point to,
// so a caller can swap "primary" and "staging" without copying any
// store data — only the pool.json mapping changes. The active
// designation stays with its name: after compacting into a secondary
// and switching, the active name serves the compacted data.
func (p *Pool) Switch(a, b string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entryA, okA := p.meta.Stores[a]
	entryB, okB := p.meta.Stores[b]
	if !okA {
		return fmt.Errorf("pool: no such store %q", a)
	}
	if !okB {
		return fmt.Errorf("pool: no such store %q", b)
	}

	p.meta.Stores[a], p.meta.Stores[b] = entryB, entryA

	if err := saveMeta(p.dir, p.meta); err != nil {
		p.meta.Stores[a], p.meta.Stores[b] = entryA, entryB
		return err
	}

	// The *store.Store handles cached under p.open[a]/p.open[b] still
	// point at the right on-disk directories by GUID, independent of
	// which name currently maps to that GUID — nothing to reopen. A name
	// whose partner was never opened loses its cached handle, so Store
	// opens it on next access.
	sa, openA := p.open[a]
	sb, openB := p.open[b]
	delete(p.open, a)
	delete(p.open, b)
	if openB {
		p.open[a] = sb
	}
	if openA {
		p.open[b] = sa
	}
	return nil
}

// Close closes every store this Pool has opened.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, s := range p.open {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("pool: close %q: %w", name, err)
		}
	}
	p.open = make(map[string]*store.Store)
	return firstErr
}
