package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/quad"
	"github.com/roach88/mercury/internal/wal"
)

// allPermutations lists every permutation a Store keeps open, in the
// order internal/quad declares them.
var allPermutations = [...]quad.Permutation{
	quad.PermSPO, quad.PermPOS, quad.PermOSP,
	quad.PermGSPO, quad.PermGPOS, quad.PermGOSP,
}

// Store is one Mercury quad-store directory: an atom interner, six
// permutation indexes, and a write-ahead log, coordinated under a
// single reader/writer lock.
type Store struct {
	dir string

	atoms   *atom.Store
	indexes map[quad.Permutation]*quad.Index
	wal     *wal.Log

	mu sync.RWMutex

	// committedTxID is the highest TransactionID whose mutations have
	// been applied to the index pages. New read transactions snapshot
	// this value once, at lock-acquisition time.
	committedTxID atomic.Uint64

	closed bool
}

// Open opens or creates a store rooted at dir, replaying any
// WAL-durable transactions that were not yet checkpointed before the
// last close (or crash).
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}

	atoms, err := atom.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("store: open atom store: %w", err)
	}

	indexes := make(map[quad.Permutation]*quad.Index, len(allPermutations))
	for _, perm := range allPermutations {
		ix, err := quad.OpenIndex(dir, perm)
		if err != nil {
			atoms.Close()
			for _, opened := range indexes {
				opened.Close()
			}
			return nil, fmt.Errorf("store: open index %s: %w", perm, err)
		}
		indexes[perm] = ix
	}

	log, err := wal.Open(filepath.Join(dir, "wal"))
	if err != nil {
		atoms.Close()
		for _, ix := range indexes {
			ix.Close()
		}
		return nil, fmt.Errorf("store: open wal: %w", err)
	}

	s := &Store{dir: dir, atoms: atoms, indexes: indexes, wal: log}

	lastCheckpointTxID, err := s.recover()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("store: recovery: %w", err)
	}
	s.committedTxID.Store(maxUint64(lastCheckpointTxID, log.LastTxID()))

	return s, nil
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// index returns the open index for perm. Panics on an unknown
// permutation, which would indicate a programming error — every
// Permutation value is opened in Open.
func (s *Store) index(perm quad.Permutation) *quad.Index {
	ix, ok := s.indexes[perm]
	if !ok {
		panic(fmt.Sprintf("store: no index open for permutation %s", perm))
	}
	return ix
}

// applyMutation writes q into every index that should hold it: the
// three graph-aware indexes always, plus the three default-graph-only
// indexes when q.Graph is the default graph. Duplicate-key errors
// (quad.ErrDuplicateKey) are swallowed — see recover's doc comment for
// why that is the expected outcome, not a bug, during WAL replay.
func (s *Store) applyMutation(q quad.Quad) error {
	for _, perm := range [...]quad.Permutation{quad.PermGSPO, quad.PermGPOS, quad.PermGOSP} {
		if err := s.index(perm).Insert(q); err != nil && !errors.Is(err, quad.ErrDuplicateKey) {
			return fmt.Errorf("store: apply to %s: %w", perm, err)
		}
	}
	if q.Graph == atom.Unbound {
		for _, perm := range [...]quad.Permutation{quad.PermSPO, quad.PermPOS, quad.PermOSP} {
			if err := s.index(perm).Insert(q); err != nil && !errors.Is(err, quad.ErrDuplicateKey) {
				return fmt.Errorf("store: apply to %s: %w", perm, err)
			}
		}
	}
	return nil
}

// Flush syncs every mmap'd file (atoms, all six indexes) to stable
// storage without rewriting the store-level recovery header or
// touching the WAL. Use Checkpoint to additionally mark those
// mutations as not needing replay.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if err := s.atoms.Flush(); err != nil {
		return fmt.Errorf("store: flush atoms: %w", err)
	}
	for _, perm := range allPermutations {
		if err := s.index(perm).Flush(); err != nil {
			return fmt.Errorf("store: flush index %s: %w", perm, err)
		}
	}
	return nil
}

// Checkpoint flushes every backing file, records the current
// committed transaction ID as durably applied, and truncates the WAL.
// Mercury's checkpoint is always whole-store, so the safe truncation
// point is always the latest committed transaction.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.atoms.Checkpoint(); err != nil {
		return fmt.Errorf("store: checkpoint atoms: %w", err)
	}
	for _, perm := range allPermutations {
		if err := s.index(perm).Flush(); err != nil {
			return fmt.Errorf("store: checkpoint index %s: %w", perm, err)
		}
	}

	lastTxID := s.committedTxID.Load()
	if err := writeStoreHeader(filepath.Join(s.dir, "header"), storeHeader{lastCheckpointTxID: lastTxID}); err != nil {
		return fmt.Errorf("store: checkpoint header: %w", err)
	}
	return s.wal.Reset()
}

// LookupAtom returns the term bytes for id. The returned slice is a
// fresh copy owned by the caller.
func (s *Store) LookupAtom(id atom.ID) ([]byte, error) {
	return s.atoms.Lookup(id)
}

// FindAtom resolves term bytes to an already-interned ID without
// interning anything. A miss means no quad in this store can involve
// the term.
func (s *Store) FindAtom(term []byte) (atom.ID, bool, error) {
	return s.atoms.Find(term)
}

// InternAtom interns term, assigning a new ID if it has never been
// seen. Callers outside a WriteTxn should prefer FindAtom; interning
// belongs on the write path.
func (s *Store) InternAtom(term []byte) (atom.ID, error) {
	return s.atoms.Intern(term)
}

// Compact physically rebuilds every permutation index in place,
// dropping soft-deleted records and superseded versions whose
// transaction ID is below retainSinceTxID. Runs under the write lock;
// readers that acquire afterwards see the identical logical contents
// minus the reclaimed history.
func (s *Store) Compact(retainSinceTxID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store: compact on closed store")
	}
	for _, perm := range allPermutations {
		if err := s.index(perm).Compact(retainSinceTxID); err != nil {
			return fmt.Errorf("store: compact index %s: %w", perm, err)
		}
	}
	return nil
}

// Close checkpoints the store and releases every backing file. Close
// is idempotent; a second call is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(s.Checkpoint())
	record(s.atoms.Close())
	for _, perm := range allPermutations {
		record(s.index(perm).Close())
	}
	record(s.wal.Close())
	return firstErr
}
