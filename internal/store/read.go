package store

import (
	"time"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/quad"
)

// ReadTxn is a snapshot read transaction: AsOfTxID is fixed once,
// when the ReadTxn is created, and every Scan call against it observes
// exactly that snapshot regardless of writes that commit afterward.
type ReadTxn struct {
	store    *Store
	validAt  uint64
	asOfTxID uint64
	released bool
}

// AcquireReadLock takes the store's read lock and returns a ReadTxn
// snapshotting the latest committed transaction, with ValidAt pinned
// to the current wall-clock time. The default-valid-time window used
// by AddCurrent ([0, Infinite]) always contains "now", so this is the
// right default for non-bitemporal callers.
func (s *Store) AcquireReadLock() *ReadTxn {
	return s.AcquireReadLockAt(uint64(time.Now().UnixNano()))
}

// AcquireReadLockAt is AcquireReadLock with an explicit valid-time
// point, for bitemporal queries that need to see the graph as of a
// specific application time rather than "now".
func (s *Store) AcquireReadLockAt(validAt uint64) *ReadTxn {
	s.mu.RLock()
	return &ReadTxn{
		store:    s,
		validAt:  validAt,
		asOfTxID: s.committedTxID.Load(),
	}
}

// ReleaseReadLock releases the store's read lock. Every ReadTxn
// returned by AcquireReadLock(At) must be released exactly once.
func (rt *ReadTxn) ReleaseReadLock() {
	if rt.released {
		panic("store: read lock released twice")
	}
	rt.released = true
	rt.store.mu.RUnlock()
}

// AsOfTxID returns the transaction ID this read transaction is
// pinned to.
func (rt *ReadTxn) AsOfTxID() uint64 { return rt.asOfTxID }

// Scan visits every quad matching pattern, visible at this read
// transaction's pinned (ValidAt, AsOfTxID) snapshot, using whichever
// permutation index gives the tightest contiguous range for the
// pattern's bound components. Quads inside that range that differ in a
// bound component past the range's prefix are visited too; callers
// re-check the bound components.
func (rt *ReadTxn) Scan(pattern quad.Pattern, visit func(quad.Quad) bool) error {
	perm := selectPermutation(pattern)
	return rt.store.index(perm).Scan(pattern, rt.validAt, rt.asOfTxID, visit)
}

// GetNamedGraphs returns every distinct non-default graph IRI
// currently in use, as of a fresh snapshot.
func (s *Store) GetNamedGraphs() ([]atom.ID, error) {
	rt := s.AcquireReadLock()
	defer rt.ReleaseReadLock()

	seen := make(map[atom.ID]bool)
	var graphs []atom.ID
	err := rt.Scan(quad.Pattern{}, func(q quad.Quad) bool {
		if q.Graph != atom.Unbound && !seen[q.Graph] {
			seen[q.Graph] = true
			graphs = append(graphs, q.Graph)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return graphs, nil
}

// selectPermutation picks whichever permutation index gives the
// longest contiguous key prefix for pattern. A pattern whose graph is a
// wildcard has no bound prefix in the graph-aware family, so its scan
// walks that whole index. Patterns
// naming the default graph explicitly (Graph pointing
// at atom.Unbound) prefer the denser graph-free SPO family; everything
// else goes to the graph-aware GSPO family, which holds quads from
// every graph including the default one.
func selectPermutation(p quad.Pattern) quad.Permutation {
	useDefaultFamily := p.Graph != nil && *p.Graph == atom.Unbound

	switch {
	case p.Subject != nil && p.Predicate != nil:
		if useDefaultFamily {
			return quad.PermSPO
		}
		return quad.PermGSPO
	case p.Predicate != nil && p.Object != nil:
		if useDefaultFamily {
			return quad.PermPOS
		}
		return quad.PermGPOS
	case p.Object != nil && p.Subject != nil:
		if useDefaultFamily {
			return quad.PermOSP
		}
		return quad.PermGOSP
	case p.Subject != nil:
		if useDefaultFamily {
			return quad.PermSPO
		}
		return quad.PermGSPO
	case p.Predicate != nil:
		if useDefaultFamily {
			return quad.PermPOS
		}
		return quad.PermGPOS
	case p.Object != nil:
		if useDefaultFamily {
			return quad.PermOSP
		}
		return quad.PermGOSP
	default:
		if useDefaultFamily {
			return quad.PermSPO
		}
		return quad.PermGSPO
	}
}
