package quad

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/mercury/internal/atom"
)

// Pattern describes a triple/quad pattern's bound components for one
// permutation, using nil to mean "wildcard" for that position. Only a
// prefix of bound components (in the permutation's own component order)
// can be turned into a contiguous key range; any wildcard found before a
// bound component degrades that component to a full-range scan too.
type Pattern struct {
	Graph     *atom.ID
	Subject   *atom.ID
	Predicate *atom.ID
	Object    *atom.ID
}

// Index is one quad-index permutation: a B+Tree of (permuted components,
// transaction ID) -> (ValidFrom, ValidTo, Flags), backed by its own page
// file. A QuadStore (internal/store) owns six of these, one per
// Permutation.
type Index struct {
	perm Permutation
	p    *pager
	t    *btree
}

// OpenIndex opens or creates the page file for permutation perm under
// dir, named after the permutation (e.g. "index.gspo").
func OpenIndex(dir string, perm Permutation) (*Index, error) {
	path := filepath.Join(dir, indexFileName(perm))
	p, err := openPager(path)
	if err != nil {
		return nil, err
	}
	return &Index{perm: perm, p: p, t: newBTree(p)}, nil
}

func indexFileName(perm Permutation) string {
	switch perm {
	case PermSPO:
		return "index.spo"
	case PermPOS:
		return "index.pos"
	case PermOSP:
		return "index.osp"
	case PermGSPO:
		return "index.gspo"
	case PermGPOS:
		return "index.gpos"
	case PermGOSP:
		return "index.gosp"
	default:
		panic("quad: unknown permutation")
	}
}

// Insert appends a new version record for q. It does not check for an
// existing logically-equivalent live record — callers (internal/store)
// are responsible for assigning a fresh, strictly increasing
// TransactionID per write, which is what keeps every inserted key
// distinct even when (Graph, Subject, Predicate, Object) repeats.
func (ix *Index) Insert(q Quad) error {
	if !ix.perm.isGraphAware() && q.Graph != 0 {
		return fmt.Errorf("quad: permutation %s only indexes the default graph, got graph %d", ix.perm, q.Graph)
	}
	c := permute(q, ix.perm)
	key := encodeKey(c, q.TransactionID)
	value := encodeValue(q.ValidFrom, q.ValidTo, q.Flags)
	return ix.t.Insert(key, value)
}

// Scan visits every quad matching pattern that is visible at
// (validAt, asOfTxID). It walks the key range from rangeFor and does not
// check bound components past that range's prefix, so non-matching
// quads inside the range are visited as well. For each distinct (Graph, Subject, Predicate, Object)
// coordinate, only the latest version with TransactionID <= asOfTxID is
// considered — earlier or later versions of the same coordinate are not
// independently visited.
func (ix *Index) Scan(pattern Pattern, validAt, asOfTxID uint64, visit func(Quad) bool) error {
	lo, hi := ix.rangeFor(pattern)

	var groupKey components
	haveGroup := false
	var bestTxID uint64
	var bestValue btreeValue
	var bestValid bool

	flush := func() bool {
		if !haveGroup || !bestValid {
			return true
		}
		g, s, p, o := unpermute(ix.perm, groupKey)
		validFrom, validTo, flags := decodeValue(bestValue)
		q := Quad{
			Graph: g, Subject: s, Predicate: p, Object: o,
			TransactionID: bestTxID, ValidFrom: validFrom, ValidTo: validTo, Flags: flags,
		}
		if !q.VisibleAt(validAt, asOfTxID) {
			return true
		}
		return visit(q)
	}

	stopped := false
	err := ix.t.Scan(lo, hi, func(key btreeKey, value btreeValue) bool {
		c, txID := decodeKey(key)
		if !haveGroup || c != groupKey {
			if haveGroup {
				if !flush() {
					stopped = true
					return false
				}
			}
			groupKey = c
			haveGroup = true
			bestValid = false
		}
		if txID <= asOfTxID {
			bestTxID = txID
			bestValue = value
			bestValid = true
		}
		return true
	})
	if err != nil {
		return err
	}
	if !stopped && haveGroup {
		flush()
	}
	return nil
}

// rangeFor computes the tightest contiguous key range for pattern,
// honoring this index's component order: a component can only
// contribute an exact bound if every component before it (in this
// permutation's order) is also bound.
func (ix *Index) rangeFor(pattern Pattern) (btreeKey, btreeKey) {
	bound := [4]*atom.ID{}
	switch ix.perm {
	case PermSPO:
		bound = [4]*atom.ID{nil, pattern.Subject, pattern.Predicate, pattern.Object}
	case PermPOS:
		bound = [4]*atom.ID{nil, pattern.Predicate, pattern.Object, pattern.Subject}
	case PermOSP:
		bound = [4]*atom.ID{nil, pattern.Object, pattern.Subject, pattern.Predicate}
	case PermGSPO:
		bound = [4]*atom.ID{pattern.Graph, pattern.Subject, pattern.Predicate, pattern.Object}
	case PermGPOS:
		bound = [4]*atom.ID{pattern.Graph, pattern.Predicate, pattern.Object, pattern.Subject}
	case PermGOSP:
		bound = [4]*atom.ID{pattern.Graph, pattern.Object, pattern.Subject, pattern.Predicate}
	}
	if !ix.perm.isGraphAware() {
		zero := atom.ID(0)
		bound[0] = &zero
	}

	var loC, hiC components
	for i := 0; i < 4; i++ {
		if bound[i] != nil {
			loC[i] = *bound[i]
			hiC[i] = *bound[i]
			continue
		}
		for j := i; j < 4; j++ {
			loC[j] = atom.ID(0)
			hiC[j] = atom.ID(^uint64(0))
		}
		break
	}

	lo := encodeKey(loC, 0)
	hi := encodeKey(hiC, ^uint64(0))
	return lo, hi
}

// Compact rebuilds this index's page file keeping every record with
// TransactionID > retainSinceTxID, plus — for every distinct coordinate
// whose most recent record at or before retainSinceTxID would otherwise
// be discarded — that single most recent record, so that AsOf queries
// at or after retainSinceTxID still resolve correctly. Compaction is
// copy/switch: a fresh file is built and then swapped in, never
// mutated page-by-page.
func (ix *Index) Compact(retainSinceTxID uint64) error {
	type groupState struct {
		key   components
		txID  uint64
		value btreeValue
		has   bool
	}

	var kept []leafEntry
	var cur groupState

	flush := func() {
		if !cur.has {
			return
		}
		// A collapsed history that ends in a tombstone leaves nothing
		// to keep: this is where soft-deleted records are physically
		// reclaimed.
		if _, _, flags := decodeValue(cur.value); flags&FlagSoftDelete != 0 {
			return
		}
		kept = append(kept, leafEntry{key: encodeKey(cur.key, cur.txID), value: cur.value})
	}

	err := ix.t.All(func(key btreeKey, value btreeValue) bool {
		c, txID := decodeKey(key)
		if txID > retainSinceTxID {
			kept = append(kept, leafEntry{key: key, value: value})
			return true
		}
		if !cur.has || cur.key != c {
			flush()
			cur = groupState{key: c, txID: txID, value: value, has: true}
		} else if txID > cur.txID {
			cur.txID = txID
			cur.value = value
		}
		return true
	})
	if err != nil {
		return err
	}
	flush()

	return ix.rebuild(kept)
}

// rebuild loads entries into a fresh page file with ordinary B+Tree
// inserts, so they need not arrive sorted (Compact's list is not when a
// coordinate has records on both sides of the horizon), and then
// switches the new file in for this index.
func (ix *Index) rebuild(entries []leafEntry) error {
	tmpPath := ix.p.region.f.Name() + ".compact.tmp"
	_ = os.Remove(tmpPath)

	tmpPager, err := openPager(tmpPath)
	if err != nil {
		return err
	}
	tmpTree := newBTree(tmpPager)
	for _, e := range entries {
		if err := tmpTree.Insert(e.key, e.value); err != nil {
			tmpPager.close()
			os.Remove(tmpPath)
			return fmt.Errorf("quad: compact rebuild: %w", err)
		}
	}
	if err := tmpPager.sync(); err != nil {
		tmpPager.close()
		os.Remove(tmpPath)
		return err
	}
	finalPath := ix.p.region.f.Name()
	if err := tmpPager.close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := ix.p.close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("quad: compact switch: %w", err)
	}

	reopened, err := openPager(finalPath)
	if err != nil {
		return err
	}
	ix.p = reopened
	ix.t = newBTree(reopened)
	return nil
}

func (ix *Index) Flush() error {
	return ix.p.sync()
}

func (ix *Index) Close() error {
	return ix.p.close()
}
