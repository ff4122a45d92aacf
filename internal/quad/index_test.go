package quad

import (
	"testing"

	"github.com/roach88/mercury/internal/atom"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T, perm Permutation) *Index {
	t.Helper()
	dir := t.TempDir()
	ix, err := OpenIndex(dir, perm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestIndexInsertAndScanExactMatch(t *testing.T) {
	ix := openTestIndex(t, PermGSPO)

	q := Quad{
		Graph: 1, Subject: 10, Predicate: 20, Object: 30,
		TransactionID: 1, ValidFrom: 0, ValidTo: Infinite,
	}
	require.NoError(t, ix.Insert(q))

	g, s, p, o := atom.ID(1), atom.ID(10), atom.ID(20), atom.ID(30)
	pattern := Pattern{Graph: &g, Subject: &s, Predicate: &p, Object: &o}

	var found []Quad
	require.NoError(t, ix.Scan(pattern, 0, ^uint64(0), func(q Quad) bool {
		found = append(found, q)
		return true
	}))

	require.Len(t, found, 1)
	require.Equal(t, q, found[0])
}

func TestIndexSoftDeleteHidesLatestVersion(t *testing.T) {
	ix := openTestIndex(t, PermGSPO)

	base := Quad{Graph: 1, Subject: 10, Predicate: 20, Object: 30, TransactionID: 1, ValidFrom: 0, ValidTo: Infinite}
	require.NoError(t, ix.Insert(base))

	tombstone := base
	tombstone.TransactionID = 2
	tombstone.Flags = FlagSoftDelete
	require.NoError(t, ix.Insert(tombstone))

	g, s, p, o := atom.ID(1), atom.ID(10), atom.ID(20), atom.ID(30)
	pattern := Pattern{Graph: &g, Subject: &s, Predicate: &p, Object: &o}

	var foundAtLatest []Quad
	require.NoError(t, ix.Scan(pattern, 0, ^uint64(0), func(q Quad) bool {
		foundAtLatest = append(foundAtLatest, q)
		return true
	}))
	require.Empty(t, foundAtLatest, "soft-deleted latest version must not be visible")

	var foundBeforeDelete []Quad
	require.NoError(t, ix.Scan(pattern, 0, 1, func(q Quad) bool {
		foundBeforeDelete = append(foundBeforeDelete, q)
		return true
	}))
	require.Len(t, foundBeforeDelete, 1, "AsOf before the delete transaction must still see it")
}

func TestIndexBitemporalValidTimeWindow(t *testing.T) {
	ix := openTestIndex(t, PermGSPO)

	q := Quad{Graph: 1, Subject: 10, Predicate: 20, Object: 30, TransactionID: 1, ValidFrom: 100, ValidTo: 200}
	require.NoError(t, ix.Insert(q))

	g, s, p, o := atom.ID(1), atom.ID(10), atom.ID(20), atom.ID(30)
	pattern := Pattern{Graph: &g, Subject: &s, Predicate: &p, Object: &o}

	var inWindow []Quad
	require.NoError(t, ix.Scan(pattern, 150, ^uint64(0), func(q Quad) bool {
		inWindow = append(inWindow, q)
		return true
	}))
	require.Len(t, inWindow, 1)

	var outOfWindow []Quad
	require.NoError(t, ix.Scan(pattern, 250, ^uint64(0), func(q Quad) bool {
		outOfWindow = append(outOfWindow, q)
		return true
	}))
	require.Empty(t, outOfWindow)
}

func TestIndexPartialPatternScansMultipleMatches(t *testing.T) {
	ix := openTestIndex(t, PermGSPO)

	require.NoError(t, ix.Insert(Quad{Graph: 1, Subject: 10, Predicate: 20, Object: 30, TransactionID: 1, ValidTo: Infinite}))
	require.NoError(t, ix.Insert(Quad{Graph: 1, Subject: 10, Predicate: 21, Object: 31, TransactionID: 2, ValidTo: Infinite}))
	require.NoError(t, ix.Insert(Quad{Graph: 1, Subject: 11, Predicate: 20, Object: 32, TransactionID: 3, ValidTo: Infinite}))

	g, s := atom.ID(1), atom.ID(10)
	pattern := Pattern{Graph: &g, Subject: &s}

	var found []Quad
	require.NoError(t, ix.Scan(pattern, 0, ^uint64(0), func(q Quad) bool {
		found = append(found, q)
		return true
	}))
	require.Len(t, found, 2)
}

func TestIndexRejectsNonDefaultGraphOnUnawarePermutation(t *testing.T) {
	ix := openTestIndex(t, PermSPO)
	err := ix.Insert(Quad{Graph: 5, Subject: 1, Predicate: 2, Object: 3, TransactionID: 1, ValidTo: Infinite})
	require.Error(t, err)
}

func TestIndexCompactDropsSupersededHistoryBeforeHorizon(t *testing.T) {
	ix := openTestIndex(t, PermGSPO)

	base := Quad{Graph: 1, Subject: 10, Predicate: 20, Object: 30, TransactionID: 1, ValidTo: Infinite}
	require.NoError(t, ix.Insert(base))
	tombstone := base
	tombstone.TransactionID = 2
	tombstone.Flags = FlagSoftDelete
	require.NoError(t, ix.Insert(tombstone))

	other := Quad{Graph: 1, Subject: 11, Predicate: 20, Object: 33, TransactionID: 3, ValidTo: Infinite}
	require.NoError(t, ix.Insert(other))

	require.NoError(t, ix.Compact(10))

	var all []btreeKey
	require.NoError(t, ix.t.All(func(key btreeKey, value btreeValue) bool {
		all = append(all, key)
		return true
	}))
	// The (10,20,30) coordinate's history ends in a tombstone and is
	// physically reclaimed; the (11,20,33) coordinate is untouched.
	require.Len(t, all, 1)
}
