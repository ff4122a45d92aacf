package quad

import (
	"path/filepath"
	"testing"

	"github.com/roach88/mercury/internal/atom"
	"github.com/stretchr/testify/require"
)

func openTestBTree(t *testing.T) *btree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.idx")
	p, err := openPager(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.close() })
	return newBTree(p)
}

func makeKey(a, b, c, d, txID uint64) btreeKey {
	return encodeKey(components{atom.ID(a), atom.ID(b), atom.ID(c), atom.ID(d)}, txID)
}

func TestBTreeInsertAndScanSingle(t *testing.T) {
	bt := openTestBTree(t)

	k := makeKey(1, 2, 3, 4, 1)
	v := encodeValue(0, Infinite, 0)
	require.NoError(t, bt.Insert(k, v))

	var got []btreeKey
	require.NoError(t, bt.All(func(key btreeKey, value btreeValue) bool {
		got = append(got, key)
		return true
	}))
	require.Len(t, got, 1)
	require.Equal(t, k, got[0])
}

func TestBTreeScanOrdersByKey(t *testing.T) {
	bt := openTestBTree(t)

	keys := []btreeKey{
		makeKey(3, 0, 0, 0, 1),
		makeKey(1, 0, 0, 0, 1),
		makeKey(2, 0, 0, 0, 1),
	}
	for _, k := range keys {
		require.NoError(t, bt.Insert(k, encodeValue(0, Infinite, 0)))
	}

	var got []btreeKey
	require.NoError(t, bt.All(func(key btreeKey, value btreeValue) bool {
		got = append(got, key)
		return true
	}))

	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		require.True(t, keyLess(got[i-1], got[i]) || keyEqual(got[i-1], got[i]))
	}
}

func TestBTreeInsertManyTriggersSplits(t *testing.T) {
	bt := openTestBTree(t)

	const n = 5000
	for i := 0; i < n; i++ {
		k := makeKey(uint64(i), 0, 0, 0, 1)
		require.NoError(t, bt.Insert(k, encodeValue(0, Infinite, 0)))
	}

	count := 0
	var last btreeKey
	first := true
	require.NoError(t, bt.All(func(key btreeKey, value btreeValue) bool {
		if !first {
			require.True(t, keyLess(last, key), "keys must be strictly increasing")
		}
		last = key
		first = false
		count++
		return true
	}))
	require.Equal(t, n, count)
}

func TestBTreeScanRangeIsExclusiveOfOutOfRangeKeys(t *testing.T) {
	bt := openTestBTree(t)

	for i := 0; i < 20; i++ {
		require.NoError(t, bt.Insert(makeKey(uint64(i), 0, 0, 0, 1), encodeValue(0, Infinite, 0)))
	}

	lo := makeKey(5, 0, 0, 0, 0)
	hi := makeKey(10, 0, 0, 0, ^uint64(0))

	var got []uint64
	require.NoError(t, bt.Scan(lo, hi, func(key btreeKey, value btreeValue) bool {
		c, _ := decodeKey(key)
		got = append(got, uint64(c[0]))
		return true
	}))

	require.Equal(t, []uint64{5, 6, 7, 8, 9, 10}, got)
}

func TestBTreeDuplicateKeyRejected(t *testing.T) {
	bt := openTestBTree(t)
	k := makeKey(1, 1, 1, 1, 1)
	require.NoError(t, bt.Insert(k, encodeValue(0, Infinite, 0)))
	require.Error(t, bt.Insert(k, encodeValue(0, Infinite, 0)))
}
