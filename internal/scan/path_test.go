package scan

import (
	"testing"

	"github.com/roach88/mercury/internal/atom"
	"github.com/stretchr/testify/require"
)

func TestPathScanOneOrMoreFollowsChain(t *testing.T) {
	s, id := testStore(t, [][3]string{
		{"a", "next", "b"},
		{"b", "next", "c"},
		{"c", "next", "d"},
	})

	rt := s.AcquireReadLock()
	defer rt.ReleaseReadLock()

	path := &Path{Kind: PathOneOrMore, Children: []*Path{{Kind: PathPredicate, Pred: id("next")}}}
	tbl := NewTable(1)
	sc := NewPathScan(rt, Constant(atom.Unbound), path, Constant(id("a")), Variable(0))

	rows := drain(t, sc, tbl, 0)
	got := map[atom.ID]bool{}
	for _, r := range rows {
		got[r[0]] = true
	}
	require.Len(t, rows, 3)
	require.True(t, got[id("b")] && got[id("c")] && got[id("d")])
}

func TestPathScanOneOrMoreTerminatesOnCycle(t *testing.T) {
	s, id := testStore(t, [][3]string{
		{"a", "next", "b"},
		{"b", "next", "a"},
	})

	rt := s.AcquireReadLock()
	defer rt.ReleaseReadLock()

	path := &Path{Kind: PathOneOrMore, Children: []*Path{{Kind: PathPredicate, Pred: id("next")}}}
	tbl := NewTable(1)
	sc := NewPathScan(rt, Constant(atom.Unbound), path, Constant(id("a")), Variable(0))

	rows := drain(t, sc, tbl, 0)
	require.Len(t, rows, 2) // b and a itself, each exactly once
}

func TestPathScanZeroOrMoreIncludesZeroLength(t *testing.T) {
	s, id := testStore(t, [][3]string{
		{"a", "next", "b"},
	})

	rt := s.AcquireReadLock()
	defer rt.ReleaseReadLock()

	path := &Path{Kind: PathZeroOrMore, Children: []*Path{{Kind: PathPredicate, Pred: id("next")}}}
	tbl := NewTable(1)
	sc := NewPathScan(rt, Constant(atom.Unbound), path, Constant(id("a")), Variable(0))

	rows := drain(t, sc, tbl, 0)
	got := map[atom.ID]bool{}
	for _, r := range rows {
		got[r[0]] = true
	}
	require.Len(t, rows, 2)
	require.True(t, got[id("a")] && got[id("b")])
}

func TestPathScanSequence(t *testing.T) {
	s, id := testStore(t, [][3]string{
		{"a", "p", "m"},
		{"m", "q", "z"},
		{"m", "q", "w"},
	})

	rt := s.AcquireReadLock()
	defer rt.ReleaseReadLock()

	path := &Path{Kind: PathSequence, Children: []*Path{
		{Kind: PathPredicate, Pred: id("p")},
		{Kind: PathPredicate, Pred: id("q")},
	}}
	tbl := NewTable(1)
	sc := NewPathScan(rt, Constant(atom.Unbound), path, Constant(id("a")), Variable(0))

	rows := drain(t, sc, tbl, 0)
	require.Len(t, rows, 2)
}

func TestPathScanInverse(t *testing.T) {
	s, id := testStore(t, [][3]string{
		{"child", "parentOf", "x"},
	})

	rt := s.AcquireReadLock()
	defer rt.ReleaseReadLock()

	path := &Path{Kind: PathInverse, Children: []*Path{{Kind: PathPredicate, Pred: id("parentOf")}}}
	tbl := NewTable(1)
	sc := NewPathScan(rt, Constant(atom.Unbound), path, Constant(id("x")), Variable(0))

	rows := drain(t, sc, tbl, 0)
	require.Equal(t, [][]atom.ID{{id("child")}}, rows)
}

func TestPathScanAlternative(t *testing.T) {
	s, id := testStore(t, [][3]string{
		{"a", "p", "b"},
		{"a", "q", "c"},
		{"a", "r", "d"},
	})

	rt := s.AcquireReadLock()
	defer rt.ReleaseReadLock()

	path := &Path{Kind: PathAlternative, Children: []*Path{
		{Kind: PathPredicate, Pred: id("p")},
		{Kind: PathPredicate, Pred: id("q")},
	}}
	tbl := NewTable(1)
	sc := NewPathScan(rt, Constant(atom.Unbound), path, Constant(id("a")), Variable(0))

	rows := drain(t, sc, tbl, 0)
	require.Len(t, rows, 2)
}

func TestPathScanNegatedSet(t *testing.T) {
	s, id := testStore(t, [][3]string{
		{"a", "p", "b"},
		{"a", "q", "c"},
	})

	rt := s.AcquireReadLock()
	defer rt.ReleaseReadLock()

	path := &Path{Kind: PathNegatedSet, Negated: []atom.ID{id("p")}}
	tbl := NewTable(1)
	sc := NewPathScan(rt, Constant(atom.Unbound), path, Constant(id("a")), Variable(0))

	rows := drain(t, sc, tbl, 0)
	require.Equal(t, [][]atom.ID{{id("c")}}, rows)
}

func TestPathScanZeroOrOneWithBothEndpointsOpen(t *testing.T) {
	s, id := testStore(t, [][3]string{
		{"a", "p", "b"},
	})

	rt := s.AcquireReadLock()
	defer rt.ReleaseReadLock()

	path := &Path{Kind: PathZeroOrOne, Children: []*Path{{Kind: PathPredicate, Pred: id("p")}}}
	tbl := NewTable(2)
	sc := NewPathScan(rt, Constant(atom.Unbound), path, Variable(0), Variable(1))

	rows := drain(t, sc, tbl, 0, 1)
	// Zero-length pairs (a,a), (b,b), (p,p is not a node) plus (a,b).
	require.Len(t, rows, 3)
	require.Contains(t, rows, []atom.ID{id("a"), id("b")})
	require.Contains(t, rows, []atom.ID{id("a"), id("a")})
	require.Contains(t, rows, []atom.ID{id("b"), id("b")})
}
