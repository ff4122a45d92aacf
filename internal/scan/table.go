package scan

import (
	"hash/fnv"

	"github.com/roach88/mercury/internal/atom"
)

// Table is the binding table one query execution threads through its
// scan pipeline: a dense mapping from variable position (the integer
// the parser interned each variable name to) to the atom ID currently
// bound at that position. atom.Unbound means the variable has no value
// in the current row.
//
// A Table is owned by exactly one execution and is mutated in place by
// every MoveNext call; it is never shared across goroutines.
type Table struct {
	vals  []atom.ID
	names []string
}

// NewTable returns a table with capacity for n variables, all unbound.
func NewTable(n int) *Table {
	return &Table{vals: make([]atom.ID, n)}
}

// Len returns the number of variable positions.
func (t *Table) Len() int { return len(t.vals) }

// Get returns the binding at position i, or atom.Unbound.
func (t *Table) Get(i int) atom.ID { return t.vals[i] }

// Bound reports whether position i currently has a value.
func (t *Table) Bound(i int) bool { return t.vals[i] != atom.Unbound }

// Set binds position i to v.
func (t *Table) Set(i int, v atom.ID) { t.vals[i] = v }

// Clear unbinds position i.
func (t *Table) Clear(i int) { t.vals[i] = atom.Unbound }

// ClearAll unbinds every listed position.
func (t *Table) ClearAll(vars []int) {
	for _, v := range vars {
		t.vals[v] = atom.Unbound
	}
}

// Snapshot copies the current row into dst, growing it if needed, and
// returns it. Used at materialization boundaries, where rows outlive
// the pipeline that produced them.
func (t *Table) Snapshot(dst []atom.ID) []atom.ID {
	if cap(dst) < len(t.vals) {
		dst = make([]atom.ID, len(t.vals))
	}
	dst = dst[:len(t.vals)]
	copy(dst, t.vals)
	return dst
}

// Restore overwrites the table with a previously snapshotted row.
func (t *Table) Restore(row []atom.ID) {
	copy(t.vals, row)
	for i := len(row); i < len(t.vals); i++ {
		t.vals[i] = atom.Unbound
	}
}

// SetName records the source-text name of position i, for diagnostics.
func (t *Table) SetName(i int, name string) {
	for len(t.names) <= i {
		t.names = append(t.names, "")
	}
	t.names[i] = name
}

// Name returns the recorded name of position i, or "".
func (t *Table) Name(i int) string {
	if i < len(t.names) {
		return t.names[i]
	}
	return ""
}

// ByNameHash returns the position whose recorded name has the given
// FNV-1a hash. Debugging aid only; execution always addresses
// variables by position.
func (t *Table) ByNameHash(h uint64) (int, bool) {
	for i, n := range t.names {
		if n != "" && NameHash(n) == h {
			return i, true
		}
	}
	return 0, false
}

// NameHash hashes a variable name for ByNameHash lookups.
func NameHash(name string) uint64 {
	f := fnv.New64a()
	f.Write([]byte(name))
	return f.Sum64()
}
