package scan

import (
	"github.com/roach88/mercury/internal/atom"
)

// Scan is the uniform iterator contract every access operator
// implements: MoveNext advances to the next solution, updating the
// binding table in place, and returns false at end of stream; Dispose
// releases any pooled buffer the scan holds.
//
// This is a sealed interface - only types in this package implement
// it. The marker method pattern prevents external implementations and
// enables exhaustive type switches in the executor.
//
// Every implementation maintains one shared invariant: when MoveNext
// returns false, the scan has unbound every variable it bound. That is
// what lets the composite scans (join, union, optional, minus) restart
// an inner pipeline for the next outer row without snapshotting the
// whole table.
type Scan interface {
	MoveNext(tbl *Table) (bool, error)
	Dispose()
	scanNode() // Marker method - seals interface to this package
}

// Factory builds a fresh scan pipeline. Composite scans use factories
// for their inner side so the inner pipeline can be re-opened once per
// outer row, picking up the outer row's bindings from the table at its
// first MoveNext.
type Factory func() Scan

// Position is one slot of a triple/quad pattern: either a constant
// atom ID or a variable position in the binding table. For the graph
// slot, Any marks a pattern that ranges over every graph (default
// included) without binding anything.
type Position struct {
	IsVar bool
	Any   bool
	Var   int
	Const atom.ID
}

// Constant returns a position fixed to id. Constant(atom.Unbound) in
// the graph slot means "the default graph".
func Constant(id atom.ID) Position { return Position{Const: id} }

// Variable returns a position bound to table position v.
func Variable(v int) Position { return Position{IsVar: true, Var: v} }

// AnyGraph is the graph-slot position that matches every graph.
var AnyGraph = Position{Any: true}

// Diagnostics accumulates the non-fatal per-row evaluation errors a
// query run produces. A row that fails FILTER evaluation with a type
// error is dropped and counted here rather than failing the query.
type Diagnostics struct {
	Dropped  int
	Messages []string
}

const maxDiagnosticMessages = 32

// Record counts one dropped row, retaining the first few messages.
func (d *Diagnostics) Record(err error) {
	if d == nil {
		return
	}
	d.Dropped++
	if len(d.Messages) < maxDiagnosticMessages {
		d.Messages = append(d.Messages, err.Error())
	}
}

// bindPosition matches pos against value for the current row: a
// constant must equal value, an unbound variable binds to it, a bound
// variable must already equal it. Returns false when the row cannot
// match. out collects the positions this call freshly bound, so the
// caller can unbind them if a later slot rejects the row.
func bindPosition(pos Position, value atom.ID, tbl *Table, out *[]int) bool {
	if pos.Any {
		return true
	}
	if !pos.IsVar {
		return pos.Const == value
	}
	if tbl.Bound(pos.Var) {
		return tbl.Get(pos.Var) == value
	}
	tbl.Set(pos.Var, value)
	*out = append(*out, pos.Var)
	return true
}
