package scan

import (
	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/bufpool"
	"github.com/roach88/mercury/internal/quad"
	"github.com/roach88/mercury/internal/store"
)

// TriplePatternScan is the base access operator: a range scan over
// whichever permutation index covers the pattern's bound positions,
// post-filtered against every constant and every variable that already
// holds a value. Variables still unbound at the first MoveNext become
// this scan's output variables; everything else is an input constraint.
//
// The underlying index walk is a visitor, so the matching quads are
// collected once, at the first MoveNext, into a buffer rented from the
// shared pool, then replayed row by row. The buffer is released on
// Dispose.
type TriplePatternScan struct {
	rt *store.ReadTxn

	g, s, p, o Position

	started bool
	done    bool
	lease   *bufpool.Lease[quad.Quad]
	rows    []quad.Quad
	i       int

	// trail records the variables the current row freshly bound, so
	// the next row (or exhaustion) can unbind exactly those and leave
	// the caller's bindings untouched.
	trail []int
}

// NewTriplePatternScan builds a scan over rt for the pattern
// (g, s, p, o). The graph slot follows the conventions of Position:
// Constant(atom.Unbound) is the default graph, a variable ranges over
// named graphs only, AnyGraph ranges over everything.
func NewTriplePatternScan(rt *store.ReadTxn, g, s, p, o Position) *TriplePatternScan {
	return &TriplePatternScan{rt: rt, g: g, s: s, p: p, o: o}
}

func (sc *TriplePatternScan) scanNode() {}

func (sc *TriplePatternScan) MoveNext(tbl *Table) (bool, error) {
	if sc.done {
		return false, nil
	}
	if !sc.started {
		if err := sc.start(tbl); err != nil {
			return false, err
		}
	}

	for sc.i < len(sc.rows) {
		q := sc.rows[sc.i]
		sc.i++
		if sc.bindRow(q, tbl) {
			return true, nil
		}
	}

	tbl.ClearAll(sc.trail)
	sc.trail = sc.trail[:0]
	sc.done = true
	return false, nil
}

// start fixes the quad pattern from constants plus whatever variables
// the table has already bound, then collects the index range into the
// row buffer.
func (sc *TriplePatternScan) start(tbl *Table) error {
	sc.started = true

	var pattern quad.Pattern
	var gv, sv, pv, ov atom.ID
	fix := func(pos Position, dst **atom.ID, slot *atom.ID) {
		switch {
		case pos.Any:
		case !pos.IsVar:
			*slot = pos.Const
			*dst = slot
		case tbl.Bound(pos.Var):
			*slot = tbl.Get(pos.Var)
			*dst = slot
		}
	}
	fix(sc.g, &pattern.Graph, &gv)
	fix(sc.s, &pattern.Subject, &sv)
	fix(sc.p, &pattern.Predicate, &pv)
	fix(sc.o, &pattern.Object, &ov)

	sc.lease = bufpool.Shared[quad.Quad]().Rent(64)
	sc.rows = sc.lease.Slice()[:0]
	return sc.rt.Scan(pattern, func(q quad.Quad) bool {
		sc.rows = append(sc.rows, q)
		return true
	})
}

// bindRow matches one collected quad against the pattern, binding
// output variables. All four slots are checked even when the index
// range already constrained a prefix of them: a permutation only
// guarantees contiguity for its bound prefix, so trailing constants
// must be re-verified here.
func (sc *TriplePatternScan) bindRow(q quad.Quad, tbl *Table) bool {
	tbl.ClearAll(sc.trail)
	sc.trail = sc.trail[:0]

	// A variable graph slot ranges over named graphs only.
	if sc.g.IsVar && q.Graph == atom.Unbound {
		return false
	}
	ok := bindPosition(sc.g, q.Graph, tbl, &sc.trail) &&
		bindPosition(sc.s, q.Subject, tbl, &sc.trail) &&
		bindPosition(sc.p, q.Predicate, tbl, &sc.trail) &&
		bindPosition(sc.o, q.Object, tbl, &sc.trail)
	if !ok {
		tbl.ClearAll(sc.trail)
		sc.trail = sc.trail[:0]
	}
	return ok
}

func (sc *TriplePatternScan) Dispose() {
	if sc.lease != nil {
		sc.lease.Release()
		sc.lease = nil
	}
	sc.rows = nil
	sc.done = true
}

// ServicePatternScan wraps an InMemoryScan over the rows a SERVICE
// clause returned; SERVICE results are not loaded into a temporary
// store. It adds nothing to the
// iteration itself; it exists so the executor can tell remote-backed
// rows apart from local ones in diagnostics.
type ServicePatternScan struct {
	Endpoint string
	Inner    Scan
}

func (sc *ServicePatternScan) scanNode() {}

func (sc *ServicePatternScan) MoveNext(tbl *Table) (bool, error) {
	return sc.Inner.MoveNext(tbl)
}

func (sc *ServicePatternScan) Dispose() { sc.Inner.Dispose() }

// InMemoryScan iterates a small materialized row set: each row is a
// column slice aligned with Vars, atom.Unbound cells leave their
// variable unbound. Used for VALUES blocks, for SERVICE results, and
// to re-enter the pipeline after a materialization
// boundary. Pre-bound variables act as filters, same as in a
// TriplePatternScan.
type InMemoryScan struct {
	Vars []int
	Rows [][]atom.ID

	i     int
	done  bool
	trail []int
}

func (sc *InMemoryScan) scanNode() {}

func (sc *InMemoryScan) MoveNext(tbl *Table) (bool, error) {
	if sc.done {
		return false, nil
	}
	for sc.i < len(sc.Rows) {
		row := sc.Rows[sc.i]
		sc.i++
		if sc.bindRow(row, tbl) {
			return true, nil
		}
	}
	tbl.ClearAll(sc.trail)
	sc.trail = sc.trail[:0]
	sc.done = true
	return false, nil
}

func (sc *InMemoryScan) bindRow(row []atom.ID, tbl *Table) bool {
	tbl.ClearAll(sc.trail)
	sc.trail = sc.trail[:0]
	for ci, v := range sc.Vars {
		cell := atom.Unbound
		if ci < len(row) {
			cell = row[ci]
		}
		if cell == atom.Unbound {
			continue
		}
		if !bindPosition(Variable(v), cell, tbl, &sc.trail) {
			tbl.ClearAll(sc.trail)
			sc.trail = sc.trail[:0]
			return false
		}
	}
	return true
}

func (sc *InMemoryScan) Dispose() { sc.done = true }
