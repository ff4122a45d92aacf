package scan

import "github.com/roach88/mercury/internal/atom"

// JoinScan chains two pipelines with binding propagation: for every
// row of Left, the Right factory is opened fresh and drained, reading
// the outer bindings straight out of the shared table.
type JoinScan struct {
	Left  Scan
	Right Factory

	right Scan
	done  bool
}

func (sc *JoinScan) scanNode() {}

func (sc *JoinScan) MoveNext(tbl *Table) (bool, error) {
	if sc.done {
		return false, nil
	}
	for {
		if sc.right == nil {
			ok, err := sc.Left.MoveNext(tbl)
			if err != nil || !ok {
				sc.done = true
				return false, err
			}
			sc.right = sc.Right()
		}
		ok, err := sc.right.MoveNext(tbl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		sc.right.Dispose()
		sc.right = nil
	}
}

func (sc *JoinScan) Dispose() {
	sc.Left.Dispose()
	if sc.right != nil {
		sc.right.Dispose()
		sc.right = nil
	}
	sc.done = true
}

// UnionScan concatenates its branches. Each branch is a self-contained
// pipeline; a branch's output variables are unbound again by the
// branch itself when it exhausts, so the next branch starts from the
// caller's bindings alone.
type UnionScan struct {
	Branches []Factory

	i    int
	cur  Scan
	done bool
}

func (sc *UnionScan) scanNode() {}

func (sc *UnionScan) MoveNext(tbl *Table) (bool, error) {
	if sc.done {
		return false, nil
	}
	for {
		if sc.cur == nil {
			if sc.i >= len(sc.Branches) {
				sc.done = true
				return false, nil
			}
			sc.cur = sc.Branches[sc.i]()
			sc.i++
		}
		ok, err := sc.cur.MoveNext(tbl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		sc.cur.Dispose()
		sc.cur = nil
	}
}

func (sc *UnionScan) Dispose() {
	if sc.cur != nil {
		sc.cur.Dispose()
		sc.cur = nil
	}
	sc.done = true
}

// OptionalScan is a left outer join: every row of Left is emitted once
// per matching inner row, or exactly once with the inner variables
// unbound when the inner pipeline produces nothing for it.
type OptionalScan struct {
	Left  Scan
	Right Factory

	right   Scan
	matched bool
	done    bool
}

func (sc *OptionalScan) scanNode() {}

func (sc *OptionalScan) MoveNext(tbl *Table) (bool, error) {
	if sc.done {
		return false, nil
	}
	for {
		if sc.right == nil {
			ok, err := sc.Left.MoveNext(tbl)
			if err != nil || !ok {
				sc.done = true
				return false, err
			}
			sc.right = sc.Right()
			sc.matched = false
		}
		ok, err := sc.right.MoveNext(tbl)
		if err != nil {
			return false, err
		}
		if ok {
			sc.matched = true
			return true, nil
		}
		sc.right.Dispose()
		sc.right = nil
		if !sc.matched {
			// The exhausted inner pipeline has already unbound its
			// variables, so the table now holds exactly the outer row.
			return true, nil
		}
	}
}

func (sc *OptionalScan) Dispose() {
	sc.Left.Dispose()
	if sc.right != nil {
		sc.right.Dispose()
		sc.right = nil
	}
	sc.done = true
}

// MinusScan emits the rows of Left for which the inner pipeline,
// evaluated with the outer bindings propagated, produces nothing.
// RightVars lists the variables only the inner side binds: the probe
// stops at the inner pipeline's first row, which may leave those bound,
// so they are cleared explicitly after each probe. When the two sides
// share no variables the inner pattern can never contradict an outer
// row and the scan degenerates to a pass-through.
type MinusScan struct {
	Left      Scan
	Right     Factory
	RightVars []int
	Disjoint  bool

	done bool
}

func (sc *MinusScan) scanNode() {}

func (sc *MinusScan) MoveNext(tbl *Table) (bool, error) {
	if sc.done {
		return false, nil
	}
	for {
		ok, err := sc.Left.MoveNext(tbl)
		if err != nil || !ok {
			sc.done = true
			return false, err
		}
		if sc.Disjoint {
			return true, nil
		}
		inner := sc.Right()
		hit, err := inner.MoveNext(tbl)
		inner.Dispose()
		tbl.ClearAll(sc.RightVars)
		if err != nil {
			return false, err
		}
		if !hit {
			return true, nil
		}
	}
}

func (sc *MinusScan) Dispose() {
	sc.Left.Dispose()
	sc.done = true
}

// FilterScan drops the rows of Inner for which Pred returns false. A
// predicate error follows per-row error semantics: the row is dropped,
// the error is recorded in Diag, and iteration continues.
type FilterScan struct {
	Inner Scan
	Pred  func(*Table) (bool, error)
	Diag  *Diagnostics
}

func (sc *FilterScan) scanNode() {}

func (sc *FilterScan) MoveNext(tbl *Table) (bool, error) {
	for {
		ok, err := sc.Inner.MoveNext(tbl)
		if err != nil || !ok {
			return false, err
		}
		keep, err := sc.Pred(tbl)
		if err != nil {
			sc.Diag.Record(err)
			continue
		}
		if keep {
			return true, nil
		}
	}
}

func (sc *FilterScan) Dispose() { sc.Inner.Dispose() }

// BindScan evaluates an expression for each row of Inner and binds the
// result to Var. Evaluation failure leaves the variable unbound for
// that row, per SPARQL's BIND error semantics. The language guarantees
// Var is not already in scope, so the scan owns the slot outright.
type BindScan struct {
	Inner Scan
	Var   int
	Eval  func(*Table) (atom.ID, bool)

	bound bool
}

func (sc *BindScan) scanNode() {}

func (sc *BindScan) MoveNext(tbl *Table) (bool, error) {
	ok, err := sc.Inner.MoveNext(tbl)
	if err != nil || !ok {
		if sc.bound {
			tbl.Clear(sc.Var)
			sc.bound = false
		}
		return false, err
	}
	if v, ok := sc.Eval(tbl); ok {
		tbl.Set(sc.Var, v)
		sc.bound = true
	} else {
		tbl.Clear(sc.Var)
		sc.bound = false
	}
	return true, nil
}

func (sc *BindScan) Dispose() { sc.Inner.Dispose() }
