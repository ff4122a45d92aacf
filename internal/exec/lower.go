package exec

import (
	"fmt"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/planir"
	"github.com/roach88/mercury/internal/scan"
	"github.com/roach88/mercury/internal/sparqlir"
)

// lower compiles a plan node into a scan factory. Factories are how
// composite scans re-open their inner side once per outer row, so
// lowering happens once and instantiation many times.
func (e *env) lower(n planir.Node) (scan.Factory, error) {
	switch node := n.(type) {
	case *planir.Empty:
		return func() scan.Scan {
			return &scan.InMemoryScan{Rows: [][]atom.ID{nil}}
		}, nil

	case *planir.BGP:
		return e.lowerBGP(node)

	case *planir.Join:
		left, err := e.lower(node.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.lower(node.Right)
		if err != nil {
			return nil, err
		}
		return func() scan.Scan {
			return &scan.JoinScan{Left: left(), Right: right}
		}, nil

	case *planir.LeftJoin:
		left, err := e.lower(node.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.lower(node.Right)
		if err != nil {
			return nil, err
		}
		return func() scan.Scan {
			return &scan.OptionalScan{Left: left(), Right: right}
		}, nil

	case *planir.Union:
		branches := make([]scan.Factory, len(node.Branches))
		for i, b := range node.Branches {
			f, err := e.lower(b)
			if err != nil {
				return nil, err
			}
			branches[i] = f
		}
		return func() scan.Scan {
			return &scan.UnionScan{Branches: branches}
		}, nil

	case *planir.Minus:
		left, err := e.lower(node.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.lower(node.Right)
		if err != nil {
			return nil, err
		}
		rightVars := node.RightOnlyVars
		disjoint := node.Disjoint
		return func() scan.Scan {
			return &scan.MinusScan{Left: left(), Right: right, RightVars: rightVars, Disjoint: disjoint}
		}, nil

	case *planir.Filter:
		inner, err := e.lower(node.Inner)
		if err != nil {
			return nil, err
		}
		exprs := node.Exprs
		return func() scan.Scan {
			s := inner()
			for _, ex := range exprs {
				ex := ex
				s = &scan.FilterScan{
					Inner: s,
					Pred: func(tbl *scan.Table) (bool, error) {
						return e.evalBool(ex, tbl)
					},
					Diag: e.diag,
				}
			}
			return s
		}, nil

	case *planir.Extend:
		inner, err := e.lower(node.Inner)
		if err != nil {
			return nil, err
		}
		binds := node.Binds
		return func() scan.Scan {
			s := inner()
			for _, b := range binds {
				b := b
				s = &scan.BindScan{
					Inner: s,
					Var:   b.Var,
					Eval: func(tbl *scan.Table) (atom.ID, bool) {
						v, err := e.eval(b.Expr, tbl)
						if err != nil {
							return atom.Unbound, false
						}
						id, err := e.valueID(v)
						if err != nil {
							return atom.Unbound, false
						}
						return id, true
					},
				}
			}
			return s
		}, nil

	case *planir.Values:
		rows, err := e.resolveValueRows(node.Vars, node.Rows)
		if err != nil {
			return nil, err
		}
		vars := node.Vars
		return func() scan.Scan {
			return &scan.InMemoryScan{Vars: vars, Rows: rows}
		}, nil

	case *planir.Service:
		rows := e.serviceRows[node.Pattern]
		vars := node.Vars
		endpoint := FormatTerm(node.Endpoint)
		return func() scan.Scan {
			return &scan.ServicePatternScan{
				Endpoint: endpoint,
				Inner:    &scan.InMemoryScan{Vars: vars, Rows: rows},
			}
		}, nil

	case *planir.SubSelect:
		rows, err := e.materializeSubSelect(node)
		if err != nil {
			return nil, err
		}
		vars := node.OuterVars
		return func() scan.Scan {
			return &scan.InMemoryScan{Vars: vars, Rows: rows}
		}, nil

	default:
		return nil, fmt.Errorf("exec: unknown plan node %T", n)
	}
}

func (e *env) lowerBGP(node *planir.BGP) (scan.Factory, error) {
	g, emptyGraph, err := e.graphPosition(node.Graph)
	if err != nil {
		return nil, err
	}
	if emptyGraph {
		return emptyFactory(), nil
	}

	type step struct {
		isPath  bool
		s, p, o scan.Position
		path    *scan.Path
	}
	steps := make([]step, 0, len(node.Patterns))

	for _, pt := range node.Patterns {
		s, okS, err := e.position(pt.S)
		if err != nil {
			return nil, err
		}
		o, okO, err := e.position(pt.O)
		if err != nil {
			return nil, err
		}
		if !okS || !okO {
			return emptyFactory(), nil
		}

		if pt.Path != sparqlir.NoPath {
			path, err := e.resolvePath(pt.Path)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step{isPath: true, s: s, o: o, path: path})
			continue
		}

		p, okP, err := e.position(pt.P)
		if err != nil {
			return nil, err
		}
		if !okP {
			return emptyFactory(), nil
		}
		steps = append(steps, step{s: s, p: p, o: o})
	}

	if len(steps) == 0 {
		return func() scan.Scan {
			return &scan.InMemoryScan{Rows: [][]atom.ID{nil}}
		}, nil
	}

	// Build the left-deep chain back to front: each pattern's tail is
	// a factory so the tail pipeline re-opens once per row the head
	// produces.
	mkStep := func(st step) scan.Factory {
		return func() scan.Scan {
			if st.isPath {
				return scan.NewPathScan(e.rt, g, st.path, st.s, st.o)
			}
			return scan.NewTriplePatternScan(e.rt, g, st.s, st.p, st.o)
		}
	}
	chain := mkStep(steps[len(steps)-1])
	for i := len(steps) - 2; i >= 0; i-- {
		head := mkStep(steps[i])
		rest := chain
		chain = func() scan.Scan {
			return &scan.JoinScan{Left: head(), Right: rest}
		}
	}
	return chain, nil
}

// graphPosition resolves the graph scope to a scan position. The
// second return is true when the scope names a graph the store has
// never seen, which makes the whole BGP empty.
func (e *env) graphPosition(g planir.GraphScope) (scan.Position, bool, error) {
	if g.Default {
		return scan.Constant(atom.Unbound), false, nil
	}
	if g.Term.IsVar {
		return scan.Variable(g.Term.Var), false, nil
	}
	id, ok, err := e.storeID(g.Term.Value)
	if err != nil {
		return scan.Position{}, false, err
	}
	if !ok {
		return scan.Position{}, true, nil
	}
	return scan.Constant(id), false, nil
}

// position resolves one plan term. The second return is false when a
// constant term is absent from the store entirely.
func (e *env) position(t planir.Term) (scan.Position, bool, error) {
	if t.IsVar {
		return scan.Variable(t.Var), true, nil
	}
	id, ok, err := e.storeID(t.Value)
	if err != nil {
		return scan.Position{}, false, err
	}
	if !ok {
		return scan.Position{}, false, nil
	}
	return scan.Constant(id), true, nil
}

// resolvePath converts a parsed path tree into the scan package's
// resolved form. Predicates the store has never seen resolve to
// atom.Unbound, which no stored quad carries, so they contribute no
// edges.
func (e *env) resolvePath(id sparqlir.PathID) (*scan.Path, error) {
	p := e.arena.Path(id)
	out := &scan.Path{}

	resolveIRI := func(iri string) (atom.ID, error) {
		aid, ok, err := e.storeID(sparqlir.Term{Kind: sparqlir.TermIRI, Value: iri})
		if err != nil {
			return atom.Unbound, err
		}
		if !ok {
			return atom.Unbound, nil
		}
		return aid, nil
	}

	switch p.Kind {
	case sparqlir.PathIRI:
		out.Kind = scan.PathPredicate
		aid, err := resolveIRI(p.IRI)
		if err != nil {
			return nil, err
		}
		out.Pred = aid
	case sparqlir.PathInverse:
		out.Kind = scan.PathInverse
	case sparqlir.PathSequence:
		out.Kind = scan.PathSequence
	case sparqlir.PathAlternative:
		out.Kind = scan.PathAlternative
	case sparqlir.PathZeroOrMore:
		out.Kind = scan.PathZeroOrMore
	case sparqlir.PathOneOrMore:
		out.Kind = scan.PathOneOrMore
	case sparqlir.PathZeroOrOne:
		out.Kind = scan.PathZeroOrOne
	case sparqlir.PathNegatedSet:
		out.Kind = scan.PathNegatedSet
		for _, iri := range p.NegatedIRIs {
			aid, err := resolveIRI(iri)
			if err != nil {
				return nil, err
			}
			out.Negated = append(out.Negated, aid)
		}
		for _, iri := range p.NegatedInverse {
			aid, err := resolveIRI(iri)
			if err != nil {
				return nil, err
			}
			out.NegatedInverse = append(out.NegatedInverse, aid)
		}
	}

	for _, child := range p.Children {
		c, err := e.resolvePath(child)
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, c)
	}
	return out, nil
}

// resolveValueRows maps VALUES terms to IDs, preserving UNDEF cells as
// atom.Unbound.
func (e *env) resolveValueRows(vars []int, rows [][]sparqlir.Term) ([][]atom.ID, error) {
	out := make([][]atom.ID, len(rows))
	for i, row := range rows {
		r := make([]atom.ID, len(vars))
		for j := range vars {
			if j >= len(row) || row[j].Kind == sparqlir.TermUndef {
				r[j] = atom.Unbound
				continue
			}
			id, err := e.resolveTerm(row[j])
			if err != nil {
				return nil, err
			}
			r[j] = id
		}
		out[i] = r
	}
	return out, nil
}

func emptyFactory() scan.Factory {
	return func() scan.Scan { return &scan.InMemoryScan{} }
}
