package exec

import (
	"context"
	"fmt"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/quad"
	"github.com/roach88/mercury/internal/scan"
	"github.com/roach88/mercury/internal/sparqlir"
)

// construct instantiates the CONSTRUCT template once per solution,
// skipping malformed instantiations (unbound slots, literal subjects)
// per SPARQL semantics. Template blank nodes are scoped per solution.
func (e *env) construct(ctx context.Context, q *sparqlir.Query, factory scan.Factory) (*Result, error) {
	s := factory()
	defer s.Dispose()
	tbl := e.newTable(q)

	var triples []Triple
	seen := map[string]bool{}
	rowNum := 0

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		ok, err := s.MoveNext(tbl)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rowNum++
		for _, tmpl := range q.Construct {
			tr, ok, err := e.instantiate(tmpl, tbl, rowNum)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			key := string(EncodeTerm(tr.S)) + " " + string(EncodeTerm(tr.P)) + " " + string(EncodeTerm(tr.O))
			if !seen[key] {
				seen[key] = true
				triples = append(triples, tr)
			}
		}
	}

	return &Result{Kind: KindGraph, Triples: triples, diag: e.diag}, nil
}

// instantiate fills one template triple from the current row.
func (e *env) instantiate(tmpl sparqlir.TriplePattern, tbl *scan.Table, rowNum int) (Triple, bool, error) {
	fill := func(t sparqlir.Term) (sparqlir.Term, bool, error) {
		switch t.Kind {
		case sparqlir.TermVar:
			if !tbl.Bound(t.Var) {
				return sparqlir.Term{}, false, nil
			}
			resolved, err := e.lookupTerm(tbl.Get(t.Var))
			if err != nil {
				return sparqlir.Term{}, false, err
			}
			return resolved, true, nil
		case sparqlir.TermBlank:
			// Fresh blank per solution, stable within it.
			return sparqlir.Term{Kind: sparqlir.TermBlank, Value: fmt.Sprintf("%s_r%d", t.Value, rowNum)}, true, nil
		default:
			return t, true, nil
		}
	}

	s, ok, err := fill(tmpl.Subject)
	if err != nil || !ok {
		return Triple{}, false, err
	}
	p, ok, err := fill(tmpl.Predicate)
	if err != nil || !ok {
		return Triple{}, false, err
	}
	o, ok, err := fill(tmpl.Object)
	if err != nil || !ok {
		return Triple{}, false, err
	}

	if s.Kind == sparqlir.TermLiteral || p.Kind != sparqlir.TermIRI {
		return Triple{}, false, nil
	}
	return Triple{S: s, P: p, O: o}, true, nil
}

// describe returns the outgoing triples of every described node, with
// blank-node objects expanded transitively so the description stays
// self-contained.
func (e *env) describe(ctx context.Context, q *sparqlir.Query, factory scan.Factory) (*Result, error) {
	targets := map[atom.ID]bool{}

	addTerm := func(t sparqlir.Term) error {
		id, ok, err := e.storeID(t)
		if err != nil {
			return err
		}
		if ok {
			targets[id] = true
		}
		return nil
	}

	for _, t := range q.DescribeTerms {
		if !t.IsVar() {
			if err := addTerm(t); err != nil {
				return nil, err
			}
		}
	}

	// DESCRIBE with a WHERE clause (or variable targets) describes
	// every binding of the targeted variables.
	hasVarTargets := q.Star
	for _, t := range q.DescribeTerms {
		if t.IsVar() {
			hasVarTargets = true
		}
	}
	if q.Root != sparqlir.NoPattern && hasVarTargets {
		s := factory()
		tbl := e.newTable(q)
		for {
			select {
			case <-ctx.Done():
				s.Dispose()
				return nil, ctx.Err()
			default:
			}
			ok, err := s.MoveNext(tbl)
			if err != nil {
				s.Dispose()
				return nil, err
			}
			if !ok {
				break
			}
			for _, t := range q.DescribeTerms {
				if t.IsVar() && tbl.Bound(t.Var) {
					targets[tbl.Get(t.Var)] = true
				}
			}
			if q.Star {
				for v := range q.Vars {
					if tbl.Bound(v) {
						targets[tbl.Get(v)] = true
					}
				}
			}
		}
		s.Dispose()
	}

	var triples []Triple
	visited := map[atom.ID]bool{}
	frontier := make([]atom.ID, 0, len(targets))
	for id := range targets {
		frontier = append(frontier, id)
	}

	for len(frontier) > 0 {
		subj := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if visited[subj] {
			continue
		}
		visited[subj] = true

		err := e.rt.Scan(quad.Pattern{Subject: &subj}, func(qd quad.Quad) bool {
			if qd.Subject != subj {
				return true
			}
			s, errS := e.lookupTerm(qd.Subject)
			p, errP := e.lookupTerm(qd.Predicate)
			o, errO := e.lookupTerm(qd.Object)
			if errS != nil || errP != nil || errO != nil {
				return true
			}
			triples = append(triples, Triple{S: s, P: p, O: o})
			if o.Kind == sparqlir.TermBlank && !visited[qd.Object] {
				frontier = append(frontier, qd.Object)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}

	return &Result{Kind: KindGraph, Triples: triples, diag: e.diag}, nil
}
