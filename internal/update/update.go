// Package update executes parsed SPARQL Update requests against a
// quad store. A sequence of semicolon-separated operations runs in
// order, each inside its own write transaction, with later operations
// observing the effects of earlier ones.
//
// Deferred W3C edge cases, unresolved by design: the dataset
// restriction of USING without USING NAMED, blank-node identity across
// sequenced operations (each operation scopes its blank nodes
// independently here), and the DELETE/INSERT template ordering corner
// cases. Each is noted at its point of relevance below.
package update

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/exec"
	"github.com/roach88/mercury/internal/quad"
	"github.com/roach88/mercury/internal/sparqlir"
	"github.com/roach88/mercury/internal/store"
)

// Loader parses the document behind an IRI and feeds its triples to
// emit. It is the collaborator boundary for LOAD: Mercury core ships
// no RDF format parsers. Implementations must not retain the slices
// passed to emit past the call.
type Loader func(ctx context.Context, documentIRI string, emit func(s, p, o []byte, g ...[]byte) error) error

// Result reports one update request's outcome.
type Result struct {
	Success  bool
	Affected int
}

// GraphError is a graph-management precondition failure: CREATE on an
// existing graph, DROP on a missing one. SILENT suppresses it at the
// call site.
type GraphError struct {
	Op    string
	Graph string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("%s: graph <%s> precondition failed", e.Op, e.Graph)
}

// Executor runs update operations against one store.
type Executor struct {
	st     *store.Store
	loader Loader
}

// Option configures an Executor.
type Option func(*Executor)

// WithLoader installs the document loader used by LOAD operations.
func WithLoader(l Loader) Option {
	return func(x *Executor) { x.loader = l }
}

// NewExecutor returns an executor over st.
func NewExecutor(st *store.Store, opts ...Option) *Executor {
	x := &Executor{st: st}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs every operation of u in order. The first failing
// operation stops the sequence; earlier operations stay committed,
// matching SPARQL's per-operation transaction boundaries.
func (x *Executor) Execute(ctx context.Context, u *sparqlir.Update) (Result, error) {
	total := 0
	for i := range u.Ops {
		select {
		case <-ctx.Done():
			return Result{Affected: total}, ctx.Err()
		default:
		}
		n, err := x.executeOp(ctx, u, &u.Ops[i])
		if err != nil {
			return Result{Affected: total}, err
		}
		total += n
	}
	return Result{Success: true, Affected: total}, nil
}

func (x *Executor) executeOp(ctx context.Context, u *sparqlir.Update, op *sparqlir.Operation) (int, error) {
	switch op.Kind {
	case sparqlir.OpInsertData:
		return x.insertData(op)
	case sparqlir.OpDeleteData:
		return x.deleteData(op)
	case sparqlir.OpDeleteWhere:
		return x.deleteWhere(ctx, u, op)
	case sparqlir.OpModify:
		return x.modify(ctx, u, op)
	case sparqlir.OpLoad:
		return x.load(ctx, op)
	case sparqlir.OpClear, sparqlir.OpDrop:
		return x.clearOrDrop(op)
	case sparqlir.OpCreate:
		return x.create(op)
	case sparqlir.OpCopy, sparqlir.OpMove, sparqlir.OpAdd:
		return x.graphToGraph(op)
	default:
		return 0, fmt.Errorf("update: unknown operation kind %d", op.Kind)
	}
}

// blankScope maps parsed blank labels to fresh store-unique labels,
// one scope per operation. Blank-node identity across sequenced
// operations is a deferred edge case; a label in operation 2 never
// denotes the node operation 1 created.
type blankScope map[string]string

func (bs blankScope) fresh(label string) string {
	if l, ok := bs[label]; ok {
		return l
	}
	l := "m" + uuid.NewString()[:8] + "-" + label
	bs[label] = l
	return l
}

// groundTerm renders a template term to atom bytes given the current
// bindings (nil for data blocks).
func groundTerm(t sparqlir.Term, bindings map[int]sparqlir.Term, blanks blankScope) ([]byte, bool) {
	switch t.Kind {
	case sparqlir.TermVar:
		if bindings == nil {
			return nil, false
		}
		bound, ok := bindings[t.Var]
		if !ok || bound.Kind == sparqlir.TermUndef {
			return nil, false
		}
		return exec.EncodeTerm(bound), true
	case sparqlir.TermBlank:
		return exec.EncodeTerm(sparqlir.Term{Kind: sparqlir.TermBlank, Value: blanks.fresh(t.Value)}), true
	default:
		return exec.EncodeTerm(t), true
	}
}

// quadArgs grounds one template quad. withIRI supplies the WITH
// default graph when the quad has no explicit GRAPH wrapper.
func quadArgs(qp sparqlir.QuadPattern, withIRI string, bindings map[int]sparqlir.Term, blanks blankScope) (s, p, o []byte, g [][]byte, ok bool) {
	s, ok = groundTerm(qp.Triple.Subject, bindings, blanks)
	if !ok {
		return nil, nil, nil, nil, false
	}
	p, ok = groundTerm(qp.Triple.Predicate, bindings, blanks)
	if !ok {
		return nil, nil, nil, nil, false
	}
	o, ok = groundTerm(qp.Triple.Object, bindings, blanks)
	if !ok {
		return nil, nil, nil, nil, false
	}
	switch {
	case qp.HasGraph:
		gb, gok := groundTerm(qp.Graph, bindings, blanks)
		if !gok {
			return nil, nil, nil, nil, false
		}
		g = [][]byte{gb}
	case withIRI != "":
		g = [][]byte{exec.EncodeTerm(sparqlir.Term{Kind: sparqlir.TermIRI, Value: withIRI})}
	}
	return s, p, o, g, true
}

func (x *Executor) insertData(op *sparqlir.Operation) (int, error) {
	blanks := blankScope{}
	n := 0
	err := x.st.WriteTxn(func(tx *store.Txn) error {
		for _, qp := range op.InsertQuads {
			s, p, o, g, ok := quadArgs(qp, "", nil, blanks)
			if !ok {
				continue
			}
			if err := tx.AddCurrent(s, p, o, g...); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (x *Executor) deleteData(op *sparqlir.Operation) (int, error) {
	n := 0
	err := x.st.WriteTxn(func(tx *store.Txn) error {
		for _, qp := range op.DeleteQuads {
			s, p, o, g, ok := quadArgs(qp, "", nil, blankScope{})
			if !ok {
				continue
			}
			if err := tx.SoftDelete(s, p, o, g...); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// whereBindings runs the WHERE pattern as a SELECT * and returns one
// variable binding map per solution. The read snapshot closes before
// the write transaction starts; Mercury's single-writer discipline
// assumes no competing writer slips in between.
func (x *Executor) whereBindings(ctx context.Context, u *sparqlir.Update, where sparqlir.PatternID, withIRI string) ([]map[int]sparqlir.Term, error) {
	q := sparqlir.NewQuery()
	q.Arena = u.Arena
	q.Form = sparqlir.FormSelect
	q.Star = true
	q.Root = where

	if withIRI != "" {
		// WITH scopes the WHERE pattern to the named graph.
		q.Root = q.AddPattern(sparqlir.Pattern{
			Kind:      sparqlir.PatternGraph,
			GraphTerm: sparqlir.Term{Kind: sparqlir.TermIRI, Value: withIRI},
			Child:     where,
		})
	}
	// The USING/USING NAMED dataset restriction is a deferred edge
	// case: the WHERE pattern runs against the full store dataset.
	res, err := exec.Execute(ctx, x.st, q)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	// Resolve projected names back to this arena's variable positions.
	cols := make([]int, len(res.Vars))
	for i, name := range res.Vars {
		v, ok := q.VarIndex(name)
		if !ok {
			v = -1
		}
		cols[i] = v
	}

	var out []map[int]sparqlir.Term
	for res.Next() {
		row := res.Row()
		m := make(map[int]sparqlir.Term, len(row))
		for i, t := range row {
			if cols[i] >= 0 && t.Kind != sparqlir.TermUndef {
				m[cols[i]] = t
			}
		}
		out = append(out, m)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (x *Executor) deleteWhere(ctx context.Context, u *sparqlir.Update, op *sparqlir.Operation) (int, error) {
	// The delete quads double as the WHERE pattern.
	group := sparqlir.Pattern{Kind: sparqlir.PatternGroup}
	byGraph := map[string][]sparqlir.TriplePattern{}
	var defaults []sparqlir.TriplePattern
	for _, qp := range op.DeleteQuads {
		if qp.HasGraph {
			key := exec.FormatTerm(qp.Graph)
			byGraph[key] = append(byGraph[key], qp.Triple)
		} else {
			defaults = append(defaults, qp.Triple)
		}
	}
	if len(defaults) > 0 {
		group.Children = append(group.Children, u.AddPattern(sparqlir.Pattern{Kind: sparqlir.PatternBGP, Triples: defaults}))
	}
	graphTermFor := map[string]sparqlir.Term{}
	for _, qp := range op.DeleteQuads {
		if qp.HasGraph {
			graphTermFor[exec.FormatTerm(qp.Graph)] = qp.Graph
		}
	}
	for key, triples := range byGraph {
		bgp := u.AddPattern(sparqlir.Pattern{Kind: sparqlir.PatternBGP, Triples: triples})
		group.Children = append(group.Children, u.AddPattern(sparqlir.Pattern{
			Kind: sparqlir.PatternGraph, GraphTerm: graphTermFor[key], Child: bgp,
		}))
	}
	where := u.AddPattern(group)

	modifyOp := *op
	modifyOp.Where = where
	return x.modify(ctx, u, &modifyOp)
}

func (x *Executor) modify(ctx context.Context, u *sparqlir.Update, op *sparqlir.Operation) (int, error) {
	rows, err := x.whereBindings(ctx, u, op.Where, op.WithIRI)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n := 0
	err = x.st.WriteTxn(func(tx *store.Txn) error {
		// Deletes apply before inserts within one operation.
		for _, bindings := range rows {
			for _, qp := range op.DeleteQuads {
				s, p, o, g, ok := quadArgs(qp, op.WithIRI, bindings, blankScope{})
				if !ok {
					continue
				}
				if err := tx.SoftDelete(s, p, o, g...); err != nil {
					return err
				}
				n++
			}
		}
		for _, bindings := range rows {
			blanks := blankScope{} // fresh blanks per solution
			for _, qp := range op.InsertQuads {
				s, p, o, g, ok := quadArgs(qp, op.WithIRI, bindings, blanks)
				if !ok {
					continue
				}
				if err := tx.AddCurrent(s, p, o, g...); err != nil {
					return err
				}
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (x *Executor) load(ctx context.Context, op *sparqlir.Operation) (int, error) {
	if x.loader == nil {
		if op.Silent {
			return 0, nil
		}
		return 0, fmt.Errorf("update: LOAD requires a document loader")
	}
	var g [][]byte
	if op.IntoGraph != "" {
		g = [][]byte{exec.EncodeTerm(sparqlir.Term{Kind: sparqlir.TermIRI, Value: op.IntoGraph})}
	}
	n := 0
	err := x.st.WriteTxn(func(tx *store.Txn) error {
		return x.loader(ctx, op.DocumentIRI, func(s, p, o []byte, extra ...[]byte) error {
			graph := g
			if len(extra) > 0 {
				graph = extra
			}
			if err := tx.AddCurrent(s, p, o, graph...); err != nil {
				return err
			}
			n++
			return nil
		})
	})
	if err != nil {
		if op.Silent {
			slog.Error("LOAD failed, continuing silently", "iri", op.DocumentIRI, "err", err)
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// collectGraphQuads snapshots the visible quads in the graphs ref
// selects, as raw term bytes ready for re-insertion or deletion.
type quadBytes struct {
	s, p, o []byte
	g       []byte // nil for the default graph
}

func (x *Executor) collectGraphQuads(ref sparqlir.GraphRef) ([]quadBytes, error) {
	rt := x.st.AcquireReadLock()
	defer rt.ReleaseReadLock()

	var pattern quad.Pattern
	var wantGraph func(g uint64) bool

	switch ref.Kind {
	case sparqlir.GraphDefault:
		zero := atom.Unbound
		pattern.Graph = &zero
		wantGraph = func(g uint64) bool { return g == 0 }
	case sparqlir.GraphNamed:
		id, ok, err := x.st.FindAtom(exec.EncodeTerm(sparqlir.Term{Kind: sparqlir.TermIRI, Value: ref.IRI}))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		pattern.Graph = &id
		wantGraph = func(g uint64) bool { return g == uint64(id) }
	case sparqlir.GraphAllNamed:
		wantGraph = func(g uint64) bool { return g != 0 }
	default:
		wantGraph = func(g uint64) bool { return true }
	}

	var out []quadBytes
	err := rt.Scan(pattern, func(q quad.Quad) bool {
		if !wantGraph(uint64(q.Graph)) {
			return true
		}
		s, errS := x.st.LookupAtom(q.Subject)
		p, errP := x.st.LookupAtom(q.Predicate)
		o, errO := x.st.LookupAtom(q.Object)
		if errS != nil || errP != nil || errO != nil {
			return true
		}
		var g []byte
		if q.Graph != 0 {
			if gb, err := x.st.LookupAtom(q.Graph); err == nil {
				g = gb
			}
		}
		out = append(out, quadBytes{s: s, p: p, o: o, g: g})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (x *Executor) clearOrDrop(op *sparqlir.Operation) (int, error) {
	if op.Kind == sparqlir.OpDrop && op.Graph.Kind == sparqlir.GraphNamed {
		exists, err := x.graphExists(op.Graph.IRI)
		if err != nil {
			return 0, err
		}
		if !exists && !op.Silent {
			return 0, &GraphError{Op: "DROP", Graph: op.Graph.IRI}
		}
	}

	quads, err := x.collectGraphQuads(op.Graph)
	if err != nil {
		return 0, err
	}
	if len(quads) == 0 {
		return 0, nil
	}
	n := 0
	err = x.st.WriteTxn(func(tx *store.Txn) error {
		for _, qb := range quads {
			var g [][]byte
			if qb.g != nil {
				g = [][]byte{qb.g}
			}
			if err := tx.SoftDelete(qb.s, qb.p, qb.o, g...); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (x *Executor) graphExists(iri string) (bool, error) {
	quads, err := x.collectGraphQuads(sparqlir.GraphRef{Kind: sparqlir.GraphNamed, IRI: iri})
	if err != nil {
		return false, err
	}
	return len(quads) > 0, nil
}

// create is a no-op in a store where graphs exist by containing quads;
// it still enforces the SPARQL precondition that the graph must not
// already exist.
func (x *Executor) create(op *sparqlir.Operation) (int, error) {
	exists, err := x.graphExists(op.Graph.IRI)
	if err != nil {
		return 0, err
	}
	if exists && !op.Silent {
		return 0, &GraphError{Op: "CREATE", Graph: op.Graph.IRI}
	}
	return 0, nil
}

func (x *Executor) graphToGraph(op *sparqlir.Operation) (int, error) {
	if op.Source == op.Dest {
		return 0, nil
	}
	src, err := x.collectGraphQuads(op.Source)
	if err != nil {
		return 0, err
	}

	n := 0
	// COPY and MOVE replace the destination; ADD accumulates into it.
	if op.Kind != sparqlir.OpAdd {
		cleared, err := x.clearOrDrop(&sparqlir.Operation{Kind: sparqlir.OpClear, Graph: op.Dest, Silent: true})
		if err != nil {
			return 0, err
		}
		n += cleared
	}

	var destGraph [][]byte
	if op.Dest.Kind == sparqlir.GraphNamed {
		destGraph = [][]byte{exec.EncodeTerm(sparqlir.Term{Kind: sparqlir.TermIRI, Value: op.Dest.IRI})}
	}

	err = x.st.WriteTxn(func(tx *store.Txn) error {
		for _, qb := range src {
			if err := tx.AddCurrent(qb.s, qb.p, qb.o, destGraph...); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if op.Kind == sparqlir.OpMove {
		cleared, err := x.clearOrDrop(&sparqlir.Operation{Kind: sparqlir.OpClear, Graph: op.Source, Silent: true})
		if err != nil {
			return 0, err
		}
		n += cleared
	}
	return n, nil
}
