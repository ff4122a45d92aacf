package exec

import (
	"regexp"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/scan"
	"github.com/roach88/mercury/internal/sparqlir"
	"github.com/roach88/mercury/internal/store"
)

// localIDBase is the first query-local term ID. Terms produced by
// expressions, VALUES blocks, or SERVICE results that the store has
// never interned get transient IDs above this base, valid only within
// one execution. Store IDs are dense from 1 and can never collide with
// this range.
const localIDBase = atom.ID(1) << 63

// env is the per-execution state shared by lowering, scans, and
// expression evaluation: the pinned read transaction, the query arena,
// the query-local term table, and a decode cache for store atoms.
type env struct {
	st    *store.Store
	rt    *store.ReadTxn
	arena *sparqlir.Arena
	diag  *scan.Diagnostics

	locals   []sparqlir.Term
	localIdx map[string]atom.ID

	termCache map[atom.ID]sparqlir.Term

	// serviceRows holds materialized SERVICE results keyed by pattern
	// node, aligned with the plan node's variable list. serviceCache
	// dedupes identical clauses by a content-addressed key so one
	// endpoint is not asked the same question twice per execution.
	serviceRows  map[sparqlir.PatternID][][]atom.ID
	serviceCache map[string][][]atom.ID

	regexCache map[string]*regexp.Regexp

	// aggCtx is set while projecting or filtering one group at the
	// aggregation boundary; aggregate expressions are only meaningful
	// with it present.
	aggCtx *aggContext
}

func newEnv(st *store.Store, rt *store.ReadTxn, arena *sparqlir.Arena) *env {
	return &env{
		st:        st,
		rt:        rt,
		arena:     arena,
		diag:      &scan.Diagnostics{},
		localIdx:  map[string]atom.ID{},
		termCache: map[atom.ID]sparqlir.Term{},
	}
}

// resolveTerm maps a constant term to an ID: the store's ID when the
// term is interned there, a query-local ID otherwise. Terms that only
// exist locally can still flow through binding tables and projections;
// they simply never match a stored quad.
func (e *env) resolveTerm(t sparqlir.Term) (atom.ID, error) {
	key := string(EncodeTerm(t))
	if id, ok, err := e.st.FindAtom([]byte(key)); err != nil {
		return atom.Unbound, err
	} else if ok {
		return id, nil
	}
	if id, ok := e.localIdx[key]; ok {
		return id, nil
	}
	id := localIDBase + atom.ID(len(e.locals))
	e.locals = append(e.locals, t)
	e.localIdx[key] = id
	return id, nil
}

// lookupTerm decodes an ID back to its term.
func (e *env) lookupTerm(id atom.ID) (sparqlir.Term, error) {
	if id >= localIDBase {
		return e.locals[id-localIDBase], nil
	}
	if t, ok := e.termCache[id]; ok {
		return t, nil
	}
	b, err := e.st.LookupAtom(id)
	if err != nil {
		return sparqlir.Term{}, err
	}
	t, err := DecodeTerm(b)
	if err != nil {
		return sparqlir.Term{}, err
	}
	e.termCache[id] = t
	return t, nil
}

// storeID returns the store's ID for a constant term, or false when
// the store has never seen it (in which case no quad can match it).
func (e *env) storeID(t sparqlir.Term) (atom.ID, bool, error) {
	return e.st.FindAtom(EncodeTerm(t))
}
