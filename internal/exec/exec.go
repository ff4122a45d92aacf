// Package exec compiles parsed SPARQL queries into scan pipelines over
// a quad store and drives them to results. Simple pipelines stream one
// row at a time off the index scans; DISTINCT, GROUP BY, ORDER BY,
// subqueries, and SERVICE results cross a materialization boundary
// into heap-held row lists before further processing.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/planir"
	"github.com/roach88/mercury/internal/scan"
	"github.com/roach88/mercury/internal/sparqlir"
	"github.com/roach88/mercury/internal/store"
)

// ResultKind discriminates the result shape of the four query forms.
type ResultKind int

const (
	KindSelect ResultKind = iota
	KindAsk
	KindGraph
)

// Triple is one constructed or described triple.
type Triple struct {
	S, P, O sparqlir.Term
}

// Result is a query result: a streaming (or materialized) solution
// sequence for SELECT, a boolean for ASK, a triple list for CONSTRUCT
// and DESCRIBE. Unbound projection slots surface as TermUndef terms.
type Result struct {
	Kind ResultKind
	Vars []string
	Bool bool

	Triples []Triple

	diag    *scan.Diagnostics
	ctx     context.Context
	step    func() ([]sparqlir.Term, bool, error)
	cleanup func()

	row    []sparqlir.Term
	err    error
	closed bool
}

// Next advances to the next solution row.
func (r *Result) Next() bool {
	if r.closed || r.err != nil || r.step == nil {
		return false
	}
	if r.ctx != nil {
		select {
		case <-r.ctx.Done():
			r.err = r.ctx.Err()
			r.Close()
			return false
		default:
		}
	}
	row, ok, err := r.step()
	if err != nil {
		r.err = err
		r.Close()
		return false
	}
	if !ok {
		r.Close()
		return false
	}
	r.row = row
	return true
}

// Row returns the current solution, aligned with Vars.
func (r *Result) Row() []sparqlir.Term { return r.row }

// Err returns the first error iteration hit, if any.
func (r *Result) Err() error { return r.err }

// Diagnostics returns the non-fatal per-row errors the run collected.
func (r *Result) Diagnostics() *scan.Diagnostics { return r.diag }

// Close releases the resources behind the result. Idempotent; called
// automatically at exhaustion.
func (r *Result) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cleanup != nil {
		r.cleanup()
	}
	return nil
}

// Config carries the executor's tunables.
type Config struct {
	// ValidAt pins the valid-time point for bitemporal visibility; 0
	// means "now".
	ValidAt uint64
	// HTTPClient performs SERVICE requests.
	HTTPClient *http.Client
	// ServiceTimeout bounds each SERVICE request.
	ServiceTimeout time.Duration
}

// Option mutates the executor configuration.
type Option func(*Config)

// WithValidAt pins the bitemporal valid-time point for the query.
func WithValidAt(t uint64) Option {
	return func(c *Config) { c.ValidAt = t }
}

// WithHTTPClient overrides the HTTP client used for SERVICE clauses.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithServiceTimeout bounds each SERVICE request.
func WithServiceTimeout(d time.Duration) Option {
	return func(c *Config) { c.ServiceTimeout = d }
}

// Execute runs a parsed query against st. For a streaming SELECT the
// store's read lock is held until the returned Result is closed (or
// exhausted); ASK, CONSTRUCT, DESCRIBE and materialized SELECT results
// release it before Execute returns. Callers must always Close.
func Execute(ctx context.Context, st *store.Store, q *sparqlir.Query, opts ...Option) (*Result, error) {
	cfg := Config{
		HTTPClient:     http.DefaultClient,
		ServiceTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var rt *store.ReadTxn
	if cfg.ValidAt != 0 {
		rt = st.AcquireReadLockAt(cfg.ValidAt)
	} else {
		rt = st.AcquireReadLock()
	}

	released := false
	release := func() {
		if !released {
			released = true
			rt.ReleaseReadLock()
		}
	}

	e := newEnv(st, rt, &q.Arena)

	// Blank node labels in patterns act as scoped variables; intern
	// them all up front so every binding table is sized for the full
	// variable set, including patterns compiled lazily (EXISTS).
	internBlankVars(&q.Arena)

	// SERVICE clauses are the only blocking I/O of a query; they run
	// here, before any scan starts, so the streaming executor touches
	// nothing but memory.
	if err := e.materializeServices(ctx, q, cfg); err != nil {
		release()
		return nil, err
	}

	c := newCompiler(&q.Arena)
	plan := c.compile(q.Root, planir.DefaultGraph)
	factory, err := e.lower(plan)
	if err != nil {
		release()
		return nil, err
	}

	switch q.Form {
	case sparqlir.FormAsk:
		defer release()
		s := factory()
		tbl := e.newTable(q)
		ok, err := s.MoveNext(tbl)
		s.Dispose()
		if err != nil {
			return nil, err
		}
		return &Result{Kind: KindAsk, Bool: ok, diag: e.diag}, nil

	case sparqlir.FormConstruct:
		defer release()
		return e.construct(ctx, q, factory)

	case sparqlir.FormDescribe:
		defer release()
		return e.describe(ctx, q, factory)

	default:
		return e.selectResult(ctx, q, factory, release)
	}
}

// newTable sizes a binding table for every variable the arena interned.
func (e *env) newTable(q *sparqlir.Query) *scan.Table {
	tbl := scan.NewTable(len(q.Vars))
	for i, name := range q.Vars {
		tbl.SetName(i, name)
	}
	return tbl
}

// outputVars resolves the projected variable list.
func outputVars(q *sparqlir.Query) ([]string, []int, []sparqlir.SelectItem) {
	if q.Star {
		names := projectedVarNames(q)
		vars := make([]int, len(names))
		for i, n := range names {
			v, _ := q.VarIndex(n)
			vars[i] = v
		}
		return names, vars, nil
	}
	names := make([]string, len(q.Items))
	vars := make([]int, len(q.Items))
	for i, it := range q.Items {
		names[i] = q.Vars[it.Var]
		vars[i] = it.Var
	}
	return names, vars, q.Items
}

func (e *env) selectResult(ctx context.Context, q *sparqlir.Query, factory scan.Factory, release func()) (*Result, error) {
	names, vars, items := outputVars(q)

	needsAggregation := queryAggregates(q)
	needsMaterialization := needsAggregation || q.Distinct || q.Reduced || len(q.OrderBy) > 0

	if !needsMaterialization {
		return e.streamSelect(ctx, q, factory, names, vars, items, release), nil
	}
	defer release()

	rows, err := e.materializeRows(ctx, q, factory)
	if err != nil {
		return nil, err
	}

	var out [][]sparqlir.Term
	if needsAggregation {
		out, err = e.aggregateRows(q, rows, names, vars, items)
	} else {
		out, err = e.projectRows(q, rows, vars, items)
	}
	if err != nil {
		return nil, err
	}

	if q.Distinct {
		out = dedupeRows(out, false)
	} else if q.Reduced {
		out = dedupeRows(out, true)
	}
	out = applySlice(out, q.Offset, q.Limit)

	i := 0
	return &Result{
		Kind: KindSelect,
		Vars: names,
		diag: e.diag,
		ctx:  ctx,
		step: func() ([]sparqlir.Term, bool, error) {
			if i >= len(out) {
				return nil, false, nil
			}
			row := out[i]
			i++
			return row, true, nil
		},
	}, nil
}

// streamSelect drives the pipeline row by row with no materialization:
// the allocation-free fast path for plain SELECT queries.
func (e *env) streamSelect(ctx context.Context, q *sparqlir.Query, factory scan.Factory, names []string, vars []int, items []sparqlir.SelectItem, release func()) *Result {
	s := factory()
	tbl := e.newTable(q)

	remaining := -1
	if q.Limit >= 0 {
		remaining = q.Limit
	}
	skip := 0
	if q.Offset > 0 {
		skip = q.Offset
	}

	cleanup := func() {
		s.Dispose()
		release()
	}

	return &Result{
		Kind:    KindSelect,
		Vars:    names,
		diag:    e.diag,
		ctx:     ctx,
		cleanup: cleanup,
		step: func() ([]sparqlir.Term, bool, error) {
			for {
				if remaining == 0 {
					return nil, false, nil
				}
				ok, err := s.MoveNext(tbl)
				if err != nil {
					return nil, false, err
				}
				if !ok {
					return nil, false, nil
				}
				if skip > 0 {
					skip--
					continue
				}
				row, err := e.projectRow(tbl, vars, items)
				if err != nil {
					e.diag.Record(err)
					continue
				}
				if remaining > 0 {
					remaining--
				}
				return row, true, nil
			}
		},
	}
}

// materializeRows drains the pipeline into full binding snapshots —
// the materialization boundary.
func (e *env) materializeRows(ctx context.Context, q *sparqlir.Query, factory scan.Factory) ([][]atom.ID, error) {
	s := factory()
	defer s.Dispose()
	tbl := e.newTable(q)

	var rows [][]atom.ID
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
			return rows, nil
		}
		rows = append(rows, tbl.Snapshot(nil))
	}
}

// projectRow renders the current table into projected terms.
func (e *env) projectRow(tbl *scan.Table, vars []int, items []sparqlir.SelectItem) ([]sparqlir.Term, error) {
	row := make([]sparqlir.Term, len(vars))
	for i := range vars {
		if items != nil && items[i].Expr != sparqlir.NoExpr {
			v, err := e.eval(items[i].Expr, tbl)
			if err != nil {
				row[i] = sparqlir.Term{Kind: sparqlir.TermUndef}
				continue
			}
			row[i] = v.asTerm()
			continue
		}
		if !tbl.Bound(vars[i]) {
			row[i] = sparqlir.Term{Kind: sparqlir.TermUndef}
			continue
		}
		t, err := e.lookupTerm(tbl.Get(vars[i]))
		if err != nil {
			return nil, err
		}
		row[i] = t
	}
	return row, nil
}

// projectRows projects materialized rows, ordering first when ORDER BY
// is present.
func (e *env) projectRows(q *sparqlir.Query, rows [][]atom.ID, vars []int, items []sparqlir.SelectItem) ([][]sparqlir.Term, error) {
	if len(q.OrderBy) > 0 {
		e.sortRows(q, rows)
	}
	tbl := e.newTable(q)
	out := make([][]sparqlir.Term, 0, len(rows))
	for _, r := range rows {
		tbl.Restore(r)
		row, err := e.projectRow(tbl, vars, items)
		if err != nil {
			e.diag.Record(err)
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// sortRows stably sorts binding snapshots by the ORDER BY keys:
// numeric comparison when both keys are numeric, codepoint string
// comparison otherwise, unbound sorting first.
func (e *env) sortRows(q *sparqlir.Query, rows [][]atom.ID) {
	tbl := e.newTable(q)
	keys := make([][]value, len(rows))
	bound := make([][]bool, len(rows))
	for i, r := range rows {
		tbl.Restore(r)
		ks := make([]value, len(q.OrderBy))
		bs := make([]bool, len(q.OrderBy))
		for j, key := range q.OrderBy {
			v, err := e.eval(key.Expr, tbl)
			if err == nil {
				ks[j] = v
				bs[j] = true
			}
		}
		keys[i] = ks
		bound[i] = bs
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		for j, key := range q.OrderBy {
			cmp := compareSortKeys(keys[ia][j], bound[ia][j], keys[ib][j], bound[ib][j])
			if key.Descending {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})

	sorted := make([][]atom.ID, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}

func compareSortKeys(a value, aBound bool, b value, bBound bool) int {
	switch {
	case !aBound && !bBound:
		return 0
	case !aBound:
		return -1
	case !bBound:
		return 1
	}
	if a.isNumeric() && b.isNumeric() {
		af, bf := a.asFloat(), b.asFloat()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := string(EncodeTerm(a.asTerm())), string(EncodeTerm(b.asTerm()))
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// aggregateRows partitions materialized rows into groups and projects
// one output row per group.
func (e *env) aggregateRows(q *sparqlir.Query, rows [][]atom.ID, names []string, vars []int, items []sparqlir.SelectItem) ([][]sparqlir.Term, error) {
	tbl := e.newTable(q)

	type group struct {
		rep  []atom.ID
		rows [][]atom.ID
	}
	groups := map[string]*group{}
	var order []string

	for _, r := range rows {
		tbl.Restore(r)
		key := ""
		for _, g := range q.GroupBy {
			v, err := e.eval(g, tbl)
			if err != nil {
				key += "\x00!"
				continue
			}
			key += "\x00" + string(EncodeTerm(v.asTerm()))
		}
		grp, ok := groups[key]
		if !ok {
			grp = &group{rep: r}
			groups[key] = grp
			order = append(order, key)
		}
		grp.rows = append(grp.rows, r)
	}

	// Aggregates over an empty input still produce one (empty) group
	// when there is no GROUP BY clause.
	if len(rows) == 0 && len(q.GroupBy) == 0 {
		groups[""] = &group{rep: make([]atom.ID, tbl.Len())}
		order = append(order, "")
	}

	scratch := e.newTable(q)
	var out [][]sparqlir.Term

	for _, key := range order {
		grp := groups[key]
		tbl.Restore(grp.rep)
		e.aggCtx = &aggContext{rows: grp.rows, scratch: scratch}

		keep := true
		for _, h := range q.Having {
			ok, err := e.evalBool(h, tbl)
			if err != nil {
				e.diag.Record(err)
				keep = false
				break
			}
			if !ok {
				keep = false
				break
			}
		}
		if !keep {
			e.aggCtx = nil
			continue
		}

		row, err := e.projectRow(tbl, vars, items)
		e.aggCtx = nil
		if err != nil {
			e.diag.Record(err)
			continue
		}
		out = append(out, row)
	}

	if len(q.OrderBy) > 0 {
		slog.Debug("order-by over aggregated output", "groups", len(out))
		e.sortProjected(q, names, out)
	}
	return out, nil
}

// sortProjected orders aggregated output rows. Keys that are plain
// projected variables sort on the output column; any other key
// (an expression, or a variable not in the projection) does not affect
// the order.
func (e *env) sortProjected(q *sparqlir.Query, names []string, out [][]sparqlir.Term) {
	col := func(exprID sparqlir.ExprID) int {
		node := q.Expr(exprID)
		if node.Kind != sparqlir.ExprTerm || !node.Term.IsVar() {
			return -1
		}
		name := q.Vars[node.Term.Var]
		for i, n := range names {
			if n == name {
				return i
			}
		}
		return -1
	}

	sort.SliceStable(out, func(a, b int) bool {
		for _, key := range q.OrderBy {
			c := col(key.Expr)
			if c < 0 {
				continue
			}
			av := termValue(out[a][c])
			bv := termValue(out[b][c])
			cmp := compareSortKeys(av, out[a][c].Kind != sparqlir.TermUndef, bv, out[b][c].Kind != sparqlir.TermUndef)
			if key.Descending {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
}

func dedupeRows(rows [][]sparqlir.Term, adjacentOnly bool) [][]sparqlir.Term {
	if len(rows) == 0 {
		return rows
	}
	key := func(row []sparqlir.Term) string {
		k := ""
		for _, t := range row {
			if t.Kind == sparqlir.TermUndef {
				k += "\x00"
				continue
			}
			k += "\x00" + string(EncodeTerm(t))
		}
		return k
	}

	out := rows[:0]
	if adjacentOnly {
		last := ""
		for i, r := range rows {
			k := key(r)
			if i == 0 || k != last {
				out = append(out, r)
			}
			last = k
		}
		return out
	}
	seen := map[string]bool{}
	for _, r := range rows {
		k := key(r)
		if !seen[k] {
			seen[k] = true
			out = append(out, r)
		}
	}
	return out
}

func applySlice(rows [][]sparqlir.Term, offset, limit int) [][]sparqlir.Term {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// internBlankVars interns a table position for every blank node label
// appearing in a pattern, so tables sized from the variable list cover
// them.
func internBlankVars(arena *sparqlir.Arena) {
	for i := range arena.Patterns {
		for _, tr := range arena.Patterns[i].Triples {
			for _, t := range []sparqlir.Term{tr.Subject, tr.Predicate, tr.Object} {
				if t.Kind == sparqlir.TermBlank {
					arena.Var("_:" + t.Value)
				}
			}
		}
	}
}

// materializeSubSelect runs a nested SELECT through its own plan and
// aligns its projected columns with the outer variable positions.
func (e *env) materializeSubSelect(node *planir.SubSelect) ([][]atom.ID, error) {
	sub := node.Query

	subEnv := newEnv(e.st, e.rt, &sub.Arena)
	subEnv.diag = e.diag
	subEnv.serviceRows = e.serviceRows
	internBlankVars(&sub.Arena)

	c := newCompiler(&sub.Arena)
	plan := c.compile(sub.Root, planir.DefaultGraph)
	factory, err := subEnv.lower(plan)
	if err != nil {
		return nil, err
	}

	rows, err := subEnv.materializeRows(context.Background(), sub, factory)
	if err != nil {
		return nil, err
	}
	if len(sub.OrderBy) > 0 {
		subEnv.sortRows(sub, rows)
	}

	// Project inner columns, mapping terms through the outer env so
	// query-local IDs stay coherent across the boundary.
	var out [][]atom.ID
	seen := map[string]bool{}
	for _, r := range rows {
		row := make([]atom.ID, len(node.InnerVars))
		k := ""
		for i, iv := range node.InnerVars {
			id := atom.Unbound
			if iv < len(r) && r[iv] != atom.Unbound {
				t, err := subEnv.lookupTerm(r[iv])
				if err != nil {
					return nil, err
				}
				id, err = e.resolveTerm(t)
				if err != nil {
					return nil, err
				}
			}
			row[i] = id
			k += fmt.Sprintf("\x00%d", id)
		}
		if sub.Distinct {
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		out = append(out, row)
	}

	outRows := applySliceIDs(out, sub.Offset, sub.Limit)
	return outRows, nil
}

func applySliceIDs(rows [][]atom.ID, offset, limit int) [][]atom.ID {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
