package scan

import (
	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/quad"
	"github.com/roach88/mercury/internal/store"
)

// PathKind enumerates the property path operators.
type PathKind int

const (
	PathPredicate   PathKind = iota // p
	PathInverse                     // ^p
	PathSequence                    // p/q
	PathAlternative                 // p|q
	PathZeroOrMore                  // p*
	PathOneOrMore                   // p+
	PathZeroOrOne                   // p?
	PathNegatedSet                  // !(p1|...|^pn)
)

// Path is one node of a property path expression. Children holds the
// operands of the composite kinds; Pred is set for PathPredicate;
// Negated and NegatedInverse split a negated property set into its
// forward and inverse members.
type Path struct {
	Kind           PathKind
	Pred           atom.ID
	Negated        []atom.ID
	NegatedInverse []atom.ID
	Children       []*Path
}

type pathPair struct{ s, o atom.ID }

// PathScan evaluates a property path between two endpoint positions.
// The full pair set is computed at the first MoveNext — transitive
// closures need visited tracking anyway, so paths are a materialization
// point by nature — and then replayed through the usual trail
// discipline.
type PathScan struct {
	rt    *store.ReadTxn
	graph Position
	path  *Path
	subj  Position
	obj   Position

	started bool
	done    bool
	// results carries (graph, subject, object); graph is only
	// meaningful when the graph position is a variable.
	results [][3]atom.ID
	i       int
	trail   []int
}

// NewPathScan builds a path scan over rt. The graph position follows
// the same conventions as NewTriplePatternScan.
func NewPathScan(rt *store.ReadTxn, graph Position, path *Path, subj, obj Position) *PathScan {
	return &PathScan{rt: rt, graph: graph, path: path, subj: subj, obj: obj}
}

func (sc *PathScan) scanNode() {}

func (sc *PathScan) MoveNext(tbl *Table) (bool, error) {
	if sc.done {
		return false, nil
	}
	if !sc.started {
		if err := sc.start(tbl); err != nil {
			return false, err
		}
	}
	for sc.i < len(sc.results) {
		r := sc.results[sc.i]
		sc.i++
		if sc.bindRow(r, tbl) {
			return true, nil
		}
	}
	tbl.ClearAll(sc.trail)
	sc.trail = sc.trail[:0]
	sc.done = true
	return false, nil
}

func (sc *PathScan) bindRow(r [3]atom.ID, tbl *Table) bool {
	tbl.ClearAll(sc.trail)
	sc.trail = sc.trail[:0]
	ok := true
	if sc.graph.IsVar {
		ok = bindPosition(sc.graph, r[0], tbl, &sc.trail)
	}
	ok = ok &&
		bindPosition(sc.subj, r[1], tbl, &sc.trail) &&
		bindPosition(sc.obj, r[2], tbl, &sc.trail)
	if !ok {
		tbl.ClearAll(sc.trail)
		sc.trail = sc.trail[:0]
	}
	return ok
}

func (sc *PathScan) Dispose() {
	sc.results = nil
	sc.done = true
}

// start resolves the endpoints from the table, picks the graphs to
// evaluate in, and computes the pair set per graph.
func (sc *PathScan) start(tbl *Table) error {
	sc.started = true

	resolve := func(pos Position) atom.ID {
		if pos.IsVar {
			if tbl.Bound(pos.Var) {
				return tbl.Get(pos.Var)
			}
			return atom.Unbound
		}
		return pos.Const
	}
	subj := resolve(sc.subj)
	obj := resolve(sc.obj)

	ev := pathEval{rt: sc.rt}

	switch {
	case sc.graph.Any:
		pairs, err := ev.eval(nil, sc.path, subj, obj)
		if err != nil {
			return err
		}
		for _, p := range pairs {
			sc.results = append(sc.results, [3]atom.ID{atom.Unbound, p.s, p.o})
		}
	case sc.graph.IsVar && !tbl.Bound(sc.graph.Var):
		graphs, err := sc.namedGraphs()
		if err != nil {
			return err
		}
		for _, g := range graphs {
			g := g
			pairs, err := ev.eval(&g, sc.path, subj, obj)
			if err != nil {
				return err
			}
			for _, p := range pairs {
				sc.results = append(sc.results, [3]atom.ID{g, p.s, p.o})
			}
		}
	default:
		g := resolve(sc.graph)
		pairs, err := ev.eval(&g, sc.path, subj, obj)
		if err != nil {
			return err
		}
		for _, p := range pairs {
			sc.results = append(sc.results, [3]atom.ID{g, p.s, p.o})
		}
	}
	return nil
}

func (sc *PathScan) namedGraphs() ([]atom.ID, error) {
	seen := make(map[atom.ID]bool)
	var graphs []atom.ID
	err := sc.rt.Scan(quad.Pattern{}, func(q quad.Quad) bool {
		if q.Graph != atom.Unbound && !seen[q.Graph] {
			seen[q.Graph] = true
			graphs = append(graphs, q.Graph)
		}
		return true
	})
	return graphs, err
}

// pathEval evaluates path expressions within one graph scope. graph
// nil means "any graph"; a pointer to atom.Unbound means the default
// graph only.
type pathEval struct {
	rt *store.ReadTxn
}

// eval returns the (subject, object) pairs connected by path. subj and
// obj constrain the endpoints when not atom.Unbound.
func (ev pathEval) eval(graph *atom.ID, path *Path, subj, obj atom.ID) ([]pathPair, error) {
	switch path.Kind {
	case PathPredicate:
		return ev.edges(graph, path.Pred, subj, obj)

	case PathInverse:
		pairs, err := ev.eval(graph, path.Children[0], obj, subj)
		if err != nil {
			return nil, err
		}
		out := make([]pathPair, len(pairs))
		for i, p := range pairs {
			out[i] = pathPair{s: p.o, o: p.s}
		}
		return out, nil

	case PathSequence:
		return ev.evalSequence(graph, path.Children, subj, obj)

	case PathAlternative:
		var out []pathPair
		seen := make(map[pathPair]bool)
		for _, child := range path.Children {
			pairs, err := ev.eval(graph, child, subj, obj)
			if err != nil {
				return nil, err
			}
			for _, p := range pairs {
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
		}
		return out, nil

	case PathZeroOrOne:
		pairs, err := ev.eval(graph, path.Children[0], subj, obj)
		if err != nil {
			return nil, err
		}
		zero, err := ev.zeroLengthPairs(graph, subj, obj)
		if err != nil {
			return nil, err
		}
		return mergePairs(zero, pairs), nil

	case PathZeroOrMore:
		return ev.closure(graph, path.Children[0], subj, obj, true)

	case PathOneOrMore:
		return ev.closure(graph, path.Children[0], subj, obj, false)

	case PathNegatedSet:
		return ev.evalNegated(graph, path, subj, obj)

	default:
		return nil, nil
	}
}

// edges scans one predicate's triples within the graph scope.
func (ev pathEval) edges(graph *atom.ID, pred atom.ID, subj, obj atom.ID) ([]pathPair, error) {
	pattern := quad.Pattern{Graph: graph, Predicate: &pred}
	if subj != atom.Unbound {
		pattern.Subject = &subj
	}
	if obj != atom.Unbound {
		pattern.Object = &obj
	}
	var out []pathPair
	err := ev.rt.Scan(pattern, func(q quad.Quad) bool {
		if q.Predicate != pred {
			return true
		}
		if subj != atom.Unbound && q.Subject != subj {
			return true
		}
		if obj != atom.Unbound && q.Object != obj {
			return true
		}
		out = append(out, pathPair{s: q.Subject, o: q.Object})
		return true
	})
	return out, err
}

func (ev pathEval) evalSequence(graph *atom.ID, steps []*Path, subj, obj atom.ID) ([]pathPair, error) {
	if len(steps) == 1 {
		return ev.eval(graph, steps[0], subj, obj)
	}
	left, err := ev.eval(graph, steps[0], subj, atom.Unbound)
	if err != nil {
		return nil, err
	}
	// Group left pairs by their object so the tail is evaluated once
	// per distinct midpoint.
	byMid := make(map[atom.ID][]atom.ID)
	for _, p := range left {
		byMid[p.o] = append(byMid[p.o], p.s)
	}
	seen := make(map[pathPair]bool)
	var out []pathPair
	for mid, subjects := range byMid {
		tail, err := ev.evalSequence(graph, steps[1:], mid, obj)
		if err != nil {
			return nil, err
		}
		for _, t := range tail {
			for _, s := range subjects {
				p := pathPair{s: s, o: t.o}
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
		}
	}
	return out, nil
}

// closure computes the transitive closure of one path step with an
// explicit frontier and visited set; includeZero distinguishes p* from
// p+. Traversal is bounded by the node count of the graph scope.
func (ev pathEval) closure(graph *atom.ID, step *Path, subj, obj atom.ID, includeZero bool) ([]pathPair, error) {
	forward := func(from atom.ID) ([]pathPair, error) {
		return ev.eval(graph, step, from, atom.Unbound)
	}
	backward := func(to atom.ID) ([]pathPair, error) {
		return ev.eval(graph, step, atom.Unbound, to)
	}

	switch {
	case subj != atom.Unbound:
		reached, err := ev.bfs(subj, forward, func(p pathPair) atom.ID { return p.o })
		if err != nil {
			return nil, err
		}
		var out []pathPair
		if includeZero {
			if obj == atom.Unbound || obj == subj {
				out = append(out, pathPair{s: subj, o: subj})
			}
		}
		for _, n := range reached {
			if obj != atom.Unbound && n != obj {
				continue
			}
			if n == subj && includeZero {
				continue // already emitted as the zero-length pair
			}
			out = append(out, pathPair{s: subj, o: n})
		}
		return out, nil

	case obj != atom.Unbound:
		reached, err := ev.bfs(obj, backward, func(p pathPair) atom.ID { return p.s })
		if err != nil {
			return nil, err
		}
		var out []pathPair
		if includeZero {
			out = append(out, pathPair{s: obj, o: obj})
		}
		for _, n := range reached {
			if n == obj && includeZero {
				continue
			}
			out = append(out, pathPair{s: n, o: obj})
		}
		return out, nil

	default:
		nodes, err := ev.allNodes(graph)
		if err != nil {
			return nil, err
		}
		seen := make(map[pathPair]bool)
		var out []pathPair
		add := func(p pathPair) {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
		for _, n := range nodes {
			if includeZero {
				add(pathPair{s: n, o: n})
			}
			reached, err := ev.bfs(n, forward, func(p pathPair) atom.ID { return p.o })
			if err != nil {
				return nil, err
			}
			for _, r := range reached {
				if r == n && includeZero {
					continue
				}
				add(pathPair{s: n, o: r})
			}
		}
		return out, nil
	}
}

// bfs expands from start through expand until the frontier drains,
// returning every node reached in one or more steps.
func (ev pathEval) bfs(start atom.ID, expand func(atom.ID) ([]pathPair, error), next func(pathPair) atom.ID) ([]atom.ID, error) {
	visited := map[atom.ID]bool{}
	frontier := []atom.ID{start}
	var reached []atom.ID
	for len(frontier) > 0 {
		node := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		pairs, err := expand(node)
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			n := next(p)
			if !visited[n] {
				visited[n] = true
				reached = append(reached, n)
				frontier = append(frontier, n)
			}
		}
	}
	return reached, nil
}

func (ev pathEval) evalNegated(graph *atom.ID, path *Path, subj, obj atom.ID) ([]pathPair, error) {
	excluded := make(map[atom.ID]bool, len(path.Negated))
	for _, p := range path.Negated {
		excluded[p] = true
	}
	pattern := quad.Pattern{Graph: graph}
	if subj != atom.Unbound {
		pattern.Subject = &subj
	}
	seen := make(map[pathPair]bool)
	var out []pathPair
	err := ev.rt.Scan(pattern, func(q quad.Quad) bool {
		if excluded[q.Predicate] {
			return true
		}
		if subj != atom.Unbound && q.Subject != subj {
			return true
		}
		if obj != atom.Unbound && q.Object != obj {
			return true
		}
		p := pathPair{s: q.Subject, o: q.Object}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	// Inverse members of the set permit traversing reversed edges whose
	// (forward) predicate is outside the inverse exclusions.
	if len(path.NegatedInverse) > 0 {
		invExcluded := make(map[atom.ID]bool, len(path.NegatedInverse))
		for _, p := range path.NegatedInverse {
			invExcluded[p] = true
		}
		invPattern := quad.Pattern{Graph: graph}
		if subj != atom.Unbound {
			invPattern.Object = &subj
		}
		err = ev.rt.Scan(invPattern, func(q quad.Quad) bool {
			if invExcluded[q.Predicate] {
				return true
			}
			if subj != atom.Unbound && q.Object != subj {
				return true
			}
			if obj != atom.Unbound && q.Subject != obj {
				return true
			}
			p := pathPair{s: q.Object, o: q.Subject}
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// zeroLengthPairs returns the zero-step pairs for the current endpoint
// constraints: (x, x) for the constrained endpoint, or for every node
// in the graph scope when both endpoints are open.
func (ev pathEval) zeroLengthPairs(graph *atom.ID, subj, obj atom.ID) ([]pathPair, error) {
	switch {
	case subj != atom.Unbound && obj != atom.Unbound:
		if subj == obj {
			return []pathPair{{s: subj, o: subj}}, nil
		}
		return nil, nil
	case subj != atom.Unbound:
		return []pathPair{{s: subj, o: subj}}, nil
	case obj != atom.Unbound:
		return []pathPair{{s: obj, o: obj}}, nil
	default:
		nodes, err := ev.allNodes(graph)
		if err != nil {
			return nil, err
		}
		out := make([]pathPair, len(nodes))
		for i, n := range nodes {
			out[i] = pathPair{s: n, o: n}
		}
		return out, nil
	}
}

// allNodes collects every term appearing in subject or object position
// within the graph scope.
func (ev pathEval) allNodes(graph *atom.ID) ([]atom.ID, error) {
	seen := make(map[atom.ID]bool)
	var nodes []atom.ID
	err := ev.rt.Scan(quad.Pattern{Graph: graph}, func(q quad.Quad) bool {
		if !seen[q.Subject] {
			seen[q.Subject] = true
			nodes = append(nodes, q.Subject)
		}
		if !seen[q.Object] {
			seen[q.Object] = true
			nodes = append(nodes, q.Object)
		}
		return true
	})
	return nodes, err
}

func mergePairs(a, b []pathPair) []pathPair {
	seen := make(map[pathPair]bool, len(a)+len(b))
	out := make([]pathPair, 0, len(a)+len(b))
	for _, p := range a {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range b {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
