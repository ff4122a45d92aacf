package exec

import (
	"strings"

	"github.com/roach88/mercury/internal/planir"
	"github.com/roach88/mercury/internal/sparqlir"
)

// compiler turns a parsed graph pattern into a planir tree. It is
// store-free: constants stay symbolic until lowering resolves them to
// atom IDs. Blank node labels inside query patterns act as
// non-selectable variables and are interned into the arena's variable
// table under a reserved name.
type compiler struct {
	arena *sparqlir.Arena

	// bound tracks variables guaranteed bound by operators already
	// placed, feeding the BGP join-ordering heuristics.
	bound map[int]bool
}

func newCompiler(arena *sparqlir.Arena) *compiler {
	return &compiler{arena: arena, bound: map[int]bool{}}
}

// compile builds the plan for pattern id within the given graph scope.
func (c *compiler) compile(id sparqlir.PatternID, graph planir.GraphScope) planir.Node {
	if id == sparqlir.NoPattern {
		return &planir.Empty{}
	}
	p := c.arena.Pattern(id)

	switch p.Kind {
	case sparqlir.PatternGroup:
		return c.compileGroup(p, graph)

	case sparqlir.PatternBGP:
		return c.compileBGP(p, graph)

	case sparqlir.PatternOptional:
		// Reached only for a bare OPTIONAL group; the usual case is
		// folded inside compileGroup.
		return &planir.LeftJoin{Left: &planir.Empty{}, Right: c.compile(p.Child, graph)}

	case sparqlir.PatternUnion:
		u := &planir.Union{}
		outer := c.snapshotBound()
		merged := map[int]bool{}
		for _, b := range p.Children {
			c.bound = copyBound(outer)
			u.Branches = append(u.Branches, c.compile(b, graph))
			for v := range c.bound {
				merged[v] = true
			}
		}
		// After a union only the variables bound by every branch are
		// guaranteed, but for ordering purposes the optimistic merge
		// is harmless.
		c.bound = merged
		return u

	case sparqlir.PatternMinus:
		return c.compileMinus(p, graph)

	case sparqlir.PatternGraph:
		scope := planir.GraphScope{}
		if p.GraphTerm.IsVar() {
			scope.Term = planir.Variable(p.GraphTerm.Var)
			c.bound[p.GraphTerm.Var] = true
		} else {
			scope.Term = planir.Constant(p.GraphTerm)
		}
		return c.compile(p.Child, scope)

	case sparqlir.PatternService:
		vars := c.patternVars(p.Child, map[int]bool{})
		node := &planir.Service{
			Endpoint: p.ServiceTerm,
			Silent:   p.Silent,
			Pattern:  p.Child,
			Vars:     sortedVars(vars),
		}
		for v := range vars {
			c.bound[v] = true
		}
		return node

	case sparqlir.PatternValues:
		for _, v := range p.Values.Vars {
			c.bound[v] = true
		}
		return &planir.Values{Vars: p.Values.Vars, Rows: p.Values.Rows}

	case sparqlir.PatternSubSelect:
		return c.compileSubSelect(p.Sub)

	default:
		return &planir.Empty{}
	}
}

func (c *compiler) compileGroup(p *sparqlir.Pattern, graph planir.GraphScope) planir.Node {
	var acc planir.Node = &planir.Empty{}
	first := true

	for _, childID := range p.Children {
		child := c.arena.Pattern(childID)
		switch child.Kind {
		case sparqlir.PatternOptional:
			acc = &planir.LeftJoin{Left: acc, Right: c.compile(child.Child, graph)}
		case sparqlir.PatternMinus:
			left := acc
			minus := c.compileMinus(child, graph)
			minus.(*planir.Minus).Left = left
			acc = minus
		default:
			node := c.compile(childID, graph)
			if first {
				acc = node
			} else {
				acc = &planir.Join{Left: acc, Right: node}
			}
		}
		first = false
	}

	if len(p.Binds) > 0 {
		for _, b := range p.Binds {
			c.bound[b.Var] = true
		}
		acc = &planir.Extend{Inner: acc, Binds: p.Binds}
	}
	if len(p.Filters) > 0 {
		acc = &planir.Filter{Inner: acc, Exprs: p.Filters}
	}
	return acc
}

func (c *compiler) compileMinus(p *sparqlir.Pattern, graph planir.GraphScope) planir.Node {
	leftVars := copyBound(c.bound)

	saved := c.snapshotBound()
	right := c.compile(p.Child, graph)
	rightVars := c.bound
	c.bound = saved

	shared := false
	var rightOnly []int
	for v := range rightVars {
		if leftVars[v] {
			shared = true
		} else {
			rightOnly = append(rightOnly, v)
		}
	}
	return &planir.Minus{
		Left:          &planir.Empty{},
		Right:         right,
		RightOnlyVars: rightOnly,
		Disjoint:      !shared,
	}
}

func (c *compiler) compileBGP(p *sparqlir.Pattern, graph planir.GraphScope) planir.Node {
	patterns := make([]planir.TriplePattern, len(p.Triples))
	for i, tr := range p.Triples {
		patterns[i] = planir.TriplePattern{
			S:    c.planTerm(tr.Subject),
			P:    c.planTerm(tr.Predicate),
			O:    c.planTerm(tr.Object),
			Path: tr.Path,
		}
	}

	order := planir.OrderPatterns(patterns, c.bound)
	ordered := make([]planir.TriplePattern, len(patterns))
	for i, idx := range order {
		ordered[i] = patterns[idx]
	}
	for _, pt := range ordered {
		for _, t := range []planir.Term{pt.S, pt.P, pt.O} {
			if t.IsVar {
				c.bound[t.Var] = true
			}
		}
	}
	return &planir.BGP{Graph: graph, Patterns: ordered}
}

func (c *compiler) compileSubSelect(sub *sparqlir.Query) planir.Node {
	node := &planir.SubSelect{Query: sub}
	for _, name := range projectedVarNames(sub) {
		inner, ok := sub.VarIndex(name)
		if !ok {
			continue
		}
		outer := c.arena.Var(name)
		node.InnerVars = append(node.InnerVars, inner)
		node.OuterVars = append(node.OuterVars, outer)
		c.bound[outer] = true
	}
	return node
}

// planTerm converts a parsed term to a plan term, treating blank node
// labels as scoped variables.
func (c *compiler) planTerm(t sparqlir.Term) planir.Term {
	switch t.Kind {
	case sparqlir.TermVar:
		return planir.Variable(t.Var)
	case sparqlir.TermBlank:
		return planir.Variable(c.arena.Var("_:" + t.Value))
	default:
		return planir.Constant(t)
	}
}

// patternVars collects every variable mentioned under pattern id.
func (c *compiler) patternVars(id sparqlir.PatternID, acc map[int]bool) map[int]bool {
	if id == sparqlir.NoPattern {
		return acc
	}
	p := c.arena.Pattern(id)
	for _, tr := range p.Triples {
		for _, t := range []sparqlir.Term{tr.Subject, tr.Predicate, tr.Object} {
			if t.IsVar() {
				acc[t.Var] = true
			}
		}
	}
	for _, b := range p.Binds {
		acc[b.Var] = true
	}
	if p.Values != nil {
		for _, v := range p.Values.Vars {
			acc[v] = true
		}
	}
	if p.GraphTerm.IsVar() {
		acc[p.GraphTerm.Var] = true
	}
	for _, ch := range p.Children {
		c.patternVars(ch, acc)
	}
	switch p.Kind {
	case sparqlir.PatternOptional, sparqlir.PatternMinus, sparqlir.PatternGraph, sparqlir.PatternService:
		c.patternVars(p.Child, acc)
	}
	return acc
}

func projectedVarNames(q *sparqlir.Query) []string {
	if q.Star {
		names := make([]string, 0, len(q.Vars))
		for _, n := range q.Vars {
			// Skip the scoped variables standing in for blank node
			// labels; they are never projectable.
			if n != "" && !strings.HasPrefix(n, "_:") {
				names = append(names, n)
			}
		}
		return names
	}
	names := make([]string, 0, len(q.Items))
	for _, it := range q.Items {
		names = append(names, q.Vars[it.Var])
	}
	return names
}

func (c *compiler) snapshotBound() map[int]bool { return copyBound(c.bound) }

func copyBound(m map[int]bool) map[int]bool {
	out := make(map[int]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedVars(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	// Insertion sort; variable counts are tiny.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
