package planir

import "github.com/roach88/mercury/internal/sparqlir"

// Position weights for cardinality estimation: a bound subject narrows
// a scan more than a bound object, which narrows more than a bound
// predicate (predicates repeat heavily in RDF data).
const (
	weightSubject   = 4
	weightObject    = 2
	weightPredicate = 1
	weightPath      = -8 // paths scan more than a single predicate
)

// OrderPatterns returns an execution order for the patterns of a BGP:
// greedily, the pattern with the lowest expected cardinality given
// everything bound so far runs next; ties break toward the placement
// that leaves the most variables bound. bound carries the variables
// already bound by operators to the left of this BGP and is not
// modified.
func OrderPatterns(patterns []TriplePattern, bound map[int]bool) []int {
	n := len(patterns)
	order := make([]int, 0, n)
	used := make([]bool, n)

	localBound := make(map[int]bool, len(bound)+8)
	for v := range bound {
		localBound[v] = true
	}

	for len(order) < n {
		best := -1
		bestScore := 0
		bestBoundAfter := 0
		for i, p := range patterns {
			if used[i] {
				continue
			}
			score := patternScore(p, localBound)
			boundAfter := len(localBound) + countNewVars(p, localBound)
			if best == -1 || score > bestScore ||
				(score == bestScore && boundAfter > bestBoundAfter) {
				best = i
				bestScore = score
				bestBoundAfter = boundAfter
			}
		}
		used[best] = true
		order = append(order, best)
		bindVars(patterns[best], localBound)
	}
	return order
}

// patternScore estimates how selective p is under the current
// bindings: higher scores mean lower expected cardinality.
func patternScore(p TriplePattern, bound map[int]bool) int {
	score := 0
	if termBound(p.S, bound) {
		score += weightSubject
	}
	if p.Path != sparqlir.NoPath {
		score += weightPath
	} else if termBound(p.P, bound) {
		score += weightPredicate
	}
	if termBound(p.O, bound) {
		score += weightObject
	}
	return score
}

func termBound(t Term, bound map[int]bool) bool {
	if !t.IsVar {
		return true
	}
	return bound[t.Var]
}

func countNewVars(p TriplePattern, bound map[int]bool) int {
	n := 0
	seen := map[int]bool{}
	for _, t := range []Term{p.S, p.P, p.O} {
		if t.IsVar && !bound[t.Var] && !seen[t.Var] {
			seen[t.Var] = true
			n++
		}
	}
	return n
}

func bindVars(p TriplePattern, bound map[int]bool) {
	for _, t := range []Term{p.S, p.P, p.O} {
		if t.IsVar {
			bound[t.Var] = true
		}
	}
}
