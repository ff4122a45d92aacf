package exec

import (
	"strings"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/scan"
	"github.com/roach88/mercury/internal/sparqlir"
)

// aggContext is the per-group evaluation context at the aggregation
// boundary: the group's member rows (full binding-table snapshots) and
// a scratch table for iterating them.
type aggContext struct {
	rows    [][]atom.ID
	scratch *scan.Table
}

// evalAggregateRef evaluates an aggregate expression for the current
// group. Outside the aggregation boundary an aggregate is meaningless
// and evaluates to an error row.
func (e *env) evalAggregateRef(node *sparqlir.Expr, tbl *scan.Table) (value, error) {
	ctx := e.aggCtx
	if ctx == nil {
		return value{}, evalErrorf("aggregate outside GROUP BY evaluation")
	}

	var (
		count   int64
		sum     value
		sumSet  bool
		minV    value
		maxV    value
		extSet  bool
		sample  value
		sampled bool
		concat  []string
		seen    map[string]bool
	)
	if node.AggDistinct {
		seen = map[string]bool{}
	}
	sum = intValue(0)

	for _, row := range ctx.rows {
		ctx.scratch.Restore(row)

		// COUNT(*) counts rows, not evaluations.
		if len(node.Args) == 0 {
			if node.Agg == sparqlir.AggCount {
				count++
			}
			continue
		}

		v, err := e.eval(node.Args[0], ctx.scratch)
		if err != nil {
			continue // per-row errors disappear from aggregates
		}
		if node.AggDistinct {
			key := string(EncodeTerm(v.asTerm()))
			if seen[key] {
				continue
			}
			seen[key] = true
		}

		count++
		if !sampled {
			sample = v
			sampled = true
		}
		if v.isNumeric() {
			if s, err := arith("+", sum, v); err == nil {
				sum = s
				sumSet = true
			}
		}
		if !extSet {
			minV, maxV = v, v
			extSet = true
		} else {
			if less, err := compareValues("<", v, minV); err == nil && less.b {
				minV = v
			}
			if more, err := compareValues(">", v, maxV); err == nil && more.b {
				maxV = v
			}
		}
		concat = append(concat, stringOf(v))
	}

	switch node.Agg {
	case sparqlir.AggCount:
		return intValue(count), nil
	case sparqlir.AggSum:
		return sum, nil
	case sparqlir.AggAvg:
		if count == 0 {
			return intValue(0), nil
		}
		if !sumSet {
			return value{}, evalErrorf("AVG over non-numeric values")
		}
		return arith("/", floatValue(sum.asFloat()), intValue(count))
	case sparqlir.AggMin:
		if !extSet {
			return value{}, evalErrorf("MIN of an empty group")
		}
		return minV, nil
	case sparqlir.AggMax:
		if !extSet {
			return value{}, evalErrorf("MAX of an empty group")
		}
		return maxV, nil
	case sparqlir.AggSample:
		if !sampled {
			return value{}, evalErrorf("SAMPLE of an empty group")
		}
		return sample, nil
	case sparqlir.AggGroupConcat:
		return stringValue(strings.Join(concat, node.AggSeparator)), nil
	default:
		return value{}, evalErrorf("unknown aggregate")
	}
}

func stringOf(v value) string {
	t := v.asTerm()
	if t.Kind == sparqlir.TermIRI {
		return t.Value
	}
	return t.Value
}

// exprHasAggregate walks an expression for aggregate nodes.
func exprHasAggregate(arena *sparqlir.Arena, id sparqlir.ExprID) bool {
	if id == sparqlir.NoExpr {
		return false
	}
	node := arena.Expr(id)
	if node.Kind == sparqlir.ExprAggregate {
		return true
	}
	for _, a := range node.Args {
		if exprHasAggregate(arena, a) {
			return true
		}
	}
	return false
}

// queryAggregates reports whether the query needs an aggregation
// boundary at all.
func queryAggregates(q *sparqlir.Query) bool {
	if len(q.GroupBy) > 0 || len(q.Having) > 0 {
		return true
	}
	for _, it := range q.Items {
		if exprHasAggregate(&q.Arena, it.Expr) {
			return true
		}
	}
	return false
}
