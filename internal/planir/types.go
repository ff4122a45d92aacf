// Package planir defines the logical query plan the executor compiles
// SPARQL patterns into: a tree of typed operator nodes over ordered
// triple patterns. The planner here is deliberately store-free — it
// reasons about which positions are bound, never about actual data —
// so the ordering heuristics are pure functions with table-driven
// tests.
package planir

import (
	"github.com/roach88/mercury/internal/sparqlir"
)

// Node represents one plan operator.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and
// enables exhaustive type switches in the executor's lowering pass.
type Node interface {
	planNode() // Marker method - seals interface to this package
}

// Term is one position of a planned pattern: a variable (by table
// position) or a constant RDF term awaiting atom resolution.
type Term struct {
	IsVar bool
	Var   int
	Value sparqlir.Term
}

// Variable returns a variable plan term.
func Variable(v int) Term { return Term{IsVar: true, Var: v} }

// Constant returns a constant plan term.
func Constant(t sparqlir.Term) Term { return Term{Value: t} }

// TriplePattern is one access pattern within a BGP. Path is NoPath for
// a plain predicate.
type TriplePattern struct {
	S, P, O Term
	Path    sparqlir.PathID
}

// GraphScope is the graph context a pattern runs in.
type GraphScope struct {
	// Default scopes to the default graph; the zero GraphScope has
	// Default false, so use DefaultGraph for that scope. Term is the
	// graph term when Default is false: a constant IRI or a variable
	// ranging over named graphs.
	Default bool
	Term    Term
}

// DefaultGraph is the scope of patterns outside any GRAPH block.
var DefaultGraph = GraphScope{Default: true}

// BGP is an ordered basic graph pattern: the patterns run left to
// right as a chain of scans with binding propagation.
type BGP struct {
	Graph    GraphScope
	Patterns []TriplePattern
}

func (*BGP) planNode() {}

// Join runs Right once per row of Left with bindings propagated.
type Join struct {
	Left, Right Node
}

func (*Join) planNode() {}

// LeftJoin is OPTIONAL: rows of Left survive even when Right is empty
// for them.
type LeftJoin struct {
	Left, Right Node
}

func (*LeftJoin) planNode() {}

// Union concatenates its branches.
type Union struct {
	Branches []Node
}

func (*Union) planNode() {}

// Minus anti-joins Right against Left. RightOnlyVars lists variables
// bound only inside Right; Disjoint marks the no-shared-variables case
// where MINUS keeps every left row.
type Minus struct {
	Left, Right   Node
	RightOnlyVars []int
	Disjoint      bool
}

func (*Minus) planNode() {}

// Filter applies the expressions to each row of Inner.
type Filter struct {
	Inner Node
	Exprs []sparqlir.ExprID
}

func (*Filter) planNode() {}

// Extend evaluates BIND assignments over each row of Inner.
type Extend struct {
	Inner Node
	Binds []sparqlir.Bind
}

func (*Extend) planNode() {}

// Values injects an inline binding block.
type Values struct {
	Vars []int
	Rows [][]sparqlir.Term
}

func (*Values) planNode() {}

// Service is a SERVICE clause: Pattern is materialized against the
// endpoint before execution starts, then scanned like a local store.
type Service struct {
	Endpoint sparqlir.Term
	Silent   bool
	Pattern  sparqlir.PatternID

	// Vars lists the variables the inner pattern mentions, in the
	// outer table's positions; the materialized rows are aligned with
	// it.
	Vars []int
}

func (*Service) planNode() {}

// SubSelect embeds a nested SELECT evaluated through its own plan; the
// projected columns map inner variable positions to outer ones.
type SubSelect struct {
	Query *sparqlir.Query

	// OuterVars[i] is the outer position of the i-th projected
	// variable of the subquery.
	OuterVars []int
	InnerVars []int
}

func (*SubSelect) planNode() {}

// Empty produces exactly one empty row. It is the unit of Join and the
// plan of an empty group.
type Empty struct{}

func (*Empty) planNode() {}
