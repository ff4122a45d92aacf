package sparql

import (
	"testing"

	"github.com/roach88/mercury/internal/sparqlir"
	"github.com/stretchr/testify/require"
)

func mustParseQuery(t *testing.T, src string) *sparqlir.Query {
	t.Helper()
	q, err := ParseQuery(src)
	require.NoError(t, err)
	return q
}

func TestParseSelectStar(t *testing.T) {
	q := mustParseQuery(t, `SELECT * WHERE { ?s ?p ?o }`)
	require.Equal(t, sparqlir.FormSelect, q.Form)
	require.True(t, q.Star)

	root := q.Pattern(q.Root)
	require.Equal(t, sparqlir.PatternGroup, root.Kind)
	require.Len(t, root.Children, 1)

	bgp := q.Pattern(root.Children[0])
	require.Equal(t, sparqlir.PatternBGP, bgp.Kind)
	require.Len(t, bgp.Triples, 1)
	require.True(t, bgp.Triples[0].Subject.IsVar())
	require.Equal(t, []string{"s", "p", "o"}, q.Vars)
}

func TestParseSelectProjectionAndModifiers(t *testing.T) {
	q := mustParseQuery(t, `
		SELECT DISTINCT ?name WHERE { ?x <http://ex/name> ?name }
		ORDER BY DESC(?name) LIMIT 10 OFFSET 5`)
	require.True(t, q.Distinct)
	require.Len(t, q.Items, 1)
	require.Equal(t, 10, q.Limit)
	require.Equal(t, 5, q.Offset)
	require.Len(t, q.OrderBy, 1)
	require.True(t, q.OrderBy[0].Descending)
}

func TestParsePrefixAndBase(t *testing.T) {
	q := mustParseQuery(t, `
		BASE <http://example.org/>
		PREFIX foaf: <http://xmlns.com/foaf/0.1/>
		SELECT ?n WHERE { ?x foaf:name ?n ; a foaf:Person }`)

	bgp := q.Pattern(q.Pattern(q.Root).Children[0])
	require.Len(t, bgp.Triples, 2)
	require.Equal(t, "http://xmlns.com/foaf/0.1/name", bgp.Triples[0].Predicate.Value)
	require.Equal(t, rdfType, bgp.Triples[1].Predicate.Value)
	require.Equal(t, "http://xmlns.com/foaf/0.1/Person", bgp.Triples[1].Object.Value)
}

func TestParseUnknownPrefixIsError(t *testing.T) {
	_, err := ParseQuery(`SELECT * WHERE { ?s nope:p ?o }`)
	require.Error(t, err)
	require.True(t, IsParseError(err))
	list := err.(ErrorList)
	require.Equal(t, ErrCodeUnknownPrefix, list[0].Code)
}

func TestParseOptionalUnionMinus(t *testing.T) {
	q := mustParseQuery(t, `
		SELECT * WHERE {
			?s <http://ex/p> ?o .
			OPTIONAL { ?s <http://ex/q> ?q }
			{ ?s <http://ex/r> ?r } UNION { ?s <http://ex/t> ?t }
			MINUS { ?s <http://ex/x> ?x }
		}`)

	root := q.Pattern(q.Root)
	require.Len(t, root.Children, 4)
	require.Equal(t, sparqlir.PatternBGP, q.Pattern(root.Children[0]).Kind)
	require.Equal(t, sparqlir.PatternOptional, q.Pattern(root.Children[1]).Kind)
	require.Equal(t, sparqlir.PatternUnion, q.Pattern(root.Children[2]).Kind)
	require.Equal(t, sparqlir.PatternMinus, q.Pattern(root.Children[3]).Kind)
	require.Len(t, q.Pattern(root.Children[2]).Children, 2)
}

func TestParseFilterExpressionPrecedence(t *testing.T) {
	q := mustParseQuery(t, `SELECT * WHERE { ?s ?p ?o FILTER(?o > 1 + 2 * 3 || !BOUND(?s)) }`)

	root := q.Pattern(q.Root)
	require.Len(t, root.Filters, 1)

	or := q.Expr(root.Filters[0])
	require.Equal(t, sparqlir.ExprOr, or.Kind)

	cmp := q.Expr(or.Args[0])
	require.Equal(t, sparqlir.ExprCompare, cmp.Kind)
	require.Equal(t, ">", cmp.Op)

	plus := q.Expr(cmp.Args[1])
	require.Equal(t, sparqlir.ExprArith, plus.Kind)
	require.Equal(t, "+", plus.Op)
	times := q.Expr(plus.Args[1])
	require.Equal(t, "*", times.Op)

	not := q.Expr(or.Args[1])
	require.Equal(t, sparqlir.ExprNot, not.Kind)
	bound := q.Expr(not.Args[0])
	require.Equal(t, sparqlir.ExprBuiltin, bound.Kind)
	require.Equal(t, "BOUND", bound.Func)
}

func TestParseGraphAndService(t *testing.T) {
	q := mustParseQuery(t, `
		SELECT * WHERE {
			GRAPH ?g { ?s ?p ?o }
			SERVICE SILENT <http://remote/sparql> { ?s ?p2 ?o2 }
		}`)

	root := q.Pattern(q.Root)
	g := q.Pattern(root.Children[0])
	require.Equal(t, sparqlir.PatternGraph, g.Kind)
	require.True(t, g.GraphTerm.IsVar())

	svc := q.Pattern(root.Children[1])
	require.Equal(t, sparqlir.PatternService, svc.Kind)
	require.True(t, svc.Silent)
	require.Equal(t, "http://remote/sparql", svc.ServiceTerm.Value)
}

func TestParseBindAndValues(t *testing.T) {
	q := mustParseQuery(t, `
		SELECT * WHERE {
			VALUES (?x ?y) { (1 2) (UNDEF 3) }
			BIND(?x + 1 AS ?z)
		}`)

	root := q.Pattern(q.Root)
	require.Len(t, root.Binds, 1)
	values := q.Pattern(root.Children[0])
	require.Equal(t, sparqlir.PatternValues, values.Kind)
	require.Len(t, values.Values.Rows, 2)
	require.Equal(t, sparqlir.TermUndef, values.Values.Rows[1][0].Kind)
}

func TestParsePropertyPaths(t *testing.T) {
	q := mustParseQuery(t, `SELECT ?y WHERE { <http://ex/a> <http://ex/next>+ ?y }`)
	bgp := q.Pattern(q.Pattern(q.Root).Children[0])
	tr := bgp.Triples[0]
	require.NotEqual(t, sparqlir.NoPath, tr.Path)

	path := q.Path(tr.Path)
	require.Equal(t, sparqlir.PathOneOrMore, path.Kind)
	require.Equal(t, sparqlir.PathIRI, q.Path(path.Children[0]).Kind)
}

func TestParsePathAlternativeSequenceInverse(t *testing.T) {
	q := mustParseQuery(t, `SELECT * WHERE { ?s (^<http://ex/p>/<http://ex/q>)|<http://ex/r> ?o }`)
	bgp := q.Pattern(q.Pattern(q.Root).Children[0])
	alt := q.Path(bgp.Triples[0].Path)
	require.Equal(t, sparqlir.PathAlternative, alt.Kind)
	require.Len(t, alt.Children, 2)
	seq := q.Path(alt.Children[0])
	require.Equal(t, sparqlir.PathSequence, seq.Kind)
	require.Equal(t, sparqlir.PathInverse, q.Path(seq.Children[0]).Kind)
}

func TestParseNegatedPropertySet(t *testing.T) {
	q := mustParseQuery(t, `SELECT * WHERE { ?s !(<http://ex/p>|^<http://ex/q>) ?o }`)
	bgp := q.Pattern(q.Pattern(q.Root).Children[0])
	neg := q.Path(bgp.Triples[0].Path)
	require.Equal(t, sparqlir.PathNegatedSet, neg.Kind)
	require.Equal(t, []string{"http://ex/p"}, neg.NegatedIRIs)
	require.Equal(t, []string{"http://ex/q"}, neg.NegatedInverse)
}

func TestParseAggregatesAndGrouping(t *testing.T) {
	q := mustParseQuery(t, `
		SELECT ?x (SUM(?o) AS ?total) (GROUP_CONCAT(?o; SEPARATOR=",") AS ?all)
		WHERE { ?x <http://ex/p> ?o }
		GROUP BY ?x
		HAVING (SUM(?o) > 10)`)

	require.Len(t, q.Items, 3)
	require.Len(t, q.GroupBy, 1)
	require.Len(t, q.Having, 1)

	sum := q.Expr(q.Items[1].Expr)
	require.Equal(t, sparqlir.ExprAggregate, sum.Kind)
	require.Equal(t, sparqlir.AggSum, sum.Agg)

	gc := q.Expr(q.Items[2].Expr)
	require.Equal(t, sparqlir.AggGroupConcat, gc.Agg)
	require.Equal(t, ",", gc.AggSeparator)
}

func TestParseSubSelect(t *testing.T) {
	q := mustParseQuery(t, `
		SELECT ?x WHERE {
			?x <http://ex/p> ?y .
			{ SELECT ?y WHERE { ?y <http://ex/q> ?z } LIMIT 1 }
		}`)
	root := q.Pattern(q.Root)
	sub := q.Pattern(root.Children[1])
	require.Equal(t, sparqlir.PatternSubSelect, sub.Kind)
	require.NotNil(t, sub.Sub)
	require.Equal(t, 1, sub.Sub.Limit)
}

func TestParseAskConstructDescribe(t *testing.T) {
	q := mustParseQuery(t, `ASK { ?s ?p ?o }`)
	require.Equal(t, sparqlir.FormAsk, q.Form)

	q = mustParseQuery(t, `CONSTRUCT { ?s <http://ex/p2> ?o } WHERE { ?s <http://ex/p> ?o }`)
	require.Equal(t, sparqlir.FormConstruct, q.Form)
	require.Len(t, q.Construct, 1)

	q = mustParseQuery(t, `DESCRIBE <http://ex/a> ?x WHERE { ?x <http://ex/p> <http://ex/a> }`)
	require.Equal(t, sparqlir.FormDescribe, q.Form)
	require.Len(t, q.DescribeTerms, 2)
}

func TestParseExists(t *testing.T) {
	q := mustParseQuery(t, `SELECT * WHERE { ?s ?p ?o FILTER NOT EXISTS { ?s <http://ex/q> ?v } }`)
	root := q.Pattern(q.Root)
	require.Len(t, root.Filters, 1)
	e := q.Expr(root.Filters[0])
	require.Equal(t, sparqlir.ExprNotExists, e.Kind)
	require.NotEqual(t, sparqlir.NoPattern, e.Pattern)
}

func TestParseBlankNodePropertyList(t *testing.T) {
	q := mustParseQuery(t, `SELECT * WHERE { ?x <http://ex/knows> [ <http://ex/name> "A" ] }`)
	bgp := q.Pattern(q.Pattern(q.Root).Children[0])
	require.Len(t, bgp.Triples, 2)
}

func TestParseReportsMultipleErrorsWithSpans(t *testing.T) {
	_, err := ParseQuery(`SELECT ?x WHERE { ?x nope:a ?y . ?y other:b ?z }`)
	require.Error(t, err)
	list, ok := err.(ErrorList)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(list), 2)
	for _, e := range list {
		require.Equal(t, ErrCodeUnknownPrefix, e.Code)
		require.Greater(t, e.Span.End, e.Span.Start)
	}
}

func TestParseErrorRecovery(t *testing.T) {
	_, err := ParseQuery(`SELECT ?x WHERE { ?x ?? ?y . ?y <http://ex/p> }`)
	require.Error(t, err)
	list, ok := err.(ErrorList)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(list), 1)
}

// ---- updates ----

func mustParseUpdate(t *testing.T, src string) *sparqlir.Update {
	t.Helper()
	u, err := ParseUpdate(src)
	require.NoError(t, err)
	return u
}

func TestParseInsertData(t *testing.T) {
	u := mustParseUpdate(t, `INSERT DATA { <http://ex/a> <http://ex/p> "v" . GRAPH <http://ex/g> { <http://ex/b> <http://ex/q> 2 } }`)
	require.Len(t, u.Ops, 1)
	op := u.Ops[0]
	require.Equal(t, sparqlir.OpInsertData, op.Kind)
	require.Len(t, op.InsertQuads, 2)
	require.False(t, op.InsertQuads[0].HasGraph)
	require.True(t, op.InsertQuads[1].HasGraph)
	require.Equal(t, "http://ex/g", op.InsertQuads[1].Graph.Value)
}

func TestParseInsertDataRejectsVariables(t *testing.T) {
	_, err := ParseUpdate(`INSERT DATA { ?s <http://ex/p> "v" }`)
	require.Error(t, err)
	list := err.(ErrorList)
	require.Equal(t, ErrCodeVarInDataBlock, list[0].Code)
}

func TestParseDeleteWhere(t *testing.T) {
	u := mustParseUpdate(t, `DELETE WHERE { <http://ex/a> <http://ex/p> ?o }`)
	op := u.Ops[0]
	require.Equal(t, sparqlir.OpDeleteWhere, op.Kind)
	require.Len(t, op.DeleteQuads, 1)
}

func TestParseModifyWithUsing(t *testing.T) {
	u := mustParseUpdate(t, `
		DELETE { ?s <http://ex/old> ?o }
		INSERT { ?s <http://ex/new> ?o }
		USING <http://ex/g1>
		USING NAMED <http://ex/g2>
		WHERE { ?s <http://ex/old> ?o }`)
	op := u.Ops[0]
	require.Equal(t, sparqlir.OpModify, op.Kind)
	require.Len(t, op.DeleteQuads, 1)
	require.Len(t, op.InsertQuads, 1)
	require.Equal(t, []string{"http://ex/g1"}, op.Using)
	require.Equal(t, []string{"http://ex/g2"}, op.UsingNamed)
	require.NotEqual(t, sparqlir.NoPattern, op.Where)
}

func TestParseDeleteTemplateRejectsBlankNodes(t *testing.T) {
	_, err := ParseUpdate(`DELETE { ?s <http://ex/p> _:b } WHERE { ?s <http://ex/p> ?o }`)
	require.Error(t, err)
	list := err.(ErrorList)
	require.Equal(t, ErrCodeBlankInDelete, list[0].Code)
}

func TestParseSequencedOperations(t *testing.T) {
	u := mustParseUpdate(t, `
		INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> } ;
		DELETE WHERE { <http://ex/a> <http://ex/p> ?o } ;
		CLEAR GRAPH <http://ex/g> ;
		DROP SILENT DEFAULT ;
		CREATE GRAPH <http://ex/g2> ;
		COPY DEFAULT TO GRAPH <http://ex/g3> ;
		MOVE GRAPH <http://ex/g3> TO DEFAULT ;
		ADD DEFAULT TO GRAPH <http://ex/g4> ;
		LOAD SILENT <http://ex/doc.ttl> INTO GRAPH <http://ex/g5>`)

	require.Len(t, u.Ops, 9)
	require.Equal(t, sparqlir.OpInsertData, u.Ops[0].Kind)
	require.Equal(t, sparqlir.OpDeleteWhere, u.Ops[1].Kind)
	require.Equal(t, sparqlir.OpClear, u.Ops[2].Kind)
	require.Equal(t, sparqlir.GraphNamed, u.Ops[2].Graph.Kind)
	require.Equal(t, sparqlir.OpDrop, u.Ops[3].Kind)
	require.True(t, u.Ops[3].Silent)
	require.Equal(t, sparqlir.OpCreate, u.Ops[4].Kind)
	require.Equal(t, sparqlir.OpCopy, u.Ops[5].Kind)
	require.Equal(t, sparqlir.OpMove, u.Ops[6].Kind)
	require.Equal(t, sparqlir.OpAdd, u.Ops[7].Kind)
	require.Equal(t, sparqlir.OpLoad, u.Ops[8].Kind)
	require.Equal(t, "http://ex/doc.ttl", u.Ops[8].DocumentIRI)
	require.Equal(t, "http://ex/g5", u.Ops[8].IntoGraph)
}

func TestParseWithModify(t *testing.T) {
	u := mustParseUpdate(t, `WITH <http://ex/g> DELETE { ?s ?p ?o } WHERE { ?s ?p ?o }`)
	op := u.Ops[0]
	require.Equal(t, sparqlir.OpModify, op.Kind)
	require.Equal(t, "http://ex/g", op.WithIRI)
}
