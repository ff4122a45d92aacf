package sparql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, src string) []token {
	t.Helper()
	l := newLexer(src)
	var out []token
	for {
		tok := l.next()
		out = append(out, tok)
		if tok.Kind == tokEOF || tok.Kind == tokError {
			return out
		}
	}
}

func TestLexerBasicTokens(t *testing.T) {
	toks := lexAll(t, `SELECT ?s WHERE { ?s <http://ex/p> "v"@en . }`)
	kinds := make([]tokenKind, len(toks))
	for i, tok := range toks {
		kinds[i] = tok.Kind
	}
	require.Equal(t, []tokenKind{
		tokWord, tokVar, tokWord, tokLBrace,
		tokVar, tokIRIRef, tokString, tokLangTag, tokDot,
		tokRBrace, tokEOF,
	}, kinds)
	require.Equal(t, "http://ex/p", toks[5].Value)
	require.Equal(t, "v", toks[6].Value)
	require.Equal(t, "en", toks[7].Value)
}

func TestLexerNumbersAndDatatypes(t *testing.T) {
	toks := lexAll(t, `42 4.5 -3 1.0e2 "1"^^<http://www.w3.org/2001/XMLSchema#integer>`)
	require.Equal(t, tokInteger, toks[0].Kind)
	require.Equal(t, tokDecimal, toks[1].Kind)
	require.Equal(t, tokInteger, toks[2].Kind)
	require.Equal(t, "-3", toks[2].Text)
	require.Equal(t, tokDouble, toks[3].Kind)
	require.Equal(t, tokString, toks[4].Kind)
	require.Equal(t, tokDType, toks[5].Kind)
	require.Equal(t, tokIRIRef, toks[6].Kind)
}

func TestLexerComparisonVersusIRI(t *testing.T) {
	toks := lexAll(t, `?x <?y`)
	require.Equal(t, tokVar, toks[0].Kind)
	require.Equal(t, tokLt, toks[1].Kind)
	require.Equal(t, tokVar, toks[2].Kind)

	toks = lexAll(t, `?x <= 3 && ?y >= 4 || ?z != 5`)
	var ops []tokenKind
	for _, tok := range toks {
		switch tok.Kind {
		case tokLe, tokGe, tokNe, tokAndAnd, tokOrOr:
			ops = append(ops, tok.Kind)
		}
	}
	require.Equal(t, []tokenKind{tokLe, tokAndAnd, tokGe, tokOrOr, tokNe}, ops)
}

func TestLexerPNamesAndBlankNodes(t *testing.T) {
	toks := lexAll(t, `foaf:name _:b1 [] a`)
	require.Equal(t, tokPName, toks[0].Kind)
	require.Equal(t, "foaf:name", toks[0].Text)
	require.Equal(t, tokBlank, toks[1].Kind)
	require.Equal(t, "b1", toks[1].Value)
	require.Equal(t, tokAnon, toks[2].Kind)
	require.Equal(t, tokWord, toks[3].Kind)
	require.Equal(t, "a", toks[3].Text)
}

func TestLexerLongStringsAndEscapes(t *testing.T) {
	toks := lexAll(t, `"""line1
line2""" "tab\there" 'sq'`)
	require.Equal(t, tokString, toks[0].Kind)
	require.Equal(t, "line1\nline2", toks[0].Value)
	require.Equal(t, "tab\there", toks[1].Value)
	require.Equal(t, "sq", toks[2].Value)
}

func TestLexerCommentsSkipped(t *testing.T) {
	toks := lexAll(t, "?x # a comment\n?y")
	require.Equal(t, tokVar, toks[0].Kind)
	require.Equal(t, tokVar, toks[1].Kind)
	require.Equal(t, tokEOF, toks[2].Kind)
}

func TestLexerSpans(t *testing.T) {
	toks := lexAll(t, `SELECT ?s`)
	require.Equal(t, 0, toks[0].Start)
	require.Equal(t, 6, toks[0].End)
	require.Equal(t, 7, toks[1].Start)
	require.Equal(t, 9, toks[1].End)
}

func TestLexerUnterminatedString(t *testing.T) {
	toks := lexAll(t, `"no end`)
	last := toks[len(toks)-1]
	require.Equal(t, tokError, last.Kind)
}
