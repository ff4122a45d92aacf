// Package sparql implements the hand-written recursive-descent parser
// for SPARQL 1.1 Query and Update. It produces the arena-based IR in
// internal/sparqlir and reports syntax problems as ParseError values
// carrying a stable code and a byte span into the source; the parser
// resynchronizes at group and statement boundaries so one pass can
// surface several errors.
package sparql

import (
	"fmt"
	"strings"

	"github.com/roach88/mercury/internal/sparqlir"
)

// Well-known IRIs the grammar expands to.
const (
	rdfType  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	rdfFirst = "http://www.w3.org/1999/02/22-rdf-syntax-ns#first"
	rdfRest  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#rest"
	rdfNil   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#nil"

	xsdInteger = "http://www.w3.org/2001/XMLSchema#integer"
	xsdDecimal = "http://www.w3.org/2001/XMLSchema#decimal"
	xsdDouble  = "http://www.w3.org/2001/XMLSchema#double"
	xsdBoolean = "http://www.w3.org/2001/XMLSchema#boolean"
)

const maxParseErrors = 25

type parser struct {
	src string
	lex *lexer

	tok  token
	next token

	errs ErrorList

	arena    *sparqlir.Arena
	prefixes map[string]string
	base     string

	bnode int
}

func newParser(src string, arena *sparqlir.Arena) *parser {
	p := &parser{
		src:      src,
		lex:      newLexer(src),
		arena:    arena,
		prefixes: map[string]string{},
	}
	p.tok = p.scan()
	p.next = p.scan()
	return p
}

// ParseQuery parses one SPARQL query.
func ParseQuery(src string) (*sparqlir.Query, error) {
	q := sparqlir.NewQuery()
	p := newParser(src, &q.Arena)
	p.parseQuery(q)
	if err := p.errs.Err(); err != nil {
		return nil, err
	}
	q.Prefixes = p.prefixes
	q.BaseIRI = p.base
	return q, nil
}

func (p *parser) scan() token {
	for {
		t := p.lex.next()
		if t.Kind == tokError {
			p.errorTok(t, ErrCodeUnexpectedToken, "%s", t.Value)
			continue
		}
		return t
	}
}

func (p *parser) advance() {
	p.tok = p.next
	p.next = p.scan()
}

func (p *parser) errorTok(t token, code, format string, args ...any) {
	if len(p.errs) >= maxParseErrors {
		return
	}
	p.errs = append(p.errs, &ParseError{Code: code, Span: t.span(), Message: fmt.Sprintf(format, args...)})
}

func (p *parser) errorHere(code, format string, args ...any) {
	p.errorTok(p.tok, code, format, args...)
}

func (p *parser) overflowed() bool { return len(p.errs) >= maxParseErrors }

// expect consumes a token of the given kind, reporting and recovering
// in place when something else is found.
func (p *parser) expect(kind tokenKind, what string) bool {
	if p.tok.Kind == kind {
		p.advance()
		return true
	}
	p.errorHere(ErrCodeUnexpectedToken, "expected %s, found %q", what, p.tok.Text)
	return false
}

// syncTo skips tokens until one of kinds (or EOF), leaving the parser
// positioned at the sync token.
func (p *parser) syncTo(kinds ...tokenKind) {
	for p.tok.Kind != tokEOF {
		for _, k := range kinds {
			if p.tok.Kind == k {
				return
			}
		}
		p.advance()
	}
}

func (p *parser) atWord(w string) bool { return p.tok.isWord(w) }

// eatWord consumes the given keyword if present.
func (p *parser) eatWord(w string) bool {
	if p.atWord(w) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectWord(w string) bool {
	if p.eatWord(w) {
		return true
	}
	p.errorHere(ErrCodeUnexpectedToken, "expected %s, found %q", w, p.tok.Text)
	return false
}

func (p *parser) freshBlank() sparqlir.Term {
	p.bnode++
	return sparqlir.Term{Kind: sparqlir.TermBlank, Value: fmt.Sprintf("g%d", p.bnode)}
}

// ---- prologue ----

func (p *parser) parsePrologue() {
	for {
		switch {
		case p.atWord("PREFIX"):
			p.advance()
			if p.tok.Kind != tokPName || !strings.HasSuffix(p.tok.Text, ":") || strings.Count(p.tok.Text, ":") != 1 {
				// Accept "prefix:" exactly; a pname with a local part is
				// not a prefix declaration.
				if p.tok.Kind != tokPName {
					p.errorHere(ErrCodeUnexpectedToken, "expected prefix name, found %q", p.tok.Text)
					p.syncTo(tokIRIRef, tokEOF)
				} else {
					p.errorHere(ErrCodeUnexpectedToken, "expected prefix name ending in ':', found %q", p.tok.Text)
				}
			}
			name := strings.TrimSuffix(p.tok.Text, ":")
			p.advance()
			if p.tok.Kind != tokIRIRef {
				p.errorHere(ErrCodeBadIRI, "expected IRI after PREFIX %s:", name)
				continue
			}
			p.prefixes[name] = p.resolveIRI(p.tok.Value)
			p.advance()
		case p.atWord("BASE"):
			p.advance()
			if p.tok.Kind != tokIRIRef {
				p.errorHere(ErrCodeBadIRI, "expected IRI after BASE")
				continue
			}
			p.base = p.tok.Value
			p.advance()
		default:
			return
		}
	}
}

// resolveIRI resolves a (possibly relative) IRI reference against the
// current BASE.
func (p *parser) resolveIRI(iri string) string {
	if p.base == "" || strings.Contains(iri, "://") || strings.HasPrefix(iri, "urn:") || strings.HasPrefix(iri, "mailto:") {
		return iri
	}
	if strings.HasPrefix(iri, "#") || strings.HasPrefix(iri, "/") {
		return strings.TrimRight(p.base, "/#") + iri
	}
	base := p.base
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[:i+1]
	}
	return base + iri
}

func (p *parser) expandPName(t token) (string, bool) {
	text := t.Text
	colon := strings.IndexByte(text, ':')
	prefix, local := text[:colon], text[colon+1:]
	ns, ok := p.prefixes[prefix]
	if !ok {
		p.errorTok(t, ErrCodeUnknownPrefix, "prefix %q is not declared", prefix)
		return "", false
	}
	// Undo PN_LOCAL_ESC escapes.
	local = strings.NewReplacer(
		`\~`, "~", `\.`, ".", `\-`, "-", `\!`, "!", `\$`, "$", `\&`, "&",
		`\'`, "'", `\(`, "(", `\)`, ")", `\*`, "*", `\+`, "+", `\,`, ",",
		`\;`, ";", `\=`, "=", `\/`, "/", `\?`, "?", `\#`, "#", `\@`, "@", `\%`, "%",
	).Replace(local)
	return ns + local, true
}

// ---- query forms ----

func (p *parser) parseQuery(q *sparqlir.Query) {
	p.parsePrologue()

	switch {
	case p.atWord("SELECT"):
		q.Form = sparqlir.FormSelect
		p.parseSelectQuery(q)
	case p.atWord("ASK"):
		q.Form = sparqlir.FormAsk
		p.advance()
		p.parseDatasetClauses()
		p.parseWhereClause(q)
		p.parseSolutionModifiers(q)
	case p.atWord("CONSTRUCT"):
		q.Form = sparqlir.FormConstruct
		p.parseConstructQuery(q)
	case p.atWord("DESCRIBE"):
		q.Form = sparqlir.FormDescribe
		p.parseDescribeQuery(q)
	default:
		p.errorHere(ErrCodeUnexpectedToken, "expected SELECT, ASK, CONSTRUCT, or DESCRIBE, found %q", p.tok.Text)
		return
	}

	if p.tok.Kind != tokEOF && !p.overflowed() {
		p.errorHere(ErrCodeUnexpectedToken, "unexpected trailing input %q", p.tok.Text)
	}
}

func (p *parser) parseSelectQuery(q *sparqlir.Query) {
	p.parseSelectClause(q)
	p.parseDatasetClauses()
	p.parseWhereClause(q)
	p.parseSolutionModifiers(q)
}

func (p *parser) parseSelectClause(q *sparqlir.Query) {
	p.expectWord("SELECT")
	if p.eatWord("DISTINCT") {
		q.Distinct = true
	} else if p.eatWord("REDUCED") {
		q.Reduced = true
	}

	if p.tok.Kind == tokStar {
		q.Star = true
		p.advance()
		return
	}

	for {
		switch p.tok.Kind {
		case tokVar:
			v := p.arena.Var(p.tok.Value)
			q.Items = append(q.Items, sparqlir.SelectItem{Var: v, Expr: sparqlir.NoExpr})
			p.advance()
		case tokLParen:
			p.advance()
			e := p.parseExpression()
			p.expectWord("AS")
			if p.tok.Kind != tokVar {
				p.errorHere(ErrCodeBadProjection, "expected variable after AS")
				p.syncTo(tokRParen, tokEOF)
			} else {
				v := p.arena.Var(p.tok.Value)
				q.Items = append(q.Items, sparqlir.SelectItem{Var: v, Expr: e})
				p.advance()
			}
			p.expect(tokRParen, ")")
		default:
			if len(q.Items) == 0 {
				p.errorHere(ErrCodeBadProjection, "SELECT needs * or at least one variable")
			}
			return
		}
	}
}

func (p *parser) parseConstructQuery(q *sparqlir.Query) {
	p.expectWord("CONSTRUCT")
	if p.tok.Kind == tokLBrace {
		p.advance()
		q.Construct = p.parseTriplesTemplate()
		p.expect(tokRBrace, "}")
		p.parseDatasetClauses()
		p.parseWhereClause(q)
	} else {
		// CONSTRUCT WHERE { pattern }: the template is the pattern.
		p.parseDatasetClauses()
		p.expectWord("WHERE")
		start := len(p.arena.Patterns)
		q.Root = p.parseGroupGraphPattern()
		for _, pat := range p.arena.Patterns[start:] {
			if pat.Kind == sparqlir.PatternBGP {
				q.Construct = append(q.Construct, pat.Triples...)
			}
		}
	}
	p.parseSolutionModifiers(q)
}

func (p *parser) parseDescribeQuery(q *sparqlir.Query) {
	p.expectWord("DESCRIBE")
	if p.tok.Kind == tokStar {
		q.Star = true
		p.advance()
	} else {
		for {
			switch p.tok.Kind {
			case tokVar:
				q.DescribeTerms = append(q.DescribeTerms, sparqlir.Term{Kind: sparqlir.TermVar, Var: p.arena.Var(p.tok.Value)})
				p.advance()
				continue
			case tokIRIRef, tokPName:
				if t, ok := p.parseIRITerm(); ok {
					q.DescribeTerms = append(q.DescribeTerms, t)
				}
				continue
			}
			break
		}
		if len(q.DescribeTerms) == 0 {
			p.errorHere(ErrCodeUnexpectedToken, "DESCRIBE needs * or at least one term")
		}
	}
	p.parseDatasetClauses()
	if p.atWord("WHERE") || p.tok.Kind == tokLBrace {
		p.parseWhereClause(q)
	}
	p.parseSolutionModifiers(q)
}

// parseDatasetClauses consumes FROM / FROM NAMED clauses. The dataset
// is fixed by the store a query runs against, so the clauses are
// accepted and ignored.
func (p *parser) parseDatasetClauses() {
	for p.atWord("FROM") {
		p.advance()
		p.eatWord("NAMED")
		if p.tok.Kind != tokIRIRef && p.tok.Kind != tokPName {
			p.errorHere(ErrCodeBadIRI, "expected IRI in FROM clause")
			return
		}
		p.parseIRITerm()
	}
}

func (p *parser) parseWhereClause(q *sparqlir.Query) {
	p.eatWord("WHERE")
	q.Root = p.parseGroupGraphPattern()
}

// ---- solution modifiers ----

func (p *parser) parseSolutionModifiers(q *sparqlir.Query) {
	if p.eatWord("GROUP") {
		p.expectWord("BY")
		for {
			e, ok := p.parseGroupCondition()
			if !ok {
				break
			}
			q.GroupBy = append(q.GroupBy, e)
		}
		if len(q.GroupBy) == 0 {
			p.errorHere(ErrCodeBadExpression, "GROUP BY needs at least one expression")
		}
	}
	if p.eatWord("HAVING") {
		for p.tok.Kind == tokLParen {
			p.advance()
			q.Having = append(q.Having, p.parseExpression())
			p.expect(tokRParen, ")")
		}
		if len(q.Having) == 0 {
			p.errorHere(ErrCodeBadExpression, "HAVING needs a bracketted condition")
		}
	}
	if p.eatWord("ORDER") {
		p.expectWord("BY")
		for {
			key, ok := p.parseOrderCondition()
			if !ok {
				break
			}
			q.OrderBy = append(q.OrderBy, key)
		}
		if len(q.OrderBy) == 0 {
			p.errorHere(ErrCodeBadExpression, "ORDER BY needs at least one key")
		}
	}
	// LIMIT and OFFSET may appear in either order.
	for {
		switch {
		case p.atWord("LIMIT"):
			p.advance()
			if p.tok.Kind != tokInteger {
				p.errorHere(ErrCodeUnexpectedToken, "expected integer after LIMIT")
			} else {
				q.Limit = atoiSafe(p.tok.Text)
				p.advance()
			}
		case p.atWord("OFFSET"):
			p.advance()
			if p.tok.Kind != tokInteger {
				p.errorHere(ErrCodeUnexpectedToken, "expected integer after OFFSET")
			} else {
				q.Offset = atoiSafe(p.tok.Text)
				p.advance()
			}
		case p.atWord("VALUES"):
			p.advance()
			vb := p.parseValuesBlock()
			if vb != nil {
				// A trailing VALUES clause joins the whole query.
				values := p.arena.AddPattern(sparqlir.Pattern{Kind: sparqlir.PatternValues, Values: vb})
				if q.Root != sparqlir.NoPattern {
					q.Root = p.arena.AddPattern(sparqlir.Pattern{
						Kind:     sparqlir.PatternGroup,
						Children: []sparqlir.PatternID{values, q.Root},
					})
				} else {
					q.Root = values
				}
			}
		default:
			return
		}
	}
}

func (p *parser) parseGroupCondition() (sparqlir.ExprID, bool) {
	switch p.tok.Kind {
	case tokVar:
		v := p.arena.Var(p.tok.Value)
		p.advance()
		return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprTerm, Term: sparqlir.Term{Kind: sparqlir.TermVar, Var: v}}), true
	case tokLParen:
		p.advance()
		e := p.parseExpression()
		if p.eatWord("AS") {
			if p.tok.Kind == tokVar {
				// (expr AS ?v) groups by expr; ?v is consumed but
				// not bound.
				p.advance()
			} else {
				p.errorHere(ErrCodeBadExpression, "expected variable after AS")
			}
		}
		p.expect(tokRParen, ")")
		return e, true
	case tokIRIRef, tokPName:
		return p.parseBuiltinOrFunctionCall(), true
	default:
		if p.tok.Kind == tokWord && isBuiltinName(p.tok.Text) {
			return p.parseBuiltinOrFunctionCall(), true
		}
		return sparqlir.NoExpr, false
	}
}

func (p *parser) parseOrderCondition() (sparqlir.OrderKey, bool) {
	switch {
	case p.atWord("ASC"), p.atWord("DESC"):
		desc := p.atWord("DESC")
		p.advance()
		if !p.expect(tokLParen, "(") {
			return sparqlir.OrderKey{}, false
		}
		e := p.parseExpression()
		p.expect(tokRParen, ")")
		return sparqlir.OrderKey{Expr: e, Descending: desc}, true
	case p.tok.Kind == tokVar:
		v := p.arena.Var(p.tok.Value)
		p.advance()
		e := p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprTerm, Term: sparqlir.Term{Kind: sparqlir.TermVar, Var: v}})
		return sparqlir.OrderKey{Expr: e}, true
	case p.tok.Kind == tokLParen:
		p.advance()
		e := p.parseExpression()
		p.expect(tokRParen, ")")
		return sparqlir.OrderKey{Expr: e}, true
	case p.tok.Kind == tokWord && isBuiltinName(p.tok.Text):
		return sparqlir.OrderKey{Expr: p.parseBuiltinOrFunctionCall()}, true
	default:
		return sparqlir.OrderKey{}, false
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
