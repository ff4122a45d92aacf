package sparql

import (
	"github.com/roach88/mercury/internal/sparqlir"
)

// canStartTriples reports whether the current token can begin a triples
// block.
func (p *parser) canStartTriples() bool {
	switch p.tok.Kind {
	case tokVar, tokIRIRef, tokPName, tokBlank, tokAnon, tokLParen, tokLBracket,
		tokString, tokInteger, tokDecimal, tokDouble:
		return true
	case tokWord:
		return p.tok.isWord("true") || p.tok.isWord("false")
	}
	return false
}

// parseGroupGraphPattern parses '{ ... }' and returns the group node.
func (p *parser) parseGroupGraphPattern() sparqlir.PatternID {
	if !p.expect(tokLBrace, "{") {
		p.syncTo(tokRBrace, tokEOF)
		if p.tok.Kind == tokRBrace {
			p.advance()
		}
		return p.arena.AddPattern(sparqlir.Pattern{Kind: sparqlir.PatternGroup})
	}

	if p.atWord("SELECT") {
		sub := p.parseSubSelect()
		p.expect(tokRBrace, "}")
		return p.arena.AddPattern(sparqlir.Pattern{Kind: sparqlir.PatternSubSelect, Sub: sub})
	}

	group := sparqlir.Pattern{Kind: sparqlir.PatternGroup}

	for p.tok.Kind != tokRBrace && p.tok.Kind != tokEOF && !p.overflowed() {
		switch {
		case p.tok.Kind == tokDot:
			p.advance()

		case p.atWord("OPTIONAL"):
			p.advance()
			child := p.parseGroupGraphPattern()
			group.Children = append(group.Children,
				p.arena.AddPattern(sparqlir.Pattern{Kind: sparqlir.PatternOptional, Child: child}))

		case p.atWord("MINUS"):
			p.advance()
			child := p.parseGroupGraphPattern()
			group.Children = append(group.Children,
				p.arena.AddPattern(sparqlir.Pattern{Kind: sparqlir.PatternMinus, Child: child}))

		case p.atWord("GRAPH"):
			p.advance()
			g, ok := p.parseVarOrIRI()
			if !ok {
				p.syncTo(tokLBrace, tokRBrace, tokEOF)
			}
			child := p.parseGroupGraphPattern()
			group.Children = append(group.Children,
				p.arena.AddPattern(sparqlir.Pattern{Kind: sparqlir.PatternGraph, GraphTerm: g, Child: child}))

		case p.atWord("SERVICE"):
			p.advance()
			silent := p.eatWord("SILENT")
			g, ok := p.parseVarOrIRI()
			if !ok {
				p.syncTo(tokLBrace, tokRBrace, tokEOF)
			}
			child := p.parseGroupGraphPattern()
			group.Children = append(group.Children,
				p.arena.AddPattern(sparqlir.Pattern{Kind: sparqlir.PatternService, ServiceTerm: g, Silent: silent, Child: child}))

		case p.atWord("FILTER"):
			p.advance()
			group.Filters = append(group.Filters, p.parseConstraint())

		case p.atWord("BIND"):
			p.advance()
			p.expect(tokLParen, "(")
			e := p.parseExpression()
			p.expectWord("AS")
			if p.tok.Kind != tokVar {
				p.errorHere(ErrCodeBadExpression, "expected variable after AS in BIND")
				p.syncTo(tokRParen, tokRBrace, tokEOF)
			} else {
				group.Binds = append(group.Binds, sparqlir.Bind{Expr: e, Var: p.arena.Var(p.tok.Value)})
				// Binds are collected on the group; their position
				// among the group's children is not recorded, and the
				// executor applies them after every child is joined.
				p.advance()
			}
			p.expect(tokRParen, ")")

		case p.atWord("VALUES"):
			p.advance()
			if vb := p.parseValuesBlock(); vb != nil {
				group.Children = append(group.Children,
					p.arena.AddPattern(sparqlir.Pattern{Kind: sparqlir.PatternValues, Values: vb}))
			}

		case p.tok.Kind == tokLBrace:
			sub := p.parseGroupGraphPattern()
			if p.atWord("UNION") {
				branches := []sparqlir.PatternID{sub}
				for p.eatWord("UNION") {
					branches = append(branches, p.parseGroupGraphPattern())
				}
				sub = p.arena.AddPattern(sparqlir.Pattern{Kind: sparqlir.PatternUnion, Children: branches})
			}
			group.Children = append(group.Children, sub)

		case p.canStartTriples():
			triples := p.parseTriplesBlock()
			if len(triples) > 0 {
				group.Children = append(group.Children,
					p.arena.AddPattern(sparqlir.Pattern{Kind: sparqlir.PatternBGP, Triples: triples}))
			}

		default:
			p.errorHere(ErrCodeUnexpectedToken, "unexpected %q in graph pattern", p.tok.Text)
			p.syncTo(tokDot, tokRBrace, tokEOF)
			if p.tok.Kind == tokDot {
				p.advance()
			}
		}
	}
	p.expect(tokRBrace, "}")
	return p.arena.AddPattern(group)
}

// parseSubSelect parses a nested SELECT with its own arena; projected
// variable names are matched back to the outer scope by name at plan
// time.
func (p *parser) parseSubSelect() *sparqlir.Query {
	sub := sparqlir.NewQuery()
	sub.Form = sparqlir.FormSelect

	outer := p.arena
	p.arena = &sub.Arena
	defer func() { p.arena = outer }()

	p.parseSelectClause(sub)
	p.parseWhereClause(sub)
	p.parseSolutionModifiers(sub)
	return sub
}

func (p *parser) parseVarOrIRI() (sparqlir.Term, bool) {
	switch p.tok.Kind {
	case tokVar:
		t := sparqlir.Term{Kind: sparqlir.TermVar, Var: p.arena.Var(p.tok.Value)}
		p.advance()
		return t, true
	case tokIRIRef, tokPName:
		return p.parseIRITerm()
	default:
		p.errorHere(ErrCodeUnexpectedToken, "expected variable or IRI, found %q", p.tok.Text)
		return sparqlir.Term{}, false
	}
}

// parseIRITerm consumes an IRIREF or prefixed name.
func (p *parser) parseIRITerm() (sparqlir.Term, bool) {
	switch p.tok.Kind {
	case tokIRIRef:
		t := sparqlir.Term{Kind: sparqlir.TermIRI, Value: p.resolveIRI(p.tok.Value)}
		p.advance()
		return t, true
	case tokPName:
		iri, ok := p.expandPName(p.tok)
		p.advance()
		return sparqlir.Term{Kind: sparqlir.TermIRI, Value: iri}, ok
	default:
		p.errorHere(ErrCodeBadIRI, "expected IRI, found %q", p.tok.Text)
		return sparqlir.Term{}, false
	}
}

// ---- triples ----

// parseTriplesBlock parses consecutive same-subject triple groups
// separated by dots.
func (p *parser) parseTriplesBlock() []sparqlir.TriplePattern {
	var out []sparqlir.TriplePattern
	for {
		out = append(out, p.parseTriplesSameSubject()...)
		if p.tok.Kind != tokDot {
			return out
		}
		p.advance()
		if !p.canStartTriples() {
			return out
		}
	}
}

func (p *parser) parseTriplesSameSubject() []sparqlir.TriplePattern {
	var acc []sparqlir.TriplePattern
	subject := p.parseGraphNode(&acc)
	acc = append(acc, p.parsePropertyList(subject)...)
	return acc
}

// parsePropertyList parses 'verb objectList (; verb objectList)*' for
// one subject.
func (p *parser) parsePropertyList(subject sparqlir.Term) []sparqlir.TriplePattern {
	var acc []sparqlir.TriplePattern
	for {
		verb, path, ok := p.parseVerb()
		if !ok {
			p.syncTo(tokDot, tokSemicolon, tokRBrace, tokRBracket, tokEOF)
			if p.tok.Kind != tokSemicolon {
				return acc
			}
		} else {
			for {
				object := p.parseGraphNode(&acc)
				acc = append(acc, sparqlir.TriplePattern{Subject: subject, Predicate: verb, Path: path, Object: object})
				if p.tok.Kind != tokComma {
					break
				}
				p.advance()
			}
		}
		if p.tok.Kind != tokSemicolon {
			return acc
		}
		for p.tok.Kind == tokSemicolon {
			p.advance()
		}
		if p.tok.Kind == tokDot || p.tok.Kind == tokRBrace || p.tok.Kind == tokRBracket || p.tok.Kind == tokEOF {
			return acc
		}
	}
}

// parseVerb parses a predicate: a variable, 'a', an IRI, or a property
// path. Returns the predicate term (for the simple cases) or a path ID.
func (p *parser) parseVerb() (sparqlir.Term, sparqlir.PathID, bool) {
	if p.tok.Kind == tokVar {
		t := sparqlir.Term{Kind: sparqlir.TermVar, Var: p.arena.Var(p.tok.Value)}
		p.advance()
		return t, sparqlir.NoPath, true
	}
	id, ok := p.parsePath()
	if !ok {
		return sparqlir.Term{}, sparqlir.NoPath, false
	}
	// A path that is a bare IRI is an ordinary predicate.
	if node := p.arena.Path(id); node.Kind == sparqlir.PathIRI {
		return sparqlir.Term{Kind: sparqlir.TermIRI, Value: node.IRI}, sparqlir.NoPath, true
	}
	return sparqlir.Term{}, id, true
}

// ---- property paths ----

func (p *parser) parsePath() (sparqlir.PathID, bool) {
	return p.parsePathAlternative()
}

func (p *parser) parsePathAlternative() (sparqlir.PathID, bool) {
	first, ok := p.parsePathSequence()
	if !ok {
		return sparqlir.NoPath, false
	}
	if p.tok.Kind != tokPipe {
		return first, true
	}
	children := []sparqlir.PathID{first}
	for p.tok.Kind == tokPipe {
		p.advance()
		next, ok := p.parsePathSequence()
		if !ok {
			return sparqlir.NoPath, false
		}
		children = append(children, next)
	}
	return p.arena.AddPath(sparqlir.Path{Kind: sparqlir.PathAlternative, Children: children}), true
}

func (p *parser) parsePathSequence() (sparqlir.PathID, bool) {
	first, ok := p.parsePathEltOrInverse()
	if !ok {
		return sparqlir.NoPath, false
	}
	if p.tok.Kind != tokSlash {
		return first, true
	}
	children := []sparqlir.PathID{first}
	for p.tok.Kind == tokSlash {
		p.advance()
		next, ok := p.parsePathEltOrInverse()
		if !ok {
			return sparqlir.NoPath, false
		}
		children = append(children, next)
	}
	return p.arena.AddPath(sparqlir.Path{Kind: sparqlir.PathSequence, Children: children}), true
}

func (p *parser) parsePathEltOrInverse() (sparqlir.PathID, bool) {
	if p.tok.Kind == tokCaret {
		p.advance()
		child, ok := p.parsePathElt()
		if !ok {
			return sparqlir.NoPath, false
		}
		return p.arena.AddPath(sparqlir.Path{Kind: sparqlir.PathInverse, Children: []sparqlir.PathID{child}}), true
	}
	return p.parsePathElt()
}

func (p *parser) parsePathElt() (sparqlir.PathID, bool) {
	primary, ok := p.parsePathPrimary()
	if !ok {
		return sparqlir.NoPath, false
	}
	switch p.tok.Kind {
	case tokStar:
		p.advance()
		return p.arena.AddPath(sparqlir.Path{Kind: sparqlir.PathZeroOrMore, Children: []sparqlir.PathID{primary}}), true
	case tokPlus:
		p.advance()
		return p.arena.AddPath(sparqlir.Path{Kind: sparqlir.PathOneOrMore, Children: []sparqlir.PathID{primary}}), true
	case tokQuestionMark:
		p.advance()
		return p.arena.AddPath(sparqlir.Path{Kind: sparqlir.PathZeroOrOne, Children: []sparqlir.PathID{primary}}), true
	}
	return primary, true
}

func (p *parser) parsePathPrimary() (sparqlir.PathID, bool) {
	switch {
	case p.tok.Kind == tokLParen:
		p.advance()
		inner, ok := p.parsePath()
		if !ok {
			return sparqlir.NoPath, false
		}
		p.expect(tokRParen, ")")
		return inner, true

	case p.tok.Kind == tokBang:
		p.advance()
		return p.parsePathNegatedSet()

	case p.tok.isWord("a"):
		p.advance()
		return p.arena.AddPath(sparqlir.Path{Kind: sparqlir.PathIRI, IRI: rdfType}), true

	case p.tok.Kind == tokIRIRef || p.tok.Kind == tokPName:
		t, ok := p.parseIRITerm()
		if !ok {
			return sparqlir.NoPath, false
		}
		return p.arena.AddPath(sparqlir.Path{Kind: sparqlir.PathIRI, IRI: t.Value}), true

	default:
		p.errorHere(ErrCodeUnexpectedToken, "expected predicate or path, found %q", p.tok.Text)
		return sparqlir.NoPath, false
	}
}

func (p *parser) parsePathNegatedSet() (sparqlir.PathID, bool) {
	node := sparqlir.Path{Kind: sparqlir.PathNegatedSet}

	one := func() bool {
		inverse := false
		if p.tok.Kind == tokCaret {
			inverse = true
			p.advance()
		}
		var iri string
		if p.tok.isWord("a") {
			iri = rdfType
			p.advance()
		} else {
			t, ok := p.parseIRITerm()
			if !ok {
				return false
			}
			iri = t.Value
		}
		if inverse {
			node.NegatedInverse = append(node.NegatedInverse, iri)
		} else {
			node.NegatedIRIs = append(node.NegatedIRIs, iri)
		}
		return true
	}

	if p.tok.Kind == tokLParen {
		p.advance()
		if p.tok.Kind != tokRParen {
			if !one() {
				return sparqlir.NoPath, false
			}
			for p.tok.Kind == tokPipe {
				p.advance()
				if !one() {
					return sparqlir.NoPath, false
				}
			}
		}
		p.expect(tokRParen, ")")
	} else {
		if !one() {
			return sparqlir.NoPath, false
		}
	}
	return p.arena.AddPath(node), true
}

// ---- graph nodes ----

// parseGraphNode parses one node (subject or object position),
// appending any triples implied by blank-node property lists or
// collections to acc.
func (p *parser) parseGraphNode(acc *[]sparqlir.TriplePattern) sparqlir.Term {
	switch p.tok.Kind {
	case tokVar:
		t := sparqlir.Term{Kind: sparqlir.TermVar, Var: p.arena.Var(p.tok.Value)}
		p.advance()
		return t

	case tokIRIRef, tokPName:
		t, _ := p.parseIRITerm()
		return t

	case tokBlank:
		t := sparqlir.Term{Kind: sparqlir.TermBlank, Value: p.tok.Value}
		p.advance()
		return t

	case tokAnon:
		p.advance()
		return p.freshBlank()

	case tokString:
		return p.parseLiteral()

	case tokInteger:
		t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: p.tok.Text, Datatype: xsdInteger}
		p.advance()
		return t

	case tokDecimal:
		t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: p.tok.Text, Datatype: xsdDecimal}
		p.advance()
		return t

	case tokDouble:
		t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: p.tok.Text, Datatype: xsdDouble}
		p.advance()
		return t

	case tokWord:
		if p.tok.isWord("true") || p.tok.isWord("false") {
			t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: p.tok.Text, Datatype: xsdBoolean}
			p.advance()
			return t
		}

	case tokLBracket:
		// Blank node property list: [ verb objects ; ... ]
		p.advance()
		node := p.freshBlank()
		*acc = append(*acc, p.parsePropertyList(node)...)
		p.expect(tokRBracket, "]")
		return node

	case tokLParen:
		// Collection: ( node node ... )
		p.advance()
		return p.parseCollection(acc)
	}

	p.errorHere(ErrCodeUnexpectedToken, "expected RDF term, found %q", p.tok.Text)
	p.advance()
	return sparqlir.Term{Kind: sparqlir.TermIRI, Value: ""}
}

// parseCollection expands (e1 e2 ... en) into rdf:first/rdf:rest
// chains, returning the head node.
func (p *parser) parseCollection(acc *[]sparqlir.TriplePattern) sparqlir.Term {
	nilTerm := sparqlir.Term{Kind: sparqlir.TermIRI, Value: rdfNil}
	if p.tok.Kind == tokRParen {
		p.advance()
		return nilTerm
	}

	first := sparqlir.Term{Kind: sparqlir.TermIRI, Value: rdfFirst}
	rest := sparqlir.Term{Kind: sparqlir.TermIRI, Value: rdfRest}

	head := p.freshBlank()
	cur := head
	for {
		elem := p.parseGraphNode(acc)
		*acc = append(*acc, sparqlir.TriplePattern{Subject: cur, Predicate: first, Path: sparqlir.NoPath, Object: elem})
		if p.tok.Kind == tokRParen || p.tok.Kind == tokEOF {
			*acc = append(*acc, sparqlir.TriplePattern{Subject: cur, Predicate: rest, Path: sparqlir.NoPath, Object: nilTerm})
			break
		}
		next := p.freshBlank()
		*acc = append(*acc, sparqlir.TriplePattern{Subject: cur, Predicate: rest, Path: sparqlir.NoPath, Object: next})
		cur = next
	}
	p.expect(tokRParen, ")")
	return head
}

// parseLiteral parses a string literal with optional language tag or
// datatype.
func (p *parser) parseLiteral() sparqlir.Term {
	t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: p.tok.Value}
	p.advance()
	switch p.tok.Kind {
	case tokLangTag:
		t.Lang = p.tok.Value
		p.advance()
	case tokDType:
		p.advance()
		dt, ok := p.parseIRITerm()
		if ok {
			t.Datatype = dt.Value
		}
	}
	return t
}

// parseTriplesTemplate parses path-free triples for CONSTRUCT
// templates and update data blocks.
func (p *parser) parseTriplesTemplate() []sparqlir.TriplePattern {
	var out []sparqlir.TriplePattern
	for p.canStartTriples() {
		triples := p.parseTriplesSameSubject()
		for _, tr := range triples {
			if tr.Path != sparqlir.NoPath {
				p.errorHere(ErrCodeBadTemplate, "property paths are not allowed in templates")
				continue
			}
			out = append(out, tr)
		}
		if p.tok.Kind == tokDot {
			p.advance()
		}
	}
	return out
}

// ---- VALUES ----

func (p *parser) parseValuesBlock() *sparqlir.ValuesBlock {
	vb := &sparqlir.ValuesBlock{}

	switch p.tok.Kind {
	case tokVar:
		vb.Vars = []int{p.arena.Var(p.tok.Value)}
		p.advance()
		if !p.expect(tokLBrace, "{") {
			return nil
		}
		for p.tok.Kind != tokRBrace && p.tok.Kind != tokEOF {
			v, ok := p.parseDataValue()
			if !ok {
				p.syncTo(tokRBrace, tokEOF)
				break
			}
			vb.Rows = append(vb.Rows, []sparqlir.Term{v})
		}
		p.expect(tokRBrace, "}")
		return vb

	case tokLParen:
		p.advance()
		for p.tok.Kind == tokVar {
			vb.Vars = append(vb.Vars, p.arena.Var(p.tok.Value))
			p.advance()
		}
		p.expect(tokRParen, ")")
		if !p.expect(tokLBrace, "{") {
			return nil
		}
		for p.tok.Kind == tokLParen {
			p.advance()
			var row []sparqlir.Term
			for p.tok.Kind != tokRParen && p.tok.Kind != tokEOF {
				v, ok := p.parseDataValue()
				if !ok {
					p.syncTo(tokRParen, tokRBrace, tokEOF)
					break
				}
				row = append(row, v)
			}
			p.expect(tokRParen, ")")
			if len(row) != len(vb.Vars) {
				p.errorHere(ErrCodeUnexpectedToken, "VALUES row has %d terms for %d variables", len(row), len(vb.Vars))
				continue
			}
			vb.Rows = append(vb.Rows, row)
		}
		p.expect(tokRBrace, "}")
		return vb

	default:
		p.errorHere(ErrCodeUnexpectedToken, "expected variable or ( after VALUES")
		return nil
	}
}

// parseDataValue parses one VALUES cell: an IRI, literal, or UNDEF.
func (p *parser) parseDataValue() (sparqlir.Term, bool) {
	switch p.tok.Kind {
	case tokIRIRef, tokPName:
		return p.parseIRITerm()
	case tokString:
		return p.parseLiteral(), true
	case tokInteger:
		t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: p.tok.Text, Datatype: xsdInteger}
		p.advance()
		return t, true
	case tokDecimal:
		t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: p.tok.Text, Datatype: xsdDecimal}
		p.advance()
		return t, true
	case tokDouble:
		t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: p.tok.Text, Datatype: xsdDouble}
		p.advance()
		return t, true
	case tokWord:
		if p.eatWord("UNDEF") {
			return sparqlir.Term{Kind: sparqlir.TermUndef}, true
		}
		if p.tok.isWord("true") || p.tok.isWord("false") {
			t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: p.tok.Text, Datatype: xsdBoolean}
			p.advance()
			return t, true
		}
	}
	p.errorHere(ErrCodeUnexpectedToken, "expected data value, found %q", p.tok.Text)
	return sparqlir.Term{}, false
}
