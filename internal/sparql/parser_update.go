package sparql

import (
	"github.com/roach88/mercury/internal/sparqlir"
)

// ParseUpdate parses one SPARQL update request: operations sequenced
// by semicolons, each later operation seeing the effects of earlier
// ones at execution time.
func ParseUpdate(src string) (*sparqlir.Update, error) {
	u := sparqlir.NewUpdate()
	p := newParser(src, &u.Arena)

	p.parsePrologue()
	for p.tok.Kind != tokEOF && !p.overflowed() {
		op, ok := p.parseUpdateOperation()
		if ok {
			u.Ops = append(u.Ops, op)
		} else {
			p.syncTo(tokSemicolon, tokEOF)
		}
		if p.tok.Kind == tokSemicolon {
			p.advance()
			// A trailing semicolon may be followed by another prologue.
			p.parsePrologue()
			continue
		}
		break
	}
	if p.tok.Kind != tokEOF && !p.overflowed() {
		p.errorHere(ErrCodeUnexpectedToken, "unexpected trailing input %q", p.tok.Text)
	}

	if err := p.errs.Err(); err != nil {
		return nil, err
	}
	u.Prefixes = p.prefixes
	u.BaseIRI = p.base
	return u, nil
}

func (p *parser) parseUpdateOperation() (sparqlir.Operation, bool) {
	switch {
	case p.atWord("INSERT"):
		return p.parseInsertOrModify()
	case p.atWord("DELETE"):
		return p.parseDeleteOrModify()
	case p.atWord("WITH"):
		p.advance()
		with, ok := p.parseIRITerm()
		if !ok {
			return sparqlir.Operation{}, false
		}
		op, ok := p.parseModifyBody(with.Value)
		return op, ok
	case p.atWord("LOAD"):
		return p.parseLoad()
	case p.atWord("CLEAR"):
		p.advance()
		return p.parseGraphManagement(sparqlir.OpClear)
	case p.atWord("DROP"):
		p.advance()
		return p.parseGraphManagement(sparqlir.OpDrop)
	case p.atWord("CREATE"):
		p.advance()
		op := sparqlir.Operation{Kind: sparqlir.OpCreate}
		op.Silent = p.eatWord("SILENT")
		p.expectWord("GRAPH")
		iri, ok := p.parseIRITerm()
		if !ok {
			return op, false
		}
		op.Graph = sparqlir.GraphRef{Kind: sparqlir.GraphNamed, IRI: iri.Value}
		return op, true
	case p.atWord("COPY"):
		p.advance()
		return p.parseGraphToGraph(sparqlir.OpCopy)
	case p.atWord("MOVE"):
		p.advance()
		return p.parseGraphToGraph(sparqlir.OpMove)
	case p.atWord("ADD"):
		p.advance()
		return p.parseGraphToGraph(sparqlir.OpAdd)
	default:
		p.errorHere(ErrCodeUnexpectedToken, "expected update operation, found %q", p.tok.Text)
		return sparqlir.Operation{}, false
	}
}

func (p *parser) parseInsertOrModify() (sparqlir.Operation, bool) {
	p.advance() // INSERT
	if p.eatWord("DATA") {
		quads, ok := p.parseQuadData()
		if !ok {
			return sparqlir.Operation{}, false
		}
		p.checkDataBlock(quads, false)
		return sparqlir.Operation{Kind: sparqlir.OpInsertData, InsertQuads: quads}, true
	}

	// INSERT { template } USING* WHERE { pattern }
	op := sparqlir.Operation{Kind: sparqlir.OpModify, Where: sparqlir.NoPattern}
	quads, ok := p.parseQuadData()
	if !ok {
		return op, false
	}
	op.InsertQuads = quads
	p.parseUsingClauses(&op)
	if !p.expectWord("WHERE") {
		return op, false
	}
	op.Where = p.parseGroupGraphPattern()
	return op, true
}

func (p *parser) parseDeleteOrModify() (sparqlir.Operation, bool) {
	p.advance() // DELETE
	if p.eatWord("DATA") {
		quads, ok := p.parseQuadData()
		if !ok {
			return sparqlir.Operation{}, false
		}
		p.checkDataBlock(quads, true)
		return sparqlir.Operation{Kind: sparqlir.OpDeleteData, DeleteQuads: quads}, true
	}
	if p.eatWord("WHERE") {
		// DELETE WHERE { pattern }: the pattern doubles as the delete
		// template.
		quads, ok := p.parseQuadData()
		if !ok {
			return sparqlir.Operation{}, false
		}
		p.checkNoBlankNodes(quads)
		return sparqlir.Operation{Kind: sparqlir.OpDeleteWhere, DeleteQuads: quads, Where: sparqlir.NoPattern}, true
	}
	return p.parseModifyTail("")
}

// parseModifyBody parses the body after WITH <iri>: either DELETE ...
// or INSERT ... in their modify forms.
func (p *parser) parseModifyBody(with string) (sparqlir.Operation, bool) {
	switch {
	case p.atWord("DELETE"):
		p.advance()
		op, ok := p.parseModifyTail(with)
		return op, ok
	case p.atWord("INSERT"):
		op := sparqlir.Operation{Kind: sparqlir.OpModify, WithIRI: with, Where: sparqlir.NoPattern}
		p.advance()
		quads, ok := p.parseQuadData()
		if !ok {
			return op, false
		}
		op.InsertQuads = quads
		p.parseUsingClauses(&op)
		if !p.expectWord("WHERE") {
			return op, false
		}
		op.Where = p.parseGroupGraphPattern()
		return op, true
	default:
		p.errorHere(ErrCodeUnexpectedToken, "expected DELETE or INSERT after WITH, found %q", p.tok.Text)
		return sparqlir.Operation{}, false
	}
}

// parseModifyTail parses '{ delete-template } (INSERT { template })?
// USING* WHERE { pattern }', with DELETE already consumed.
func (p *parser) parseModifyTail(with string) (sparqlir.Operation, bool) {
	op := sparqlir.Operation{Kind: sparqlir.OpModify, WithIRI: with, Where: sparqlir.NoPattern}
	quads, ok := p.parseQuadData()
	if !ok {
		return op, false
	}
	p.checkNoBlankNodes(quads)
	op.DeleteQuads = quads

	if p.eatWord("INSERT") {
		ins, ok := p.parseQuadData()
		if !ok {
			return op, false
		}
		op.InsertQuads = ins
	}
	p.parseUsingClauses(&op)
	if !p.expectWord("WHERE") {
		return op, false
	}
	op.Where = p.parseGroupGraphPattern()
	return op, true
}

func (p *parser) parseUsingClauses(op *sparqlir.Operation) {
	for p.eatWord("USING") {
		named := p.eatWord("NAMED")
		iri, ok := p.parseIRITerm()
		if !ok {
			return
		}
		if named {
			op.UsingNamed = append(op.UsingNamed, iri.Value)
		} else {
			op.Using = append(op.Using, iri.Value)
		}
	}
}

func (p *parser) parseLoad() (sparqlir.Operation, bool) {
	p.advance() // LOAD
	op := sparqlir.Operation{Kind: sparqlir.OpLoad}
	op.Silent = p.eatWord("SILENT")
	doc, ok := p.parseIRITerm()
	if !ok {
		return op, false
	}
	op.DocumentIRI = doc.Value
	if p.eatWord("INTO") {
		p.expectWord("GRAPH")
		g, ok := p.parseIRITerm()
		if !ok {
			return op, false
		}
		op.IntoGraph = g.Value
	}
	return op, true
}

func (p *parser) parseGraphManagement(kind sparqlir.OpKind) (sparqlir.Operation, bool) {
	op := sparqlir.Operation{Kind: kind}
	op.Silent = p.eatWord("SILENT")
	ref, ok := p.parseGraphRefAll()
	if !ok {
		return op, false
	}
	op.Graph = ref
	return op, true
}

func (p *parser) parseGraphRefAll() (sparqlir.GraphRef, bool) {
	switch {
	case p.eatWord("DEFAULT"):
		return sparqlir.GraphRef{Kind: sparqlir.GraphDefault}, true
	case p.eatWord("NAMED"):
		return sparqlir.GraphRef{Kind: sparqlir.GraphAllNamed}, true
	case p.eatWord("ALL"):
		return sparqlir.GraphRef{Kind: sparqlir.GraphAll}, true
	case p.eatWord("GRAPH"):
		iri, ok := p.parseIRITerm()
		if !ok {
			return sparqlir.GraphRef{}, false
		}
		return sparqlir.GraphRef{Kind: sparqlir.GraphNamed, IRI: iri.Value}, true
	default:
		p.errorHere(ErrCodeUnexpectedToken, "expected DEFAULT, NAMED, ALL, or GRAPH <iri>, found %q", p.tok.Text)
		return sparqlir.GraphRef{}, false
	}
}

func (p *parser) parseGraphToGraph(kind sparqlir.OpKind) (sparqlir.Operation, bool) {
	op := sparqlir.Operation{Kind: kind}
	op.Silent = p.eatWord("SILENT")
	src, ok := p.parseGraphOrDefault()
	if !ok {
		return op, false
	}
	op.Source = src
	if !p.expectWord("TO") {
		return op, false
	}
	dst, ok := p.parseGraphOrDefault()
	if !ok {
		return op, false
	}
	op.Dest = dst
	return op, true
}

func (p *parser) parseGraphOrDefault() (sparqlir.GraphRef, bool) {
	if p.eatWord("DEFAULT") {
		return sparqlir.GraphRef{Kind: sparqlir.GraphDefault}, true
	}
	p.eatWord("GRAPH")
	iri, ok := p.parseIRITerm()
	if !ok {
		return sparqlir.GraphRef{}, false
	}
	return sparqlir.GraphRef{Kind: sparqlir.GraphNamed, IRI: iri.Value}, true
}

// parseQuadData parses '{ Quads }': triples in the default graph
// interleaved with GRAPH <g> { triples } blocks.
func (p *parser) parseQuadData() ([]sparqlir.QuadPattern, bool) {
	if !p.expect(tokLBrace, "{") {
		return nil, false
	}
	var out []sparqlir.QuadPattern

	appendTriples := func(graph sparqlir.Term, hasGraph bool, triples []sparqlir.TriplePattern) {
		for _, tr := range triples {
			out = append(out, sparqlir.QuadPattern{Graph: graph, HasGraph: hasGraph, Triple: tr})
		}
	}

	for p.tok.Kind != tokRBrace && p.tok.Kind != tokEOF && !p.overflowed() {
		switch {
		case p.atWord("GRAPH"):
			p.advance()
			g, ok := p.parseVarOrIRI()
			if !ok {
				p.syncTo(tokRBrace, tokEOF)
				break
			}
			if !p.expect(tokLBrace, "{") {
				p.syncTo(tokRBrace, tokEOF)
				break
			}
			triples := p.parseTriplesTemplate()
			p.expect(tokRBrace, "}")
			appendTriples(g, true, triples)
			if p.tok.Kind == tokDot {
				p.advance()
			}
		case p.canStartTriples():
			appendTriples(sparqlir.Term{}, false, p.parseTriplesTemplate())
		default:
			p.errorHere(ErrCodeUnexpectedToken, "unexpected %q in quad data", p.tok.Text)
			p.syncTo(tokRBrace, tokEOF)
		}
	}
	p.expect(tokRBrace, "}")
	return out, true
}

// checkDataBlock enforces ground data for INSERT DATA / DELETE DATA:
// no variables anywhere, and no blank nodes when deleting.
func (p *parser) checkDataBlock(quads []sparqlir.QuadPattern, forbidBlank bool) {
	for _, q := range quads {
		terms := []sparqlir.Term{q.Graph, q.Triple.Subject, q.Triple.Predicate, q.Triple.Object}
		for _, t := range terms {
			if t.Kind == sparqlir.TermVar {
				p.errs = append(p.errs, &ParseError{
					Code:    ErrCodeVarInDataBlock,
					Message: "variables are not allowed in data blocks",
				})
			}
			if forbidBlank && t.Kind == sparqlir.TermBlank {
				p.errs = append(p.errs, &ParseError{
					Code:    ErrCodeBlankInDelete,
					Message: "blank nodes are not allowed in DELETE data",
				})
			}
		}
	}
}

// checkNoBlankNodes enforces the DELETE-template blank node
// restriction.
func (p *parser) checkNoBlankNodes(quads []sparqlir.QuadPattern) {
	for _, q := range quads {
		terms := []sparqlir.Term{q.Graph, q.Triple.Subject, q.Triple.Predicate, q.Triple.Object}
		for _, t := range terms {
			if t.Kind == sparqlir.TermBlank {
				p.errs = append(p.errs, &ParseError{
					Code:    ErrCodeBlankInDelete,
					Message: "blank nodes are not allowed in DELETE templates",
				})
			}
		}
	}
}
