package sparql

import (
	"strings"

	"github.com/roach88/mercury/internal/sparqlir"
)

// builtinNames lists every built-in call the grammar accepts. The
// evaluator implements the commonly used subset; calling an accepted
// but unimplemented builtin is a per-row evaluation error, not a parse
// error.
var builtinNames = map[string]bool{
	"STR": true, "LANG": true, "LANGMATCHES": true, "DATATYPE": true,
	"BOUND": true, "IRI": true, "URI": true, "BNODE": true, "RAND": true,
	"ABS": true, "CEIL": true, "FLOOR": true, "ROUND": true, "CONCAT": true,
	"STRLEN": true, "UCASE": true, "LCASE": true, "ENCODE_FOR_URI": true,
	"CONTAINS": true, "STRSTARTS": true, "STRENDS": true, "STRBEFORE": true,
	"STRAFTER": true, "YEAR": true, "MONTH": true, "DAY": true, "HOURS": true,
	"MINUTES": true, "SECONDS": true, "TIMEZONE": true, "TZ": true,
	"NOW": true, "UUID": true, "STRUUID": true, "MD5": true, "SHA1": true,
	"SHA256": true, "SHA384": true, "SHA512": true, "COALESCE": true,
	"IF": true, "STRLANG": true, "STRDT": true, "SAMETERM": true,
	"ISIRI": true, "ISURI": true, "ISBLANK": true, "ISLITERAL": true,
	"ISNUMERIC": true, "REGEX": true, "SUBSTR": true, "REPLACE": true,
}

var aggregateNames = map[string]sparqlir.AggKind{
	"COUNT":        sparqlir.AggCount,
	"SUM":          sparqlir.AggSum,
	"MIN":          sparqlir.AggMin,
	"MAX":          sparqlir.AggMax,
	"AVG":          sparqlir.AggAvg,
	"SAMPLE":       sparqlir.AggSample,
	"GROUP_CONCAT": sparqlir.AggGroupConcat,
}

func isBuiltinName(w string) bool {
	u := strings.ToUpper(w)
	if builtinNames[u] {
		return true
	}
	_, agg := aggregateNames[u]
	return agg || u == "EXISTS" || u == "NOT"
}

// parseConstraint parses a FILTER constraint: a bracketted expression,
// a builtin call, or a function call.
func (p *parser) parseConstraint() sparqlir.ExprID {
	switch {
	case p.tok.Kind == tokLParen:
		p.advance()
		e := p.parseExpression()
		p.expect(tokRParen, ")")
		return e
	case p.tok.Kind == tokWord, p.tok.Kind == tokIRIRef, p.tok.Kind == tokPName:
		return p.parseBuiltinOrFunctionCall()
	default:
		p.errorHere(ErrCodeBadExpression, "expected FILTER constraint, found %q", p.tok.Text)
		p.advance()
		return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprTerm, Term: sparqlir.Term{Kind: sparqlir.TermLiteral, Value: "false", Datatype: xsdBoolean}})
	}
}

// parseExpression parses a full expression with SPARQL's operator
// precedence: || over && over relational over additive over
// multiplicative over unary.
func (p *parser) parseExpression() sparqlir.ExprID {
	return p.parseOrExpression()
}

func (p *parser) parseOrExpression() sparqlir.ExprID {
	left := p.parseAndExpression()
	for p.tok.Kind == tokOrOr {
		p.advance()
		right := p.parseAndExpression()
		left = p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprOr, Args: []sparqlir.ExprID{left, right}})
	}
	return left
}

func (p *parser) parseAndExpression() sparqlir.ExprID {
	left := p.parseRelationalExpression()
	for p.tok.Kind == tokAndAnd {
		p.advance()
		right := p.parseRelationalExpression()
		left = p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprAnd, Args: []sparqlir.ExprID{left, right}})
	}
	return left
}

func (p *parser) parseRelationalExpression() sparqlir.ExprID {
	left := p.parseAdditiveExpression()

	var op string
	switch p.tok.Kind {
	case tokEq:
		op = "="
	case tokNe:
		op = "!="
	case tokLt:
		op = "<"
	case tokGt:
		op = ">"
	case tokLe:
		op = "<="
	case tokGe:
		op = ">="
	default:
		if p.atWord("IN") {
			p.advance()
			return p.parseInList(left, sparqlir.ExprIn)
		}
		if p.atWord("NOT") && p.next.isWord("IN") {
			p.advance()
			p.advance()
			return p.parseInList(left, sparqlir.ExprNotIn)
		}
		return left
	}
	p.advance()
	right := p.parseAdditiveExpression()
	return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprCompare, Op: op, Args: []sparqlir.ExprID{left, right}})
}

func (p *parser) parseInList(left sparqlir.ExprID, kind sparqlir.ExprKind) sparqlir.ExprID {
	args := []sparqlir.ExprID{left}
	p.expect(tokLParen, "(")
	if p.tok.Kind != tokRParen {
		args = append(args, p.parseExpression())
		for p.tok.Kind == tokComma {
			p.advance()
			args = append(args, p.parseExpression())
		}
	}
	p.expect(tokRParen, ")")
	return p.arena.AddExpr(sparqlir.Expr{Kind: kind, Args: args})
}

func (p *parser) parseAdditiveExpression() sparqlir.ExprID {
	left := p.parseMultiplicativeExpression()
	for {
		var op string
		switch p.tok.Kind {
		case tokPlus:
			op = "+"
		case tokMinus:
			op = "-"
		default:
			return left
		}
		p.advance()
		right := p.parseMultiplicativeExpression()
		left = p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprArith, Op: op, Args: []sparqlir.ExprID{left, right}})
	}
}

func (p *parser) parseMultiplicativeExpression() sparqlir.ExprID {
	left := p.parseUnaryExpression()
	for {
		var op string
		switch p.tok.Kind {
		case tokStar:
			op = "*"
		case tokSlash:
			op = "/"
		default:
			return left
		}
		p.advance()
		right := p.parseUnaryExpression()
		left = p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprArith, Op: op, Args: []sparqlir.ExprID{left, right}})
	}
}

func (p *parser) parseUnaryExpression() sparqlir.ExprID {
	switch p.tok.Kind {
	case tokBang:
		p.advance()
		inner := p.parseUnaryExpression()
		return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprNot, Args: []sparqlir.ExprID{inner}})
	case tokMinus:
		p.advance()
		inner := p.parseUnaryExpression()
		return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprNeg, Args: []sparqlir.ExprID{inner}})
	case tokPlus:
		p.advance()
		return p.parseUnaryExpression()
	}
	return p.parsePrimaryExpression()
}

func (p *parser) parsePrimaryExpression() sparqlir.ExprID {
	switch p.tok.Kind {
	case tokLParen:
		p.advance()
		e := p.parseExpression()
		p.expect(tokRParen, ")")
		return e

	case tokVar:
		t := sparqlir.Term{Kind: sparqlir.TermVar, Var: p.arena.Var(p.tok.Value)}
		p.advance()
		return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprTerm, Term: t})

	case tokString:
		return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprTerm, Term: p.parseLiteral()})

	case tokInteger:
		t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: p.tok.Text, Datatype: xsdInteger}
		p.advance()
		return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprTerm, Term: t})

	case tokDecimal:
		t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: p.tok.Text, Datatype: xsdDecimal}
		p.advance()
		return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprTerm, Term: t})

	case tokDouble:
		t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: p.tok.Text, Datatype: xsdDouble}
		p.advance()
		return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprTerm, Term: t})

	case tokIRIRef, tokPName:
		return p.parseBuiltinOrFunctionCall()

	case tokWord:
		return p.parseBuiltinOrFunctionCall()
	}

	p.errorHere(ErrCodeBadExpression, "expected expression, found %q", p.tok.Text)
	p.advance()
	return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprTerm, Term: sparqlir.Term{Kind: sparqlir.TermLiteral, Value: "false", Datatype: xsdBoolean}})
}

// parseBuiltinOrFunctionCall handles bare-word builtins, aggregates,
// EXISTS/NOT EXISTS, boolean literals, and IRI-named function calls.
// An IRI-named call becomes a builtin named "CALL:<iri>", which the
// evaluator does not implement, so evaluating it is a per-row error.
func (p *parser) parseBuiltinOrFunctionCall() sparqlir.ExprID {
	if p.tok.Kind == tokIRIRef || p.tok.Kind == tokPName {
		t, _ := p.parseIRITerm()
		if p.tok.Kind == tokLParen {
			args := p.parseArgList()
			return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprBuiltin, Func: "CALL:" + t.Value, Args: args})
		}
		return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprTerm, Term: t})
	}

	word := strings.ToUpper(p.tok.Text)

	if word == "TRUE" || word == "FALSE" {
		t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: strings.ToLower(word), Datatype: xsdBoolean}
		p.advance()
		return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprTerm, Term: t})
	}

	if word == "EXISTS" || (word == "NOT" && p.next.isWord("EXISTS")) {
		kind := sparqlir.ExprExists
		if word == "NOT" {
			kind = sparqlir.ExprNotExists
			p.advance()
		}
		p.advance()
		pattern := p.parseGroupGraphPattern()
		return p.arena.AddExpr(sparqlir.Expr{Kind: kind, Pattern: pattern})
	}

	if agg, ok := aggregateNames[word]; ok {
		return p.parseAggregate(agg)
	}

	if builtinNames[word] {
		p.advance()
		var args []sparqlir.ExprID
		if word == "NOW" || word == "RAND" || word == "UUID" || word == "STRUUID" || word == "BNODE" {
			// Nullary (BNODE also allows one argument).
			if p.tok.Kind == tokLParen {
				args = p.parseArgList()
			}
		} else {
			args = p.parseArgList()
		}
		return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprBuiltin, Func: word, Args: args})
	}

	p.errorHere(ErrCodeUnknownFunction, "unknown function %q", p.tok.Text)
	p.advance()
	return p.arena.AddExpr(sparqlir.Expr{Kind: sparqlir.ExprTerm, Term: sparqlir.Term{Kind: sparqlir.TermLiteral, Value: "false", Datatype: xsdBoolean}})
}

func (p *parser) parseArgList() []sparqlir.ExprID {
	var args []sparqlir.ExprID
	if !p.expect(tokLParen, "(") {
		return args
	}
	if p.tok.Kind == tokRParen {
		p.advance()
		return args
	}
	args = append(args, p.parseExpression())
	for p.tok.Kind == tokComma {
		p.advance()
		args = append(args, p.parseExpression())
	}
	p.expect(tokRParen, ")")
	return args
}

func (p *parser) parseAggregate(kind sparqlir.AggKind) sparqlir.ExprID {
	p.advance()
	e := sparqlir.Expr{Kind: sparqlir.ExprAggregate, Agg: kind}
	if !p.expect(tokLParen, "(") {
		return p.arena.AddExpr(e)
	}
	if p.eatWord("DISTINCT") {
		e.AggDistinct = true
	}
	if p.tok.Kind == tokStar {
		if kind != sparqlir.AggCount {
			p.errorHere(ErrCodeBadExpression, "* argument is only valid for COUNT")
		}
		p.advance()
	} else {
		e.Args = []sparqlir.ExprID{p.parseExpression()}
	}
	if kind == sparqlir.AggGroupConcat {
		e.AggSeparator = " "
		if p.tok.Kind == tokSemicolon {
			p.advance()
			if p.eatWord("SEPARATOR") {
				p.expect(tokEq, "=")
				if p.tok.Kind == tokString {
					e.AggSeparator = p.tok.Value
					p.advance()
				} else {
					p.errorHere(ErrCodeBadExpression, "expected string after SEPARATOR =")
				}
			}
		}
	}
	p.expect(tokRParen, ")")
	return p.arena.AddExpr(e)
}
