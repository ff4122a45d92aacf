package exec

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/planir"
	"github.com/roach88/mercury/internal/scan"
	"github.com/roach88/mercury/internal/sparqlir"
)

// EvalError is a non-fatal per-row evaluation error: the offending row
// is dropped (or the affected variable left unbound) and execution
// continues, per SPARQL's error semantics.
type EvalError struct {
	Message string
}

func (e *EvalError) Error() string { return "eval: " + e.Message }

func evalErrorf(format string, args ...any) error {
	return &EvalError{Message: fmt.Sprintf(format, args...)}
}

type valueKind int

const (
	valBool valueKind = iota
	valInt
	valFloat
	valString
	valTerm
)

// value is the typed result of expression evaluation. valString keeps
// an optional language tag; valTerm covers IRIs, blank nodes, and
// literals with datatypes the numeric tower does not model.
type value struct {
	kind valueKind
	b    bool
	i    int64
	f    float64
	s    string
	lang string

	// term is the original term when the value came from one; hasTerm
	// distinguishes it from a purely computed value.
	term    sparqlir.Term
	hasTerm bool
}

func boolValue(b bool) value     { return value{kind: valBool, b: b} }
func intValue(i int64) value     { return value{kind: valInt, i: i} }
func floatValue(f float64) value { return value{kind: valFloat, f: f} }
func stringValue(s string) value { return value{kind: valString, s: s} }

const xsdString = "http://www.w3.org/2001/XMLSchema#string"

var numericDatatypes = map[string]bool{
	xsdInteger:                                            true,
	"http://www.w3.org/2001/XMLSchema#int":                true,
	"http://www.w3.org/2001/XMLSchema#long":               true,
	"http://www.w3.org/2001/XMLSchema#short":              true,
	"http://www.w3.org/2001/XMLSchema#byte":               true,
	"http://www.w3.org/2001/XMLSchema#nonNegativeInteger": true,
	"http://www.w3.org/2001/XMLSchema#positiveInteger":    true,
	"http://www.w3.org/2001/XMLSchema#unsignedInt":        true,
	"http://www.w3.org/2001/XMLSchema#unsignedLong":       true,
}

const (
	xsdInteger = "http://www.w3.org/2001/XMLSchema#integer"
	xsdDecimal = "http://www.w3.org/2001/XMLSchema#decimal"
	xsdDouble  = "http://www.w3.org/2001/XMLSchema#double"
	xsdFloat   = "http://www.w3.org/2001/XMLSchema#float"
	xsdBoolean = "http://www.w3.org/2001/XMLSchema#boolean"
)

// termValue types a term into the evaluation model.
func termValue(t sparqlir.Term) value {
	if t.Kind != sparqlir.TermLiteral {
		return value{kind: valTerm, term: t, hasTerm: true}
	}
	switch {
	case t.Datatype == "" || t.Datatype == xsdString:
		return value{kind: valString, s: t.Value, lang: t.Lang, term: t, hasTerm: true}
	case t.Datatype == xsdBoolean:
		return value{kind: valBool, b: t.Value == "true" || t.Value == "1", term: t, hasTerm: true}
	case numericDatatypes[t.Datatype]:
		if i, err := strconv.ParseInt(t.Value, 10, 64); err == nil {
			return value{kind: valInt, i: i, term: t, hasTerm: true}
		}
		return value{kind: valTerm, term: t}
	case t.Datatype == xsdDecimal || t.Datatype == xsdDouble || t.Datatype == xsdFloat:
		if f, err := strconv.ParseFloat(t.Value, 64); err == nil {
			return value{kind: valFloat, f: f, term: t, hasTerm: true}
		}
		return value{kind: valTerm, term: t}
	default:
		return value{kind: valTerm, term: t, hasTerm: true}
	}
}

// asTerm renders a computed value back to a term.
func (v value) asTerm() sparqlir.Term {
	if v.hasTerm {
		return v.term
	}
	switch v.kind {
	case valBool:
		return sparqlir.Term{Kind: sparqlir.TermLiteral, Value: strconv.FormatBool(v.b), Datatype: xsdBoolean}
	case valInt:
		return sparqlir.Term{Kind: sparqlir.TermLiteral, Value: strconv.FormatInt(v.i, 10), Datatype: xsdInteger}
	case valFloat:
		return sparqlir.Term{Kind: sparqlir.TermLiteral, Value: formatFloat(v.f), Datatype: xsdDouble}
	case valString:
		return sparqlir.Term{Kind: sparqlir.TermLiteral, Value: v.s, Lang: v.lang}
	default:
		return v.term
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (v value) isNumeric() bool { return v.kind == valInt || v.kind == valFloat }

func (v value) asFloat() float64 {
	if v.kind == valInt {
		return float64(v.i)
	}
	return v.f
}

// ebv computes the effective boolean value.
func (v value) ebv() (bool, error) {
	switch v.kind {
	case valBool:
		return v.b, nil
	case valInt:
		return v.i != 0, nil
	case valFloat:
		return v.f != 0 && !math.IsNaN(v.f), nil
	case valString:
		return v.s != "", nil
	default:
		return false, evalErrorf("no effective boolean value for %s", FormatTerm(v.term))
	}
}

// eval evaluates expression ex against the current row.
func (e *env) eval(ex sparqlir.ExprID, tbl *scan.Table) (value, error) {
	node := e.arena.Expr(ex)

	switch node.Kind {
	case sparqlir.ExprTerm:
		return e.evalTerm(node.Term, tbl)

	case sparqlir.ExprOr:
		l, lerr := e.evalArgBool(node.Args[0], tbl)
		if lerr == nil && l {
			return boolValue(true), nil
		}
		r, rerr := e.evalArgBool(node.Args[1], tbl)
		if rerr == nil && r {
			return boolValue(true), nil
		}
		if lerr != nil {
			return value{}, lerr
		}
		if rerr != nil {
			return value{}, rerr
		}
		return boolValue(false), nil

	case sparqlir.ExprAnd:
		l, lerr := e.evalArgBool(node.Args[0], tbl)
		if lerr == nil && !l {
			return boolValue(false), nil
		}
		r, rerr := e.evalArgBool(node.Args[1], tbl)
		if rerr == nil && !r {
			return boolValue(false), nil
		}
		if lerr != nil {
			return value{}, lerr
		}
		if rerr != nil {
			return value{}, rerr
		}
		return boolValue(true), nil

	case sparqlir.ExprNot:
		b, err := e.evalArgBool(node.Args[0], tbl)
		if err != nil {
			return value{}, err
		}
		return boolValue(!b), nil

	case sparqlir.ExprNeg:
		v, err := e.eval(node.Args[0], tbl)
		if err != nil {
			return value{}, err
		}
		switch v.kind {
		case valInt:
			return intValue(-v.i), nil
		case valFloat:
			return floatValue(-v.f), nil
		}
		return value{}, evalErrorf("unary minus on non-numeric value")

	case sparqlir.ExprCompare:
		l, err := e.eval(node.Args[0], tbl)
		if err != nil {
			return value{}, err
		}
		r, err := e.eval(node.Args[1], tbl)
		if err != nil {
			return value{}, err
		}
		return compareValues(node.Op, l, r)

	case sparqlir.ExprArith:
		l, err := e.eval(node.Args[0], tbl)
		if err != nil {
			return value{}, err
		}
		r, err := e.eval(node.Args[1], tbl)
		if err != nil {
			return value{}, err
		}
		return arith(node.Op, l, r)

	case sparqlir.ExprIn, sparqlir.ExprNotIn:
		needle, err := e.eval(node.Args[0], tbl)
		if err != nil {
			return value{}, err
		}
		found := false
		for _, arg := range node.Args[1:] {
			v, err := e.eval(arg, tbl)
			if err != nil {
				continue
			}
			if eq, err := compareValues("=", needle, v); err == nil && eq.b {
				found = true
				break
			}
		}
		if node.Kind == sparqlir.ExprNotIn {
			found = !found
		}
		return boolValue(found), nil

	case sparqlir.ExprBuiltin:
		return e.evalBuiltin(node, tbl)

	case sparqlir.ExprAggregate:
		return e.evalAggregateRef(node, tbl)

	case sparqlir.ExprExists, sparqlir.ExprNotExists:
		ok, err := e.probeExists(node.Pattern, tbl)
		if err != nil {
			return value{}, err
		}
		if node.Kind == sparqlir.ExprNotExists {
			ok = !ok
		}
		return boolValue(ok), nil

	default:
		return value{}, evalErrorf("unknown expression kind %d", node.Kind)
	}
}

func (e *env) evalArgBool(ex sparqlir.ExprID, tbl *scan.Table) (bool, error) {
	v, err := e.eval(ex, tbl)
	if err != nil {
		return false, err
	}
	return v.ebv()
}

// evalBool is the FILTER predicate entry point.
func (e *env) evalBool(ex sparqlir.ExprID, tbl *scan.Table) (bool, error) {
	v, err := e.eval(ex, tbl)
	if err != nil {
		return false, err
	}
	return v.ebv()
}

func (e *env) evalTerm(t sparqlir.Term, tbl *scan.Table) (value, error) {
	if !t.IsVar() {
		return termValue(t), nil
	}
	if !tbl.Bound(t.Var) {
		return value{}, evalErrorf("unbound variable in expression")
	}
	resolved, err := e.lookupTerm(tbl.Get(t.Var))
	if err != nil {
		return value{}, evalErrorf("dangling binding: %v", err)
	}
	return termValue(resolved), nil
}

// valueID maps a computed value to a (possibly query-local) atom ID.
func (e *env) valueID(v value) (atom.ID, error) {
	return e.resolveTerm(v.asTerm())
}

// probeExists runs the EXISTS pattern with the current row's bindings
// and reports whether it produces at least one solution. The table is
// snapshotted around the probe because the probe may stop mid-stream,
// before the inner scans have unbound their variables.
func (e *env) probeExists(id sparqlir.PatternID, tbl *scan.Table) (bool, error) {
	saved := tbl.Snapshot(nil)
	defer tbl.Restore(saved)

	c := newCompiler(e.arena)
	plan := c.compile(id, planir.DefaultGraph)
	factory, err := e.lower(plan)
	if err != nil {
		return false, evalErrorf("EXISTS pattern: %v", err)
	}
	s := factory()
	defer s.Dispose()
	ok, err := s.MoveNext(tbl)
	if err != nil {
		return false, evalErrorf("EXISTS pattern: %v", err)
	}
	return ok, nil
}

func compareValues(op string, l, r value) (value, error) {
	var cmp int
	switch {
	case l.isNumeric() && r.isNumeric():
		lf, rf := l.asFloat(), r.asFloat()
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	case l.kind == valString && r.kind == valString:
		cmp = strings.Compare(l.s, r.s)
	case l.kind == valBool && r.kind == valBool:
		switch {
		case !l.b && r.b:
			cmp = -1
		case l.b && !r.b:
			cmp = 1
		}
	default:
		// Terms outside the value tower only support (in)equality, by
		// exact term identity.
		if op == "=" || op == "!=" {
			eq := l.asTerm() == r.asTerm()
			if op == "!=" {
				eq = !eq
			}
			return boolValue(eq), nil
		}
		return value{}, evalErrorf("type error comparing values with %s", op)
	}

	switch op {
	case "=":
		return boolValue(cmp == 0), nil
	case "!=":
		return boolValue(cmp != 0), nil
	case "<":
		return boolValue(cmp < 0), nil
	case ">":
		return boolValue(cmp > 0), nil
	case "<=":
		return boolValue(cmp <= 0), nil
	case ">=":
		return boolValue(cmp >= 0), nil
	default:
		return value{}, evalErrorf("unknown comparison %s", op)
	}
}

func arith(op string, l, r value) (value, error) {
	if !l.isNumeric() || !r.isNumeric() {
		return value{}, evalErrorf("arithmetic on non-numeric value")
	}
	if l.kind == valInt && r.kind == valInt && op != "/" {
		switch op {
		case "+":
			return intValue(l.i + r.i), nil
		case "-":
			return intValue(l.i - r.i), nil
		case "*":
			return intValue(l.i * r.i), nil
		}
	}
	lf, rf := l.asFloat(), r.asFloat()
	switch op {
	case "+":
		return floatValue(lf + rf), nil
	case "-":
		return floatValue(lf - rf), nil
	case "*":
		return floatValue(lf * rf), nil
	case "/":
		if rf == 0 {
			return value{}, evalErrorf("division by zero")
		}
		if l.kind == valInt && r.kind == valInt && l.i%r.i == 0 {
			return intValue(l.i / r.i), nil
		}
		return floatValue(lf / rf), nil
	default:
		return value{}, evalErrorf("unknown operator %s", op)
	}
}

func (e *env) evalBuiltin(node *sparqlir.Expr, tbl *scan.Table) (value, error) {
	args := make([]value, 0, len(node.Args))

	// BOUND and COALESCE see unbound arguments; everything else
	// propagates the evaluation error.
	switch node.Func {
	case "BOUND":
		if len(node.Args) != 1 {
			return value{}, evalErrorf("BOUND takes one variable")
		}
		arg := e.arena.Expr(node.Args[0])
		if arg.Kind != sparqlir.ExprTerm || !arg.Term.IsVar() {
			return value{}, evalErrorf("BOUND takes a variable")
		}
		return boolValue(tbl.Bound(arg.Term.Var)), nil

	case "COALESCE":
		for _, a := range node.Args {
			if v, err := e.eval(a, tbl); err == nil {
				return v, nil
			}
		}
		return value{}, evalErrorf("COALESCE: no argument evaluated")

	case "IF":
		if len(node.Args) != 3 {
			return value{}, evalErrorf("IF takes three arguments")
		}
		cond, err := e.evalArgBool(node.Args[0], tbl)
		if err != nil {
			return value{}, err
		}
		if cond {
			return e.eval(node.Args[1], tbl)
		}
		return e.eval(node.Args[2], tbl)
	}

	for _, a := range node.Args {
		v, err := e.eval(a, tbl)
		if err != nil {
			return value{}, err
		}
		args = append(args, v)
	}

	switch node.Func {
	case "STR":
		if len(args) != 1 {
			return value{}, evalErrorf("STR takes one argument")
		}
		t := args[0].asTerm()
		if t.Kind == sparqlir.TermIRI {
			return stringValue(t.Value), nil
		}
		return stringValue(t.Value), nil

	case "LANG":
		if len(args) != 1 {
			return value{}, evalErrorf("LANG takes one argument")
		}
		return stringValue(args[0].asTerm().Lang), nil

	case "LANGMATCHES":
		if len(args) != 2 {
			return value{}, evalErrorf("LANGMATCHES takes two arguments")
		}
		tag := strings.ToLower(args[0].s)
		rng := strings.ToLower(args[1].s)
		if rng == "*" {
			return boolValue(tag != ""), nil
		}
		return boolValue(tag == rng || strings.HasPrefix(tag, rng+"-")), nil

	case "DATATYPE":
		if len(args) != 1 {
			return value{}, evalErrorf("DATATYPE takes one argument")
		}
		t := args[0].asTerm()
		if t.Kind != sparqlir.TermLiteral {
			return value{}, evalErrorf("DATATYPE of a non-literal")
		}
		dt := t.Datatype
		if dt == "" {
			dt = xsdString
		}
		return value{kind: valTerm, term: sparqlir.Term{Kind: sparqlir.TermIRI, Value: dt}, hasTerm: true}, nil

	case "IRI", "URI":
		if len(args) != 1 {
			return value{}, evalErrorf("IRI takes one argument")
		}
		t := args[0].asTerm()
		switch t.Kind {
		case sparqlir.TermIRI:
			return args[0], nil
		case sparqlir.TermLiteral:
			return value{kind: valTerm, term: sparqlir.Term{Kind: sparqlir.TermIRI, Value: t.Value}, hasTerm: true}, nil
		}
		return value{}, evalErrorf("IRI of a non-string")

	case "ISIRI", "ISURI":
		return boolValue(args[0].asTerm().Kind == sparqlir.TermIRI), nil
	case "ISBLANK":
		return boolValue(args[0].asTerm().Kind == sparqlir.TermBlank), nil
	case "ISLITERAL":
		return boolValue(args[0].asTerm().Kind == sparqlir.TermLiteral), nil
	case "ISNUMERIC":
		return boolValue(args[0].isNumeric()), nil

	case "SAMETERM":
		if len(args) != 2 {
			return value{}, evalErrorf("SAMETERM takes two arguments")
		}
		return boolValue(args[0].asTerm() == args[1].asTerm()), nil

	case "STRLEN":
		return intValue(int64(len([]rune(args[0].s)))), nil
	case "UCASE":
		return value{kind: valString, s: strings.ToUpper(args[0].s), lang: args[0].lang}, nil
	case "LCASE":
		return value{kind: valString, s: strings.ToLower(args[0].s), lang: args[0].lang}, nil
	case "CONTAINS":
		return boolValue(strings.Contains(args[0].s, args[1].s)), nil
	case "STRSTARTS":
		return boolValue(strings.HasPrefix(args[0].s, args[1].s)), nil
	case "STRENDS":
		return boolValue(strings.HasSuffix(args[0].s, args[1].s)), nil
	case "STRBEFORE":
		if i := strings.Index(args[0].s, args[1].s); i >= 0 {
			return stringValue(args[0].s[:i]), nil
		}
		return stringValue(""), nil
	case "STRAFTER":
		if i := strings.Index(args[0].s, args[1].s); i >= 0 {
			return stringValue(args[0].s[i+len(args[1].s):]), nil
		}
		return stringValue(""), nil

	case "CONCAT":
		var b strings.Builder
		for _, a := range args {
			b.WriteString(a.s)
		}
		return stringValue(b.String()), nil

	case "SUBSTR":
		if len(args) < 2 {
			return value{}, evalErrorf("SUBSTR takes two or three arguments")
		}
		runes := []rune(args[0].s)
		start := int(args[1].i) - 1
		if start < 0 {
			start = 0
		}
		if start > len(runes) {
			start = len(runes)
		}
		end := len(runes)
		if len(args) == 3 {
			end = start + int(args[2].i)
			if end > len(runes) {
				end = len(runes)
			}
		}
		return stringValue(string(runes[start:end])), nil

	case "REPLACE":
		if len(args) < 3 {
			return value{}, evalErrorf("REPLACE takes at least three arguments")
		}
		re, err := e.compileRegex(args[1].s, flagsArg(args, 3))
		if err != nil {
			return value{}, err
		}
		return stringValue(re.ReplaceAllString(args[0].s, args[2].s)), nil

	case "REGEX":
		if len(args) < 2 {
			return value{}, evalErrorf("REGEX takes at least two arguments")
		}
		re, err := e.compileRegex(args[1].s, flagsArg(args, 2))
		if err != nil {
			return value{}, err
		}
		return boolValue(re.MatchString(args[0].s)), nil

	case "ABS":
		if args[0].kind == valInt {
			if args[0].i < 0 {
				return intValue(-args[0].i), nil
			}
			return args[0], nil
		}
		return floatValue(math.Abs(args[0].asFloat())), nil
	case "CEIL":
		return floatValue(math.Ceil(args[0].asFloat())), nil
	case "FLOOR":
		return floatValue(math.Floor(args[0].asFloat())), nil
	case "ROUND":
		return floatValue(math.Round(args[0].asFloat())), nil

	case "STRLANG":
		if len(args) != 2 {
			return value{}, evalErrorf("STRLANG takes two arguments")
		}
		return value{kind: valString, s: args[0].s, lang: args[1].s,
			term: sparqlir.Term{Kind: sparqlir.TermLiteral, Value: args[0].s, Lang: args[1].s}, hasTerm: true}, nil

	case "STRDT":
		if len(args) != 2 {
			return value{}, evalErrorf("STRDT takes two arguments")
		}
		dt := args[1].asTerm()
		if dt.Kind != sparqlir.TermIRI {
			return value{}, evalErrorf("STRDT datatype must be an IRI")
		}
		return termValue(sparqlir.Term{Kind: sparqlir.TermLiteral, Value: args[0].s, Datatype: dt.Value}), nil

	case "ENCODE_FOR_URI":
		return stringValue(encodeForURI(args[0].s)), nil

	case "NOW":
		return termValue(sparqlir.Term{
			Kind:     sparqlir.TermLiteral,
			Value:    time.Now().UTC().Format(time.RFC3339),
			Datatype: "http://www.w3.org/2001/XMLSchema#dateTime",
		}), nil

	case "UUID":
		return value{kind: valTerm, term: sparqlir.Term{Kind: sparqlir.TermIRI, Value: "urn:uuid:" + uuid.NewString()}, hasTerm: true}, nil
	case "STRUUID":
		return stringValue(uuid.NewString()), nil

	default:
		return value{}, evalErrorf("builtin %s is not implemented", node.Func)
	}
}

func flagsArg(args []value, idx int) string {
	if len(args) > idx {
		return args[idx].s
	}
	return ""
}

func (e *env) compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	key := flags + "\x00" + pattern
	if e.regexCache == nil {
		e.regexCache = map[string]*regexp.Regexp{}
	}
	if re, ok := e.regexCache[key]; ok {
		return re, nil
	}
	expr := pattern
	if strings.Contains(flags, "i") {
		expr = "(?i)" + expr
	}
	if strings.Contains(flags, "s") {
		expr = "(?s)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, evalErrorf("bad regular expression: %v", err)
	}
	e.regexCache[key] = re
	return re, nil
}

func encodeForURI(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
