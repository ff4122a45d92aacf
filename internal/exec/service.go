package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/canon"
	"github.com/roach88/mercury/internal/sparqlir"
)

// ServiceError is a failed SERVICE materialization. The executor never
// sets Silent: a failing SERVICE SILENT clause is logged and degrades
// to an empty result instead of returning a ServiceError.
type ServiceError struct {
	Endpoint string
	Err      error
	Silent   bool
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s: %v", e.Endpoint, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// materializeServices resolves and fetches every SERVICE clause in the
// query before execution starts, so the scan pipeline never blocks on
// the network. Results land in env.serviceRows keyed by the service's
// inner pattern.
func (e *env) materializeServices(ctx context.Context, q *sparqlir.Query, cfg Config) error {
	for i := range q.Patterns {
		p := &q.Patterns[i]
		if p.Kind != sparqlir.PatternService {
			continue
		}
		if e.serviceRows == nil {
			e.serviceRows = map[sparqlir.PatternID][][]atom.ID{}
		}

		endpoint, err := e.resolveEndpoint(q, p)
		if err != nil {
			if p.Silent {
				e.serviceRows[p.Child] = nil
				continue
			}
			return &ServiceError{Endpoint: FormatTerm(p.ServiceTerm), Err: err}
		}

		query := e.serviceQueryText(q, p)

		// Identical clauses (same endpoint, same serialized pattern)
		// fetch once per execution, keyed by a content-addressed hash.
		cacheKey := canon.MustHash("mercury/service/v1", canon.Object{
			"endpoint": canon.String(endpoint),
			"query":    canon.String(query),
		})
		if cached, ok := e.serviceCache[cacheKey]; ok {
			e.serviceRows[p.Child] = cached
			continue
		}

		rows, err := e.fetchService(ctx, endpoint, query, q, p, cfg)
		if err != nil {
			if p.Silent {
				slog.Error("service clause failed, continuing silently", "endpoint", endpoint, "err", err)
				e.serviceRows[p.Child] = nil
				continue
			}
			return &ServiceError{Endpoint: endpoint, Err: err}
		}
		e.serviceRows[p.Child] = rows
		if e.serviceCache == nil {
			e.serviceCache = map[string][][]atom.ID{}
		}
		e.serviceCache[cacheKey] = rows
	}
	return nil
}

// serviceQueryText serializes the inner pattern of a SERVICE clause.
func (e *env) serviceQueryText(q *sparqlir.Query, p *sparqlir.Pattern) string {
	c := newCompiler(&q.Arena)
	varSet := c.patternVars(p.Child, map[int]bool{})
	return serializePattern(&q.Arena, p.Child, sortedVars(varSet))
}

// resolveEndpoint fixes the endpoint IRI. A variable endpoint is
// resolvable only when a VALUES clause in the query binds it to a
// single IRI; anything needing per-row resolution would reintroduce
// I/O into the streaming phase.
func (e *env) resolveEndpoint(q *sparqlir.Query, p *sparqlir.Pattern) (string, error) {
	t := p.ServiceTerm
	if !t.IsVar() {
		if t.Kind != sparqlir.TermIRI {
			return "", fmt.Errorf("endpoint is not an IRI")
		}
		return t.Value, nil
	}
	for i := range q.Patterns {
		vp := &q.Patterns[i]
		if vp.Kind != sparqlir.PatternValues || vp.Values == nil {
			continue
		}
		for ci, v := range vp.Values.Vars {
			if v != t.Var {
				continue
			}
			var iri string
			for _, row := range vp.Values.Rows {
				if ci >= len(row) || row[ci].Kind != sparqlir.TermIRI {
					continue
				}
				if iri != "" && iri != row[ci].Value {
					return "", fmt.Errorf("variable endpoint resolves to multiple IRIs")
				}
				iri = row[ci].Value
			}
			if iri != "" {
				return iri, nil
			}
		}
	}
	return "", fmt.Errorf("variable endpoint has no binding at materialization time")
}

// fetchService executes the SPARQL Protocol request and decodes the
// JSON results into rows aligned with the pattern's variables.
func (e *env) fetchService(ctx context.Context, endpoint, query string, q *sparqlir.Query, p *sparqlir.Pattern, cfg Config) ([][]atom.ID, error) {
	c := newCompiler(&q.Arena)
	varSet := c.patternVars(p.Child, map[int]bool{})
	vars := sortedVars(varSet)

	reqCtx := ctx
	if cfg.ServiceTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, cfg.ServiceTimeout)
		defer cancel()
	}

	form := url.Values{"query": {query}}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded sparqlJSONResults
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding results: %w", err)
	}

	nameOf := make([]string, len(vars))
	for i, v := range vars {
		nameOf[i] = varName(&q.Arena, v)
	}

	rows := make([][]atom.ID, 0, len(decoded.Results.Bindings))
	for _, binding := range decoded.Results.Bindings {
		row := make([]atom.ID, len(vars))
		for i, name := range nameOf {
			cell, ok := binding[name]
			if !ok {
				row[i] = atom.Unbound
				continue
			}
			id, err := e.resolveTerm(cell.term())
			if err != nil {
				return nil, err
			}
			row[i] = id
		}
		rows = append(rows, row)
	}
	slog.Debug("service materialized", "endpoint", endpoint, "rows", len(rows))
	return rows, nil
}

// sparqlJSONResults is the SPARQL 1.1 Query Results JSON format.
type sparqlJSONResults struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]sparqlJSONTerm `json:"bindings"`
	} `json:"results"`
}

type sparqlJSONTerm struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang"`
	Datatype string `json:"datatype"`
}

func (t sparqlJSONTerm) term() sparqlir.Term {
	switch t.Type {
	case "uri":
		return sparqlir.Term{Kind: sparqlir.TermIRI, Value: t.Value}
	case "bnode":
		return sparqlir.Term{Kind: sparqlir.TermBlank, Value: t.Value}
	default:
		return sparqlir.Term{Kind: sparqlir.TermLiteral, Value: t.Value, Lang: t.Lang, Datatype: t.Datatype}
	}
}

func varName(arena *sparqlir.Arena, v int) string {
	name := arena.Vars[v]
	if strings.HasPrefix(name, "_:") {
		return "b" + name[2:]
	}
	return name
}

// serializePattern renders the inner pattern of a SERVICE clause back
// to SPARQL source for the remote endpoint.
func serializePattern(arena *sparqlir.Arena, id sparqlir.PatternID, vars []int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(vars) == 0 {
		b.WriteString("*")
	}
	for i, v := range vars {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("?" + varName(arena, v))
	}
	b.WriteString(" WHERE ")
	writePatternSource(&b, arena, id)
	return b.String()
}

func writePatternSource(b *strings.Builder, arena *sparqlir.Arena, id sparqlir.PatternID) {
	b.WriteString("{ ")
	p := arena.Pattern(id)
	switch p.Kind {
	case sparqlir.PatternGroup:
		for _, ch := range p.Children {
			inner := arena.Pattern(ch)
			if inner.Kind == sparqlir.PatternBGP {
				writeTriplesSource(b, arena, inner.Triples)
			} else {
				writePatternSource(b, arena, ch)
			}
		}
		for _, f := range p.Filters {
			b.WriteString("FILTER (")
			writeExprSource(b, arena, f)
			b.WriteString(") ")
		}
	case sparqlir.PatternBGP:
		writeTriplesSource(b, arena, p.Triples)
	case sparqlir.PatternOptional:
		b.WriteString("OPTIONAL ")
		writePatternSource(b, arena, p.Child)
	case sparqlir.PatternUnion:
		for i, ch := range p.Children {
			if i > 0 {
				b.WriteString("UNION ")
			}
			writePatternSource(b, arena, ch)
		}
	}
	b.WriteString("} ")
}

func writeTriplesSource(b *strings.Builder, arena *sparqlir.Arena, triples []sparqlir.TriplePattern) {
	for _, tr := range triples {
		writeTermSource(b, arena, tr.Subject)
		b.WriteByte(' ')
		if tr.Path != sparqlir.NoPath {
			writePathSource(b, arena, tr.Path)
		} else {
			writeTermSource(b, arena, tr.Predicate)
		}
		b.WriteByte(' ')
		writeTermSource(b, arena, tr.Object)
		b.WriteString(" . ")
	}
}

func writePathSource(b *strings.Builder, arena *sparqlir.Arena, id sparqlir.PathID) {
	p := arena.Path(id)
	switch p.Kind {
	case sparqlir.PathIRI:
		fmt.Fprintf(b, "<%s>", p.IRI)
	case sparqlir.PathInverse:
		b.WriteString("^")
		writePathSource(b, arena, p.Children[0])
	case sparqlir.PathSequence:
		for i, ch := range p.Children {
			if i > 0 {
				b.WriteByte('/')
			}
			writePathSource(b, arena, ch)
		}
	case sparqlir.PathAlternative:
		b.WriteByte('(')
		for i, ch := range p.Children {
			if i > 0 {
				b.WriteByte('|')
			}
			writePathSource(b, arena, ch)
		}
		b.WriteByte(')')
	case sparqlir.PathZeroOrMore:
		writePathSource(b, arena, p.Children[0])
		b.WriteByte('*')
	case sparqlir.PathOneOrMore:
		writePathSource(b, arena, p.Children[0])
		b.WriteByte('+')
	case sparqlir.PathZeroOrOne:
		writePathSource(b, arena, p.Children[0])
		b.WriteByte('?')
	case sparqlir.PathNegatedSet:
		b.WriteString("!(")
		for i, iri := range p.NegatedIRIs {
			if i > 0 {
				b.WriteByte('|')
			}
			fmt.Fprintf(b, "<%s>", iri)
		}
		for i, iri := range p.NegatedInverse {
			if i > 0 || len(p.NegatedIRIs) > 0 {
				b.WriteByte('|')
			}
			fmt.Fprintf(b, "^<%s>", iri)
		}
		b.WriteByte(')')
	}
}

func writeTermSource(b *strings.Builder, arena *sparqlir.Arena, t sparqlir.Term) {
	if t.Kind == sparqlir.TermVar {
		b.WriteString("?" + varName(arena, t.Var))
		return
	}
	b.Write(EncodeTerm(t))
}

// writeExprSource serializes the restricted expression subset that
// appears inside SERVICE patterns; anything richer is elided to TRUE
// (over-fetching is safe, the local filter still applies after
// materialization — the scan re-evaluates nothing remote).
func writeExprSource(b *strings.Builder, arena *sparqlir.Arena, id sparqlir.ExprID) {
	node := arena.Expr(id)
	switch node.Kind {
	case sparqlir.ExprTerm:
		writeTermSource(b, arena, node.Term)
	case sparqlir.ExprCompare, sparqlir.ExprArith:
		writeExprSource(b, arena, node.Args[0])
		fmt.Fprintf(b, " %s ", node.Op)
		writeExprSource(b, arena, node.Args[1])
	case sparqlir.ExprOr:
		writeExprSource(b, arena, node.Args[0])
		b.WriteString(" || ")
		writeExprSource(b, arena, node.Args[1])
	case sparqlir.ExprAnd:
		writeExprSource(b, arena, node.Args[0])
		b.WriteString(" && ")
		writeExprSource(b, arena, node.Args[1])
	default:
		b.WriteString("true")
	}
}
