package exec

import (
	"fmt"
	"strings"

	"github.com/roach88/mercury/internal/sparqlir"
)

// Terms cross the atom boundary in N-Triples text form: IRIs in angle
// brackets, blank nodes as _:label, literals quoted with optional
// language tag or datatype suffix. The atom layer stores these bytes
// verbatim; this package is the only place that knows the encoding.

// EncodeTerm renders t to its atom byte form.
func EncodeTerm(t sparqlir.Term) []byte {
	switch t.Kind {
	case sparqlir.TermIRI:
		return []byte("<" + t.Value + ">")
	case sparqlir.TermBlank:
		return []byte("_:" + t.Value)
	case sparqlir.TermLiteral:
		var b strings.Builder
		b.WriteByte('"')
		b.WriteString(escapeLiteral(t.Value))
		b.WriteByte('"')
		if t.Lang != "" {
			b.WriteByte('@')
			b.WriteString(t.Lang)
		} else if t.Datatype != "" {
			b.WriteString("^^<")
			b.WriteString(t.Datatype)
			b.WriteByte('>')
		}
		return []byte(b.String())
	default:
		return nil
	}
}

// DecodeTerm parses atom bytes back into a term.
func DecodeTerm(b []byte) (sparqlir.Term, error) {
	if len(b) == 0 {
		return sparqlir.Term{}, fmt.Errorf("exec: empty term bytes")
	}
	s := string(b)
	switch {
	case s[0] == '<':
		if !strings.HasSuffix(s, ">") {
			return sparqlir.Term{}, fmt.Errorf("exec: malformed IRI term %q", s)
		}
		return sparqlir.Term{Kind: sparqlir.TermIRI, Value: s[1 : len(s)-1]}, nil

	case strings.HasPrefix(s, "_:"):
		return sparqlir.Term{Kind: sparqlir.TermBlank, Value: s[2:]}, nil

	case s[0] == '"':
		end := closingQuote(s)
		if end < 0 {
			return sparqlir.Term{}, fmt.Errorf("exec: malformed literal term %q", s)
		}
		t := sparqlir.Term{Kind: sparqlir.TermLiteral, Value: unescapeLiteral(s[1:end])}
		rest := s[end+1:]
		switch {
		case rest == "":
		case rest[0] == '@':
			t.Lang = rest[1:]
		case strings.HasPrefix(rest, "^^<") && strings.HasSuffix(rest, ">"):
			t.Datatype = rest[3 : len(rest)-1]
		default:
			return sparqlir.Term{}, fmt.Errorf("exec: malformed literal suffix %q", rest)
		}
		return t, nil

	default:
		// Bytes written by external callers through the raw store API
		// are opaque; surface them as plain literals.
		return sparqlir.Term{Kind: sparqlir.TermLiteral, Value: s}, nil
	}
}

// closingQuote finds the unescaped closing quote of a literal opened
// at position 0.
func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func escapeLiteral(s string) string {
	if !strings.ContainsAny(s, "\"\\\n\r\t") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return r.Replace(s)
}

func unescapeLiteral(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '"', '\\':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// FormatTerm renders t the way it would appear in SPARQL source,
// which for Mercury's encoding is the same as the atom byte form.
func FormatTerm(t sparqlir.Term) string {
	if t.Kind == sparqlir.TermVar {
		return fmt.Sprintf("?_%d", t.Var)
	}
	return string(EncodeTerm(t))
}
