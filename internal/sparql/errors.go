package sparql

import (
	"errors"
	"fmt"
	"strings"
)

// Span is a half-open byte range into the query source.
type Span struct {
	Start int
	End   int
}

// ParseError is one syntax error: a stable code, the byte span of the
// offending token, and a human-readable message.
type ParseError struct {
	Code    string
	Span    Span
	Message string
}

// Error codes.
const (
	ErrCodeUnexpectedToken = "UNEXPECTED_TOKEN"
	ErrCodeBadLiteral      = "BAD_LITERAL"
	ErrCodeBadIRI          = "BAD_IRI"
	ErrCodeUnknownPrefix   = "UNKNOWN_PREFIX"
	ErrCodeBadExpression   = "BAD_EXPRESSION"
	ErrCodeBadTemplate     = "BAD_TEMPLATE"
	ErrCodeUnknownFunction = "UNKNOWN_FUNCTION"
)

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at %d..%d: %s", e.Code, e.Span.Start, e.Span.End, e.Message)
}

// ErrorList collects every error one parse produced. The parser
// recovers at statement and group boundaries so a single pass can
// report more than one problem.
type ErrorList []*ParseError

// Error implements the error interface.
func (l ErrorList) Error() string {
	if len(l) == 1 {
		return l[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d parse errors:", len(l))
	for _, e := range l {
		b.WriteString("\n\t")
		b.WriteString(e.Error())
	}
	return b.String()
}

// Err returns the list as an error, or nil when empty.
func (l ErrorList) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// IsParseError reports whether err carries at least one ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	if errors.As(err, &pe) {
		return true
	}
	var list ErrorList
	return errors.As(err, &list)
}

// SemanticError is an error type for a structurally valid construct that
// violates the language rules. The parser does not return it: an
// undefined prefix, an unknown function or aggregate name, or a blank
// node in a DELETE template is reported as a ParseError in the returned
// ErrorList.
type SemanticError struct {
	Code    string
	Message string
}

// Semantic error codes.
const (
	ErrCodeVarInDataBlock   = "VAR_IN_DATA_BLOCK"
	ErrCodeBlankInDelete    = "BLANK_NODE_IN_DELETE"
	ErrCodeUnknownAggregate = "UNKNOWN_AGGREGATE"
	ErrCodeBadProjection    = "BAD_PROJECTION"
)

// Error implements the error interface.
func (e *SemanticError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsSemanticError reports whether err carries a SemanticError.
func IsSemanticError(err error) bool {
	var se *SemanticError
	return errors.As(err, &se)
}
