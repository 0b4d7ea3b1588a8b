// Package query serves the read APIs: log search, metric aggregation, trace
// assembly, and RUM search. Organization scope is applied here, in exactly one
// place; handlers pass the authenticated org and never a client-supplied one.
package query

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Aggregation functions accepted in metric expressions.
var validFuncs = map[string]bool{
	"avg":      true,
	"sum":      true,
	"min":      true,
	"max":      true,
	"count":    true,
	"rate":     true,
	"increase": true,
}

// ErrInvalidExpr is wrapped by all metric expression parse failures.
var ErrInvalidExpr = errors.New("invalid metric expression")

// Expr is a parsed metric expression: fn(metric{label="value",...}). The
// selector supports label equality only.
type Expr struct {
	Func     string
	Metric   string
	Matchers map[string]string
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

func (l *lexer) peek() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *lexer) ident() string {
	start := l.pos
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '_' || c == ':' || c == '.' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9' && l.pos > start) {
			l.pos++
			continue
		}
		break
	}
	return l.input[start:l.pos]
}

func (l *lexer) expect(c byte) error {
	l.skipSpace()
	if l.peek() != c {
		return fmt.Errorf("%w: expected %q at position %d", ErrInvalidExpr, string(c), l.pos)
	}
	l.pos++
	return nil
}

func (l *lexer) quoted() (string, error) {
	if err := l.expect('"'); err != nil {
		return "", err
	}
	start := l.pos
	for l.pos < len(l.input) && l.input[l.pos] != '"' {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return "", fmt.Errorf("%w: unterminated string", ErrInvalidExpr)
	}
	value := l.input[start:l.pos]
	l.pos++
	return value, nil
}

// ParseExpr parses fn(metric{label="value"}). The selector is optional, as is
// the wrapping function (a bare selector averages).
func ParseExpr(input string) (*Expr, error) {
	l := &lexer{input: strings.TrimSpace(input)}
	if l.input == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpr)
	}

	l.skipSpace()
	first := l.ident()
	if first == "" {
		return nil, fmt.Errorf("%w: expected identifier at position %d", ErrInvalidExpr, l.pos)
	}

	expr := &Expr{Func: "avg", Matchers: map[string]string{}}

	l.skipSpace()
	if l.peek() == '(' {
		if !validFuncs[first] {
			return nil, fmt.Errorf("%w: unknown function %q", ErrInvalidExpr, first)
		}
		expr.Func = first
		l.pos++
		l.skipSpace()
		expr.Metric = l.ident()
		if expr.Metric == "" {
			return nil, fmt.Errorf("%w: expected metric name at position %d", ErrInvalidExpr, l.pos)
		}
		if err := l.parseSelector(expr); err != nil {
			return nil, err
		}
		if err := l.expect(')'); err != nil {
			return nil, err
		}
	} else {
		expr.Metric = first
		if err := l.parseSelector(expr); err != nil {
			return nil, err
		}
	}

	l.skipSpace()
	if l.pos != len(l.input) {
		return nil, fmt.Errorf("%w: trailing input at position %d", ErrInvalidExpr, l.pos)
	}
	return expr, nil
}

// parseSelector consumes an optional {label="value",...} block.
func (l *lexer) parseSelector(expr *Expr) error {
	l.skipSpace()
	if l.peek() != '{' {
		return nil
	}
	l.pos++
	l.skipSpace()
	if l.peek() == '}' {
		l.pos++
		return nil
	}
	for {
		l.skipSpace()
		label := l.ident()
		if label == "" {
			return fmt.Errorf("%w: expected label name at position %d", ErrInvalidExpr, l.pos)
		}
		if err := l.expect('='); err != nil {
			return err
		}
		value, err := l.quoted()
		if err != nil {
			return err
		}
		expr.Matchers[label] = value

		l.skipSpace()
		switch l.peek() {
		case ',':
			l.pos++
		case '}':
			l.pos++
			return nil
		default:
			return fmt.Errorf("%w: expected ',' or '}' at position %d", ErrInvalidExpr, l.pos)
		}
	}
}
