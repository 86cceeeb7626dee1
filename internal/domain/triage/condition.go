package triage

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Op is a comparison operator in a criteria expression.
type Op int

const (
	OpLT Op = iota + 1
	OpLE
	OpGT
	OpGE
	OpEQ
)

var opSymbols = map[string]Op{
	"<":  OpLT,
	"<=": OpLE,
	">":  OpGT,
	">=": OpGE,
	"==": OpEQ,
}

func (o Op) String() string {
	for sym, op := range opSymbols {
		if op == o {
			return sym
		}
	}
	return "?"
}

// Comparison is one atomic condition such as "<90".
type Comparison struct {
	Op        Op
	Threshold float64
}

func (c Comparison) Holds(v float64) bool {
	switch c.Op {
	case OpLT:
		return v < c.Threshold
	case OpLE:
		return v <= c.Threshold
	case OpGT:
		return v > c.Threshold
	case OpGE:
		return v >= c.Threshold
	case OpEQ:
		return v == c.Threshold
	}
	return false
}

func (c Comparison) String() string {
	return c.Op.String() + strconv.FormatFloat(c.Threshold, 'f', -1, 64)
}

// Expr is a compiled criteria expression: one or more comparisons joined by
// a single combinator.
type Expr struct {
	Terms []Comparison
	// All is true for "and" expressions; false means any term suffices.
	All bool
}

// Eval tests v against the expression.
func (e Expr) Eval(v float64) bool {
	if len(e.Terms) == 0 {
		return false
	}
	for _, t := range e.Terms {
		ok := t.Holds(v)
		if e.All && !ok {
			return false
		}
		if !e.All && ok {
			return true
		}
	}
	return e.All
}

func (e Expr) String() string {
	parts := make([]string, len(e.Terms))
	for i, t := range e.Terms {
		parts[i] = t.String()
	}
	sep := " or "
	if e.All {
		sep = " and "
	}
	return strings.Join(parts, sep)
}

type tokenKind int

const (
	tokOp tokenKind = iota + 1
	tokNumber
	tokWord
)

type token struct {
	kind tokenKind
	text string
	pos  int
	// glued is set when no whitespace separates this token from the previous one.
	glued bool
}

func lex(s string) ([]token, error) {
	var toks []token
	glued := false
	for i := 0; i < len(s); {
		r := rune(s[i])
		switch {
		case unicode.IsSpace(r):
			glued = false
			i++
			continue
		case strings.ContainsRune("<>=", r):
			j := i
			for j < len(s) && strings.ContainsRune("<>=", rune(s[j])) {
				j++
			}
			toks = append(toks, token{kind: tokOp, text: s[i:j], pos: i, glued: glued})
			i = j
		case unicode.IsDigit(r) || r == '.':
			j := i
			for j < len(s) && (unicode.IsDigit(rune(s[j])) || s[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: s[i:j], pos: i, glued: glued})
			i = j
		case unicode.IsLetter(r):
			j := i
			for j < len(s) && unicode.IsLetter(rune(s[j])) {
				j++
			}
			toks = append(toks, token{kind: tokWord, text: strings.ToLower(s[i:j]), pos: i, glued: glued})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", r, i)
		}
		glued = true
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) next() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	t := p.toks[p.pos]
	p.pos++
	return t, true
}

func (p *parser) comparison() (Comparison, error) {
	opTok, ok := p.next()
	if !ok {
		return Comparison{}, fmt.Errorf("expected comparison, got end of input")
	}
	if opTok.kind != tokOp {
		return Comparison{}, fmt.Errorf("expected operator at %d, got %q", opTok.pos, opTok.text)
	}
	op, ok := opSymbols[opTok.text]
	if !ok {
		return Comparison{}, fmt.Errorf("unknown operator %q at %d", opTok.text, opTok.pos)
	}
	numTok, ok := p.next()
	if !ok || numTok.kind != tokNumber || !numTok.glued {
		return Comparison{}, fmt.Errorf("operator %q at %d must be followed directly by a number", opTok.text, opTok.pos)
	}
	if strings.Count(numTok.text, ".") > 1 || strings.HasPrefix(numTok.text, ".") {
		return Comparison{}, fmt.Errorf("malformed number %q at %d", numTok.text, numTok.pos)
	}
	v, err := strconv.ParseFloat(numTok.text, 64)
	if err != nil {
		return Comparison{}, fmt.Errorf("malformed number %q at %d: %w", numTok.text, numTok.pos, err)
	}
	return Comparison{Op: op, Threshold: v}, nil
}

// ParseExpr compiles a criteria expression such as "<10 or >36" or
// ">=9 and <=12". Mixing "or" and "and" in one expression is rejected.
func ParseExpr(s string) (Expr, error) {
	toks, err := lex(s)
	if err != nil {
		return Expr{}, fmt.Errorf("parse %q: %w", s, err)
	}
	p := &parser{toks: toks}

	first, err := p.comparison()
	if err != nil {
		return Expr{}, fmt.Errorf("parse %q: %w", s, err)
	}
	expr := Expr{Terms: []Comparison{first}}
	combinator := ""
	for {
		w, ok := p.next()
		if !ok {
			break
		}
		if w.kind != tokWord || (w.text != "or" && w.text != "and") {
			return Expr{}, fmt.Errorf("parse %q: expected \"or\" or \"and\" at %d, got %q", s, w.pos, w.text)
		}
		if combinator != "" && combinator != w.text {
			return Expr{}, fmt.Errorf("parse %q: cannot mix %q and %q", s, combinator, w.text)
		}
		combinator = w.text
		c, err := p.comparison()
		if err != nil {
			return Expr{}, fmt.Errorf("parse %q: %w", s, err)
		}
		expr.Terms = append(expr.Terms, c)
	}
	expr.All = combinator == "and"
	return expr, nil
}

// MustParseExpr is ParseExpr for fixed expressions known to be valid.
func MustParseExpr(s string) Expr {
	e, err := ParseExpr(s)
	if err != nil {
		panic(err)
	}
	return e
}

// Numeric coerces a measurement value to float64. Numeric strings are
// accepted; booleans, NaN and anything else are not.
func Numeric(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Measurements is a named set of clinical observations.
type Measurements map[string]any

// Satisfies reports whether the named measurement is present, numeric and
// satisfies expr.
func (m Measurements) Satisfies(name string, expr Expr) bool {
	raw, ok := m[name]
	if !ok || raw == nil {
		return false
	}
	v, ok := Numeric(raw)
	if !ok {
		return false
	}
	return expr.Eval(v)
}

// EvaluateCondition parses expr and tests it against measurements[name].
// A malformed expression yields false together with the parse error so the
// caller can log it.
func EvaluateCondition(expr, name string, measurements Measurements) (bool, error) {
	compiled, err := ParseExpr(expr)
	if err != nil {
		return false, err
	}
	return measurements.Satisfies(name, compiled), nil
}
