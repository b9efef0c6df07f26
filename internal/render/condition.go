package render

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/gnemet/gridengine/internal/jsonpath"
	"github.com/gnemet/gridengine/record"
)

// Conditions are a deliberately small language: operands are row paths or
// literals, compared with == != > >= < <= and combined with && || and
// parentheses. A bare operand is tested for truthiness. There is no way to
// call code from a condition.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokPath
	tokString
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func lexCondition(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string at %d", i)
			}
			toks = append(toks, token{tokString, s[i+1 : i+1+end]})
			i += end + 2
		case strings.HasPrefix(s[i:], "&&"), strings.HasPrefix(s[i:], "||"),
			strings.HasPrefix(s[i:], "=="), strings.HasPrefix(s[i:], "!="),
			strings.HasPrefix(s[i:], ">="), strings.HasPrefix(s[i:], "<="):
			toks = append(toks, token{tokOp, s[i : i+2]})
			i += 2
		case c == '>' || c == '<':
			toks = append(toks, token{tokOp, string(c)})
			i++
		case c == '-' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(s) && (s[j] == '.' || (s[j] >= '0' && s[j] <= '9')) {
				j++
			}
			toks = append(toks, token{tokNumber, s[i:j]})
			i = j
		case c == '_' || unicode.IsLetter(rune(c)):
			j := i + 1
			for j < len(s) && (s[j] == '_' || s[j] == '.' || unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j]))) {
				j++
			}
			word := s[i:j]
			if rest, ok := strings.CutPrefix(word, "row."); ok && rest != "" {
				toks = append(toks, token{tokPath, rest})
			} else {
				toks = append(toks, token{tokIdent, word})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected %q at %d", c, i)
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

type condParser struct {
	toks []token
	pos  int
	row  record.Row
}

func (p *condParser) peek() token { return p.toks[p.pos] }

func (p *condParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *condParser) or() (bool, error) {
	v, err := p.and()
	if err != nil {
		return false, err
	}
	for p.peek().kind == tokOp && p.peek().text == "||" {
		p.next()
		r, err := p.and()
		if err != nil {
			return false, err
		}
		v = v || r
	}
	return v, nil
}

func (p *condParser) and() (bool, error) {
	v, err := p.comparison()
	if err != nil {
		return false, err
	}
	for p.peek().kind == tokOp && p.peek().text == "&&" {
		p.next()
		r, err := p.comparison()
		if err != nil {
			return false, err
		}
		v = v && r
	}
	return v, nil
}

func (p *condParser) comparison() (bool, error) {
	if p.peek().kind == tokLParen {
		p.next()
		v, err := p.or()
		if err != nil {
			return false, err
		}
		if p.next().kind != tokRParen {
			return false, fmt.Errorf("missing )")
		}
		return v, nil
	}
	left, err := p.operand()
	if err != nil {
		return false, err
	}
	t := p.peek()
	if t.kind != tokOp || t.text == "&&" || t.text == "||" {
		return truthy(left), nil
	}
	p.next()
	right, err := p.operand()
	if err != nil {
		return false, err
	}
	return compare(left, t.text, right), nil
}

func (p *condParser) operand() (any, error) {
	t := p.next()
	switch t.kind {
	case tokPath:
		v, rest, ok := p.row.Walk(t.text)
		if !ok {
			return nil, nil
		}
		if len(rest) > 0 {
			v = jsonpath.ExtractValue(v, strings.Join(rest, "."))
			if jsonpath.IsMissing(v) {
				return nil, nil
			}
		}
		return v, nil
	case tokString:
		return t.text, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return f, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null", "nil":
			return nil, nil
		}
		return nil, fmt.Errorf("unknown identifier %q", t.text)
	default:
		return nil, fmt.Errorf("expected operand, got %q", t.text)
	}
}

// EvaluateCondition evaluates expr against the row.
func EvaluateCondition(expr string, row record.Row) (bool, error) {
	toks, err := lexCondition(expr)
	if err != nil {
		return false, err
	}
	p := &condParser{toks: toks, row: row}
	v, err := p.or()
	if err != nil {
		return false, err
	}
	if p.peek().kind != tokEOF {
		return false, fmt.Errorf("unexpected %q", p.peek().text)
	}
	return v, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != "" && x != "0" && !strings.EqualFold(x, "false")
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

func compare(l any, op string, r any) bool {
	if l == nil || r == nil {
		switch op {
		case "==":
			return l == nil && r == nil
		case "!=":
			return (l == nil) != (r == nil)
		}
		return false
	}
	if lb, ok := asBool(l); ok {
		if rb, ok := asBool(r); ok {
			switch op {
			case "==":
				return lb == rb
			case "!=":
				return lb != rb
			}
			return false
		}
	}
	if lf, ok := toFloat(l); ok {
		if rf, ok := toFloat(r); ok {
			return ordered(op, cmpFloat(lf, rf))
		}
	}
	return ordered(op, strings.Compare(jsonpath.Format(l), jsonpath.Format(r)))
}

func ordered(op string, c int) bool {
	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	}
	return false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(x)
		return b, err == nil
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		return f, err == nil
	case fmt.Stringer:
		f, err := strconv.ParseFloat(x.String(), 64)
		return f, err == nil
	}
	return 0, false
}
