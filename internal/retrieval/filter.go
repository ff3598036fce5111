package retrieval

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Filter expressions select passages by their scalar fields, for example:
//
//	source == "ng136.pdf" and page >= 3
//	id in [1, 2, 3] or text like "Hypertension%"
//
// Supported fields are id, page (integers) and source, text (strings).
// Operators: == != < <= > >= in like, combined with and / or and
// parentheses. "and" binds tighter than "or".

type fieldKind int

const (
	kindInt fieldKind = iota
	kindString
)

var filterFields = map[string]fieldKind{
	"id":     kindInt,
	"page":   kindInt,
	"source": kindString,
	"text":   kindString,
}

// compileFilter translates a filter expression into a SQL predicate with
// positional arguments. An empty expression matches everything.
func compileFilter(expr string) (string, []any, error) {
	if strings.TrimSpace(expr) == "" {
		return "1=1", nil, nil
	}
	toks, err := tokenize(expr)
	if err != nil {
		return "", nil, err
	}
	p := &filterParser{toks: toks}
	sql, err := p.parseOr()
	if err != nil {
		return "", nil, err
	}
	if p.pos != len(p.toks) {
		return "", nil, fmt.Errorf("filter: unexpected %q", p.toks[p.pos].text)
	}
	return sql, p.args, nil
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokString
	tokNumber
	tokOp
	tokPunct
)

type token struct {
	kind tokKind
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '"' || r == '\'':
			quote := r
			var sb strings.Builder
			j := i + 1
			for ; j < len(rs) && rs[j] != quote; j++ {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
				}
				sb.WriteRune(rs[j])
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("filter: unterminated string")
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			j := i + 1
			for j < len(rs) && unicode.IsDigit(rs[j]) {
				j++
			}
			toks = append(toks, token{tokNumber, string(rs[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, string(rs[i:j])})
			i = j
		case strings.ContainsRune("=!<>", r):
			j := i + 1
			if j < len(rs) && rs[j] == '=' {
				j++
			}
			op := string(rs[i:j])
			if op == "=" || op == "!" {
				return nil, fmt.Errorf("filter: invalid operator %q", op)
			}
			toks = append(toks, token{tokOp, op})
			i = j
		case r == '&' || r == '|':
			if i+1 >= len(rs) || rs[i+1] != r {
				return nil, fmt.Errorf("filter: invalid operator %q", string(r))
			}
			word := "and"
			if r == '|' {
				word = "or"
			}
			toks = append(toks, token{tokIdent, word})
			i += 2
		case strings.ContainsRune("()[],", r):
			toks = append(toks, token{tokPunct, string(r)})
			i++
		default:
			return nil, fmt.Errorf("filter: unexpected character %q", string(r))
		}
	}
	return toks, nil
}

type filterParser struct {
	toks []token
	pos  int
	args []any
}

func (p *filterParser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *filterParser) keyword(word string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *filterParser) punct(s string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokPunct && t.text == s {
		p.pos++
		return true
	}
	return false
}

func (p *filterParser) parseOr() (string, error) {
	left, err := p.parseAnd()
	if err != nil {
		return "", err
	}
	for p.keyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return "", err
		}
		left = "(" + left + " OR " + right + ")"
	}
	return left, nil
}

func (p *filterParser) parseAnd() (string, error) {
	left, err := p.parseTerm()
	if err != nil {
		return "", err
	}
	for p.keyword("and") {
		right, err := p.parseTerm()
		if err != nil {
			return "", err
		}
		left = "(" + left + " AND " + right + ")"
	}
	return left, nil
}

func (p *filterParser) parseTerm() (string, error) {
	if p.punct("(") {
		inner, err := p.parseOr()
		if err != nil {
			return "", err
		}
		if !p.punct(")") {
			return "", fmt.Errorf("filter: missing )")
		}
		return inner, nil
	}

	t, ok := p.peek()
	if !ok || t.kind != tokIdent {
		return "", fmt.Errorf("filter: expected field name")
	}
	field := strings.ToLower(t.text)
	kind, known := filterFields[field]
	if !known {
		return "", fmt.Errorf("filter: unknown field %q", t.text)
	}
	p.pos++

	switch {
	case p.keyword("in"):
		return p.parseIn(field, kind)
	case p.keyword("like"):
		if kind != kindString {
			return "", fmt.Errorf("filter: like requires a string field, got %q", field)
		}
		v, err := p.value(kindString)
		if err != nil {
			return "", err
		}
		p.args = append(p.args, v)
		return field + " LIKE ?", nil
	}

	op, ok := p.peek()
	if !ok || op.kind != tokOp {
		return "", fmt.Errorf("filter: expected operator after %q", field)
	}
	p.pos++
	if kind == kindString && op.text != "==" && op.text != "!=" {
		return "", fmt.Errorf("filter: operator %s not supported on string field %q", op.text, field)
	}
	v, err := p.value(kind)
	if err != nil {
		return "", err
	}
	p.args = append(p.args, v)

	sqlOp := op.text
	switch op.text {
	case "==":
		sqlOp = "="
	case "!=":
		sqlOp = "<>"
	}
	return field + " " + sqlOp + " ?", nil
}

func (p *filterParser) parseIn(field string, kind fieldKind) (string, error) {
	if !p.punct("[") {
		return "", fmt.Errorf("filter: expected [ after in")
	}
	var n int
	for {
		v, err := p.value(kind)
		if err != nil {
			return "", err
		}
		p.args = append(p.args, v)
		n++
		if p.punct("]") {
			break
		}
		if !p.punct(",") {
			return "", fmt.Errorf("filter: expected , or ] in list")
		}
	}
	return field + " IN (?" + strings.Repeat(",?", n-1) + ")", nil
}

func (p *filterParser) value(kind fieldKind) (any, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("filter: expected value")
	}
	p.pos++
	switch kind {
	case kindInt:
		if t.kind != tokNumber {
			return nil, fmt.Errorf("filter: expected integer, got %q", t.text)
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		return n, nil
	default:
		if t.kind != tokString {
			return nil, fmt.Errorf("filter: expected quoted string, got %q", t.text)
		}
		return t.text, nil
	}
}
