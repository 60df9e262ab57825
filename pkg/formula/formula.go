// Package formula parses and evaluates the arithmetic expressions attached
// to calculation fields. The grammar is standard infix arithmetic with field
// references written as {label}; unknown references evaluate to zero so that
// partially edited field sets still produce a result.
package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenNumber tokenKind = iota
	tokenField
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenCaret
	tokenLParen
	tokenRParen
	tokenEOF
)

type token struct {
	kind  tokenKind
	value float64
	name  string
	pos   int
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokenEOF, pos: l.pos}, nil
	}
	start := l.pos
	c := l.src[l.pos]
	switch c {
	case '+':
		l.pos++
		return token{kind: tokenPlus, pos: start}, nil
	case '-':
		l.pos++
		return token{kind: tokenMinus, pos: start}, nil
	case '*':
		l.pos++
		return token{kind: tokenStar, pos: start}, nil
	case '/':
		l.pos++
		return token{kind: tokenSlash, pos: start}, nil
	case '^':
		l.pos++
		return token{kind: tokenCaret, pos: start}, nil
	case '(':
		l.pos++
		return token{kind: tokenLParen, pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokenRParen, pos: start}, nil
	case '{':
		end := strings.IndexByte(l.src[l.pos:], '}')
		if end < 0 {
			return token{}, fmt.Errorf("unterminated field reference at position %d", start)
		}
		name := l.src[l.pos+1 : l.pos+end]
		l.pos += end + 1
		return token{kind: tokenField, name: name, pos: start}, nil
	}
	if c >= '0' && c <= '9' || c == '.' {
		end := l.pos
		for end < len(l.src) && (l.src[end] >= '0' && l.src[end] <= '9' || l.src[end] == '.') {
			end++
		}
		literal := l.src[l.pos:end]
		v, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return token{}, fmt.Errorf("invalid number %q at position %d", literal, start)
		}
		l.pos = end
		return token{kind: tokenNumber, value: v, pos: start}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q at position %d", c, start)
}

// node is an expression tree node.
type node interface {
	eval(vars map[string]float64) (float64, error)
}

type literal struct{ value float64 }

func (n literal) eval(map[string]float64) (float64, error) { return n.value, nil }

type fieldRef struct{ name string }

// Missing field names evaluate to zero rather than failing.
func (n fieldRef) eval(vars map[string]float64) (float64, error) {
	return vars[n.name], nil
}

type unary struct{ operand node }

func (n unary) eval(vars map[string]float64) (float64, error) {
	v, err := n.operand.eval(vars)
	return -v, err
}

type binary struct {
	op          tokenKind
	left, right node
}

func (n binary) eval(vars map[string]float64) (float64, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case tokenPlus:
		return l + r, nil
	case tokenMinus:
		return l - r, nil
	case tokenStar:
		return l * r, nil
	case tokenSlash:
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l / r, nil
	case tokenCaret:
		return math.Pow(l, r), nil
	}
	return 0, fmt.Errorf("unknown operator")
}

// Expression is a parsed formula ready for evaluation.
type Expression struct {
	root node
}

type parser struct {
	lex lexer
	cur token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

// Parse builds an expression tree from a formula string. A syntactically
// invalid formula returns an error; arbitrary host code is never executed.
func Parse(src string) (*Expression, error) {
	p := &parser{lex: lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokenEOF {
		return nil, fmt.Errorf("unexpected token at position %d", p.cur.pos)
	}
	return &Expression{root: root}, nil
}

// expr := term (('+'|'-') term)*
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokenPlus || p.cur.kind == tokenMinus {
		op := p.cur.kind
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
	return left, nil
}

// term := factor (('*'|'/') factor)*
func (p *parser) parseTerm() (node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokenStar || p.cur.kind == tokenSlash {
		op := p.cur.kind
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
	return left, nil
}

// factor := unary ('^' factor)?  -- exponentiation binds right.
func (p *parser) parseFactor() (node, error) {
	base, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.cur.kind == tokenCaret {
		if err := p.advance(); err != nil {
			return nil, err
		}
		exp, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return binary{op: tokenCaret, left: base, right: exp}, nil
	}
	return base, nil
}

// unary := '-' unary | primary
func (p *parser) parseUnary() (node, error) {
	if p.cur.kind == tokenMinus {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unary{operand: operand}, nil
	}
	return p.parsePrimary()
}

// primary := number | fieldref | '(' expr ')'
func (p *parser) parsePrimary() (node, error) {
	switch p.cur.kind {
	case tokenNumber:
		n := literal{value: p.cur.value}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return n, nil
	case tokenField:
		n := fieldRef{name: p.cur.name}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return n, nil
	case tokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokenRParen {
			return nil, fmt.Errorf("missing closing parenthesis at position %d", p.cur.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, fmt.Errorf("unexpected token at position %d", p.cur.pos)
}

// Eval computes the expression against a field-name to value mapping.
// Missing names substitute zero.
func (e *Expression) Eval(vars map[string]float64) (float64, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("result is not finite")
	}
	return v, nil
}

// Evaluate parses and evaluates a formula in one call.
func Evaluate(src string, vars map[string]float64) (float64, error) {
	expr, err := Parse(src)
	if err != nil {
		return 0, err
	}
	return expr.Eval(vars)
}
