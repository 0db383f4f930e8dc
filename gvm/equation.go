// Package gvm implements the Graph-Variable Machine: the small predicate
// language that decides, per tree per cell, whether the CA should receive
// a copy of a forwarded message (Recv), may originate on the tree (Send),
// may extend the tree past this cell (Xtnd), and must save outgoing
// messages for later joiners (Save). Grounded on
// original_source/src-20170808/gvm_equation.rs and
// original_source/src/gvm_equation.rs ("hops < 7 || n_children == 0").
package gvm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cellfabric/fabric"
	"golang.org/x/xerrors"
)

// Equation holds the four predicate expressions. A predicate left empty
// (as in the zero value) fails to evaluate with ErrGvmEval; NewEquation
// substitutes "false" for empty predicates.
type Equation struct {
	Recv string
	Send string
	Xtnd string
	Save string
}

// NewEquation builds an Equation, defaulting any empty predicate to
// "false".
func NewEquation(recv, send, xtnd, save string) Equation {
	def := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "false"
		}
		return s
	}
	return Equation{Recv: def(recv), Send: def(send), Xtnd: def(xtnd), Save: def(save)}
}

// Vars is the small variable environment the predicates may reference -
// currently only "hops", per spec.md §4.5.
type Vars map[string]int

// EvalRecv evaluates the Recv predicate.
func (e Equation) EvalRecv(v Vars) (bool, error) { return evaluate(e.Recv, v) }

// EvalSend evaluates the Send predicate.
func (e Equation) EvalSend(v Vars) (bool, error) { return evaluate(e.Send, v) }

// EvalXtnd evaluates the Xtnd predicate.
func (e Equation) EvalXtnd(v Vars) (bool, error) { return evaluate(e.Xtnd, v) }

// EvalSave evaluates the Save predicate.
func (e Equation) EvalSave(v Vars) (bool, error) { return evaluate(e.Save, v) }

func evaluate(expr string, vars Vars) (bool, error) {
	p := &parser{toks: tokenize(expr), vars: vars}
	v, err := p.parseOr()
	if err != nil {
		return false, xerrors.Errorf("evaluating %q: %v: %w", expr, err, fabric.ErrGvmEval)
	}
	if !p.atEnd() {
		return false, xerrors.Errorf("evaluating %q: trailing input: %w", expr, fabric.ErrGvmEval)
	}
	b, ok := v.(bool)
	if !ok {
		return false, xerrors.Errorf("evaluating %q: expression is not boolean: %w", expr, fabric.ErrGvmEval)
	}
	return b, nil
}

// --- tokenizer ---

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
}

func tokenize(s string) []token {
	var toks []token
	i := 0
	n := len(s)
	isIdentStart := func(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
	isIdentCont := func(c byte) bool { return isIdentStart(c) || (c >= '0' && c <= '9') }
	for i < n {
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
		case isIdentStart(c):
			j := i + 1
			for j < n && isIdentCont(s[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, s[i:j]})
			i = j
		case c >= '0' && c <= '9':
			j := i + 1
			for j < n && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			toks = append(toks, token{tokNumber, s[i:j]})
			i = j
		case strings.HasPrefix(s[i:], "&&"):
			toks = append(toks, token{tokOp, "&&"})
			i += 2
		case strings.HasPrefix(s[i:], "||"):
			toks = append(toks, token{tokOp, "||"})
			i += 2
		case strings.HasPrefix(s[i:], "=="):
			toks = append(toks, token{tokOp, "=="})
			i += 2
		case strings.HasPrefix(s[i:], "!="):
			toks = append(toks, token{tokOp, "!="})
			i += 2
		case strings.HasPrefix(s[i:], "<="):
			toks = append(toks, token{tokOp, "<="})
			i += 2
		case strings.HasPrefix(s[i:], ">="):
			toks = append(toks, token{tokOp, ">="})
			i += 2
		case c == '<' || c == '>' || c == '!':
			toks = append(toks, token{tokOp, string(c)})
			i++
		default:
			i++ // skip unrecognised punctuation rather than failing the tokenizer
		}
	}
	return toks
}

// --- recursive-descent parser/evaluator ---
//
// grammar:
//   or    := and ("||" and)*
//   and   := cmp ("&&" cmp)*
//   cmp   := unary (("==" | "!=" | "<" | "<=" | ">" | ">=") unary)?
//   unary := "!" unary | atom
//   atom  := number | ident | "true" | "false" | "(" or ")"

type parser struct {
	toks []token
	pos  int
	vars Vars
}

func (p *parser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.atEnd() {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) parseOr() (interface{}, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && p.peek().text == "||" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lb, rb, err := asBools(left, right)
		if err != nil {
			return nil, err
		}
		left = lb || rb
	}
	return left, nil
}

func (p *parser) parseAnd() (interface{}, error) {
	left, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && p.peek().text == "&&" {
		p.next()
		right, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		lb, rb, err := asBools(left, right)
		if err != nil {
			return nil, err
		}
		left = lb && rb
	}
	return left, nil
}

func (p *parser) parseCmp() (interface{}, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokOp {
		switch p.peek().text {
		case "==", "!=", "<", "<=", ">", ">=":
			op := p.next().text
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return compare(op, left, right)
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (interface{}, error) {
	if p.peek().kind == tokOp && p.peek().text == "!" {
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, xerrors.New("! applied to non-boolean")
		}
		return !b, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (interface{}, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		n, err := strconv.Atoi(t.text)
		if err != nil {
			return nil, err
		}
		return n, nil
	case tokIdent:
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			v, ok := p.vars[t.text]
			if !ok {
				return nil, xerrors.Errorf("undefined variable %q", t.text)
			}
			return v, nil
		}
	case tokLParen:
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, xerrors.New("expected )")
		}
		p.next()
		return v, nil
	default:
		return nil, xerrors.New("unexpected end of expression")
	}
}

func asBools(a, b interface{}) (bool, bool, error) {
	ab, ok := a.(bool)
	if !ok {
		return false, false, xerrors.New("expected boolean operand")
	}
	bb, ok := b.(bool)
	if !ok {
		return false, false, xerrors.New("expected boolean operand")
	}
	return ab, bb, nil
}

func compare(op string, a, b interface{}) (bool, error) {
	switch av := a.(type) {
	case int:
		bv, ok := b.(int)
		if !ok {
			return false, xerrors.New("cannot compare int to non-int")
		}
		switch op {
		case "==":
			return av == bv, nil
		case "!=":
			return av != bv, nil
		case "<":
			return av < bv, nil
		case "<=":
			return av <= bv, nil
		case ">":
			return av > bv, nil
		case ">=":
			return av >= bv, nil
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return false, xerrors.New("cannot compare bool to non-bool")
		}
		switch op {
		case "==":
			return av == bv, nil
		case "!=":
			return av != bv, nil
		}
		return false, xerrors.Errorf("operator %s not defined for booleans", op)
	}
	return false, fmt.Errorf("unsupported comparison operand type %T", a)
}
