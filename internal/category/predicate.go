package category

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/tabloom/tabloom-cli/internal/dataset"
)

// Predicate is a parsed boolean expression over dataset columns. It replaces
// the evaluable condition strings of the source configuration with a small
// typed AST: comparisons, set membership, and boolean combinators. Parsing
// happens once; evaluation is vectorized over whole columns. Rows where a
// referenced column is null evaluate to false.
type Predicate struct {
	root node
	src  string
}

// String returns the original expression text.
func (p *Predicate) String() string { return p.src }

// Mask evaluates the predicate against the dataset, returning one boolean per
// row. Unresolvable column references are reported as errors.
func (p *Predicate) Mask(ds *dataset.Dataset) ([]bool, error) {
	return p.root.eval(ds)
}

// ParsePredicate parses an expression like
//
//	Q1 == 1 && (region != 2 || Q3 >= 4)
//	city in [1, 3, 5]
//	!(Q2 < 3)
//
// into a Predicate. Operands are column names, numbers, or quoted strings.
func ParsePredicate(src string) (*Predicate, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	pr := &parser{toks: toks}
	root, err := pr.parseOr()
	if err != nil {
		return nil, err
	}
	if !pr.done() {
		return nil, fmt.Errorf("unexpected %q at end of predicate", pr.peek().text)
	}
	return &Predicate{root: root, src: src}, nil
}

type node interface {
	eval(ds *dataset.Dataset) ([]bool, error)
}

type binaryNode struct {
	op          string // "&&" | "||"
	left, right node
}

func (n *binaryNode) eval(ds *dataset.Dataset) ([]bool, error) {
	l, err := n.left.eval(ds)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(ds)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(l))
	for i := range out {
		if n.op == "&&" {
			out[i] = l[i] && r[i]
		} else {
			out[i] = l[i] || r[i]
		}
	}
	return out, nil
}

type notNode struct{ inner node }

func (n *notNode) eval(ds *dataset.Dataset) ([]bool, error) {
	v, err := n.inner.eval(ds)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(v))
	for i := range v {
		out[i] = !v[i]
	}
	return out, nil
}

// operand is a column reference or a literal.
type operand struct {
	column string
	num    float64
	str    string
	kind   int // opColumn | opNum | opStr
}

const (
	opColumn = iota
	opNum
	opStr
)

type cmpNode struct {
	op          string // == != < <= > >=
	left, right operand
}

func (n *cmpNode) eval(ds *dataset.Dataset) ([]bool, error) {
	rows := ds.NumRows()
	lc, err := resolve(ds, n.left)
	if err != nil {
		return nil, err
	}
	rc, err := resolve(ds, n.right)
	if err != nil {
		return nil, err
	}
	out := make([]bool, rows)
	for i := 0; i < rows; i++ {
		lv, lok := lc.value(i)
		rv, rok := rc.value(i)
		if !lok || !rok {
			continue
		}
		out[i] = compare(n.op, lv, rv)
	}
	return out, nil
}

type inNode struct {
	left  operand
	items []operand
}

func (n *inNode) eval(ds *dataset.Dataset) ([]bool, error) {
	rows := ds.NumRows()
	lc, err := resolve(ds, n.left)
	if err != nil {
		return nil, err
	}
	items := make([]resolved, len(n.items))
	for j, it := range n.items {
		rc, err := resolve(ds, it)
		if err != nil {
			return nil, err
		}
		items[j] = rc
	}
	out := make([]bool, rows)
	for i := 0; i < rows; i++ {
		lv, lok := lc.value(i)
		if !lok {
			continue
		}
		for _, it := range items {
			iv, iok := it.value(i)
			if iok && compare("==", lv, iv) {
				out[i] = true
				break
			}
		}
	}
	return out, nil
}

// resolved is an operand bound to the dataset: either a column or a constant.
type resolved struct {
	col *dataset.Column
	op  operand
}

func resolve(ds *dataset.Dataset, op operand) (resolved, error) {
	if op.kind != opColumn {
		return resolved{op: op}, nil
	}
	col, ok := ds.Column(op.column)
	if !ok {
		return resolved{}, fmt.Errorf("unknown column %q", op.column)
	}
	return resolved{col: col, op: op}, nil
}

// value yields the operand's value at row i as either a number or a string.
// The bool result is false for null cells.
func (r resolved) value(i int) (any, bool) {
	if r.col == nil {
		if r.op.kind == opNum {
			return r.op.num, true
		}
		return r.op.str, true
	}
	if r.col.IsNull(i) {
		return nil, false
	}
	if r.col.Kind == dataset.Numeric {
		return r.col.Num(i), true
	}
	return r.col.Str(i), true
}

func compare(op string, l, r any) bool {
	lf, lnum := l.(float64)
	rf, rnum := r.(float64)
	if lnum && rnum {
		switch op {
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		}
		return false
	}
	ls := fmt.Sprint(l)
	rs := fmt.Sprint(r)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case "<":
		return ls < rs
	case "<=":
		return ls <= rs
	case ">":
		return ls > rs
	case ">=":
		return ls >= rs
	}
	return false
}

// --- lexer ---

type token struct {
	kind int // tokIdent | tokNum | tokStr | tokOp | tokEOF
	text string
	num  float64
}

const (
	tokIdent = iota
	tokNum
	tokStr
	tokOp
	tokEOF
)

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case strings.ContainsRune("()[],", rune(c)):
			toks = append(toks, token{kind: tokOp, text: string(c)})
			i++
		case c == '&' || c == '|':
			if i+1 >= len(src) || src[i+1] != c {
				return nil, fmt.Errorf("invalid operator at %q", src[i:])
			}
			toks = append(toks, token{kind: tokOp, text: src[i : i+2]})
			i += 2
		case c == '=' || c == '!' || c == '<' || c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{kind: tokOp, text: src[i : i+2]})
				i += 2
			} else if c == '=' {
				return nil, fmt.Errorf("single '=' at %q; use '=='", src[i:])
			} else {
				toks = append(toks, token{kind: tokOp, text: string(c)})
				i++
			}
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string at %q", src[i:])
			}
			toks = append(toks, token{kind: tokStr, text: src[i+1 : j]})
			i = j + 1
		case c >= '0' && c <= '9' || c == '-' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			j := i + 1
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			x, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", src[i:j])
			}
			toks = append(toks, token{kind: tokNum, text: src[i:j], num: x})
			i = j
		case isIdentStart(rune(c)):
			j := i + 1
			for j < len(src) && isIdentRune(rune(src[j])) {
				j++
			}
			word := src[i:j]
			switch word {
			case "and":
				toks = append(toks, token{kind: tokOp, text: "&&"})
			case "or":
				toks = append(toks, token{kind: tokOp, text: "||"})
			case "not":
				toks = append(toks, token{kind: tokOp, text: "!"})
			case "in":
				toks = append(toks, token{kind: tokOp, text: "in"})
			default:
				toks = append(toks, token{kind: tokIdent, text: word})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	toks = append(toks, token{kind: tokEOF})
	return toks, nil
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// --- parser ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) done() bool { return p.peek().kind == tokEOF }

func (p *parser) accept(text string) bool {
	if p.peek().kind == tokOp && p.peek().text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.accept("&&") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.accept("!") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	if p.accept("(") {
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.accept(")") {
			return nil, fmt.Errorf("expected ')' near %q", p.peek().text)
		}
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind != tokOp {
		return nil, fmt.Errorf("expected comparison operator, got %q", t.text)
	}
	switch t.text {
	case "==", "!=", "<", "<=", ">", ">=":
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &cmpNode{op: t.text, left: left, right: right}, nil
	case "in":
		p.next()
		if !p.accept("[") {
			return nil, fmt.Errorf("expected '[' after 'in'")
		}
		var items []operand
		for {
			it, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			items = append(items, it)
			if p.accept(",") {
				continue
			}
			if p.accept("]") {
				break
			}
			return nil, fmt.Errorf("expected ',' or ']' in list, got %q", p.peek().text)
		}
		return &inNode{left: left, items: items}, nil
	}
	return nil, fmt.Errorf("unexpected operator %q", t.text)
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return operand{kind: opColumn, column: t.text}, nil
	case tokNum:
		return operand{kind: opNum, num: t.num}, nil
	case tokStr:
		return operand{kind: opStr, str: t.text}, nil
	}
	return operand{}, fmt.Errorf("expected column, number, or string, got %q", t.text)
}
