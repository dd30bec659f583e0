package formula

import (
	"fmt"
	"strconv"
	"strings"
)

type nodeKind int

const (
	nodeLit nodeKind = iota
	nodeRef
	nodeNeg
	nodeBinary
	nodeCall
)

type node struct {
	kind  nodeKind
	value any
	name  string
	args  []*node
	pos   int
}

// Expr is a parsed formula.
type Expr struct {
	src  string
	root *node
	refs []string
}

// Parse parses a formula. Unknown functions and wrong argument counts are
// syntax errors so that they surface when the field is defined.
func Parse(src string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SyntaxError{Pos: 0, Msg: "empty formula"}
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.comparison()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	e := &Expr{src: src, root: root}
	seen := map[string]bool{}
	collectRefs(root, func(name string) {
		if !seen[name] {
			seen[name] = true
			e.refs = append(e.refs, name)
		}
	})
	return e, nil
}

// MustParse parses a formula and panics on error. For tests and constants.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Refs returns the distinct field names referenced by the formula in order of
// first appearance.
func (e *Expr) Refs() []string {
	return append([]string(nil), e.refs...)
}

func (e *Expr) String() string { return e.src }

func collectRefs(n *node, fn func(string)) {
	if n.kind == nodeRef {
		fn(n.name)
	}
	for _, a := range n.args {
		collectRefs(a, fn)
	}
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) (token, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return t, false
	}
	for _, op := range ops {
		if t.text == op {
			p.i++
			return t, true
		}
	}
	return t, false
}

func (p *parser) comparison() (*node, error) {
	left, err := p.concat()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.acceptOp("=", "!=", "<", "<=", ">", ">=")
		if !ok {
			return left, nil
		}
		right, err := p.concat()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeBinary, name: t.text, args: []*node{left, right}, pos: t.pos}
	}
}

func (p *parser) concat() (*node, error) {
	left, err := p.additive()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.acceptOp("&")
		if !ok {
			return left, nil
		}
		right, err := p.additive()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeBinary, name: t.text, args: []*node{left, right}, pos: t.pos}
	}
}

func (p *parser) additive() (*node, error) {
	left, err := p.multiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.multiplicative()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeBinary, name: t.text, args: []*node{left, right}, pos: t.pos}
	}
}

func (p *parser) multiplicative() (*node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.acceptOp("*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &node{kind: nodeBinary, name: t.text, args: []*node{left, right}, pos: t.pos}
	}
}

func (p *parser) unary() (*node, error) {
	if t, ok := p.acceptOp("-"); ok {
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &node{kind: nodeNeg, args: []*node{operand}, pos: t.pos}, nil
	}
	if _, ok := p.acceptOp("+"); ok {
		return p.unary()
	}
	return p.primary()
}

func (p *parser) primary() (*node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("bad number %q", t.text)}
		}
		return &node{kind: nodeLit, value: f, pos: t.pos}, nil
	case tokString:
		return &node{kind: nodeLit, value: t.text, pos: t.pos}, nil
	case tokRef:
		return &node{kind: nodeRef, name: t.text, pos: t.pos}, nil
	case tokLParen:
		inner, err := p.comparison()
		if err != nil {
			return nil, err
		}
		if r := p.next(); r.kind != tokRParen {
			return nil, &SyntaxError{Pos: r.pos, Msg: "missing ')'"}
		}
		return inner, nil
	case tokIdent:
		upper := strings.ToUpper(t.text)
		switch upper {
		case "TRUE":
			return &node{kind: nodeLit, value: true, pos: t.pos}, nil
		case "FALSE":
			return &node{kind: nodeLit, value: false, pos: t.pos}, nil
		}
		return p.call(upper, t)
	case tokEOF:
		return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected end of formula"}
	}
	return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
}

func (p *parser) call(name string, t token) (*node, error) {
	fn, ok := functions[name]
	if !ok {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unknown function %s", t.text)}
	}
	if open := p.next(); open.kind != tokLParen {
		return nil, &SyntaxError{Pos: open.pos, Msg: fmt.Sprintf("expected '(' after %s", name)}
	}
	n := &node{kind: nodeCall, name: name, pos: t.pos}
	if p.peek().kind == tokRParen {
		p.next()
	} else {
		for {
			arg, err := p.comparison()
			if err != nil {
				return nil, err
			}
			n.args = append(n.args, arg)
			sep := p.next()
			if sep.kind == tokRParen {
				break
			}
			if sep.kind != tokComma {
				return nil, &SyntaxError{Pos: sep.pos, Msg: "expected ',' or ')'"}
			}
		}
	}
	if len(n.args) < fn.min || (fn.max >= 0 && len(n.args) > fn.max) {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("%s takes %s arguments, got %d", name, fn.arity(), len(n.args))}
	}
	return n, nil
}
