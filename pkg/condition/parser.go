package condition

import (
	"fmt"
	"regexp"
)

// node is an expression tree element.
type node interface {
	pos() int
}

type literalNode struct {
	at    int
	value any
}

type identNode struct {
	at   int
	name string
}

type unaryNode struct {
	at      int
	op      string
	operand node
}

type binaryNode struct {
	at          int
	op          string
	left, right node
}

type memberNode struct {
	at       int
	receiver node
	name     string
}

type callNode struct {
	at       int
	receiver node
	method   string
	args     []node
}

func (n *literalNode) pos() int { return n.at }
func (n *identNode) pos() int   { return n.at }
func (n *unaryNode) pos() int   { return n.at }
func (n *binaryNode) pos() int  { return n.at }
func (n *memberNode) pos() int  { return n.at }
func (n *callNode) pos() int    { return n.at }

// methods lists the callable members and their arity.
var methods = map[string]int{
	"includes":    1,
	"startsWith":  1,
	"endsWith":    1,
	"toLowerCase": 0,
	"toUpperCase": 0,
	"trim":        0,
}

// properties lists the readable non-call members.
var properties = map[string]bool{
	"length": true,
}

var boundIdent = regexp.MustCompile(`^__v[0-9]+$`)

// IsBoundIdentifier reports whether name is a generated variable name.
func IsBoundIdentifier(name string) bool {
	return boundIdent.MatchString(name)
}

type parser struct {
	tokens []token
	cur    int
}

// parse compiles an expression into a tree. The only identifiers accepted
// are the literal keywords and generated variable names (__v0, __v1, ...).
func parse(src string) (node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	if p.peek().kind == tokEOF {
		return nil, &SyntaxError{Pos: 0, Msg: "empty expression"}
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %s", t)}
	}
	return n, nil
}

func (p *parser) peek() token { return p.tokens[p.cur] }

func (p *parser) next() token {
	t := p.tokens[p.cur]
	if t.kind != tokEOF {
		p.cur++
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
			p.cur++
			return t, true
		}
	}
	return t, false
}

func (p *parser) expectOp(op string) error {
	if _, ok := p.acceptOp(op); ok {
		return nil
	}
	t := p.peek()
	return &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("expected %q, found %s", op, t)}
}

func (p *parser) binaryLevel(next func() (node, error), ops ...string) (node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.acceptOp(ops...)
		if !ok {
			return left, nil
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{at: t.pos, op: t.text, left: left, right: right}
	}
}

func (p *parser) parseOr() (node, error) {
	return p.binaryLevel(p.parseAnd, "||")
}

func (p *parser) parseAnd() (node, error) {
	return p.binaryLevel(p.parseEquality, "&&")
}

func (p *parser) parseEquality() (node, error) {
	return p.binaryLevel(p.parseRelational, "===", "!==", "==", "!=")
}

func (p *parser) parseRelational() (node, error) {
	return p.binaryLevel(p.parseAdditive, "<=", ">=", "<", ">")
}

func (p *parser) parseAdditive() (node, error) {
	return p.binaryLevel(p.parseMultiplicative, "+", "-")
}

func (p *parser) parseMultiplicative() (node, error) {
	return p.binaryLevel(p.parseUnary, "*", "/", "%")
}

func (p *parser) parseUnary() (node, error) {
	if t, ok := p.acceptOp("!", "-", "+"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{at: t.pos, op: t.text, operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		dot, ok := p.acceptOp(".")
		if !ok {
			return n, nil
		}
		name := p.next()
		if name.kind != tokIdent {
			return nil, &SyntaxError{Pos: name.pos, Msg: fmt.Sprintf("expected member name, found %s", name)}
		}

		if _, call := p.acceptOp("("); call {
			arity, allowed := methods[name.text]
			if !allowed {
				return nil, &SyntaxError{Pos: name.pos, Msg: fmt.Sprintf("method %q is not allowed", name.text)}
			}
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != arity {
				return nil, &SyntaxError{Pos: name.pos, Msg: fmt.Sprintf("method %q takes %d argument(s), got %d", name.text, arity, len(args))}
			}
			n = &callNode{at: dot.pos, receiver: n, method: name.text, args: args}
			continue
		}

		if !properties[name.text] {
			return nil, &SyntaxError{Pos: name.pos, Msg: fmt.Sprintf("property %q is not allowed", name.text)}
		}
		n = &memberNode{at: dot.pos, receiver: n, name: name.text}
	}
}

func (p *parser) parseArgs() ([]node, error) {
	var args []node
	if _, ok := p.acceptOp(")"); ok {
		return args, nil
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if _, ok := p.acceptOp(","); ok {
			continue
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return args, nil
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &literalNode{at: t.pos, value: t.num}, nil
	case tokString:
		return &literalNode{at: t.pos, value: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &literalNode{at: t.pos, value: true}, nil
		case "false":
			return &literalNode{at: t.pos, value: false}, nil
		case "null":
			return &literalNode{at: t.pos, value: nil}, nil
		case "undefined":
			return &literalNode{at: t.pos, value: Undefined}, nil
		}
		if !IsBoundIdentifier(t.text) {
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("identifier %q is not allowed", t.text)}
		}
		return &identNode{at: t.pos, name: t.text}, nil
	case tokOp:
		if t.text == "(" {
			inner, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return inner, nil
		}
	}
	return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %s", t)}
}
