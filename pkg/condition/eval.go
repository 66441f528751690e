package condition

import (
	"fmt"
	"math"
	"strings"
)

// RuntimeError is raised when a well-formed expression cannot be evaluated,
// for example a string method called on a number.
type RuntimeError struct {
	Pos int
	Msg string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("evaluation error at %d: %s", e.Pos, e.Msg)
}

func eval(n node, vars map[string]any) (any, error) {
	switch t := n.(type) {
	case *literalNode:
		return t.value, nil

	case *identNode:
		v, ok := vars[t.name]
		if !ok {
			return nil, &RuntimeError{Pos: t.at, Msg: fmt.Sprintf("%s is not defined", t.name)}
		}
		return v, nil

	case *unaryNode:
		v, err := eval(t.operand, vars)
		if err != nil {
			return nil, err
		}
		switch t.op {
		case "!":
			return !truthy(v), nil
		case "-":
			return -toNumber(v), nil
		default:
			return toNumber(v), nil
		}

	case *binaryNode:
		return evalBinary(t, vars)

	case *memberNode:
		recv, err := eval(t.receiver, vars)
		if err != nil {
			return nil, err
		}
		return member(t, recv)

	case *callNode:
		recv, err := eval(t.receiver, vars)
		if err != nil {
			return nil, err
		}
		args := make([]any, len(t.args))
		for i, a := range t.args {
			if args[i], err = eval(a, vars); err != nil {
				return nil, err
			}
		}
		return call(t, recv, args)
	}
	return nil, &RuntimeError{Pos: n.pos(), Msg: "unknown expression"}
}

func evalBinary(n *binaryNode, vars map[string]any) (any, error) {
	left, err := eval(n.left, vars)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "&&":
		if !truthy(left) {
			return left, nil
		}
		return eval(n.right, vars)
	case "||":
		if truthy(left) {
			return left, nil
		}
		return eval(n.right, vars)
	}

	right, err := eval(n.right, vars)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "===":
		return strictEquals(left, right), nil
	case "!==":
		return !strictEquals(left, right), nil
	case "==":
		return looseEquals(left, right), nil
	case "!=":
		return !looseEquals(left, right), nil
	case "<", "<=", ">", ">=":
		return compare(n.op, left, right), nil
	case "+":
		l, r := toPrimitive(left), toPrimitive(right)
		_, ls := l.(string)
		_, rs := r.(string)
		if ls || rs {
			return toString(l) + toString(r), nil
		}
		return toNumber(l) + toNumber(r), nil
	case "-":
		return toNumber(left) - toNumber(right), nil
	case "*":
		return toNumber(left) * toNumber(right), nil
	case "/":
		return toNumber(left) / toNumber(right), nil
	case "%":
		return math.Mod(toNumber(left), toNumber(right)), nil
	}
	return nil, &RuntimeError{Pos: n.at, Msg: fmt.Sprintf("unsupported operator %q", n.op)}
}

func compare(op string, left, right any) bool {
	l, r := toPrimitive(left), toPrimitive(right)
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		c := strings.Compare(ls, rs)
		switch op {
		case "<":
			return c < 0
		case "<=":
			return c <= 0
		case ">":
			return c > 0
		default:
			return c >= 0
		}
	}

	a, b := toNumber(l), toNumber(r)
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	default:
		return a >= b
	}
}

func member(n *memberNode, recv any) (any, error) {
	switch r := recv.(type) {
	case string:
		return jsLength(r), nil
	case []any:
		return float64(len(r)), nil
	case map[string]any:
		if v, ok := r[n.name]; ok {
			return v, nil
		}
		return Undefined, nil
	case nil, undefined:
		return nil, &RuntimeError{Pos: n.at, Msg: fmt.Sprintf("cannot read property %q of %s", n.name, toString(r))}
	}
	return Undefined, nil
}

func call(n *callNode, recv any, args []any) (any, error) {
	if list, ok := recv.([]any); ok && n.method == "includes" {
		for _, item := range list {
			if sameValueZero(item, args[0]) {
				return true, nil
			}
		}
		return false, nil
	}

	s, ok := recv.(string)
	if !ok {
		return nil, &RuntimeError{Pos: n.at, Msg: fmt.Sprintf("%s is not a function on %s", n.method, describe(recv))}
	}

	switch n.method {
	case "includes":
		return strings.Contains(s, toString(args[0])), nil
	case "startsWith":
		return strings.HasPrefix(s, toString(args[0])), nil
	case "endsWith":
		return strings.HasSuffix(s, toString(args[0])), nil
	case "toLowerCase":
		return strings.ToLower(s), nil
	case "toUpperCase":
		return strings.ToUpper(s), nil
	case "trim":
		return strings.TrimSpace(s), nil
	}
	return nil, &RuntimeError{Pos: n.at, Msg: fmt.Sprintf("method %q is not allowed", n.method)}
}

func sameValueZero(a, b any) bool {
	x, xok := a.(float64)
	y, yok := b.(float64)
	if xok && yok && math.IsNaN(x) && math.IsNaN(y) {
		return true
	}
	return strictEquals(a, b)
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case undefined:
		return "undefined"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case []any:
		return "array"
	}
	return "object"
}
