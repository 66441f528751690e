// Package condition evaluates the boolean expressions attached to
// Condition actions and while loops.
//
// Expressions are never executed as host code. They are tokenized and
// parsed by a small recursive-descent parser into a tree, then interpreted
// against a table of bound variables.
//
// # Pipeline
//
//  1. PreValidate masks every {{@nodeId:Label.path}} reference and checks
//     the remaining text against the grammar.
//  2. Bind replaces each reference with a generated identifier (__v0,
//     __v1, ...) bound to the resolved value. Values never become source
//     text, so their content cannot alter the expression.
//  3. Validate re-parses the rewritten expression.
//  4. Run interprets the tree.
//
// Evaluator.Evaluate wraps the pipeline and fails closed: any error is
// logged and yields false.
//
// # Grammar
//
//	expr     = or
//	or       = and { "||" and }
//	and      = equality { "&&" equality }
//	equality = rel { ("===" | "!==" | "==" | "!=") rel }
//	rel      = add { ("<" | "<=" | ">" | ">=") add }
//	add      = mul { ("+" | "-") mul }
//	mul      = unary { ("*" | "/" | "%") unary }
//	unary    = ("!" | "-" | "+") unary | postfix
//	postfix  = primary { "." member }
//	member   = "length" | method "(" [ expr { "," expr } ] ")"
//	method   = "includes" | "startsWith" | "endsWith"
//	         | "toLowerCase" | "toUpperCase" | "trim"
//	primary  = number | string | "true" | "false" | "null" | "undefined"
//	         | "__v" digits | "(" expr ")"
//
// Comparison, equality, truthiness and the && / || operators follow
// JavaScript semantics so expressions written for the visual builder keep
// their meaning.
package condition
