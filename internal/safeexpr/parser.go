/*
 * Copyright 2025 Loomflow Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package safeexpr

import (
	"fmt"
)

// The AST is a closed set of node kinds. There is deliberately no attribute
// access, no subscripting, no lambda and no call target other than a bare
// builtin name; the parser rejects those shapes so untrusted expressions
// never reach the evaluator with anything outside the allow-list.

type astNode interface{ kind() string }

type literalNode struct{ val any }

type nameNode struct{ ident string }

type unaryNode struct {
	op      tokenKind
	operand astNode
}

type binaryNode struct {
	op          tokenKind
	left, right astNode
}

// compareNode supports python-style chained comparisons: 1 < x <= 9.
type compareNode struct {
	left        astNode
	ops         []tokenKind
	comparators []astNode
}

type boolNode struct {
	op          tokenKind // tokAnd or tokOr
	left, right astNode
}

type callNode struct {
	fn   string
	args []astNode
}

func (literalNode) kind() string { return "literal" }
func (nameNode) kind() string    { return "name" }
func (unaryNode) kind() string   { return "unary" }
func (binaryNode) kind() string  { return "binary" }
func (compareNode) kind() string { return "compare" }
func (boolNode) kind() string    { return "bool" }
func (callNode) kind() string    { return "call" }

// Expr is a parsed, reusable expression.
type Expr struct {
	src  string
	root astNode
}

// Source returns the original expression text.
func (e *Expr) Source() string { return e.src }

// Parse compiles an expression in the restricted grammar. Any construct
// outside the grammar is a parse error; nothing is evaluated here.
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s at position %d", p.peek(), p.peek().pos)
	}
	return &Expr{src: src, root: root}, nil
}

type exprParser struct {
	toks []token
	pos  int
}

func (p *exprParser) peek() token { return p.toks[p.pos] }

func (p *exprParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) expect(k tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != k {
		return token{}, fmt.Errorf("expected %s, got %s at position %d", what, t, t.pos)
	}
	return p.next(), nil
}

func (p *exprParser) parseOr() (astNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = boolNode{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (astNode, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = boolNode{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseNot() (astNode, error) {
	if p.peek().kind == tokNot {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: tokNot, operand: operand}, nil
	}
	return p.parseComparison()
}

func isCompareOp(k tokenKind) bool {
	switch k {
	case tokLT, tokLE, tokGT, tokGE, tokEQ, tokNE:
		return true
	}
	return false
}

func (p *exprParser) parseComparison() (astNode, error) {
	left, err := p.parseBitOr()
	if err != nil {
		return nil, err
	}
	if !isCompareOp(p.peek().kind) {
		return left, nil
	}
	cmp := compareNode{left: left}
	for isCompareOp(p.peek().kind) {
		op := p.next().kind
		right, err := p.parseBitOr()
		if err != nil {
			return nil, err
		}
		cmp.ops = append(cmp.ops, op)
		cmp.comparators = append(cmp.comparators, right)
	}
	return cmp, nil
}

func (p *exprParser) parseBitOr() (astNode, error) {
	return p.parseBinaryLevel(p.parseBitXor, tokPipe)
}

func (p *exprParser) parseBitXor() (astNode, error) {
	return p.parseBinaryLevel(p.parseBitAnd, tokCaret)
}

func (p *exprParser) parseBitAnd() (astNode, error) {
	return p.parseBinaryLevel(p.parseShift, tokAmp)
}

func (p *exprParser) parseShift() (astNode, error) {
	return p.parseBinaryLevel(p.parseAdd, tokLShift, tokRShift)
}

func (p *exprParser) parseAdd() (astNode, error) {
	return p.parseBinaryLevel(p.parseMul, tokPlus, tokMinus)
}

func (p *exprParser) parseMul() (astNode, error) {
	return p.parseBinaryLevel(p.parseUnary, tokStar, tokSlash, tokDoubleSlash, tokPercent)
}

func (p *exprParser) parseBinaryLevel(sub func() (astNode, error), ops ...tokenKind) (astNode, error) {
	left, err := sub()
	if err != nil {
		return nil, err
	}
	for {
		k := p.peek().kind
		matched := false
		for _, op := range ops {
			if k == op {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		p.next()
		right, err := sub()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: k, left: left, right: right}
	}
}

func (p *exprParser) parseUnary() (astNode, error) {
	switch p.peek().kind {
	case tokMinus, tokPlus, tokTilde:
		op := p.next().kind
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, operand: operand}, nil
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (astNode, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokDoubleStar {
		p.next()
		// right-associative, and the exponent may carry a unary minus
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: tokDoubleStar, left: base, right: exp}, nil
	}
	return base, nil
}

func (p *exprParser) parsePrimary() (astNode, error) {
	t := p.peek()
	switch t.kind {
	case tokInt:
		p.next()
		return literalNode{val: t.ival}, nil
	case tokFloat:
		p.next()
		return literalNode{val: t.fval}, nil
	case tokString:
		p.next()
		return literalNode{val: t.text}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return inner, nil
	case tokName:
		p.next()
		switch t.text {
		case "True", "true":
			return literalNode{val: true}, nil
		case "False", "false":
			return literalNode{val: false}, nil
		case "None", "null":
			return literalNode{val: nil}, nil
		}
		if p.peek().kind != tokLParen {
			return nameNode{ident: t.text}, nil
		}
		// call: only bare builtin names may be called
		if _, allowed := builtins[t.text]; !allowed {
			return nil, fmt.Errorf("function %q is not allowed", t.text)
		}
		p.next()
		var args []astNode
		if p.peek().kind != tokRParen {
			for {
				arg, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek().kind != tokComma {
					break
				}
				p.next()
			}
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return callNode{fn: t.text, args: args}, nil
	default:
		return nil, fmt.Errorf("unexpected %s at position %d", t, t.pos)
	}
}
