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

// Package safeexpr evaluates a restricted arithmetic/boolean/comparison
// grammar over a caller-supplied context map. It is the only component
// trusted to run on attacker-influenced strings in-process: there is no
// attribute access, no arbitrary calls and no way to reach host state
// beyond the context and a fixed builtin table. Code-block content must
// never go through this package; it belongs in the isolated codebox.
package safeexpr

import (
	"fmt"
	"math"
	"reflect"
)

// Evaluate parses and evaluates an expression in one step.
func Evaluate(src string, ctx map[string]any) (any, error) {
	e, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return e.Eval(ctx)
}

// EvaluateBool evaluates an expression and reduces the result to python
// truthiness. Callers routing on conditions treat any returned error as
// false rather than propagating it.
func EvaluateBool(src string, ctx map[string]any) (bool, error) {
	v, err := Evaluate(src, ctx)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Eval evaluates a parsed expression against a context map. Names resolve
// only through ctx; an unknown name is an error.
func (e *Expr) Eval(ctx map[string]any) (any, error) {
	return evalNode(e.root, ctx)
}

// Truthy applies python truthiness: nil, false, zero numbers, empty strings
// and empty collections are false, everything else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case float32:
		return t != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	}
	return true
}

func evalNode(n astNode, ctx map[string]any) (any, error) {
	switch t := n.(type) {
	case literalNode:
		return t.val, nil
	case nameNode:
		v, ok := ctx[t.ident]
		if !ok {
			return nil, fmt.Errorf("name %q is not defined", t.ident)
		}
		return v, nil
	case boolNode:
		left, err := evalNode(t.left, ctx)
		if err != nil {
			return nil, err
		}
		// python short-circuit semantics: the operand itself is returned
		if t.op == tokAnd {
			if !Truthy(left) {
				return left, nil
			}
		} else {
			if Truthy(left) {
				return left, nil
			}
		}
		return evalNode(t.right, ctx)
	case unaryNode:
		return evalUnary(t, ctx)
	case binaryNode:
		return evalBinary(t, ctx)
	case compareNode:
		return evalCompare(t, ctx)
	case callNode:
		return evalCall(t, ctx)
	default:
		return nil, fmt.Errorf("unsupported expression node %q", n.kind())
	}
}

func evalUnary(n unaryNode, ctx map[string]any) (any, error) {
	v, err := evalNode(n.operand, ctx)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokNot:
		return !Truthy(v), nil
	case tokMinus:
		i, f, isInt, err := asNumber(v)
		if err != nil {
			return nil, fmt.Errorf("bad operand for unary -: %w", err)
		}
		if isInt {
			return -i, nil
		}
		return -f, nil
	case tokPlus:
		_, _, _, err := asNumber(v)
		if err != nil {
			return nil, fmt.Errorf("bad operand for unary +: %w", err)
		}
		return v, nil
	case tokTilde:
		i, err := asInt(v)
		if err != nil {
			return nil, fmt.Errorf("bad operand for ~: %w", err)
		}
		return ^i, nil
	}
	return nil, fmt.Errorf("unsupported unary operator")
}

func evalBinary(n binaryNode, ctx map[string]any) (any, error) {
	left, err := evalNode(n.left, ctx)
	if err != nil {
		return nil, err
	}
	right, err := evalNode(n.right, ctx)
	if err != nil {
		return nil, err
	}

	// string concatenation
	if n.op == tokPlus {
		if ls, ok := left.(string); ok {
			rs, ok := right.(string)
			if !ok {
				return nil, fmt.Errorf("cannot concatenate string and %T", right)
			}
			return ls + rs, nil
		}
	}

	switch n.op {
	case tokAmp, tokPipe, tokCaret, tokLShift, tokRShift:
		li, err := asInt(left)
		if err != nil {
			return nil, err
		}
		ri, err := asInt(right)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case tokAmp:
			return li & ri, nil
		case tokPipe:
			return li | ri, nil
		case tokCaret:
			return li ^ ri, nil
		case tokLShift:
			if ri < 0 || ri >= 64 {
				return nil, fmt.Errorf("shift count out of range: %d", ri)
			}
			return li << uint(ri), nil
		default:
			if ri < 0 || ri >= 64 {
				return nil, fmt.Errorf("shift count out of range: %d", ri)
			}
			return li >> uint(ri), nil
		}
	}

	li, lf, lInt, err := asNumber(left)
	if err != nil {
		return nil, err
	}
	ri, rf, rInt, err := asNumber(right)
	if err != nil {
		return nil, err
	}
	bothInt := lInt && rInt

	switch n.op {
	case tokPlus:
		if bothInt {
			return li + ri, nil
		}
		return lf + rf, nil
	case tokMinus:
		if bothInt {
			return li - ri, nil
		}
		return lf - rf, nil
	case tokStar:
		if bothInt {
			return li * ri, nil
		}
		return lf * rf, nil
	case tokSlash:
		// true division always yields a float, python3 style
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case tokDoubleSlash:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		if bothInt {
			q := li / ri
			if (li%ri != 0) && ((li < 0) != (ri < 0)) {
				q--
			}
			return q, nil
		}
		return math.Floor(lf / rf), nil
	case tokPercent:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		if bothInt {
			m := li % ri
			if m != 0 && ((m < 0) != (ri < 0)) {
				m += ri
			}
			return m, nil
		}
		m := math.Mod(lf, rf)
		if m != 0 && ((m < 0) != (rf < 0)) {
			m += rf
		}
		return m, nil
	case tokDoubleStar:
		if bothInt && ri >= 0 {
			result := int64(1)
			for k := int64(0); k < ri; k++ {
				result *= li
			}
			return result, nil
		}
		return math.Pow(lf, rf), nil
	}
	return nil, fmt.Errorf("unsupported binary operator")
}

func evalCompare(n compareNode, ctx map[string]any) (any, error) {
	left, err := evalNode(n.left, ctx)
	if err != nil {
		return nil, err
	}
	for i, op := range n.ops {
		right, err := evalNode(n.comparators[i], ctx)
		if err != nil {
			return nil, err
		}
		ok, err := compareValues(op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func compareValues(op tokenKind, left, right any) (bool, error) {
	if op == tokEQ || op == tokNE {
		eq := looseEqual(left, right)
		if op == tokNE {
			return !eq, nil
		}
		return eq, nil
	}

	if ls, lok := left.(string); lok {
		rs, rok := right.(string)
		if !rok {
			return false, fmt.Errorf("cannot compare string and %T", right)
		}
		switch op {
		case tokLT:
			return ls < rs, nil
		case tokLE:
			return ls <= rs, nil
		case tokGT:
			return ls > rs, nil
		default:
			return ls >= rs, nil
		}
	}

	_, lf, _, err := asNumber(left)
	if err != nil {
		return false, err
	}
	_, rf, _, err := asNumber(right)
	if err != nil {
		return false, err
	}
	switch op {
	case tokLT:
		return lf < rf, nil
	case tokLE:
		return lf <= rf, nil
	case tokGT:
		return lf > rf, nil
	default:
		return lf >= rf, nil
	}
}

func looseEqual(left, right any) bool {
	_, lf, _, lerr := asNumber(left)
	_, rf, _, rerr := asNumber(right)
	if lerr == nil && rerr == nil {
		return lf == rf
	}
	return reflect.DeepEqual(left, right)
}

func evalCall(n callNode, ctx map[string]any) (any, error) {
	fn := builtins[n.fn]
	if fn == nil {
		return nil, fmt.Errorf("function %q is not allowed", n.fn)
	}
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := evalNode(a, ctx)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return fn(args)
}

// asNumber coerces a context value into numeric form; isInt reports whether
// the value keeps integer semantics. Booleans count as 0/1, like python.
func asNumber(v any) (i int64, f float64, isInt bool, err error) {
	switch t := v.(type) {
	case int:
		return int64(t), float64(t), true, nil
	case int32:
		return int64(t), float64(t), true, nil
	case int64:
		return t, float64(t), true, nil
	case uint:
		return int64(t), float64(t), true, nil
	case float32:
		return int64(t), float64(t), false, nil
	case float64:
		return int64(t), t, false, nil
	case bool:
		if t {
			return 1, 1, true, nil
		}
		return 0, 0, true, nil
	default:
		return 0, 0, false, fmt.Errorf("%T is not a number", v)
	}
}

func asInt(v any) (int64, error) {
	i, _, isInt, err := asNumber(v)
	if err != nil {
		return 0, err
	}
	if !isInt {
		return 0, fmt.Errorf("%T is not an integer", v)
	}
	return i, nil
}
