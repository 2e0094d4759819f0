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
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

type builtinFunc func(args []any) (any, error)

// builtins is the fixed allow-list of callable functions. Attribute access
// is a parse error, so regex support is exposed as flat regex_* helpers
// instead of a module handle.
var builtins = map[string]builtinFunc{
	"len":           builtinLen,
	"str":           builtinStr,
	"int":           builtinInt,
	"float":         builtinFloat,
	"bool":          builtinBool,
	"abs":           builtinAbs,
	"min":           builtinMin,
	"max":           builtinMax,
	"sum":           builtinSum,
	"any":           builtinAny,
	"all":           builtinAll,
	"round":         builtinRound,
	"range":         builtinRange,
	"enumerate":     builtinEnumerate,
	"zip":           builtinZip,
	"regex_match":   builtinRegexMatch,
	"regex_search":  builtinRegexSearch,
	"regex_findall": builtinRegexFindall,
}

func wantArgs(name string, args []any, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return fmt.Errorf("%s() takes %d argument(s), got %d", name, min, len(args))
		}
		return fmt.Errorf("%s() takes %d to %d arguments, got %d", name, min, max, len(args))
	}
	return nil
}

func asSequence(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func builtinLen(args []any) (any, error) {
	if err := wantArgs("len", args, 1, 1); err != nil {
		return nil, err
	}
	switch t := args[0].(type) {
	case string:
		return int64(len(t)), nil
	case nil:
		return nil, fmt.Errorf("len() of None")
	}
	rv := reflect.ValueOf(args[0])
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return int64(rv.Len()), nil
	}
	return nil, fmt.Errorf("len() of %T", args[0])
}

func builtinStr(args []any) (any, error) {
	if err := wantArgs("str", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return "", nil
	}
	return stringify(args[0]), nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func builtinInt(args []any) (any, error) {
	if err := wantArgs("int", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return int64(0), nil
	}
	switch t := args[0].(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid literal for int(): %q", t)
		}
		return n, nil
	}
	i, f, isInt, err := asNumber(args[0])
	if err != nil {
		return nil, err
	}
	if isInt {
		return i, nil
	}
	return int64(math.Trunc(f)), nil
}

func builtinFloat(args []any) (any, error) {
	if err := wantArgs("float", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return float64(0), nil
	}
	if s, ok := args[0].(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid literal for float(): %q", s)
		}
		return f, nil
	}
	_, f, _, err := asNumber(args[0])
	if err != nil {
		return nil, err
	}
	return f, nil
}

func builtinBool(args []any) (any, error) {
	if err := wantArgs("bool", args, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return false, nil
	}
	return Truthy(args[0]), nil
}

func builtinAbs(args []any) (any, error) {
	if err := wantArgs("abs", args, 1, 1); err != nil {
		return nil, err
	}
	i, f, isInt, err := asNumber(args[0])
	if err != nil {
		return nil, err
	}
	if isInt {
		if i < 0 {
			return -i, nil
		}
		return i, nil
	}
	return math.Abs(f), nil
}

func minMaxArgs(name string, args []any) ([]any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s() expected at least 1 argument", name)
	}
	if len(args) == 1 {
		seq, ok := asSequence(args[0])
		if !ok {
			return nil, fmt.Errorf("%s() arg is not iterable", name)
		}
		if len(seq) == 0 {
			return nil, fmt.Errorf("%s() arg is an empty sequence", name)
		}
		return seq, nil
	}
	return args, nil
}

func pickExtreme(name string, args []any, wantGreater bool) (any, error) {
	vals, err := minMaxArgs(name, args)
	if err != nil {
		return nil, err
	}
	best := vals[0]
	for _, v := range vals[1:] {
		gt, err := compareValues(tokGT, v, best)
		if err != nil {
			return nil, err
		}
		if gt == wantGreater {
			best = v
		}
	}
	return best, nil
}

func builtinMin(args []any) (any, error) {
	return pickExtreme("min", args, false)
}

func builtinMax(args []any) (any, error) {
	return pickExtreme("max", args, true)
}

func builtinSum(args []any) (any, error) {
	if err := wantArgs("sum", args, 1, 2); err != nil {
		return nil, err
	}
	seq, ok := asSequence(args[0])
	if !ok {
		return nil, fmt.Errorf("sum() arg is not iterable")
	}
	totalI := int64(0)
	totalF := float64(0)
	allInt := true
	if len(args) == 2 {
		i, f, isInt, err := asNumber(args[1])
		if err != nil {
			return nil, err
		}
		totalI, totalF = i, f
		allInt = isInt
	}
	for _, v := range seq {
		i, f, isInt, err := asNumber(v)
		if err != nil {
			return nil, err
		}
		totalI += i
		totalF += f
		allInt = allInt && isInt
	}
	if allInt {
		return totalI, nil
	}
	return totalF, nil
}

func builtinAny(args []any) (any, error) {
	if err := wantArgs("any", args, 1, 1); err != nil {
		return nil, err
	}
	seq, ok := asSequence(args[0])
	if !ok {
		return nil, fmt.Errorf("any() arg is not iterable")
	}
	for _, v := range seq {
		if Truthy(v) {
			return true, nil
		}
	}
	return false, nil
}

func builtinAll(args []any) (any, error) {
	if err := wantArgs("all", args, 1, 1); err != nil {
		return nil, err
	}
	seq, ok := asSequence(args[0])
	if !ok {
		return nil, fmt.Errorf("all() arg is not iterable")
	}
	for _, v := range seq {
		if !Truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

func builtinRound(args []any) (any, error) {
	if err := wantArgs("round", args, 1, 2); err != nil {
		return nil, err
	}
	_, f, isInt, err := asNumber(args[0])
	if err != nil {
		return nil, err
	}
	digits := int64(0)
	if len(args) == 2 {
		digits, err = asInt(args[1])
		if err != nil {
			return nil, err
		}
	}
	if digits == 0 {
		if isInt {
			return args[0], nil
		}
		return int64(math.RoundToEven(f)), nil
	}
	scale := math.Pow(10, float64(digits))
	return math.RoundToEven(f*scale) / scale, nil
}

func builtinRange(args []any) (any, error) {
	if err := wantArgs("range", args, 1, 3); err != nil {
		return nil, err
	}
	start, stop, step := int64(0), int64(0), int64(1)
	var err error
	switch len(args) {
	case 1:
		stop, err = asInt(args[0])
	case 2:
		if start, err = asInt(args[0]); err == nil {
			stop, err = asInt(args[1])
		}
	case 3:
		if start, err = asInt(args[0]); err == nil {
			if stop, err = asInt(args[1]); err == nil {
				step, err = asInt(args[2])
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if step == 0 {
		return nil, fmt.Errorf("range() step must not be zero")
	}
	const rangeCap = 1 << 16 // guard against memory blowups from huge ranges
	var out []any
	if step > 0 {
		for v := start; v < stop && len(out) < rangeCap; v += step {
			out = append(out, v)
		}
	} else {
		for v := start; v > stop && len(out) < rangeCap; v += step {
			out = append(out, v)
		}
	}
	return out, nil
}

func builtinEnumerate(args []any) (any, error) {
	if err := wantArgs("enumerate", args, 1, 2); err != nil {
		return nil, err
	}
	seq, ok := asSequence(args[0])
	if !ok {
		return nil, fmt.Errorf("enumerate() arg is not iterable")
	}
	start := int64(0)
	if len(args) == 2 {
		var err error
		if start, err = asInt(args[1]); err != nil {
			return nil, err
		}
	}
	out := make([]any, len(seq))
	for i, v := range seq {
		out[i] = []any{start + int64(i), v}
	}
	return out, nil
}

func builtinZip(args []any) (any, error) {
	if len(args) == 0 {
		return []any{}, nil
	}
	seqs := make([][]any, len(args))
	shortest := -1
	for i, a := range args {
		seq, ok := asSequence(a)
		if !ok {
			return nil, fmt.Errorf("zip() arg %d is not iterable", i+1)
		}
		seqs[i] = seq
		if shortest < 0 || len(seq) < shortest {
			shortest = len(seq)
		}
	}
	out := make([]any, shortest)
	for i := 0; i < shortest; i++ {
		row := make([]any, len(seqs))
		for j, seq := range seqs {
			row[j] = seq[i]
		}
		out[i] = row
	}
	return out, nil
}

func regexArgs(name string, args []any) (*regexp.Regexp, string, error) {
	if err := wantArgs(name, args, 2, 2); err != nil {
		return nil, "", err
	}
	pattern, ok := args[0].(string)
	if !ok {
		return nil, "", fmt.Errorf("%s() pattern must be a string", name)
	}
	subject, ok := args[1].(string)
	if !ok {
		return nil, "", fmt.Errorf("%s() subject must be a string", name)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, "", fmt.Errorf("%s() bad pattern: %w", name, err)
	}
	return re, subject, nil
}

// builtinRegexMatch anchors at the start of the subject, like re.match.
func builtinRegexMatch(args []any) (any, error) {
	re, subject, err := regexArgs("regex_match", args)
	if err != nil {
		return nil, err
	}
	loc := re.FindStringIndex(subject)
	return loc != nil && loc[0] == 0, nil
}

func builtinRegexSearch(args []any) (any, error) {
	re, subject, err := regexArgs("regex_search", args)
	if err != nil {
		return nil, err
	}
	return re.MatchString(subject), nil
}

func builtinRegexFindall(args []any) (any, error) {
	re, subject, err := regexArgs("regex_findall", args)
	if err != nil {
		return nil, err
	}
	matches := re.FindAllString(subject, -1)
	out := make([]any, len(matches))
	for i, m := range matches {
		out[i] = m
	}
	return out, nil
}
