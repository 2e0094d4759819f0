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

package codebox

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const scriptFilename = "code_block.star"

// defaultMaxSteps bounds the Starlark interpreter, so an unbounded loop
// fails fast instead of pinning a worker until the process-level timeout.
const defaultMaxSteps = 10_000_000

// execScript runs one script with the restricted Starlark dialect. Loads
// are disabled; the only ambient state is the predeclared inputs/text pair.
func execScript(code string, inputs map[string]any, text string, maxSteps uint64) (*Result, error) {
	if maxSteps == 0 {
		maxSteps = defaultMaxSteps
	}

	thread := &starlark.Thread{
		Name: "codebox",
		Load: func(*starlark.Thread, string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load is disabled")
		},
	}
	thread.SetMaxExecutionSteps(maxSteps)

	inputsVal, err := goToStarlark(inputs)
	if err != nil {
		return nil, fmt.Errorf("convert inputs: %w", err)
	}
	predeclared := starlark.StringDict{
		"inputs": inputsVal,
		"text":   starlark.String(text),
	}

	opts := &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}

	globals, err := starlark.ExecFileOptions(opts, thread, scriptFilename, code, predeclared)
	if err != nil {
		return nil, err
	}

	out, ok := globals["output"]
	if !ok {
		return &Result{}, nil
	}

	goVal, err := starlarkToGo(out)
	if err != nil {
		return nil, fmt.Errorf("convert output: %w", err)
	}

	if m, isMap := goVal.(map[string]any); isMap {
		return &Result{Map: m, Defined: true}, nil
	}
	return &Result{Text: stringifyValue(out, goVal), Defined: true}, nil
}

func stringifyValue(v starlark.Value, goVal any) string {
	switch t := goVal.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return v.String()
	}
}

func goToStarlark(v any) (starlark.Value, error) {
	switch t := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(t), nil
	case string:
		return starlark.String(t), nil
	case int:
		return starlark.MakeInt(t), nil
	case int64:
		return starlark.MakeInt64(t), nil
	case uint64:
		return starlark.MakeUint64(t), nil
	case float32:
		return starlark.Float(t), nil
	case float64:
		return starlark.Float(t), nil
	case []any:
		elems := make([]starlark.Value, len(t))
		for i, e := range t {
			sv, err := goToStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sv, err := goToStarlark(t[k])
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func starlarkToGo(v starlark.Value) (any, error) {
	switch t := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(t), nil
	case starlark.String:
		return string(t), nil
	case starlark.Int:
		if i, ok := t.Int64(); ok {
			return i, nil
		}
		return t.String(), nil
	case starlark.Float:
		return float64(t), nil
	case *starlark.List:
		out := make([]any, t.Len())
		for i := 0; i < t.Len(); i++ {
			gv, err := starlarkToGo(t.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = gv
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, len(t))
		for i, e := range t {
			gv, err := starlarkToGo(e)
			if err != nil {
				return nil, err
			}
			out[i] = gv
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, t.Len())
		for _, item := range t.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0])
			}
			gv, err := starlarkToGo(item[1])
			if err != nil {
				return nil, err
			}
			out[string(key)] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
	}
}
