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

package compose

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomflow/loomflow/codebox"
	"github.com/loomflow/loomflow/internal/generic"
	"github.com/loomflow/loomflow/schema"
)

// stubCodeRunner keeps executor tests in-process; pool behavior is covered
// in the codebox package.
type stubCodeRunner struct {
	result *codebox.Result
	err    error
	lastIn map[string]any
}

func (s *stubCodeRunner) Run(_ context.Context, _ string, inputs map[string]any, _ string) (*codebox.Result, error) {
	s.lastIn = inputs
	return s.result, s.err
}

func (s *stubCodeRunner) Close() error { return nil }

func testRunner(t *testing.T, input string, opts ...Option) *runner {
	t.Helper()
	opts = append([]Option{WithCodeRunner(&stubCodeRunner{})}, opts...)
	e := NewEngine(opts...)
	g := &schema.GraphDefinition{ID: "test-wf"}
	return newRunner(e, g, g.Edges, input)
}

func textInputs(texts ...string) *resolvedInputs {
	in := &resolvedInputs{Values: map[string]any{}}
	for i, text := range texts {
		iv := inputValue{
			Key:        schema.PortInput,
			SourceID:   "src",
			SourcePort: schema.PortOutput,
			TargetPort: schema.PortInput,
			Text:       text,
			Value:      text,
		}
		if i == 0 {
			in.Values[schema.PortInput] = text
		}
		in.Ordered = append(in.Ordered, iv)
	}
	return in
}

func signalInputs(text string, sig int64) *resolvedInputs {
	in := textInputs(text)
	in.Values[schema.PortSignal] = sig
	in.Ordered = append(in.Ordered, inputValue{
		Key:        schema.PortSignal,
		SourceID:   "sig-src",
		SourcePort: schema.PortSignal,
		TargetPort: schema.PortSignal,
		Signal:     generic.PtrOf(sig),
		Value:      sig,
	})
	return in
}

func TestExecInput(t *testing.T) {
	r := testRunner(t, "run input")
	node := &schema.Node{ID: "in", Type: schema.NodeTypeInput, Data: map[string]any{"default_value": "fallback"}}

	out, err := r.execInput(context.Background(), node, &resolvedInputs{Values: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "run input", out.Text)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(1), sig)

	r = testRunner(t, "")
	out, err = r.execInput(context.Background(), node, &resolvedInputs{Values: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out.Text)
}

func TestExecCondition(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "cond",
		Type: schema.NodeTypeCondition,
		Data: map[string]any{
			"condition":    "length > 5",
			"true_output":  "long",
			"false_output": "short",
		},
	}

	out, err := r.execCondition(context.Background(), node, textInputs("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, "long", out.Text)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(1), sig)
	assert.Equal(t, true, out.Metadata["condition_result"])

	out, err = r.execCondition(context.Background(), node, textInputs("abc"))
	require.NoError(t, err)
	assert.Equal(t, "short", out.Text)
	sig, _ = out.SignalValue()
	assert.Equal(t, int64(0), sig)
}

func TestExecConditionDefaults(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "cond",
		Type: schema.NodeTypeCondition,
		Data: map[string]any{"condition": "words >= 2"},
	}

	out, err := r.execCondition(context.Background(), node, textInputs("two words"))
	require.NoError(t, err)
	assert.Equal(t, "true", out.Text)

	out, err = r.execCondition(context.Background(), node, textInputs("one"))
	require.NoError(t, err)
	assert.Equal(t, "false", out.Text)
}

func TestExecConditionEvalFailureRoutesFalse(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "cond",
		Type: schema.NodeTypeCondition,
		Data: map[string]any{"condition": "undefined_variable > 1"},
	}

	out, err := r.execCondition(context.Background(), node, textInputs("x"))
	require.NoError(t, err)
	assert.Equal(t, "false", out.Text)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(0), sig)
}

func TestExecConditionSignalContext(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "cond",
		Type: schema.NodeTypeCondition,
		Data: map[string]any{"condition": "signal == 3"},
	}

	out, err := r.execCondition(context.Background(), node, signalInputs("x", 3))
	require.NoError(t, err)
	assert.Equal(t, "true", out.Text)

	// no incoming signal evaluates as 0
	out, err = r.execCondition(context.Background(), node, textInputs("x"))
	require.NoError(t, err)
	assert.Equal(t, "false", out.Text)
}

func TestExecConditionMissing(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{ID: "cond", Type: schema.NodeTypeCondition}
	_, err := r.execCondition(context.Background(), node, textInputs("x"))
	assert.Error(t, err)
}

func TestExecSwitch(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "sw",
		Type: schema.NodeTypeSwitch,
		Data: map[string]any{"switch_map": `{"1":"X","default":"Y"}`},
	}

	out, err := r.execSwitch(context.Background(), node, signalInputs("", 1))
	require.NoError(t, err)
	assert.Equal(t, "X", out.Text)
	assert.Equal(t, "1", out.Metadata["matched_rule"])
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(1), sig)

	out, err = r.execSwitch(context.Background(), node, signalInputs("", 5))
	require.NoError(t, err)
	assert.Equal(t, "Y", out.Text)
	assert.Equal(t, "default", out.Metadata["matched_rule"])
	sig, _ = out.SignalValue()
	assert.Equal(t, int64(5), sig)
}

func TestExecSwitchRanges(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "sw",
		Type: schema.NodeTypeSwitch,
		Data: map[string]any{"switch_map": `{">10":"big","5-10":"mid","<5":"small"}`},
	}

	for sig, want := range map[int64]string{
		42: "big",
		10: "mid",
		5:  "mid",
		4:  "small",
	} {
		out, err := r.execSwitch(context.Background(), node, signalInputs("", sig))
		require.NoError(t, err)
		assert.Equal(t, want, out.Text, "signal %d", sig)
	}
}

func TestExecSwitchNoSignal(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "sw",
		Type: schema.NodeTypeSwitch,
		Data: map[string]any{"switch_map": `{"1":"X","default":"Y"}`},
	}

	out, err := r.execSwitch(context.Background(), node, textInputs("no signal here"))
	require.NoError(t, err)
	assert.Equal(t, "Y", out.Text)
	_, ok := out.SignalValue()
	assert.False(t, ok)
}

func TestMatchesRange(t *testing.T) {
	assert.True(t, matchesRange(">5", 6))
	assert.False(t, matchesRange(">5", 5))
	assert.True(t, matchesRange(">=5", 5))
	assert.True(t, matchesRange("<5", 4))
	assert.True(t, matchesRange("<=5", 5))
	assert.True(t, matchesRange("2-4", 3))
	assert.True(t, matchesRange("2-4", 2))
	assert.True(t, matchesRange("2-4", 4))
	assert.False(t, matchesRange("2-4", 5))
	assert.False(t, matchesRange("nonsense", 1))
	assert.False(t, matchesRange(">abc", 1))
}

func TestExecMergerConcat(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{ID: "m", Type: schema.NodeTypeMerger}

	out, err := r.execMerger(context.Background(), node, textInputs("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, "a\nb", out.Text)
	assert.Equal(t, 2, out.Metadata["input_count"])
}

func TestExecMergerSeparator(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "m",
		Type: schema.NodeTypeMerger,
		Data: map[string]any{"merge_strategy": "concat", "separator": " | "},
	}

	out, err := r.execMerger(context.Background(), node, textInputs("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, "a | b | c", out.Text)
}

func TestExecMergerFirstLast(t *testing.T) {
	r := testRunner(t, "")

	first := &schema.Node{ID: "m", Type: schema.NodeTypeMerger, Data: map[string]any{"merge_strategy": "first"}}
	out, err := r.execMerger(context.Background(), first, textInputs("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, "a", out.Text)

	last := &schema.Node{ID: "m", Type: schema.NodeTypeMerger, Data: map[string]any{"merge_strategy": "last"}}
	out, err = r.execMerger(context.Background(), last, textInputs("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", out.Text)
}

func TestExecMergerWeighted(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{ID: "m", Type: schema.NodeTypeMerger, Data: map[string]any{"merge_strategy": "weighted"}}

	in := &resolvedInputs{Values: map[string]any{}}
	for _, pair := range []struct {
		text string
		sig  int64
	}{{"a", 1}, {"b", 3}} {
		in.Ordered = append(in.Ordered, inputValue{
			Key:        schema.PortInput,
			SourcePort: schema.PortOutput,
			TargetPort: schema.PortInput,
			Text:       pair.text,
			Signal:     generic.PtrOf(pair.sig),
		})
	}

	out, err := r.execMerger(context.Background(), node, in)
	require.NoError(t, err)
	assert.Equal(t, "[weight=0.25] a\n[weight=0.75] b", out.Text)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(2), sig) // rounded mean of 1 and 3
}

func TestExecMergerWeightedZeroSignals(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{ID: "m", Type: schema.NodeTypeMerger, Data: map[string]any{"merge_strategy": "weighted"}}

	out, err := r.execMerger(context.Background(), node, textInputs("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, "[weight=0.50] a\n[weight=0.50] b", out.Text)
}

func TestExecMergerSignalMax(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{ID: "m", Type: schema.NodeTypeMerger}

	in := textInputs("a", "b")
	in.Ordered[0].Signal = generic.PtrOf(int64(2))
	in.Ordered[1].Signal = generic.PtrOf(int64(7))

	out, err := r.execMerger(context.Background(), node, in)
	require.NoError(t, err)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(7), sig)
}

func TestExecMergerSkipsSignalEdges(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{ID: "m", Type: schema.NodeTypeMerger}

	out, err := r.execMerger(context.Background(), node, signalInputs("only text", 9))
	require.NoError(t, err)
	assert.Equal(t, "only text", out.Text)
	assert.Equal(t, 1, out.Metadata["input_count"])
}

func TestExecMergerEmpty(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{ID: "m", Type: schema.NodeTypeMerger}

	out, err := r.execMerger(context.Background(), node, &resolvedInputs{Values: map[string]any{}})
	require.NoError(t, err)
	assert.Empty(t, out.Text)
	assert.Equal(t, 0, out.Metadata["input_count"])
}

func TestExecLoopCount(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "loop",
		Type: schema.NodeTypeLoop,
		Data: map[string]any{"loop_type": "count", "count": 3},
	}

	out, err := r.execLoop(context.Background(), node, textInputs("tick"))
	require.NoError(t, err)
	assert.Equal(t, "tick\ntick\ntick", out.Text)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(3), sig)
	assert.Equal(t, int64(3), out.Metadata["iterations"])
}

func TestExecLoopCountCappedByMaxIterations(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "loop",
		Type: schema.NodeTypeLoop,
		Data: map[string]any{"loop_type": "count", "count": 100, "max_iterations": 10},
	}

	out, err := r.execLoop(context.Background(), node, textInputs("x"))
	require.NoError(t, err)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(10), sig)
}

func TestExecLoopDefaultCap(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "loop",
		Type: schema.NodeTypeLoop,
		Data: map[string]any{"loop_type": "count", "count": 50},
	}

	out, err := r.execLoop(context.Background(), node, textInputs("x"))
	require.NoError(t, err)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(defaultMaxIterations), sig)
}

func TestExecLoopForeach(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "loop",
		Type: schema.NodeTypeLoop,
		Data: map[string]any{"loop_type": "foreach"},
	}

	// JSON array input
	out, err := r.execLoop(context.Background(), node, textInputs(`["a","b","c"]`))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc", out.Text)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(3), sig)

	// newline-split fallback
	out, err = r.execLoop(context.Background(), node, textInputs("x\ny"))
	require.NoError(t, err)
	assert.Equal(t, "x\ny", out.Text)
	sig, _ = out.SignalValue()
	assert.Equal(t, int64(2), sig)
}

func TestExecLoopForeachConfigItems(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "loop",
		Type: schema.NodeTypeLoop,
		Data: map[string]any{
			"loop_type": "foreach",
			"items":     []any{"one", float64(2)},
			"template":  "{{iteration}}: {{item}}",
		},
	}

	out, err := r.execLoop(context.Background(), node, textInputs("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "1: one\n2: 2", out.Text)
}

func TestExecLoopCondition(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "loop",
		Type: schema.NodeTypeLoop,
		Data: map[string]any{
			"loop_type":      "condition",
			"condition":      "iteration < 4",
			"max_iterations": 10,
		},
	}

	out, err := r.execLoop(context.Background(), node, textInputs("go"))
	require.NoError(t, err)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(4), sig)
}

func TestExecLoopConditionNeverTrue(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "loop",
		Type: schema.NodeTypeLoop,
		Data: map[string]any{"loop_type": "condition", "condition": "False"},
	}

	out, err := r.execLoop(context.Background(), node, textInputs("x"))
	require.NoError(t, err)
	assert.Empty(t, out.Text)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(0), sig)
}

func TestExecLoopConditionMissing(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{
		ID:   "loop",
		Type: schema.NodeTypeLoop,
		Data: map[string]any{"loop_type": "condition"},
	}
	_, err := r.execLoop(context.Background(), node, textInputs("x"))
	assert.Error(t, err)
}

func TestExecOutputFormats(t *testing.T) {
	r := testRunner(t, "")

	text := &schema.Node{ID: "out", Type: schema.NodeTypeOutput}
	o, err := r.execOutput(context.Background(), text, textInputs("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", o.Text)
	assert.Equal(t, true, o.Metadata["final_output"])

	html := &schema.Node{ID: "out", Type: schema.NodeTypeOutput, Data: map[string]any{"format": "html"}}
	o, err = r.execOutput(context.Background(), html, textInputs("body"))
	require.NoError(t, err)
	assert.Equal(t, `<div class="workflow-output">body</div>`, o.Text)

	jsonNode := &schema.Node{ID: "out", Type: schema.NodeTypeOutput, Data: map[string]any{"format": "json"}}
	// pretty-printed with sorted keys
	o, err = r.execOutput(context.Background(), jsonNode, textInputs(`{"b":1,"a":2}`))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 2,\n  \"b\": 1\n}", o.Text)
}

func TestFormatJSONRepairs(t *testing.T) {
	// single quotes and a trailing comma, typical model output
	got := formatJSON(`{'a': 1,}`)
	assert.Equal(t, "{\n  \"a\": 1\n}", got)

	// not JSON at all passes through
	assert.Equal(t, "just words", formatJSON("just words"))
}

func TestExecCodeBlockMapResult(t *testing.T) {
	stub := &stubCodeRunner{result: &codebox.Result{
		Defined: true,
		Map: map[string]any{
			"text":       "from script",
			"signal":     float64(4),
			"confidence": 0.8,
			"metadata":   map[string]any{"k": "v"},
		},
	}}
	r := testRunner(t, "", WithCodeRunner(stub))
	node := &schema.Node{ID: "code", Type: schema.NodeTypeCodeBlock, Data: map[string]any{"code": "output = ..."}}

	out, err := r.execCodeBlock(context.Background(), node, textInputs("in"))
	require.NoError(t, err)
	assert.Equal(t, "from script", out.Text)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(4), sig)
	assert.Equal(t, 0.8, *out.Confidence)
	assert.Equal(t, "v", out.Metadata["k"])
}

func TestExecCodeBlockTextResult(t *testing.T) {
	stub := &stubCodeRunner{result: &codebox.Result{Defined: true, Text: "plain"}}
	r := testRunner(t, "", WithCodeRunner(stub))
	node := &schema.Node{ID: "code", Type: schema.NodeTypeCodeBlock, Data: map[string]any{"code": "output = 'plain'"}}

	out, err := r.execCodeBlock(context.Background(), node, textInputs("in"))
	require.NoError(t, err)
	assert.Equal(t, "plain", out.Text)
	sig, _ := out.SignalValue()
	assert.Equal(t, int64(1), sig)
}

func TestExecCodeBlockError(t *testing.T) {
	stub := &stubCodeRunner{err: errors.New("script exploded")}
	r := testRunner(t, "", WithCodeRunner(stub))
	node := &schema.Node{ID: "code", Type: schema.NodeTypeCodeBlock, Data: map[string]any{"code": "boom"}}

	_, err := r.execCodeBlock(context.Background(), node, textInputs("in"))
	assert.Error(t, err)
}

func TestExecCodeBlockNoCode(t *testing.T) {
	r := testRunner(t, "")
	node := &schema.Node{ID: "code", Type: schema.NodeTypeCodeBlock}
	_, err := r.execCodeBlock(context.Background(), node, textInputs("in"))
	assert.Error(t, err)
}

func TestExecutorForCoversAllTypes(t *testing.T) {
	r := testRunner(t, "")
	for _, nt := range schema.AllNodeTypes {
		_, ok := r.executorFor(nt)
		assert.True(t, ok, string(nt))
	}
	_, ok := r.executorFor(schema.NodeType("bogus"))
	assert.False(t, ok)
}
