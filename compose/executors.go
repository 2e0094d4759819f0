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
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/kaptinlin/jsonrepair"

	"github.com/loomflow/loomflow/internal/safeexpr"
	"github.com/loomflow/loomflow/schema"
)

// executorFunc is one node kind's execution strategy. A returned error is
// converted by the scheduler into an error Output; the node still
// completes.
type executorFunc func(ctx context.Context, node *schema.Node, in *resolvedInputs) (*schema.Output, error)

// executorFor is the dispatch table over the closed NodeType set. Adding a
// kind means adding a case here; an unhandled kind resolves to an error
// Output at run time.
func (r *runner) executorFor(t schema.NodeType) (executorFunc, bool) {
	switch t {
	case schema.NodeTypeInput:
		return r.execInput, true
	case schema.NodeTypeLLMCall:
		return r.execLLMCall, true
	case schema.NodeTypeCodeBlock:
		return r.execCodeBlock, true
	case schema.NodeTypeCondition:
		return r.execCondition, true
	case schema.NodeTypeSwitch:
		return r.execSwitch, true
	case schema.NodeTypeMerger:
		return r.execMerger, true
	case schema.NodeTypeLoop:
		return r.execLoop, true
	case schema.NodeTypeOutput:
		return r.execOutput, true
	default:
		return nil, false
	}
}

// isOffloaded reports whether the node kind runs outside the worker gate:
// llm_call suspends on the connection pool and code_block occupies a
// process-pool worker, so neither should hold a worker slot.
func isOffloaded(t schema.NodeType) bool {
	return t == schema.NodeTypeLLMCall || t == schema.NodeTypeCodeBlock
}

func (r *runner) execInput(_ context.Context, node *schema.Node, _ *resolvedInputs) (*schema.Output, error) {
	text := r.initialInput
	if text == "" {
		text = node.DataStringDefault("default_value", "")
	}
	return schema.NewOutput(node.ID, node.Type, text).WithSignal(1), nil
}

func (r *runner) execCondition(_ context.Context, node *schema.Node, in *resolvedInputs) (*schema.Output, error) {
	condition, ok := node.DataString("condition")
	if !ok || condition == "" {
		return nil, fmt.Errorf("condition node %q has no condition", node.ID)
	}

	text := in.PrimaryText()
	evalCtx := make(map[string]any, len(in.Values)+6)
	for k, v := range in.Values {
		evalCtx[k] = v
	}
	evalCtx["input"] = text
	evalCtx["text"] = text
	evalCtx["length"] = int64(len(text))
	evalCtx["words"] = int64(len(strings.Fields(text)))
	evalCtx["lines"] = int64(len(strings.Split(text, "\n")))
	if sig, ok := in.Signal(); ok {
		evalCtx["signal"] = sig
	} else {
		evalCtx["signal"] = int64(0)
	}

	// evaluation failure routes false, never up
	result, err := safeexpr.EvaluateBool(condition, evalCtx)
	if err != nil {
		r.logger.Debug("condition evaluation failed, routing false",
			"node", node.ID, "condition", condition, "error", err)
		result = false
	}

	out := schema.NewOutput(node.ID, node.Type, "").
		SetMeta("condition", condition).
		SetMeta("condition_result", result)
	if result {
		out.Text = node.DataStringDefault("true_output", "true")
		return out.WithSignal(1), nil
	}
	out.Text = node.DataStringDefault("false_output", "false")
	return out.WithSignal(0), nil
}

func (r *runner) execSwitch(_ context.Context, node *schema.Node, in *resolvedInputs) (*schema.Output, error) {
	sm, err := schema.ParseSwitchMap(node.Data["switch_map"])
	if err != nil {
		return nil, fmt.Errorf("switch node %q: %w", node.ID, err)
	}

	out := schema.NewOutput(node.ID, node.Type, "")
	sig, hasSignal := in.Signal()
	if hasSignal {
		// the signal passes through unchanged
		out.WithSignal(sig)
	}

	text, rule := routeSwitch(sm, sig, hasSignal)
	out.Text = text
	out.SetMeta("matched_rule", rule)
	return out, nil
}

// routeSwitch resolves a signal against the routing table: exact match
// first, then range rules in table order, then "default", then empty.
func routeSwitch(sm *schema.SwitchMap, sig int64, hasSignal bool) (result, rule string) {
	if hasSignal {
		key := strconv.FormatInt(sig, 10)
		if v, ok := sm.Get(key); ok {
			return v, key
		}
		for _, r := range sm.Rules() {
			if r.Match == "default" {
				continue
			}
			if matchesRange(r.Match, sig) {
				return r.Result, r.Match
			}
		}
	}
	if v, ok := sm.Get("default"); ok {
		return v, "default"
	}
	return "", ""
}

// matchesRange evaluates the range rule syntax: ">5", ">=5", "<10", "<=10"
// and the inclusive span "a-b". Anything else never matches.
func matchesRange(rule string, v int64) bool {
	rule = strings.TrimSpace(rule)
	switch {
	case strings.HasPrefix(rule, ">="):
		if n, err := strconv.ParseInt(strings.TrimSpace(rule[2:]), 10, 64); err == nil {
			return v >= n
		}
	case strings.HasPrefix(rule, "<="):
		if n, err := strconv.ParseInt(strings.TrimSpace(rule[2:]), 10, 64); err == nil {
			return v <= n
		}
	case strings.HasPrefix(rule, ">"):
		if n, err := strconv.ParseInt(strings.TrimSpace(rule[1:]), 10, 64); err == nil {
			return v > n
		}
	case strings.HasPrefix(rule, "<"):
		if n, err := strconv.ParseInt(strings.TrimSpace(rule[1:]), 10, 64); err == nil {
			return v < n
		}
	default:
		lo, hi, ok := strings.Cut(rule, "-")
		if !ok {
			return false
		}
		a, errA := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		b, errB := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
		if errA == nil && errB == nil {
			return v >= a && v <= b
		}
	}
	return false
}

func (r *runner) execMerger(_ context.Context, node *schema.Node, in *resolvedInputs) (*schema.Output, error) {
	strategy := node.DataStringDefault("merge_strategy", "concat")

	// every text-bearing upstream counts, regardless of its input port
	var texts []string
	var signals []*int64
	for _, iv := range in.Ordered {
		if iv.SourcePort == schema.PortSignal {
			continue
		}
		texts = append(texts, iv.Text)
		signals = append(signals, iv.Signal)
	}

	out := schema.NewOutput(node.ID, node.Type, "").
		SetMeta("merge_strategy", strategy).
		SetMeta("input_count", len(texts))

	if len(texts) == 0 {
		return out, nil
	}

	switch strategy {
	case "first":
		out.Text = texts[0]
	case "last":
		out.Text = texts[len(texts)-1]
	case "weighted":
		return mergeWeighted(out, texts, signals), nil
	default:
		separator := node.DataStringDefault("separator", "\n")
		out.Text = strings.Join(texts, separator)
	}

	// non-weighted strategies surface the strongest upstream signal
	var max *int64
	for _, s := range signals {
		if s == nil {
			continue
		}
		if max == nil || *s > *max {
			v := *s
			max = &v
		}
	}
	if max != nil {
		out.WithSignal(*max)
	}
	return out, nil
}

// mergeWeighted weights each text by its paired signal over the signal sum
// and annotates every line with its weight. A zero signal sum degrades to
// equal weights. The output signal is the arithmetic mean of the inputs.
func mergeWeighted(out *schema.Output, texts []string, signals []*int64) *schema.Output {
	var total int64
	var present int64
	var sum int64
	for _, s := range signals {
		if s != nil {
			total += *s
			sum += *s
			present++
		}
	}

	lines := make([]string, len(texts))
	for i, text := range texts {
		var weight float64
		if total > 0 {
			if signals[i] != nil {
				weight = float64(*signals[i]) / float64(total)
			}
		} else {
			weight = 1.0 / float64(len(texts))
		}
		lines[i] = fmt.Sprintf("[weight=%.2f] %s", weight, text)
	}
	out.Text = strings.Join(lines, "\n")

	if present > 0 {
		mean := float64(sum) / float64(present)
		out.WithSignal(int64(mean + 0.5))
	}
	return out
}

const defaultMaxIterations = 10

func (r *runner) execLoop(_ context.Context, node *schema.Node, in *resolvedInputs) (*schema.Output, error) {
	maxIter, ok := node.DataInt("max_iterations")
	if !ok || maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	loopType := node.DataStringDefault("loop_type", "count")
	template := node.DataStringDefault("template", "")
	text := in.PrimaryText()

	var results []string
	executed := int64(0)

	renderIteration := func(item string) string {
		if template == "" {
			if item != "" {
				return item
			}
			return text
		}
		rendered, err := schema.FormatText(template, map[string]any{
			"input":     text,
			"item":      item,
			"iteration": executed + 1,
		}, schema.Jinja2)
		if err != nil {
			r.logger.Debug("loop template render failed", "node", node.ID, "error", err)
			if item != "" {
				return item
			}
			return text
		}
		return rendered
	}

	switch loopType {
	case "foreach":
		items := foreachItems(node, text)
		for _, item := range items {
			if executed >= maxIter {
				break
			}
			results = append(results, renderIteration(item))
			executed++
		}

	case "condition":
		condition, ok := node.DataString("condition")
		if !ok || condition == "" {
			return nil, fmt.Errorf("loop node %q has loop_type condition but no condition", node.ID)
		}
		for executed < maxIter {
			evalCtx := map[string]any{
				"iteration":   executed,
				"results":     toAnySlice(results),
				"last_result": lastOrEmpty(results),
				"input":       text,
				"text":        text,
			}
			keepGoing, err := safeexpr.EvaluateBool(condition, evalCtx)
			if err != nil {
				r.logger.Debug("loop condition evaluation failed, stopping",
					"node", node.ID, "condition", condition, "error", err)
				break
			}
			if !keepGoing {
				break
			}
			results = append(results, renderIteration(""))
			executed++
		}

	default: // count
		count, ok := node.DataInt("count")
		if !ok || count <= 0 {
			count = 1
		}
		// max_iterations is a hard cap even for fixed counts
		if count > maxIter {
			count = maxIter
		}
		for executed < count {
			results = append(results, renderIteration(""))
			executed++
		}
	}

	return schema.NewOutput(node.ID, node.Type, strings.Join(results, "\n")).
		WithSignal(executed).
		SetMeta("loop_type", loopType).
		SetMeta("iterations", executed), nil
}

// foreachItems resolves the iteration source: an explicit items list in the
// config, a JSON array in the input text, or the input split by newlines.
func foreachItems(node *schema.Node, text string) []string {
	if raw, ok := node.Data["items"]; ok {
		if seq, ok := raw.([]any); ok {
			items := make([]string, 0, len(seq))
			for _, e := range seq {
				items = append(items, anyToString(e))
			}
			return items
		}
	}

	var parsed []any
	if err := sonic.Unmarshal([]byte(text), &parsed); err == nil {
		items := make([]string, 0, len(parsed))
		for _, e := range parsed {
			items = append(items, anyToString(e))
		}
		return items
	}

	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func anyToString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func lastOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[len(ss)-1]
}

func (r *runner) execOutput(_ context.Context, node *schema.Node, in *resolvedInputs) (*schema.Output, error) {
	format := node.DataStringDefault("format", "text")
	text := in.PrimaryText()

	switch format {
	case "json":
		text = formatJSON(text)
	case "html":
		text = `<div class="workflow-output">` + text + `</div>`
	}

	return schema.NewOutput(node.ID, node.Type, text).
		WithSignal(1).
		SetMeta("format", format).
		SetMeta("final_output", true), nil
}

// formatJSON pretty-prints the text when it parses as JSON. Near-JSON, the
// kind models tend to emit with trailing commas or unquoted keys, goes
// through jsonrepair first; text that still fails passes through untouched.
func formatJSON(text string) string {
	var parsed any
	if err := sonic.Unmarshal([]byte(text), &parsed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return text
		}
		if err := sonic.Unmarshal([]byte(repaired), &parsed); err != nil {
			return text
		}
	}
	pretty, err := sonic.ConfigStd.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return text
	}
	return string(pretty)
}
