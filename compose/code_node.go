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

	"github.com/loomflow/loomflow/schema"
)

// execCodeBlock dispatches user code to the isolated process pool. The code
// never runs in the engine's process: a crash, hang or unbounded loop costs
// one worker, not the scheduler. The safe expression evaluator is not an
// alternative path here; code blocks always cross the process boundary.
func (r *runner) execCodeBlock(ctx context.Context, node *schema.Node, in *resolvedInputs) (*schema.Output, error) {
	code, ok := node.DataString("code")
	if !ok || code == "" {
		return nil, fmt.Errorf("code_block node %q has no code", node.ID)
	}

	result, err := r.engine.codeRunner.Run(ctx, code, in.Values, in.PrimaryText())
	if err != nil {
		return nil, err
	}

	out := schema.NewOutput(node.ID, node.Type, "")

	if result.Map != nil {
		// the script returned a structured output; honor its fields
		if text, ok := result.Map["text"].(string); ok {
			out.Text = text
		}
		if sig, ok := intFromAny(result.Map["signal"]); ok {
			out.WithSignal(sig)
		}
		if conf, ok := floatFromAny(result.Map["confidence"]); ok {
			out.WithConfidence(conf)
		}
		if meta, ok := result.Map["metadata"].(map[string]any); ok {
			for k, v := range meta {
				out.SetMeta(k, v)
			}
		}
		return out, nil
	}

	out.Text = result.Text
	if out.Text != "" {
		out.WithSignal(1)
	} else {
		out.WithSignal(0)
	}
	return out, nil
}

func intFromAny(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

func floatFromAny(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}
