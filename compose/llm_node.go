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
	"regexp"
	"strconv"
	"strings"

	"github.com/loomflow/loomflow/model"
	"github.com/loomflow/loomflow/schema"
)

func (r *runner) execLLMCall(ctx context.Context, node *schema.Node, in *resolvedInputs) (*schema.Output, error) {
	if r.engine.caller == nil {
		return nil, ErrNoCaller
	}

	prompt := r.buildPrompt(node, in)

	var messages []*schema.Message
	if system, ok := node.DataString("system_prompt"); ok && system != "" {
		messages = append(messages, schema.SystemMessage(system))
	}
	messages = append(messages, schema.UserMessage(prompt))

	var opts []model.Option
	if provider, ok := node.DataString("provider"); ok && provider != "" {
		opts = append(opts, model.WithProvider(provider))
	}
	if name, ok := node.DataString("model"); ok && name != "" {
		opts = append(opts, model.WithModel(name))
	}
	if temperature, ok := node.DataFloat("temperature"); ok {
		opts = append(opts, model.WithTemperature(float32(temperature)))
	}
	if maxTokens, ok := node.DataInt("max_tokens"); ok {
		opts = append(opts, model.WithMaxTokens(int(maxTokens)))
	}

	if err := r.engine.conns.Acquire(ctx); err != nil {
		return nil, err
	}
	// deferred so a panicking caller cannot leak the slot
	defer r.engine.conns.Release()
	resp, err := r.engine.caller.Generate(ctx, messages, opts...)

	if err != nil {
		// collaborator failures are non-fatal to the run: the node
		// completes with the failure documented and no signal
		r.logger.Warn("LLM call failed", "node", node.ID, "error", err)
		return schema.NewOutput(node.ID, node.Type, "LLM call failed: "+err.Error()).
			SetMeta("error", err.Error()), nil
	}

	out := schema.NewOutput(node.ID, node.Type, resp.Text)
	if resp.Raw != nil {
		out.SetMeta("raw", resp.Raw)
	}
	if sig, ok := extractSignal(resp.Text); ok {
		out.WithSignal(sig)
	}
	return out, nil
}

// buildPrompt renders the node's prompt template, substituting {{input}}
// with the resolved input text. The dialect comes from data.format
// (jinja2 by default); a template that fails to render falls back to a
// literal {{input}} replacement so a stray brace in user text cannot take
// the node down.
func (r *runner) buildPrompt(node *schema.Node, in *resolvedInputs) string {
	template := node.DataStringDefault("prompt", "{{input}}")
	text := in.PrimaryText()

	vars := map[string]any{"input": text}
	for k, v := range in.Values {
		if _, exists := vars[k]; !exists {
			vars[k] = v
		}
	}

	formatType := schema.ParseFormatType(node.DataStringDefault("format", ""))
	rendered, err := schema.FormatText(template, vars, formatType)
	if err != nil {
		r.logger.Debug("prompt template render failed, substituting literally",
			"node", node.ID, "error", err)
		return strings.ReplaceAll(template, "{{input}}", text)
	}
	return rendered
}

// Signal markers a model may emit in its response text. The second form
// appears in deployments with chinese-language prompt conventions.
var signalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)signal\s*[:：]\s*(-?\d+)`),
	regexp.MustCompile(`分支\s*[:：]\s*(-?\d+)`),
	regexp.MustCompile(`\A\s*(-?\d+)\s*\z`),
}

// extractSignal scans a response for an integer control signal. No match
// means no signal, not signal zero.
func extractSignal(text string) (int64, bool) {
	for _, pattern := range signalPatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}
