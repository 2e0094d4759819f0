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

package schema

import (
	"github.com/eino-contrib/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DataType mirrors the JSONSchema type vocabulary used to describe node
// configuration fields.
type DataType string

const (
	Object  DataType = "object"
	Number  DataType = "number"
	Integer DataType = "integer"
	String  DataType = "string"
	Array   DataType = "array"
	Boolean DataType = "boolean"
)

type configField struct {
	name     string
	typ      DataType
	desc     string
	enum     []string
	required bool
}

// NodeConfigSchema returns the JSON schema describing the Data map of the
// given node type. The engine itself reads Data leniently; the schema exists
// for the CRUD/editor layer that builds graphs, so it can validate and
// render configuration forms without hardcoding field lists.
func NodeConfigSchema(t NodeType) *jsonschema.Schema {
	fields, ok := nodeConfigFields[t]
	if !ok {
		return nil
	}
	return buildObjectSchema(fields)
}

var nodeConfigFields = map[NodeType][]configField{
	NodeTypeInput: {
		{name: "default_value", typ: String, desc: "Text returned when the run provides no initial input."},
	},
	NodeTypeLLMCall: {
		{name: "prompt", typ: String, desc: "Prompt template; {{input}} is replaced with the resolved input text.", required: true},
		{name: "system_prompt", typ: String, desc: "Optional system message prepended to the conversation."},
		{name: "format", typ: String, desc: "Template dialect for prompt rendering.", enum: []string{"jinja2", "fstring", "go_template"}},
		{name: "provider", typ: String, desc: "Provider name forwarded to the LLM collaborator."},
		{name: "model", typ: String, desc: "Model name forwarded to the LLM collaborator."},
		{name: "temperature", typ: Number, desc: "Sampling temperature."},
		{name: "max_tokens", typ: Integer, desc: "Completion token limit."},
	},
	NodeTypeCodeBlock: {
		{name: "code", typ: String, desc: "User code executed in an isolated worker process. Set a local named output.", required: true},
	},
	NodeTypeCondition: {
		{name: "condition", typ: String, desc: "Safe expression over input/text/length/words/lines/signal.", required: true},
		{name: "true_output", typ: String, desc: "Text emitted when the condition holds."},
		{name: "false_output", typ: String, desc: "Text emitted when the condition fails."},
	},
	NodeTypeSwitch: {
		{name: "switch_map", typ: Object, desc: "Ordered signal-to-text routing rules; supports exact, range (\">5\", \"<=10\", \"a-b\") and \"default\" matches.", required: true},
	},
	NodeTypeMerger: {
		{name: "merge_strategy", typ: String, desc: "How upstream texts combine.", enum: []string{"concat", "first", "last", "weighted"}},
		{name: "separator", typ: String, desc: "Join separator for the concat strategy; defaults to newline."},
	},
	NodeTypeLoop: {
		{name: "loop_type", typ: String, desc: "Iteration mode.", enum: []string{"count", "condition", "foreach"}},
		{name: "count", typ: Integer, desc: "Iterations for the count mode."},
		{name: "condition", typ: String, desc: "Safe expression re-evaluated each iteration (condition mode)."},
		{name: "max_iterations", typ: Integer, desc: "Hard iteration cap, enforced for every mode."},
		{name: "template", typ: String, desc: "Optional per-iteration template; context carries input, item and iteration."},
	},
	NodeTypeOutput: {
		{name: "format", typ: String, desc: "Final formatting applied to the upstream text.", enum: []string{"text", "json", "html"}},
	},
}

func buildObjectSchema(fields []configField) *jsonschema.Schema {
	sc := &jsonschema.Schema{
		Type:       string(Object),
		Properties: orderedmap.New[string, *jsonschema.Schema](),
		Required:   make([]string, 0, len(fields)),
	}
	for _, f := range fields {
		js := &jsonschema.Schema{
			Type:        string(f.typ),
			Description: f.desc,
		}
		if len(f.enum) > 0 {
			js.Enum = make([]any, len(f.enum))
			for i, e := range f.enum {
				js.Enum[i] = e
			}
		}
		sc.Properties.Set(f.name, js)
		if f.required {
			sc.Required = append(sc.Required, f.name)
		}
	}
	return sc
}
