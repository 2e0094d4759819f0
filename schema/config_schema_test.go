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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeConfigSchema(t *testing.T) {
	for _, nt := range AllNodeTypes {
		sc := NodeConfigSchema(nt)
		assert.NotNil(t, sc, string(nt))
		assert.Equal(t, "object", sc.Type, string(nt))
	}
	assert.Nil(t, NodeConfigSchema(NodeType("bogus")))
}

func TestNodeConfigSchemaLLMCall(t *testing.T) {
	sc := NodeConfigSchema(NodeTypeLLMCall)

	prompt, ok := sc.Properties.Get("prompt")
	assert.True(t, ok)
	assert.Equal(t, "string", prompt.Type)
	assert.Equal(t, []string{"prompt"}, sc.Required)

	format, ok := sc.Properties.Get("format")
	assert.True(t, ok)
	assert.Contains(t, format.Enum, any("jinja2"))
}

func TestNodeConfigSchemaFieldOrder(t *testing.T) {
	sc := NodeConfigSchema(NodeTypeLoop)
	var names []string
	for pair := sc.Properties.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	assert.Equal(t, []string{"loop_type", "count", "condition", "max_iterations", "template"}, names)
}
