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
	"github.com/stretchr/testify/require"
)

func TestNodeTypeValid(t *testing.T) {
	for _, nt := range AllNodeTypes {
		assert.True(t, nt.Valid(), string(nt))
	}
	assert.False(t, NodeType("").Valid())
	assert.False(t, NodeType("subgraph").Valid())
}

func TestGraphValidate(t *testing.T) {
	g := &GraphDefinition{
		ID: "wf-1",
		Nodes: []*Node{
			{ID: "a", Type: NodeTypeInput},
			{ID: "b", Type: NodeTypeOutput},
		},
	}
	assert.NoError(t, g.Validate())

	dup := &GraphDefinition{
		ID: "wf-2",
		Nodes: []*Node{
			{ID: "a", Type: NodeTypeInput},
			{ID: "a", Type: NodeTypeOutput},
		},
	}
	assert.ErrorContains(t, dup.Validate(), "duplicate node id")

	empty := &GraphDefinition{ID: "wf-3", Nodes: []*Node{{Type: NodeTypeInput}}}
	assert.ErrorContains(t, empty.Validate(), "empty id")

	unknown := &GraphDefinition{ID: "wf-4", Nodes: []*Node{{ID: "a", Type: "teleport"}}}
	assert.ErrorContains(t, unknown.Validate(), "unknown type")
}

func TestGraphNormalize(t *testing.T) {
	g := &GraphDefinition{
		ID: "wf-1",
		Nodes: []*Node{
			{ID: "a", Type: NodeTypeInput},
			{ID: "b", Type: NodeTypeOutput},
		},
		Edges: []*Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "a", Target: "ghost"},
			{ID: "e3", Source: "ghost", Target: "b"},
		},
	}

	kept, dropped := g.NormalizedEdges(nil)
	assert.Equal(t, 2, dropped)
	require.Len(t, kept, 1)
	assert.Equal(t, "e1", kept[0].ID)
	assert.Equal(t, PortOutput, kept[0].SourcePort)
	assert.Equal(t, PortInput, kept[0].TargetPort)

	// the definition itself is read-only input: nothing dropped from it,
	// no ports written onto its edges
	assert.Len(t, g.Edges, 3)
	assert.Equal(t, "", g.Edges[0].SourcePort)
	assert.Equal(t, "", g.Edges[0].TargetPort)
	assert.NotSame(t, g.Edges[0], kept[0])
}

func TestGraphNormalizeKeepsExplicitPorts(t *testing.T) {
	g := &GraphDefinition{
		Nodes: []*Node{
			{ID: "a", Type: NodeTypeCondition},
			{ID: "b", Type: NodeTypeMerger},
		},
		Edges: []*Edge{
			{ID: "e1", Source: "a", Target: "b", SourcePort: PortSignal, TargetPort: PortSignal},
		},
	}
	kept, dropped := g.NormalizedEdges(nil)
	assert.Equal(t, 0, dropped)
	require.Len(t, kept, 1)
	assert.Equal(t, PortSignal, kept[0].SourcePort)
	assert.Equal(t, PortSignal, kept[0].TargetPort)
}

func TestNodeByID(t *testing.T) {
	g := &GraphDefinition{Nodes: []*Node{{ID: "a", Type: NodeTypeInput}}}
	assert.NotNil(t, g.NodeByID("a"))
	assert.Nil(t, g.NodeByID("zzz"))
}

func TestNodeDataHelpers(t *testing.T) {
	n := &Node{
		ID:   "n",
		Type: NodeTypeLoop,
		Data: map[string]any{
			"loop_type":      "count",
			"count":          float64(3), // JSON numbers decode as float64
			"max_iterations": int(7),
			"temperature":    0.25,
		},
	}

	s, ok := n.DataString("loop_type")
	assert.True(t, ok)
	assert.Equal(t, "count", s)
	assert.Equal(t, "text", n.DataStringDefault("format", "text"))

	i, ok := n.DataInt("count")
	assert.True(t, ok)
	assert.Equal(t, int64(3), i)
	i, ok = n.DataInt("max_iterations")
	assert.True(t, ok)
	assert.Equal(t, int64(7), i)
	_, ok = n.DataInt("loop_type")
	assert.False(t, ok)

	f, ok := n.DataFloat("temperature")
	assert.True(t, ok)
	assert.Equal(t, 0.25, f)

	var bare Node
	_, ok = bare.DataString("anything")
	assert.False(t, ok)
	_, ok = bare.DataInt("anything")
	assert.False(t, ok)
}
