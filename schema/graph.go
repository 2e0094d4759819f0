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
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// NodeType identifies one of the eight node kinds the engine can execute.
// The set is closed: the scheduler dispatches through a function table keyed
// by NodeType, so an unknown type is rejected at execution time.
type NodeType string

const (
	NodeTypeInput     NodeType = "input"
	NodeTypeLLMCall   NodeType = "llm_call"
	NodeTypeCodeBlock NodeType = "code_block"
	NodeTypeCondition NodeType = "condition"
	NodeTypeSwitch    NodeType = "switch"
	NodeTypeMerger    NodeType = "merger"
	NodeTypeLoop      NodeType = "loop"
	NodeTypeOutput    NodeType = "output"
)

// AllNodeTypes lists every node kind in a stable order.
var AllNodeTypes = []NodeType{
	NodeTypeInput,
	NodeTypeLLMCall,
	NodeTypeCodeBlock,
	NodeTypeCondition,
	NodeTypeSwitch,
	NodeTypeMerger,
	NodeTypeLoop,
	NodeTypeOutput,
}

// Valid reports whether t is one of the known node kinds.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeInput, NodeTypeLLMCall, NodeTypeCodeBlock, NodeTypeCondition,
		NodeTypeSwitch, NodeTypeMerger, NodeTypeLoop, NodeTypeOutput:
		return true
	default:
		return false
	}
}

// DataKind declares what an edge carries. It is advisory: the engine routes
// values by port names, not by Kind.
type DataKind string

const (
	DataKindText   DataKind = "text"
	DataKindSignal DataKind = "signal"
	DataKindAny    DataKind = "any"
)

// Canonical port names. An edge from "output" to "input" carries the source
// node's text; an edge from "signal" to "signal" carries its control signal.
const (
	PortOutput = "output"
	PortInput  = "input"
	PortSignal = "signal"
)

// Position is the node's placement on a canvas. The engine ignores it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single vertex of a workflow graph. Data holds the type-specific
// configuration, e.g. "prompt" for llm_call nodes or "code" for code_block
// nodes; see the per-type config structs in config_schema.go.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Name     string         `json:"name,omitempty"`
	Position *Position      `json:"position,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Inputs   []string       `json:"inputs,omitempty"`
	Outputs  []string       `json:"outputs,omitempty"`
}

// DataString returns Data[key] as a string.
func (n *Node) DataString(key string) (string, bool) {
	if n.Data == nil {
		return "", false
	}
	v, ok := n.Data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// DataStringDefault returns Data[key] as a string, or def when absent.
func (n *Node) DataStringDefault(key, def string) string {
	if s, ok := n.DataString(key); ok {
		return s
	}
	return def
}

// DataInt returns Data[key] as an int64, converting the numeric types that
// survive a JSON round trip.
func (n *Node) DataInt(key string) (int64, bool) {
	if n.Data == nil {
		return 0, false
	}
	switch v := n.Data[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	default:
		return 0, false
	}
}

// DataFloat returns Data[key] as a float64.
func (n *Node) DataFloat(key string) (float64, bool) {
	if n.Data == nil {
		return 0, false
	}
	switch v := n.Data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Edge is a directed connection between two node ports. Guard is carried for
// forward compatibility and is never evaluated by the scheduler.
type Edge struct {
	ID         string   `json:"id"`
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	SourcePort string   `json:"source_port,omitempty"`
	TargetPort string   `json:"target_port,omitempty"`
	Kind       DataKind `json:"kind,omitempty"`
	Guard      string   `json:"guard,omitempty"`
}

// GraphDefinition is a complete workflow: nodes wired by edges into a DAG.
// The engine treats it as read-only for the duration of one execution;
// structural edits belong to the CRUD layer that owns the definition.
type GraphDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Version     string         `json:"version,omitempty"`
	Nodes       []*Node        `json:"nodes"`
	Edges       []*Edge        `json:"edges"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at,omitempty"`
}

// NodeByID returns the node with the given id, or nil.
func (g *GraphDefinition) NodeByID(id string) *Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Validate checks the structural invariants the scheduler relies on:
// node ids unique and non-empty, node types known.
func (g *GraphDefinition) Validate() error {
	seen := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("graph %q: node with empty id", g.ID)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("graph %q: duplicate node id %q", g.ID, n.ID)
		}
		seen[n.ID] = struct{}{}
		if !n.Type.Valid() {
			return fmt.Errorf("graph %q: node %q has unknown type %q", g.ID, n.ID, n.Type)
		}
	}
	return nil
}

// NormalizedEdges prepares the edge list for execution: edges whose
// endpoints do not reference existing nodes are dropped with a warning, and
// empty edge ports default to the canonical output/input pair. It returns
// the kept edges as fresh copies alongside the dropped count; the definition
// itself is never written to, so one *GraphDefinition can back concurrent
// runs. Dangling edges are not fatal; the CRUD layer may leave them behind
// after a node deletion.
func (g *GraphDefinition) NormalizedEdges(logger hclog.Logger) ([]*Edge, int) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = struct{}{}
	}

	kept := make([]*Edge, 0, len(g.Edges))
	dropped := 0
	for _, e := range g.Edges {
		_, srcOK := ids[e.Source]
		_, dstOK := ids[e.Target]
		if !srcOK || !dstOK {
			dropped++
			logger.Warn("dropping edge with unknown endpoint",
				"edge", e.ID, "source", e.Source, "target", e.Target)
			continue
		}
		ne := *e
		if ne.SourcePort == "" {
			ne.SourcePort = PortOutput
		}
		if ne.TargetPort == "" {
			ne.TargetPort = PortInput
		}
		kept = append(kept, &ne)
	}

	return kept, dropped
}
