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
	"time"

	"github.com/loomflow/loomflow/internal/generic"
)

// Output is the standardized result record every node produces.
//
// Text is the primary payload. Signal is an optional integer control value
// consumed by condition/switch/merger nodes for routing decisions.
// Confidence is advisory. Metadata always carries "node_id" and "node_type",
// plus type-specific diagnostics; a failed node sets "error".
type Output struct {
	Text       string         `json:"text"`
	Signal     *int64         `json:"signal,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewOutput builds an Output stamped with the producing node's identity.
func NewOutput(nodeID string, nodeType NodeType, text string) *Output {
	return &Output{
		Text: text,
		Metadata: map[string]any{
			"node_id":   nodeID,
			"node_type": string(nodeType),
		},
	}
}

// NewErrorOutput builds a completed-with-error Output. Nodes that fail still
// complete; the failure travels in Text and Metadata["error"].
func NewErrorOutput(nodeID string, nodeType NodeType, err error) *Output {
	o := NewOutput(nodeID, nodeType, "node execution failed: "+err.Error())
	o.Metadata["error"] = err.Error()
	return o
}

// WithSignal sets the control signal and returns o.
func (o *Output) WithSignal(signal int64) *Output {
	o.Signal = generic.PtrOf(signal)
	return o
}

// WithConfidence sets the advisory confidence and returns o.
func (o *Output) WithConfidence(c float64) *Output {
	o.Confidence = generic.PtrOf(c)
	return o
}

// SetMeta adds a metadata entry and returns o.
func (o *Output) SetMeta(key string, value any) *Output {
	if o.Metadata == nil {
		o.Metadata = make(map[string]any, 1)
	}
	o.Metadata[key] = value
	return o
}

// IsError reports whether the output records a node failure.
func (o *Output) IsError() bool {
	if o == nil || o.Metadata == nil {
		return false
	}
	_, ok := o.Metadata["error"]
	return ok
}

// SignalValue returns the control signal, or 0 when unset.
func (o *Output) SignalValue() (int64, bool) {
	if o == nil || o.Signal == nil {
		return 0, false
	}
	return *o.Signal, true
}

// Clone returns a deep copy of the output. The result cache hands out clones
// so a caller mutating a cached hit cannot poison later reads.
func (o *Output) Clone() *Output {
	if o == nil {
		return nil
	}
	cp := &Output{Text: o.Text}
	if o.Signal != nil {
		cp.Signal = generic.PtrOf(*o.Signal)
	}
	if o.Confidence != nil {
		cp.Confidence = generic.PtrOf(*o.Confidence)
	}
	if o.Metadata != nil {
		cp.Metadata = make(map[string]any, len(o.Metadata))
		for k, v := range o.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// ExecutionStatus is the lifecycle state of one run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionError     ExecutionStatus = "error"
)

// Execution is the result of one run of a graph. Outputs holds every node's
// Output; Results is narrowed to the output-type nodes when the graph has
// any, otherwise it aliases all outputs.
//
// A run with failed nodes still reports ExecutionCompleted; only a
// scheduling stall (or an error escaping the dispatch loop) yields
// ExecutionError, with Error describing the cause.
type Execution struct {
	ExecutionID string              `json:"execution_id"`
	WorkflowID  string              `json:"workflow_id"`
	Status      ExecutionStatus     `json:"status"`
	Outputs     map[string]*Output  `json:"outputs"`
	Results     map[string]*Output  `json:"results"`
	Metrics     *PerformanceMetrics `json:"performance_metrics,omitempty"`
	CacheStats  CacheStats          `json:"cache_stats"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

// PerformanceMetrics describes one run's timing profile.
//
// ParallelEfficiency is the sum of per-node durations divided by the wall
// time of the run, capped at 1.0; cache hits shrink node durations, so a
// warm run scores below a cold one.
type PerformanceMetrics struct {
	ExecutionID        string                   `json:"execution_id"`
	WorkflowID         string                   `json:"workflow_id"`
	TotalDuration      time.Duration            `json:"total_duration"`
	NodeDurations      map[string]time.Duration `json:"node_durations"`
	ParallelEfficiency float64                  `json:"parallel_efficiency"`
	CacheHits          uint64                   `json:"cache_hits"`
	CacheMisses        uint64                   `json:"cache_misses"`
	MaxConcurrentNodes int                      `json:"max_concurrent_nodes"`
}

// CacheStats is a snapshot of the result cache's counters.
type CacheStats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
}
