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

// Package compose runs workflow graphs. An Engine schedules a
// schema.GraphDefinition's nodes by data dependency, runs independent nodes
// concurrently, caches node results by content hash and resolves every
// failure into the failed node's Output so a single bad node never aborts
// the run.
package compose

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/loomflow/loomflow/codebox"
	"github.com/loomflow/loomflow/model"
	"github.com/loomflow/loomflow/schema"
)

// Engine executes workflow graphs. It is safe for concurrent use; the
// result cache and the aggregate stats are shared across executions.
type Engine struct {
	opts   options
	logger hclog.Logger

	cache   *resultCache
	workers *workerGate
	conns   *connPool

	caller     model.Caller
	codeRunner codebox.Runner
	ownsRunner bool

	stats statsRecorder
}

// NewEngine builds an Engine from its options. When no code runner is
// injected the engine owns a codebox worker pool and Close must be called
// to reap its processes.
func NewEngine(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	e := &Engine{
		opts:       o,
		logger:     logger,
		cache:      newResultCache(o.cacheCapacity, o.cacheTTL),
		workers:    newWorkerGate(o.workerPoolSize),
		conns:      newConnPool(o.maxConnections),
		caller:     o.caller,
		codeRunner: o.codeRunner,
	}
	if e.codeRunner == nil {
		e.codeRunner = codebox.NewPool(codebox.Config{
			Size:       o.codePoolSize,
			WorkerArgv: o.codeWorkerArgv,
			Logger:     logger.Named("codebox"),
		})
		e.ownsRunner = true
	}
	return e
}

// Execute runs the graph to completion and returns the full Execution
// record. Node-level failures do not surface here: they complete their node
// with an error Output and the run finishes as ExecutionCompleted. The
// returned error (and ExecutionError status) is reserved for an invalid
// graph, a canceled context or a stalled run; for a stall the Execution is
// still returned alongside the StallError so callers can inspect the stuck
// node ids.
func (e *Engine) Execute(ctx context.Context, graph *schema.GraphDefinition, initialInput string) (*schema.Execution, error) {
	if graph == nil {
		return nil, ErrNilGraph
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph %q: %w", graph.ID, err)
	}
	edges, dropped := graph.NormalizedEdges(e.logger)
	if dropped > 0 {
		e.logger.Warn("normalization dropped dangling edges", "workflow", graph.ID, "dropped", dropped)
	}

	exec := &schema.Execution{
		ExecutionID: uuid.NewString(),
		WorkflowID:  graph.ID,
		Status:      schema.ExecutionRunning,
		StartedAt:   time.Now(),
	}
	e.logger.Info("execution started", "workflow", graph.ID, "execution", exec.ExecutionID, "nodes", len(graph.Nodes))

	r := newRunner(e, graph, edges, initialInput)
	outputs, runErr := r.run(ctx)

	exec.FinishedAt = time.Now()
	exec.Metrics = r.monitor.metrics(exec.ExecutionID, graph.ID, exec.FinishedAt.Sub(exec.StartedAt))
	exec.CacheStats = e.cache.Stats()
	e.stats.record(exec.Metrics)

	if runErr != nil {
		exec.Status = schema.ExecutionError
		exec.Error = runErr.Error()
		// a stall still carries the partial outputs collected so far
		var stall *StallError
		if errors.As(runErr, &stall) {
			exec.Outputs = r.completed
			exec.Results = exec.Outputs
		}
		e.logger.Error("execution failed", "workflow", graph.ID, "execution", exec.ExecutionID, "error", runErr)
		return exec, runErr
	}

	exec.Status = schema.ExecutionCompleted
	exec.Outputs = outputs
	exec.Results = narrowResults(graph, outputs)
	e.logger.Info("execution completed",
		"workflow", graph.ID,
		"execution", exec.ExecutionID,
		"duration", exec.Metrics.TotalDuration,
		"cache_hits", exec.Metrics.CacheHits,
	)
	return exec, nil
}

// narrowResults keeps only the output-type nodes' Outputs; when a graph has
// none, every node's Output doubles as a result.
func narrowResults(graph *schema.GraphDefinition, outputs map[string]*schema.Output) map[string]*schema.Output {
	results := make(map[string]*schema.Output)
	for _, n := range graph.Nodes {
		if n.Type == schema.NodeTypeOutput {
			if out, ok := outputs[n.ID]; ok {
				results[n.ID] = out
			}
		}
	}
	if len(results) == 0 {
		return outputs
	}
	return results
}

// PerformanceStats aggregates every execution this engine has run.
func (e *Engine) PerformanceStats() EngineStats {
	return e.stats.snapshot(e.cache.Stats())
}

// ClearCache drops every cached node result.
func (e *Engine) ClearCache() {
	e.cache.Clear()
	e.logger.Debug("result cache cleared")
}

// BenchmarkReport summarizes repeated executions of one graph.
type BenchmarkReport struct {
	Iterations  int                          `json:"iterations"`
	MinDuration time.Duration                `json:"min_duration"`
	AvgDuration time.Duration                `json:"avg_duration"`
	MaxDuration time.Duration                `json:"max_duration"`
	CacheHits   uint64                       `json:"cache_hits"`
	CacheMisses uint64                       `json:"cache_misses"`
	Runs        []*schema.PerformanceMetrics `json:"runs"`
}

// Benchmark executes the graph iterations times with the same input and
// reports the duration spread. The cache stays warm between iterations, so
// later runs exercise the hit path; call ClearCache first to measure cold
// runs.
func (e *Engine) Benchmark(ctx context.Context, graph *schema.GraphDefinition, iterations int, initialInput string) (*BenchmarkReport, error) {
	if iterations <= 0 {
		iterations = 1
	}

	report := &BenchmarkReport{Iterations: iterations}
	var total time.Duration
	for i := 0; i < iterations; i++ {
		exec, err := e.Execute(ctx, graph, initialInput)
		if err != nil {
			return nil, fmt.Errorf("benchmark iteration %d: %w", i+1, err)
		}
		m := exec.Metrics
		report.Runs = append(report.Runs, m)
		report.CacheHits += m.CacheHits
		report.CacheMisses += m.CacheMisses
		total += m.TotalDuration
		if i == 0 || m.TotalDuration < report.MinDuration {
			report.MinDuration = m.TotalDuration
		}
		if m.TotalDuration > report.MaxDuration {
			report.MaxDuration = m.TotalDuration
		}
	}
	report.AvgDuration = total / time.Duration(iterations)
	return report, nil
}

// Close releases engine-owned resources, currently the code worker pool
// when the engine created it. Injected runners are the caller's to close.
func (e *Engine) Close() error {
	if e.ownsRunner && e.codeRunner != nil {
		return e.codeRunner.Close()
	}
	return nil
}
