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
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/loomflow/loomflow/internal/generic"
	"github.com/loomflow/loomflow/schema"
)

// inputValue is one upstream edge's contribution to a node's inputs. Text
// and Signal always mirror the source Output so consumers like the merger
// can weight a text by the signal it arrived with.
type inputValue struct {
	Key        string
	SourceID   string
	SourcePort string
	TargetPort string
	Text       string
	Signal     *int64
	Value      any
}

// resolvedInputs is what an executor sees: a values map for keyed lookups
// and the same contributions in edge order for fan-in consumers.
type resolvedInputs struct {
	Values  map[string]any
	Ordered []inputValue
}

// PrimaryText is the node's main input text: the canonical "input" value,
// else the first text-bearing upstream.
func (in *resolvedInputs) PrimaryText() string {
	if v, ok := in.Values[schema.PortInput]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	for _, iv := range in.Ordered {
		if iv.SourcePort != schema.PortSignal {
			return iv.Text
		}
	}
	return ""
}

// Signal is the node's incoming control value, if any edge delivered one.
func (in *resolvedInputs) Signal() (int64, bool) {
	if v, ok := in.Values[schema.PortSignal]; ok {
		if s, ok := v.(int64); ok {
			return s, true
		}
	}
	return 0, false
}

// runner drives one execution of one graph. It is not reused across runs.
type runner struct {
	engine       *Engine
	graph        *schema.GraphDefinition
	logger       hclog.Logger
	initialInput string

	nodes         map[string]*schema.Node
	order         []string
	deps          map[string]map[string]struct{}
	edgesByTarget map[string][]*schema.Edge

	completed map[string]*schema.Output
	running   map[string]struct{}
	monitor   *executionMonitor
}

func newRunner(e *Engine, g *schema.GraphDefinition, edges []*schema.Edge, initialInput string) *runner {
	r := &runner{
		engine:        e,
		graph:         g,
		logger:        e.logger.With("workflow", g.ID),
		initialInput:  initialInput,
		nodes:         make(map[string]*schema.Node, len(g.Nodes)),
		order:         make([]string, 0, len(g.Nodes)),
		deps:          make(map[string]map[string]struct{}, len(g.Nodes)),
		edgesByTarget: make(map[string][]*schema.Edge),
		completed:     make(map[string]*schema.Output, len(g.Nodes)),
		running:       make(map[string]struct{}),
		monitor:       newExecutionMonitor(),
	}

	for _, n := range g.Nodes {
		r.nodes[n.ID] = n
		r.order = append(r.order, n.ID)
		r.deps[n.ID] = make(map[string]struct{})
	}
	for _, e := range edges {
		r.deps[e.Target][e.Source] = struct{}{}
		r.edgesByTarget[e.Target] = append(r.edgesByTarget[e.Target], e)
	}
	return r
}

// seedInputs completes every input node with a synthetic Output when the
// run carries an initial input, skipping their executors entirely.
func (r *runner) seedInputs() {
	if r.initialInput == "" {
		return
	}
	for _, id := range r.order {
		n := r.nodes[id]
		if n.Type != schema.NodeTypeInput {
			continue
		}
		r.completed[id] = schema.NewOutput(id, n.Type, r.initialInput).
			WithSignal(1).
			SetMeta("seeded", true)
	}
}

func (r *runner) isReady(id string) bool {
	if _, done := r.completed[id]; done {
		return false
	}
	if _, active := r.running[id]; active {
		return false
	}
	for dep := range r.deps[id] {
		if _, done := r.completed[dep]; !done {
			return false
		}
	}
	return true
}

func (r *runner) remaining() []string {
	var out []string
	for _, id := range r.order {
		if _, done := r.completed[id]; !done {
			out = append(out, id)
		}
	}
	return out
}

type nodeResult struct {
	id     string
	output *schema.Output
}

// run is the scheduling loop: whenever a concurrency slot and a ready node
// exist, dispatch; park on the completion channel otherwise; recompute
// readiness on every completion event. It terminates when every node is
// completed, or fails with a StallError when incomplete nodes remain but
// none can run, which is the cycle case.
func (r *runner) run(ctx context.Context) (map[string]*schema.Output, error) {
	total := len(r.nodes)
	if total == 0 {
		return r.completed, nil
	}

	r.seedInputs()

	results := make(chan nodeResult)
	inFlight := 0

	for len(r.completed) < total {
		if ctx.Err() == nil && inFlight < r.engine.opts.maxConcurrentNodes {
			for _, id := range r.order {
				if inFlight >= r.engine.opts.maxConcurrentNodes {
					break
				}
				if !r.isReady(id) {
					continue
				}
				node := r.nodes[id]
				// inputs resolve on the coordinator: every dependency is
				// completed at dispatch time, so no executor observes a
				// partially-written outputs map
				in := r.resolveInputs(node)
				r.running[id] = struct{}{}
				inFlight++
				go func(n *schema.Node, in *resolvedInputs) {
					results <- nodeResult{id: n.ID, output: r.runNode(ctx, n, in)}
				}(node, in)
			}
		}

		if inFlight == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, &StallError{WorkflowID: r.graph.ID, Remaining: r.remaining()}
		}

		res := <-results
		inFlight--
		delete(r.running, res.id)
		// completion is unconditional: a failed node that never reaches
		// the completed set would starve its dependents and stall the
		// run, so errors complete too, carrying an error Output
		r.completed[res.id] = res.output
	}

	return r.completed, nil
}

// resolveInputs maps upstream Outputs onto this node's input ports. The
// canonical pairs are output→input (text) and signal→signal (control);
// any other pair passes through unmapped under the raw source-port name.
func (r *runner) resolveInputs(node *schema.Node) *resolvedInputs {
	in := &resolvedInputs{Values: make(map[string]any)}

	for _, e := range r.edgesByTarget[node.ID] {
		src, done := r.completed[e.Source]
		if !done {
			continue
		}

		iv := inputValue{
			SourceID:   e.Source,
			SourcePort: e.SourcePort,
			TargetPort: e.TargetPort,
			Text:       src.Text,
		}
		if src.Signal != nil {
			iv.Signal = generic.PtrOf(*src.Signal)
		}

		switch {
		case e.SourcePort == schema.PortOutput && e.TargetPort == schema.PortInput:
			iv.Key = schema.PortInput
			iv.Value = src.Text
		case e.SourcePort == schema.PortSignal && e.TargetPort == schema.PortSignal:
			iv.Key = schema.PortSignal
			if src.Signal != nil {
				iv.Value = *src.Signal
			}
		default:
			iv.Key = e.SourcePort
			iv.Value = portField(src, e.SourcePort)
		}

		if iv.Value != nil {
			in.Values[iv.Key] = iv.Value
		}
		in.Ordered = append(in.Ordered, iv)
	}

	return in
}

func portField(out *schema.Output, port string) any {
	switch port {
	case schema.PortSignal:
		if out.Signal != nil {
			return *out.Signal
		}
		return nil
	default:
		return out.Text
	}
}

// runNode executes one node end to end: cache probe, executor dispatch
// under the per-node timeout, cache fill. It never returns an error; every
// failure mode resolves into an error Output.
func (r *runner) runNode(ctx context.Context, node *schema.Node, in *resolvedInputs) *schema.Output {
	start := time.Now()
	r.monitor.nodeStarted()
	defer func() {
		r.monitor.nodeFinished(node.ID, time.Since(start))
	}()

	key, keyErr := cacheKey(node, in)
	if keyErr == nil {
		if cached, ok := r.engine.cache.Get(key); ok {
			r.monitor.cacheHit()
			r.logger.Debug("result cache hit", "node", node.ID)
			return cached
		}
		r.monitor.cacheMiss()
	} else {
		r.logger.Warn("cache key derivation failed, executing uncached", "node", node.ID, "error", keyErr)
	}

	if r.engine.opts.nodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.engine.opts.nodeTimeout)
		defer cancel()
	}

	out := r.dispatch(ctx, node, in)

	// error outputs are not cached: a transient failure should not be
	// replayed for the full TTL
	if keyErr == nil && !out.IsError() {
		r.engine.cache.Put(key, out)
	}
	return out
}

func (r *runner) dispatch(ctx context.Context, node *schema.Node, in *resolvedInputs) (out *schema.Output) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("node executor panicked", "node", node.ID, "panic", p)
			out = schema.NewErrorOutput(node.ID, node.Type, fmt.Errorf("executor panic: %v", p))
		}
	}()

	exec, known := r.executorFor(node.Type)
	if !known {
		return schema.NewErrorOutput(node.ID, node.Type, fmt.Errorf("%w: %s", ErrUnknownNodeType, node.Type))
	}

	var result *schema.Output
	var err error
	if isOffloaded(node.Type) {
		result, err = exec(ctx, node, in)
	} else {
		gateErr := r.engine.workers.Do(ctx, func() error {
			result, err = exec(ctx, node, in)
			return nil
		})
		if gateErr != nil {
			err = gateErr
		}
	}

	if err != nil {
		r.logger.Warn("node execution failed", "node", node.ID, "type", node.Type, "error", err)
		return schema.NewErrorOutput(node.ID, node.Type, err)
	}
	return result
}
