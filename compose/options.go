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
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/loomflow/loomflow/codebox"
	"github.com/loomflow/loomflow/model"
)

type options struct {
	maxConcurrentNodes int
	workerPoolSize     int
	maxConnections     int
	codePoolSize       int
	nodeTimeout        time.Duration
	cacheCapacity      int
	cacheTTL           time.Duration
	logger             hclog.Logger
	caller             model.Caller
	codeRunner         codebox.Runner
	codeWorkerArgv     []string
}

func defaultOptions() options {
	return options{
		maxConcurrentNodes: 4,
		workerPoolSize:     8,
		maxConnections:     8,
		codePoolSize:       2,
		cacheCapacity:      256,
		cacheTTL:           5 * time.Minute,
	}
}

// Option configures an Engine.
type Option struct {
	apply func(*options)
}

// WithMaxConcurrentNodes bounds how many nodes may run at once.
func WithMaxConcurrentNodes(n int) Option {
	return Option{apply: func(o *options) {
		if n > 0 {
			o.maxConcurrentNodes = n
		}
	}}
}

// WithWorkerPoolSize bounds the pool running cheap synchronous executors.
func WithWorkerPoolSize(n int) Option {
	return Option{apply: func(o *options) {
		if n > 0 {
			o.workerPoolSize = n
		}
	}}
}

// WithMaxConnections bounds concurrent outbound LLM calls.
func WithMaxConnections(n int) Option {
	return Option{apply: func(o *options) {
		if n > 0 {
			o.maxConnections = n
		}
	}}
}

// WithNodeTimeout sets a per-node execution deadline. When it expires the
// node resolves to an error Output and the run continues; zero disables the
// deadline, in which case a hung code block or LLM call occupies its
// concurrency slot indefinitely.
func WithNodeTimeout(d time.Duration) Option {
	return Option{apply: func(o *options) {
		if d > 0 {
			o.nodeTimeout = d
		}
	}}
}

// WithCacheCapacity sets the result cache's LRU capacity.
func WithCacheCapacity(n int) Option {
	return Option{apply: func(o *options) {
		if n > 0 {
			o.cacheCapacity = n
		}
	}}
}

// WithCacheTTL sets the result cache's time-to-live.
func WithCacheTTL(ttl time.Duration) Option {
	return Option{apply: func(o *options) {
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}}
}

// WithLogger sets the engine logger; the default is a null logger.
func WithLogger(logger hclog.Logger) Option {
	return Option{apply: func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}}
}

// WithCaller injects the LLM collaborator used by llm_call nodes.
func WithCaller(caller model.Caller) Option {
	return Option{apply: func(o *options) {
		o.caller = caller
	}}
}

// WithCodeRunner injects the runner for code_block nodes. Without it the
// engine owns a codebox pool sized by WithCodePoolSize.
func WithCodeRunner(r codebox.Runner) Option {
	return Option{apply: func(o *options) {
		o.codeRunner = r
	}}
}

// WithCodePoolSize sizes the engine-owned code worker process pool. Ignored
// when a runner is injected with WithCodeRunner.
func WithCodePoolSize(n int) Option {
	return Option{apply: func(o *options) {
		if n > 0 {
			o.codePoolSize = n
		}
	}}
}

// WithCodeWorkerArgv overrides the command used to spawn code workers; see
// codebox.Config.WorkerArgv. Ignored when a runner is injected.
func WithCodeWorkerArgv(argv []string) Option {
	return Option{apply: func(o *options) {
		o.codeWorkerArgv = argv
	}}
}
