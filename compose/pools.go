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

	"golang.org/x/sync/semaphore"
)

// workerGate bounds how many cheap (input/condition/switch/merger/output/
// loop) executors run at once, independent of the node-level concurrency
// limit. It is the engine's stand-in for a worker-thread pool: goroutines
// are cheap, so only the admission count needs bounding.
type workerGate struct {
	sem *semaphore.Weighted
}

func newWorkerGate(size int) *workerGate {
	if size <= 0 {
		size = 8
	}
	return &workerGate{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn once a slot is free. It returns ctx.Err() if the context
// expires while waiting for admission.
func (g *workerGate) Do(ctx context.Context, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn()
}

// connPool is the counting semaphore bounding concurrent outbound LLM
// calls. Callers suspend on Acquire until a connection slot frees up.
type connPool struct {
	sem *semaphore.Weighted
}

func newConnPool(size int) *connPool {
	if size <= 0 {
		size = 8
	}
	return &connPool{sem: semaphore.NewWeighted(int64(size))}
}

func (p *connPool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *connPool) Release() {
	p.sem.Release(1)
}
