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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/loomflow/loomflow/schema"
)

// resultCache skips re-execution of nodes whose effective inputs have not
// changed. Keys are content hashes of (node type, node config, resolved
// inputs); entries fall out by LRU when capacity is exceeded and by TTL.
// The cache is an explicit instance owned by one Engine, never package
// state, and it is shared across executions of that engine: a cached node
// must be referentially transparent given its resolved inputs.
type resultCache struct {
	lru      *expirable.LRU[string, *schema.Output]
	capacity int
	hits     atomic.Uint64
	misses   atomic.Uint64
}

func newResultCache(capacity int, ttl time.Duration) *resultCache {
	if capacity <= 0 {
		capacity = 256
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &resultCache{
		lru:      expirable.NewLRU[string, *schema.Output](capacity, nil, ttl),
		capacity: capacity,
	}
}

// Get returns a clone of the cached output, so callers can decorate their
// copy without poisoning later hits.
func (c *resultCache) Get(key string) (*schema.Output, bool) {
	out, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return out.Clone(), true
}

// Put stores a clone of the output. Writes are idempotent by key: two
// unordered nodes producing the same key store equivalent values, so
// last-write-wins is safe.
func (c *resultCache) Put(key string, out *schema.Output) {
	c.lru.Add(key, out.Clone())
}

func (c *resultCache) Clear() {
	c.lru.Purge()
}

func (c *resultCache) Stats() schema.CacheStats {
	return schema.CacheStats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Size:     c.lru.Len(),
		Capacity: c.capacity,
	}
}

// cacheKeyInput is one resolved input's contribution to the content hash,
// kept in edge order so the hash is deterministic.
type cacheKeyInput struct {
	Key    string `json:"key"`
	Text   string `json:"text"`
	Signal *int64 `json:"signal,omitempty"`
}

// cacheKey derives the content-addressed key for one node execution.
// ConfigStd marshaling sorts map keys, so two Data maps with equal content
// hash identically regardless of construction order.
func cacheKey(node *schema.Node, in *resolvedInputs) (string, error) {
	payload := struct {
		Type   schema.NodeType `json:"type"`
		Data   map[string]any  `json:"data"`
		Inputs []cacheKeyInput `json:"inputs"`
	}{
		Type:   node.Type,
		Data:   node.Data,
		Inputs: make([]cacheKeyInput, 0, len(in.Ordered)),
	}
	for _, iv := range in.Ordered {
		payload.Inputs = append(payload.Inputs, cacheKeyInput{Key: iv.Key, Text: iv.Text, Signal: iv.Signal})
	}

	raw, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal cache key for node %q: %w", node.ID, err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
