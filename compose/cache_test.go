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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomflow/loomflow/internal/generic"
	"github.com/loomflow/loomflow/schema"
)

func TestResultCache(t *testing.T) {
	c := newResultCache(4, time.Minute)

	_, ok := c.Get("absent")
	assert.False(t, ok)

	out := schema.NewOutput("n1", schema.NodeTypeCondition, "yes").WithSignal(1)
	c.Put("k1", out)

	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, out, got)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 4, stats.Capacity)
}

func TestResultCacheClones(t *testing.T) {
	c := newResultCache(4, time.Minute)
	src := schema.NewOutput("n1", schema.NodeTypeMerger, "text")
	c.Put("k", src)

	// mutating the stored source must not reach the cache
	src.Text = "mutated"

	first, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "text", first.Text)

	// mutating a hit must not poison later hits
	first.Text = "poisoned"
	first.Metadata["x"] = 1

	second, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "text", second.Text)
	assert.NotContains(t, second.Metadata, "x")
}

func TestResultCacheEviction(t *testing.T) {
	c := newResultCache(2, time.Minute)
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("k%d", i), schema.NewOutput("n", schema.NodeTypeInput, "v"))
	}

	assert.Equal(t, 2, c.Stats().Size)
	_, ok := c.Get("k0") // oldest entry is gone
	assert.False(t, ok)
}

func TestResultCacheTTL(t *testing.T) {
	c := newResultCache(4, 30*time.Millisecond)
	c.Put("k", schema.NewOutput("n", schema.NodeTypeInput, "v"))

	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestResultCacheClear(t *testing.T) {
	c := newResultCache(4, time.Minute)
	c.Put("k", schema.NewOutput("n", schema.NodeTypeInput, "v"))
	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCacheKeyDeterministic(t *testing.T) {
	node := &schema.Node{
		ID:   "n1",
		Type: schema.NodeTypeCondition,
		Data: map[string]any{"condition": "x > 1", "true_output": "t"},
	}
	in := &resolvedInputs{Ordered: []inputValue{
		{Key: "input", Text: "abc", Signal: generic.PtrOf(int64(2))},
	}}

	k1, err := cacheKey(node, in)
	require.NoError(t, err)
	k2, err := cacheKey(node, in)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64) // sha256 hex
}

func TestCacheKeyIgnoresNodeID(t *testing.T) {
	// two nodes with the same type, config and inputs share work
	in := &resolvedInputs{Ordered: []inputValue{{Key: "input", Text: "abc"}}}
	a := &schema.Node{ID: "a", Type: schema.NodeTypeCondition, Data: map[string]any{"condition": "x"}}
	b := &schema.Node{ID: "b", Type: schema.NodeTypeCondition, Data: map[string]any{"condition": "x"}}

	ka, err := cacheKey(a, in)
	require.NoError(t, err)
	kb, err := cacheKey(b, in)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
}

func TestCacheKeySensitivity(t *testing.T) {
	base := &schema.Node{ID: "n", Type: schema.NodeTypeCondition, Data: map[string]any{"condition": "x"}}
	baseIn := &resolvedInputs{Ordered: []inputValue{{Key: "input", Text: "abc"}}}
	k0, err := cacheKey(base, baseIn)
	require.NoError(t, err)

	// different config
	cfg := &schema.Node{ID: "n", Type: schema.NodeTypeCondition, Data: map[string]any{"condition": "y"}}
	k1, err := cacheKey(cfg, baseIn)
	require.NoError(t, err)
	assert.NotEqual(t, k0, k1)

	// different node type
	typ := &schema.Node{ID: "n", Type: schema.NodeTypeSwitch, Data: map[string]any{"condition": "x"}}
	k2, err := cacheKey(typ, baseIn)
	require.NoError(t, err)
	assert.NotEqual(t, k0, k2)

	// different input text
	k3, err := cacheKey(base, &resolvedInputs{Ordered: []inputValue{{Key: "input", Text: "abd"}}})
	require.NoError(t, err)
	assert.NotEqual(t, k0, k3)

	// different signal
	k4, err := cacheKey(base, &resolvedInputs{Ordered: []inputValue{{Key: "input", Text: "abc", Signal: generic.PtrOf(int64(1))}}})
	require.NoError(t, err)
	assert.NotEqual(t, k0, k4)
}

func TestCacheKeyMapOrderIndependent(t *testing.T) {
	in := &resolvedInputs{}
	a := &schema.Node{ID: "n", Type: schema.NodeTypeMerger, Data: map[string]any{
		"merge_strategy": "concat", "separator": ",",
	}}
	b := &schema.Node{ID: "n", Type: schema.NodeTypeMerger, Data: map[string]any{
		"separator": ",", "merge_strategy": "concat",
	}}

	ka, err := cacheKey(a, in)
	require.NoError(t, err)
	kb, err := cacheKey(b, in)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
}
