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
	"sync"
	"time"

	"github.com/loomflow/loomflow/schema"
)

// executionMonitor collects one run's timing profile: per-node durations,
// cache hit/miss counts and the peak number of concurrently running nodes.
type executionMonitor struct {
	mu            sync.Mutex
	nodeDurations map[string]time.Duration
	cacheHits     uint64
	cacheMisses   uint64
	current       int
	peak          int
}

func newExecutionMonitor() *executionMonitor {
	return &executionMonitor{nodeDurations: make(map[string]time.Duration)}
}

func (m *executionMonitor) nodeStarted() {
	m.mu.Lock()
	m.current++
	if m.current > m.peak {
		m.peak = m.current
	}
	m.mu.Unlock()
}

func (m *executionMonitor) nodeFinished(nodeID string, d time.Duration) {
	m.mu.Lock()
	m.current--
	m.nodeDurations[nodeID] = d
	m.mu.Unlock()
}

func (m *executionMonitor) cacheHit() {
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
}

func (m *executionMonitor) cacheMiss() {
	m.mu.Lock()
	m.cacheMisses++
	m.mu.Unlock()
}

// metrics finalizes the run profile. Parallel efficiency is the summed node
// time over the wall time, capped at 1.0.
func (m *executionMonitor) metrics(executionID, workflowID string, total time.Duration) *schema.PerformanceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	durations := make(map[string]time.Duration, len(m.nodeDurations))
	var sum time.Duration
	for id, d := range m.nodeDurations {
		durations[id] = d
		sum += d
	}

	efficiency := 0.0
	if total > 0 {
		efficiency = float64(sum) / float64(total)
		if efficiency > 1.0 {
			efficiency = 1.0
		}
	}

	return &schema.PerformanceMetrics{
		ExecutionID:        executionID,
		WorkflowID:         workflowID,
		TotalDuration:      total,
		NodeDurations:      durations,
		ParallelEfficiency: efficiency,
		CacheHits:          m.cacheHits,
		CacheMisses:        m.cacheMisses,
		MaxConcurrentNodes: m.peak,
	}
}

// EngineStats aggregates every run an Engine has performed.
type EngineStats struct {
	Executions    uint64        `json:"executions"`
	NodesExecuted uint64        `json:"nodes_executed"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	CacheHits     uint64        `json:"cache_hits"`
	CacheMisses   uint64        `json:"cache_misses"`
	CacheHitRate  float64       `json:"cache_hit_rate"`
}

type statsRecorder struct {
	mu            sync.Mutex
	executions    uint64
	nodesExecuted uint64
	totalDuration time.Duration
}

func (s *statsRecorder) record(metrics *schema.PerformanceMetrics) {
	s.mu.Lock()
	s.executions++
	s.nodesExecuted += uint64(len(metrics.NodeDurations))
	s.totalDuration += metrics.TotalDuration
	s.mu.Unlock()
}

func (s *statsRecorder) snapshot(cache schema.CacheStats) EngineStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := EngineStats{
		Executions:    s.executions,
		NodesExecuted: s.nodesExecuted,
		TotalDuration: s.totalDuration,
		CacheHits:     cache.Hits,
		CacheMisses:   cache.Misses,
	}
	if s.executions > 0 {
		stats.AvgDuration = s.totalDuration / time.Duration(s.executions)
	}
	if lookups := cache.Hits + cache.Misses; lookups > 0 {
		stats.CacheHitRate = float64(cache.Hits) / float64(lookups)
	}
	return stats
}
