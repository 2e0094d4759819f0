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
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by OptionsFromEnv.
const (
	EnvMaxConcurrentNodes = "LOOMFLOW_MAX_CONCURRENT_NODES"
	EnvWorkerPoolSize     = "LOOMFLOW_WORKER_POOL_SIZE"
	EnvMaxConnections     = "LOOMFLOW_MAX_CONNECTIONS"
	EnvCodePoolSize       = "LOOMFLOW_CODE_POOL_SIZE"
	EnvNodeTimeout        = "LOOMFLOW_NODE_TIMEOUT"
	EnvCacheCapacity      = "LOOMFLOW_CACHE_CAPACITY"
	EnvCacheTTL           = "LOOMFLOW_CACHE_TTL"
)

// OptionsFromEnv builds engine options from the process environment,
// loading a .env file first when one exists. Unset or malformed variables
// are skipped, leaving the defaults in place.
//
//	LOOMFLOW_MAX_CONCURRENT_NODES=8
//	LOOMFLOW_NODE_TIMEOUT=30s
//	LOOMFLOW_CACHE_TTL=10m
func OptionsFromEnv() []Option {
	_ = godotenv.Load()

	var opts []Option
	if n, ok := envInt(EnvMaxConcurrentNodes); ok {
		opts = append(opts, WithMaxConcurrentNodes(n))
	}
	if n, ok := envInt(EnvWorkerPoolSize); ok {
		opts = append(opts, WithWorkerPoolSize(n))
	}
	if n, ok := envInt(EnvMaxConnections); ok {
		opts = append(opts, WithMaxConnections(n))
	}
	if n, ok := envInt(EnvCodePoolSize); ok {
		opts = append(opts, WithCodePoolSize(n))
	}
	if n, ok := envInt(EnvCacheCapacity); ok {
		opts = append(opts, WithCacheCapacity(n))
	}
	if d, ok := envDuration(EnvNodeTimeout); ok {
		opts = append(opts, WithNodeTimeout(d))
	}
	if d, ok := envDuration(EnvCacheTTL); ok {
		opts = append(opts, WithCacheTTL(d))
	}
	return opts
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
