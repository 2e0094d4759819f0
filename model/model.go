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

// Package model defines the LLM collaborator boundary. The engine never
// talks to a provider directly: the surrounding application injects a Caller
// and owns authentication, retries and provider selection.
package model

import (
	"context"

	"github.com/loomflow/loomflow/schema"
)

//go:generate mockgen -destination ../internal/mock/model/model_mock.go --package model -source model.go

// Response is the collaborator's answer to one generation request.
type Response struct {
	// Text is the generated completion.
	Text string
	// Raw carries the provider's unmodified response payload for
	// diagnostics; the engine stores it in node metadata untouched.
	Raw any
}

// Caller generates a completion for a conversation. Implementations must
// respect ctx cancellation; the engine bounds concurrent calls with a
// connection semaphore and may attach a per-node deadline.
type Caller interface {
	Generate(ctx context.Context, messages []*schema.Message, opts ...Option) (*Response, error)
}

// CallerFunc adapts a plain function to the Caller interface.
type CallerFunc func(ctx context.Context, messages []*schema.Message, opts ...Option) (*Response, error)

// Generate implements Caller.
func (f CallerFunc) Generate(ctx context.Context, messages []*schema.Message, opts ...Option) (*Response, error) {
	return f(ctx, messages, opts...)
}
