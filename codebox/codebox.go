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

// Package codebox executes user-supplied code for code_block nodes.
//
// Scripts run as Starlark (a python-family dialect) inside pooled worker
// subprocesses, never in the engine's own process. The process boundary
// bounds crashes, hangs and CPU runaway; it is fault isolation, not a
// hardened security sandbox.
//
// The script sees two read-only variables, inputs (a dict of resolved
// inputs) and text (the primary input text), and communicates its result by
// assigning a global named output. A dict output is taken verbatim; any
// other value is stringified by the caller.
package codebox

import "context"

// Result is what a script produced.
type Result struct {
	// Map is set when the script assigned a dict to output.
	Map map[string]any
	// Text is the stringified output for non-dict values.
	Text string
	// Defined reports whether the script assigned output at all.
	Defined bool
}

// Runner executes one script against its inputs. Implementations must honor
// ctx cancellation; a hung script is killed, not awaited.
type Runner interface {
	Run(ctx context.Context, code string, inputs map[string]any, text string) (*Result, error)
	Close() error
}
