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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNilGraph is returned when Execute receives no graph.
	ErrNilGraph = errors.New("graph definition is nil")
	// ErrNoCaller is returned when an llm_call node executes but no
	// model.Caller collaborator was injected.
	ErrNoCaller = errors.New("no LLM caller configured")
	// ErrUnknownNodeType is wrapped into a node's error Output when the
	// dispatch table has no executor for its type.
	ErrUnknownNodeType = errors.New("unknown node type")
)

// StallError reports a run that made no progress: nodes remain incomplete
// but none is ready, which means a dependency cycle or a dependency that can
// never be satisfied. Progress absence is the engine's only cycle detector.
type StallError struct {
	WorkflowID string
	Remaining  []string
}

func (e *StallError) Error() string {
	return fmt.Sprintf("workflow %q stalled: no runnable nodes, %d incomplete (cyclic or unsatisfiable dependencies): %s",
		e.WorkflowID, len(e.Remaining), strings.Join(e.Remaining, ", "))
}

// Is allows errors.Is matching against another *StallError.
func (e *StallError) Is(target error) bool {
	_, ok := target.(*StallError)
	return ok
}
