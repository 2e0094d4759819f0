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

package codebox

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
)

// workerEnv marks a process as a codebox worker. The pool sets it when
// re-executing the host binary; hosts that embed the engine check IsWorker
// at the top of main and hand control to WorkerMain.
const workerEnv = "LOOMFLOW_CODEBOX_WORKER"

// request is one script execution order, a single JSON line on stdin.
type request struct {
	ID       uint64         `json:"id"`
	Code     string         `json:"code"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	Text     string         `json:"text,omitempty"`
	MaxSteps uint64         `json:"max_steps,omitempty"`
}

// response is the matching JSON line on stdout.
type response struct {
	ID        uint64         `json:"id"`
	Defined   bool           `json:"defined"`
	OutputMap map[string]any `json:"output_map,omitempty"`
	Text      string         `json:"text,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// IsWorker reports whether this process was spawned as a codebox worker.
func IsWorker() bool {
	return os.Getenv(workerEnv) != ""
}

// WorkerMain serves the worker protocol on stdin/stdout and returns the
// process exit code. Hosts embed it as:
//
//	func main() {
//		if codebox.IsWorker() {
//			os.Exit(codebox.WorkerMain())
//		}
//		...
//	}
func WorkerMain() int {
	if err := ServeWorker(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "codebox worker:", err)
		return 1
	}
	return 0
}

// ServeWorker reads JSON-line requests until EOF, executing each script and
// writing one JSON-line response. Script failures are reported in-band; a
// returned error means the protocol itself broke.
func ServeWorker(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := sonic.Unmarshal(line, &req); err != nil {
			return fmt.Errorf("decode request: %w", err)
		}

		resp := response{ID: req.ID}
		result, err := execScript(req.Code, req.Inputs, req.Text, req.MaxSteps)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Defined = result.Defined
			resp.OutputMap = result.Map
			resp.Text = result.Text
		}

		encoded, err := sonic.Marshal(&resp)
		if err != nil {
			// output was produced but cannot travel; report in-band
			encoded, _ = sonic.Marshal(&response{ID: req.ID, Error: "encode response: " + err.Error()})
		}
		if _, err := out.Write(append(encoded, '\n')); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("flush response: %w", err)
		}
	}
	return scanner.Err()
}

// maxLineBytes caps a single protocol line. Scripts and inputs beyond this
// size fail loudly instead of wedging the scanner.
const maxLineBytes = 16 * 1024 * 1024
