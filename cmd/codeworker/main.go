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

// Command codeworker is a standalone codebox worker. Point
// codebox.Config.WorkerArgv at this binary when the engine host cannot
// re-execute itself (e.g. it runs under a test harness or a supervisor
// that wraps argv[0]).
package main

import (
	"os"

	"github.com/loomflow/loomflow/codebox"
)

func main() {
	os.Exit(codebox.WorkerMain())
}
