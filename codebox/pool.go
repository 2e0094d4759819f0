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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-hclog"
)

// ErrPoolClosed is returned by Run after Close.
var ErrPoolClosed = errors.New("codebox: pool is closed")

// ScriptError is a failure inside user code, as opposed to a failure of the
// worker machinery. Callers convert it into an error Output on the node.
type ScriptError struct {
	Msg string
}

func (e *ScriptError) Error() string { return e.Msg }

// Config configures a worker pool.
type Config struct {
	// Size is the number of worker processes. Code blocks are CPU bound,
	// so this pool is sized small and independently of the engine's
	// node-level concurrency limit. Defaults to 2.
	Size int
	// WorkerArgv is the command used to spawn a worker. When empty the
	// pool re-executes the host binary with the worker env marker set;
	// the host must route that into WorkerMain (see IsWorker). The
	// cmd/codeworker binary is a ready-made standalone worker.
	WorkerArgv []string
	// MaxSteps caps the Starlark interpreter per script; 0 means the
	// package default.
	MaxSteps uint64
	// Logger defaults to a null logger.
	Logger hclog.Logger
}

// Pool runs scripts on a fixed set of worker subprocesses. A worker serves
// one script at a time; a worker that times out or breaks protocol is
// killed and lazily replaced.
type Pool struct {
	cfg    Config
	logger hclog.Logger

	// slots holds one token per worker; nil means "spawn on demand".
	slots  chan *worker
	nextID atomic.Uint64

	mu     sync.Mutex
	closed bool
	live   map[*worker]struct{}
}

// NewPool creates the pool. Workers are spawned lazily on first use.
func NewPool(cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	slots := make(chan *worker, cfg.Size)
	for i := 0; i < cfg.Size; i++ {
		slots <- nil
	}

	return &Pool{
		cfg:    cfg,
		logger: logger,
		slots:  slots,
		live:   make(map[*worker]struct{}),
	}
}

// Run executes one script on a pooled worker. It blocks until a worker is
// free or ctx is done. A ctx expiry mid-script kills the worker process.
func (p *Pool) Run(ctx context.Context, code string, inputs map[string]any, text string) (*Result, error) {
	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	req := request{
		ID:       p.nextID.Add(1),
		Code:     code,
		Inputs:   inputs,
		Text:     text,
		MaxSteps: p.cfg.MaxSteps,
	}
	line, err := sonic.Marshal(&req)
	if err != nil {
		p.release(w)
		return nil, fmt.Errorf("codebox: encode request: %w", err)
	}

	if _, err := w.stdin.Write(append(line, '\n')); err != nil {
		p.discard(w)
		return nil, fmt.Errorf("codebox: worker write: %w", err)
	}

	select {
	case <-ctx.Done():
		// the script may be wedged; kill the process, keep the slot
		p.discard(w)
		return nil, ctx.Err()
	case err := <-w.dead:
		p.discard(w)
		return nil, fmt.Errorf("codebox: worker exited: %w", err)
	case resp := <-w.responses:
		if resp.ID != req.ID {
			p.discard(w)
			return nil, fmt.Errorf("codebox: response id mismatch: got %d, want %d", resp.ID, req.ID)
		}
		p.release(w)
		if resp.Error != "" {
			return nil, &ScriptError{Msg: resp.Error}
		}
		return &Result{Map: resp.OutputMap, Text: resp.Text, Defined: resp.Defined}, nil
	}
}

// Close kills every worker. In-flight Run calls fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for w := range p.live {
		w.kill()
	}
	p.live = map[*worker]struct{}{}
	p.mu.Unlock()
	return nil
}

func (p *Pool) acquire(ctx context.Context) (*worker, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case w := <-p.slots:
		if w != nil {
			return w, nil
		}
		spawned, err := p.spawn()
		if err != nil {
			// give the slot token back so a later call can retry
			p.slots <- nil
			return nil, err
		}
		return spawned, nil
	}
}

func (p *Pool) release(w *worker) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		w.kill()
		return
	}
	p.slots <- w
}

func (p *Pool) discard(w *worker) {
	w.kill()
	p.mu.Lock()
	delete(p.live, w)
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		p.slots <- nil
	}
}

func (p *Pool) spawn() (*worker, error) {
	argv := p.cfg.WorkerArgv
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("codebox: resolve host binary: %w", err)
		}
		argv = []string{exe}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), workerEnv+"=1")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("codebox: worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("codebox: worker stdout: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("codebox: start worker: %w", err)
	}
	p.logger.Debug("spawned codebox worker", "pid", cmd.Process.Pid)

	w := &worker{
		cmd:       cmd,
		stdin:     stdin,
		responses: make(chan *response, 1),
		dead:      make(chan error, 1),
	}
	go w.readLoop(stdout)

	p.mu.Lock()
	p.live[w] = struct{}{}
	p.mu.Unlock()
	return w, nil
}

type worker struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	responses chan *response
	dead      chan error

	killOnce sync.Once
}

func (w *worker) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := sonic.Unmarshal(line, &resp); err != nil {
			w.dead <- fmt.Errorf("decode response: %w", err)
			return
		}
		w.responses <- &resp
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	w.dead <- err
}

func (w *worker) kill() {
	w.killOnce.Do(func() {
		_ = w.stdin.Close()
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
		}
		go func() { _ = w.cmd.Wait() }()
	})
}
