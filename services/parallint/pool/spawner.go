// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/AleutianAI/parallint/services/parallint/lint"
	"github.com/AleutianAI/parallint/services/parallint/protocol"
	"github.com/AleutianAI/parallint/services/parallint/worker"
)

// WorkerCommand is the subcommand the process spawner runs.
const WorkerCommand = "worker"

// DefaultStopGrace is how long Stop waits for a worker to exit on its own
// before killing it.
const DefaultStopGrace = 2 * time.Second

// Process is a running worker as seen by the pool.
type Process interface {
	// Conn is the supervisor end of the worker's connection.
	Conn() protocol.Conn

	// Stop ends the worker. It closes the connection, waits up to the grace
	// period and then kills the worker. It is idempotent.
	Stop(ctx context.Context) error

	// Done is closed once the worker has exited.
	Done() <-chan struct{}
}

// Spawner starts workers.
type Spawner interface {
	// Spawn starts worker id. The returned process is running but has not
	// been sent init.
	Spawn(ctx context.Context, id int) (Process, error)
}

// =============================================================================
// IN-PROCESS SPAWNER
// =============================================================================

// InProcessSpawner runs each worker as a goroutine over protocol.Pipe.
//
// Every message still goes through JSON, so behaviour matches the process
// spawner except for isolation.
type InProcessSpawner struct {
	// Resolver resolves linter names inside each worker. Nil uses the default
	// registry.
	Resolver lint.Resolver

	// Logger is handed to each worker runtime.
	Logger *slog.Logger
}

// Spawn implements Spawner.
func (s *InProcessSpawner) Spawn(ctx context.Context, id int) (Process, error) {
	sup, wrk := protocol.Pipe()

	var opts []worker.Option
	if s.Resolver != nil {
		opts = append(opts, worker.WithResolver(s.Resolver))
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts = append(opts, worker.WithLogger(logger))

	rt := worker.New(wrk, opts...)
	runCtx, cancel := context.WithCancel(context.Background())
	p := &goroutineProcess{conn: sup, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		if err := rt.Serve(runCtx); err != nil && runCtx.Err() == nil {
			logger.Warn("in-process worker exited",
				slog.Int("worker_id", id),
				slog.String("error", err.Error()))
		}
	}()
	return p, nil
}

type goroutineProcess struct {
	conn   protocol.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *goroutineProcess) Conn() protocol.Conn   { return p.conn }
func (p *goroutineProcess) Done() <-chan struct{} { return p.done }

func (p *goroutineProcess) Stop(ctx context.Context) error {
	p.conn.Close()
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// PROCESS SPAWNER
// =============================================================================

// ExecSpawner runs each worker as a child process speaking the protocol on
// its stdin and stdout.
//
// Each child gets its own process group so that Stop also reaches any linter
// processes the worker started.
type ExecSpawner struct {
	// Path is the executable. Empty means the running binary.
	Path string

	// Args precede WorkerCommand on the command line.
	Args []string

	// Env is appended to the inherited environment.
	Env []string

	// Stderr receives the workers' stderr. Nil means os.Stderr.
	Stderr io.Writer

	// Grace overrides DefaultStopGrace.
	Grace time.Duration

	Logger *slog.Logger
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(ctx context.Context, id int) (Process, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("%w: locate executable: %v", ErrSpawnFailed, err)
		}
		path = exe
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	args := append(append([]string{}, s.Args...), WorkerCommand)
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("PARALLINT_WORKER_ID=%d", id))
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: start %s: %v", ErrSpawnFailed, path, err)
	}

	logger.Debug("worker process started",
		slog.Int("worker_id", id),
		slog.Int("pid", cmd.Process.Pid))

	grace := s.Grace
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	p := &execProcess{
		id:     id,
		cmd:    cmd,
		conn:   protocol.NewStreamConn(stdout, stdin),
		done:   make(chan struct{}),
		grace:  grace,
		logger: logger,
	}
	go p.wait()
	return p, nil
}

type execProcess struct {
	id     int
	cmd    *exec.Cmd
	conn   *protocol.StreamConn
	done   chan struct{}
	grace  time.Duration
	logger *slog.Logger

	stopOnce sync.Once
	waitErr  error
}

func (p *execProcess) Conn() protocol.Conn   { return p.conn }
func (p *execProcess) Done() <-chan struct{} { return p.done }

// wait reaps the process. cmd.Wait closes the stdout pipe, so it only runs
// once the conn has read every frame up to EOF; otherwise a final done or
// failed message written just before exit could be lost.
func (p *execProcess) wait() {
	<-p.conn.ReadDone()
	p.waitErr = p.cmd.Wait()
	close(p.done)
	if p.waitErr != nil {
		p.logger.Debug("worker process exited",
			slog.Int("worker_id", p.id),
			slog.String("error", p.waitErr.Error()))
	}
}

// Stop closes stdin so the worker sees EOF, then kills the process group if
// it has not exited within the grace period.
func (p *execProcess) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		p.conn.Close()

		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-p.done:
			return
		case <-timer.C:
		case <-ctx.Done():
		}

		if kerr := killProcessGroup(p.cmd); kerr != nil {
			p.logger.Warn("kill worker process group",
				slog.Int("worker_id", p.id),
				slog.String("error", kerr.Error()))
			_ = p.cmd.Process.Kill()
		}
		select {
		case <-p.done:
		case <-time.After(time.Second):
			err = fmt.Errorf("worker %d did not exit after kill", p.id)
		}
	})
	return err
}
