// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package worker implements the worker side of the lint protocol.
//
// A Runtime owns one lint engine and serves one connection. It handles
// messages strictly in arrival order and processes one batch at a time, so
// a done message is only ever sent after every file of its job was verified
// and any fixes were written to disk.
package worker

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/AleutianAI/parallint/services/parallint/lint"
	"github.com/AleutianAI/parallint/services/parallint/protocol"
	"github.com/AleutianAI/parallint/services/parallint/report"
)

// RuntimeState represents the lifecycle state of a Runtime.
type RuntimeState int

const (
	// StateUninitialized means no init message has been received.
	StateUninitialized RuntimeState = iota

	// StateInitializing means option translation is running.
	StateInitializing

	// StateReady means the lint engine is built and jobs are served.
	StateReady

	// StateFailed means initialization failed; the runtime is exiting.
	StateFailed
)

// String returns the string representation of the state.
func (s RuntimeState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Translator builds the lint configuration from an option bag.
type Translator func(ctx context.Context, opts lint.Options) (*lint.Config, error)

// engine is the per-worker lint engine built at init.
type engine struct {
	config     *lint.Config
	enumerator *lint.Enumerator
}

type initResult struct {
	engine *engine
	err    error
}

// Runtime serves lint jobs on one connection.
//
// Thread Safety:
//
//	Serve must be called once. Results and State are safe to call
//	concurrently with Serve.
type Runtime struct {
	conn       protocol.Conn
	translator Translator
	logger     *slog.Logger

	workerID int
	engine   *engine
	pending  []*protocol.Message
	initDone chan initResult

	acc *accumulator
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithTranslator replaces the default translator, which uses lint.NewRegistry.
func WithTranslator(t Translator) Option {
	return func(r *Runtime) { r.translator = t }
}

// WithResolver translates options with the given module resolver.
func WithResolver(resolver lint.Resolver) Option {
	return func(r *Runtime) {
		r.translator = func(ctx context.Context, opts lint.Options) (*lint.Config, error) {
			return lint.Translate(ctx, opts, resolver)
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// New creates a Runtime bound to conn.
func New(conn protocol.Conn, opts ...Option) *Runtime {
	r := &Runtime{
		conn:   conn,
		logger: slog.Default(),
		acc:    newAccumulator(),
	}
	WithResolver(lint.NewRegistry())(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Serve handles messages until the connection closes, ctx is cancelled or
// initialization fails.
//
// Description:
//
//	init starts translation on its own goroutine. Any files or report
//	message that arrives before translation finishes is queued and served,
//	in order, once it completes. If translation fails a failed message is
//	sent and Serve returns the error.
//
// Outputs:
//
//	error - nil when the peer closed the connection; ctx.Err() on
//	cancellation; the translation error on init failure.
func (r *Runtime) Serve(ctx context.Context) error {
	defer r.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-r.initDone:
			r.initDone = nil
			if res.err != nil {
				r.acc.setState(StateFailed)
				r.logger.Error("worker init failed",
					slog.Int("worker_id", r.workerID),
					slog.String("error", res.err.Error()))
				if err := r.conn.Send(ctx, protocol.Failed(r.workerID, res.err)); err != nil {
					r.logger.Warn("send failed message", slog.String("error", err.Error()))
				}
				return fmt.Errorf("%w: %v", ErrInitFailed, res.err)
			}
			r.engine = res.engine
			r.acc.setState(StateReady)
			r.logger.Debug("worker ready",
				slog.Int("worker_id", r.workerID),
				slog.Int("queued", len(r.pending)))
			queued := r.pending
			r.pending = nil
			for _, msg := range queued {
				if err := r.handle(ctx, msg); err != nil {
					return err
				}
			}

		case msg, ok := <-r.conn.Recv():
			if !ok {
				r.logger.Debug("worker connection closed", slog.Int("worker_id", r.workerID))
				return nil
			}
			if err := r.dispatch(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// dispatch queues msg while init is in progress and handles it otherwise.
func (r *Runtime) dispatch(ctx context.Context, msg *protocol.Message) error {
	if msg.Kind == protocol.KindInit {
		return r.startInit(ctx, msg)
	}
	if r.state() != StateReady {
		r.pending = append(r.pending, msg)
		return nil
	}
	return r.handle(ctx, msg)
}

func (r *Runtime) startInit(ctx context.Context, msg *protocol.Message) error {
	if r.state() != StateUninitialized {
		return fmt.Errorf("%w: init received in state %s", ErrProtocol, r.state())
	}
	r.workerID = msg.WorkerID
	r.acc.setState(StateInitializing)
	r.logger = r.logger.With(slog.Int("worker_id", r.workerID))

	done := make(chan initResult, 1)
	r.initDone = done
	raw := msg.Options
	go func() {
		opts, err := lint.UnmarshalOptions(raw)
		if err != nil {
			done <- initResult{err: err}
			return
		}
		cfg, err := r.translator(ctx, opts)
		if err != nil {
			done <- initResult{err: err}
			return
		}
		done <- initResult{engine: &engine{config: cfg, enumerator: lint.NewEnumerator(cfg)}}
	}()
	return nil
}

// handle serves one message once the engine is ready.
func (r *Runtime) handle(ctx context.Context, msg *protocol.Message) error {
	switch msg.Kind {
	case protocol.KindFiles:
		r.lintFiles(ctx, msg.Files)
		if err := r.conn.Send(ctx, protocol.Done(msg.JobID)); err != nil {
			return fmt.Errorf("send done for job %d: %w", msg.JobID, err)
		}
		return nil

	case protocol.KindReport:
		if err := r.conn.Send(ctx, protocol.ReportBack(r.acc.snapshot())); err != nil {
			return fmt.Errorf("send reportback: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: unexpected %s message", ErrProtocol, msg.Kind)
	}
}

// lintFiles verifies every file in order. A failure on one file becomes an
// error result for it and the batch continues.
func (r *Runtime) lintFiles(ctx context.Context, files []string) {
	for _, path := range files {
		r.acc.append(r.lintFile(ctx, path))
	}
}

func (r *Runtime) lintFile(ctx context.Context, path string) report.Result {
	info, err := os.Stat(path)
	if err != nil {
		return report.ErrorResult(path, err)
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return report.ErrorResult(path, err)
	}

	fc := r.engine.enumerator.ConfigFor(path)
	result := lint.Verify(ctx, &lint.Source{Path: path, Language: fc.Language, Text: text}, fc)

	if fc.Fix && result.Output != "" {
		if err := writeFixed(path, result.Output, info.Mode().Perm()); err != nil {
			r.logger.Warn("write fixed file",
				slog.String("file", path),
				slog.String("error", err.Error()))
			result.Messages = append(result.Messages, report.Message{
				Severity: report.SeverityError,
				Message:  fmt.Sprintf("could not write fixes: %v", err),
				Fatal:    true,
			})
			result.Output = ""
			result.Recount()
		}
	}
	return result
}

// writeFixed replaces the file content and syncs it so the fix is durable
// before the job is acknowledged.
func writeFixed(path, content string, perm fs.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (r *Runtime) state() RuntimeState {
	return r.acc.getState()
}

// State returns the runtime's lifecycle state.
func (r *Runtime) State() RuntimeState {
	return r.acc.getState()
}

// Results returns a copy of everything processed so far.
func (r *Runtime) Results() report.Report {
	return r.acc.snapshot()
}
