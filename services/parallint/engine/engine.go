// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine is the supervisor of a parallel lint run.
//
// A run enumerates files lazily, groups them into fixed-size batches,
// dispatches each batch to the worker pool, waits until every job has been
// acknowledged and merges the workers' reports with the results it recorded
// itself (ignored files and cache hits).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/parallint/services/parallint/cache"
	"github.com/AleutianAI/parallint/services/parallint/lint"
	"github.com/AleutianAI/parallint/services/parallint/pool"
	"github.com/AleutianAI/parallint/services/parallint/report"
)

// DefaultBatchSize is the number of files per job.
const DefaultBatchSize = 50

// spinDownTimeout bounds pool teardown after a run.
const spinDownTimeout = 10 * time.Second

var tracer = otel.Tracer("parallint.engine")

// Progress is passed to Config.OnJobDone after each job completes.
type Progress struct {
	RunID    string
	JobID    int
	WorkerID int

	// Files is the number of files in the completed job.
	Files int

	// FilesDone counts files in every job completed so far in the run.
	FilesDone int

	Err error
}

// Config configures an Engine.
type Config struct {
	// Options is the option bag sent to every worker.
	Options lint.Options

	// BatchSize is the number of files per job. Defaults to DefaultBatchSize.
	BatchSize int

	// Concurrency caps the worker count. Zero derives it from NumCPU.
	Concurrency int

	// Timeout bounds a whole run. Zero disables it.
	Timeout time.Duration

	// Spawner starts workers. Nil runs worker processes.
	Spawner pool.Spawner

	// Resolver is used for the supervisor's own option translation. It must
	// resolve the same names the workers do. Nil uses the default registry.
	Resolver lint.Resolver

	// Cache, when set, skips files whose results are still valid.
	Cache *cache.Cache

	// OnJobDone is called once per completed job, possibly concurrently.
	OnJobDone func(Progress)

	Logger *slog.Logger
}

// Engine runs parallel lint passes. Each Run uses a fresh worker pool.
//
// Thread Safety: Safe for concurrent use; concurrent runs do not share
// workers.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// LintText always fails: text input needs no parallelism and is served by
// a single in-process engine instead.
func (e *Engine) LintText(ctx context.Context, text, path string) (*report.MergedReport, error) {
	return nil, ErrUnsupportedMode
}

// ValidatePatterns checks that patterns is non-empty and has no blank entry.
func ValidatePatterns(patterns []string) error {
	if len(patterns) == 0 {
		return fmt.Errorf("%w: at least one file pattern is required", ErrInvalidArgument)
	}
	for i, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: pattern %d is blank", ErrInvalidArgument, i)
		}
	}
	return nil
}

// runState is the supervisor's bookkeeping for one Run.
type runState struct {
	id        string
	start     time.Time
	pending   int
	jobs      int
	ignored   []report.Result
	cached    []report.Result
	hashes    map[string]uint64
	filesDone atomic.Int64
}

// Run lints every file matched by patterns.
//
// Description:
//
//	Patterns are validated before anything else happens. Files are then
//	enumerated lazily: ignored files become ignore results, cache hits
//	become their cached results, and the rest fill batches of BatchSize
//	that are dispatched as soon as they are full. The remainder is
//	dispatched at the end. Run then waits for one completion per job. A
//	job lost with its worker aborts the run. Finally every worker's report
//	is collected and merged. The pool is spun down on every path.
//
// Inputs:
//
//	ctx - Cancels the run.
//	patterns - File, directory or glob patterns.
//
// Outputs:
//
//	*report.MergedReport - The merged results and run statistics.
//	error - ErrInvalidArgument, ErrRunTimeout, ErrJobFailed (wrapping a
//	*pool.WorkerError), lint.ErrNoFilesMatched or a translation error.
func (e *Engine) Run(ctx context.Context, patterns []string) (*report.MergedReport, error) {
	if err := ValidatePatterns(patterns); err != nil {
		return nil, err
	}

	st := &runState{id: uuid.NewString(), start: time.Now(), hashes: make(map[string]uint64)}
	logger := e.logger.With(slog.String("run_id", st.id))

	ctx, span := tracer.Start(ctx, "parallint.engine.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", st.id),
		attribute.Int("patterns", len(patterns)),
		attribute.Int("batch_size", e.cfg.BatchSize),
	)

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.cfg.Timeout, ErrRunTimeout)
		defer cancel()
	}

	merged, err := e.run(ctx, st, patterns, logger)
	if err != nil {
		if errors.Is(context.Cause(ctx), ErrRunTimeout) {
			err = fmt.Errorf("%w after %s", ErrRunTimeout, e.cfg.Timeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("lint run failed",
			slog.String("error", err.Error()),
			slog.Int("jobs", st.jobs),
			slog.Duration("elapsed", time.Since(st.start)))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("jobs", merged.JobCount),
		attribute.Int("workers", merged.WorkerCount),
		attribute.Int("results", len(merged.Results)),
		attribute.Int("errors", merged.ErrorCount),
	)
	logger.Info("lint run complete",
		slog.Int("files", len(merged.Results)),
		slog.Int("jobs", merged.JobCount),
		slog.Int("workers", merged.WorkerCount),
		slog.Int("errors", merged.ErrorCount),
		slog.Int("warnings", merged.WarningCount),
		slog.Duration("duration", merged.Duration))
	return merged, nil
}

func (e *Engine) run(ctx context.Context, st *runState, patterns []string, logger *slog.Logger) (*report.MergedReport, error) {
	cfg, err := lint.Translate(ctx, e.cfg.Options, e.cfg.Resolver)
	if err != nil {
		return nil, fmt.Errorf("translate options: %w", err)
	}
	enumerator := lint.NewEnumerator(cfg)

	var fingerprint uint64
	if e.cfg.Cache != nil {
		if fingerprint, err = cache.Fingerprint(e.cfg.Options); err != nil {
			return nil, err
		}
	}

	p, err := pool.New(pool.Config{
		Concurrency: e.cfg.Concurrency,
		Options:     e.cfg.Options,
		Spawner:     e.cfg.Spawner,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), spinDownTimeout)
		defer cancel()
		if err := p.SpinDown(downCtx); err != nil {
			logger.Warn("pool spin down", slog.String("error", err.Error()))
		}
	}()

	if e.cfg.OnJobDone != nil {
		p.OnTaskCompleted(func(c pool.Completion) {
			done := st.filesDone.Add(int64(c.Files))
			e.cfg.OnJobDone(Progress{
				RunID:     st.id,
				JobID:     c.JobID,
				WorkerID:  c.WorkerID,
				Files:     c.Files,
				FilesDone: int(done),
				Err:       c.Err,
			})
		})
	}

	batch := make([]string, 0, e.cfg.BatchSize)
	dispatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := p.Run(ctx, batch); err != nil {
			return fmt.Errorf("dispatch job: %w", err)
		}
		st.pending++
		st.jobs++
		batch = make([]string, 0, e.cfg.BatchSize)
		return nil
	}

	for entry, err := range enumerator.Iterate(patterns) {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.Ignored {
			st.ignored = append(st.ignored, report.IgnoredResult(entry.FilePath))
			continue
		}
		if e.cfg.Cache != nil && e.lookupCache(st, entry.FilePath, fingerprint, logger) {
			continue
		}
		batch = append(batch, entry.FilePath)
		if len(batch) >= e.cfg.BatchSize {
			if err := dispatch(); err != nil {
				return nil, err
			}
		}
	}
	if err := dispatch(); err != nil {
		return nil, err
	}

	logger.Debug("enumeration finished",
		slog.Int("jobs", st.jobs),
		slog.Int("ignored", len(st.ignored)),
		slog.Int("cached", len(st.cached)))

	if err := awaitJobs(ctx, p, st); err != nil {
		return nil, err
	}

	reports, err := p.GetReports(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect reports: %w", err)
	}

	if e.cfg.Cache != nil {
		e.storeCache(st, reports, fingerprint, logger)
	}

	all := append(reports, report.NewReport(st.ignored), report.NewReport(st.cached))
	return &report.MergedReport{
		Report:      report.Merge(all...),
		RunID:       st.id,
		JobCount:    st.jobs,
		WorkerCount: len(reports),
		Duration:    time.Since(st.start),
	}, nil
}

// awaitJobs is the countdown barrier: it returns once every dispatched job
// has completed, or on the first failed job.
func awaitJobs(ctx context.Context, p *pool.Pool, st *runState) error {
	for st.pending > 0 {
		select {
		case c, ok := <-p.Completions():
			if !ok {
				return fmt.Errorf("%w: pool closed with %d jobs pending", ErrJobFailed, st.pending)
			}
			st.pending--
			if c.Err != nil {
				return fmt.Errorf("%w: job %d: %w", ErrJobFailed, c.JobID, c.Err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// lookupCache records a cache hit for path and reports whether there was one.
// On a miss the content hash is kept for storing the fresh result.
func (e *Engine) lookupCache(st *runState, path string, fingerprint uint64, logger *slog.Logger) bool {
	text, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	hash := cache.ContentHash(text)
	res, ok, err := e.cfg.Cache.Get(path, hash, fingerprint)
	if err != nil {
		logger.Warn("cache lookup failed", slog.String("file", path), slog.String("error", err.Error()))
		return false
	}
	if ok {
		st.cached = append(st.cached, res)
		return true
	}
	st.hashes[path] = hash
	return false
}

func (e *Engine) storeCache(st *runState, reports []report.Report, fingerprint uint64, logger *slog.Logger) {
	for _, r := range reports {
		for _, res := range r.Results {
			hash, ok := st.hashes[res.FilePath]
			if !ok {
				continue
			}
			if err := e.cfg.Cache.Put(res.FilePath, hash, fingerprint, res); err != nil {
				logger.Warn("cache store failed", slog.String("file", res.FilePath), slog.String("error", err.Error()))
			}
		}
	}
}
