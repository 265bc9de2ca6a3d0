// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/parallint/pkg/logging"
	"github.com/AleutianAI/parallint/services/parallint/cache"
	"github.com/AleutianAI/parallint/services/parallint/config"
	"github.com/AleutianAI/parallint/services/parallint/engine"
	"github.com/AleutianAI/parallint/services/parallint/pool"
	"github.com/AleutianAI/parallint/services/parallint/report"
	"github.com/AleutianAI/parallint/services/parallint/telemetry"
)

// session is everything one command invocation sets up before linting.
type session struct {
	cwd    string
	cfg    config.Config
	logger *logging.Logger
	cache  *cache.Cache

	shutdownTelemetry func(context.Context) error
}

// close releases the session's resources in reverse order of creation.
func (s *session) close(ctx context.Context) {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("close cache", slog.String("error", err.Error()))
		}
	}
	if s.shutdownTelemetry != nil {
		if err := s.shutdownTelemetry(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("shutdown telemetry", slog.String("error", err.Error()))
		}
	}
	_ = s.logger.Close()
}

// openSession loads configuration and starts logging, telemetry and the
// cache. metricExporter selects the OTel metric exporter when telemetry is
// otherwise configured for traces only.
func (a *app) openSession(cmd *cobra.Command, f *lintFlags, metricExporter string) (*session, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := f.loadConfig(cmd, cwd)
	if err != nil {
		return nil, &exitError{code: exitFailure, err: err}
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, &exitError{code: exitFailure, err: err}
	}
	s := &session{
		cwd: cwd,
		cfg: cfg,
		logger: logging.New(logging.Config{
			Level:   level,
			LogDir:  cfg.Logging.Dir,
			Service: "parallint",
			JSON:    cfg.Logging.JSON,
			Writer:  a.stderr,
		}),
	}

	shutdown, err := telemetry.Init(cmd.Context(), telemetryConfig(cfg, metricExporter))
	if err != nil {
		s.close(cmd.Context())
		return nil, err
	}
	s.shutdownTelemetry = shutdown

	if cfg.Cache.Enabled {
		storeCfg := cache.DefaultStoreConfig(cfg.CacheDir(cwd))
		storeCfg.Logger = s.logger.Slog()
		c, err := cache.Open(cache.Config{Store: storeCfg, TTL: cfg.Cache.TTL})
		if err != nil {
			s.close(cmd.Context())
			return nil, err
		}
		s.cache = c
	}
	return s, nil
}

// telemetryConfig maps the telemetry section onto exporter names.
func telemetryConfig(cfg config.Config, metricExporter string) telemetry.Config {
	tc := telemetry.DefaultConfig()
	switch cfg.Telemetry.Exporter {
	case telemetry.ExporterStdout:
		tc.TraceExporter = telemetry.ExporterStdout
		tc.MetricExporter = telemetry.ExporterStdout
	case telemetry.ExporterOTLP:
		tc.TraceExporter = telemetry.ExporterOTLP
		tc.OTLPEndpoint = cfg.Telemetry.Endpoint
	}
	if metricExporter != "" && tc.MetricExporter != telemetry.ExporterStdout {
		tc.MetricExporter = metricExporter
	}
	return tc
}

// engineConfig builds the engine configuration for a session.
func (a *app) engineConfig(s *session, f *lintFlags) engine.Config {
	opts := s.cfg.LintOptions(s.cwd)
	opts.NoIgnore = f.noIgnore

	logger := s.logger.Slog()
	spawner := a.spawner
	if spawner == nil {
		if f.inProcess {
			spawner = &pool.InProcessSpawner{Resolver: a.resolver, Logger: logger}
		} else {
			spawner = &pool.ExecSpawner{
				Stderr: a.stderr,
				Env:    []string{fmt.Sprintf("%s=%s", logLevelEnv, s.cfg.Logging.Level)},
				Logger: logger,
			}
		}
	}

	return engine.Config{
		Options:     opts,
		BatchSize:   s.cfg.BatchSize,
		Concurrency: s.cfg.Concurrency,
		Timeout:     s.cfg.Timeout,
		Spawner:     spawner,
		Resolver:    a.resolver,
		Cache:       s.cache,
		Logger:      logger,
	}
}

func (a *app) runLint(cmd *cobra.Command, f *lintFlags, patterns []string) error {
	if f.stdin {
		return a.lintStdin(cmd, f)
	}
	if err := engine.ValidatePatterns(patterns); err != nil {
		return &exitError{code: exitFailure, err: fmt.Errorf("%w\n\nUsage: %s", err, cmd.UseLine())}
	}

	s, err := a.openSession(cmd, f, "")
	if err != nil {
		return err
	}
	defer s.close(cmd.Context())

	formatter, err := newFormatter(s.cfg.Format, colorEnabled(a.stdout))
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}

	lintOnce := func(ctx context.Context) error {
		cfg := a.engineConfig(s, f)
		progress := newProgressPrinter(a.stderr, isTerminal(a.stderr) && s.cfg.Format == "stylish")
		cfg.OnJobDone = progress.update
		merged, err := engine.New(cfg).Run(ctx, patterns)
		progress.finish()
		if err != nil {
			return err
		}
		return a.emit(formatter, merged, f)
	}

	if f.watch {
		return a.watch(cmd.Context(), s, patterns, lintOnce)
	}
	return lintOnce(cmd.Context())
}

// lintStdin hands standard input to the engine, which rejects text input.
// The failure is a usage error.
func (a *app) lintStdin(cmd *cobra.Command, f *lintFlags) error {
	text, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return &exitError{code: exitFailure, err: fmt.Errorf("read stdin: %w", err)}
	}
	_, err = engine.New(engine.Config{}).LintText(cmd.Context(), string(text), f.stdinFilename)
	if err != nil {
		return &exitError{code: exitFailure, err: fmt.Errorf("%w; pass file paths instead of --stdin", err)}
	}
	return nil
}

// emit writes the report and returns an exitError when the run should exit
// with status 1.
func (a *app) emit(formatter Formatter, merged *report.MergedReport, f *lintFlags) error {
	shown := merged
	if f.quiet {
		shown = errorsOnly(merged)
	}
	if err := formatter.Format(a.stdout, shown); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if merged.ErrorCount > 0 {
		return &exitError{code: exitLint}
	}
	if f.maxWarnings >= 0 && merged.WarningCount > f.maxWarnings {
		return &exitError{code: exitLint, err: fmt.Errorf("%d warnings exceed --max-warnings %d", merged.WarningCount, f.maxWarnings)}
	}
	return nil
}

// isLintFailure reports whether err only signals lint findings.
func isLintFailure(err error) bool {
	var ee *exitError
	return errors.As(err, &ee) && ee.code == exitLint
}
