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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/parallint/services/parallint/config"
	"github.com/AleutianAI/parallint/services/parallint/report"
)

// lintFlags are the flags shared by the lint and serve commands.
type lintFlags struct {
	configPath string

	fix            bool
	linters        []string
	rules          []string
	ignorePatterns []string
	ignorePath     string
	noIgnore       bool
	extensions     []string
	noInlineConfig bool

	concurrency int
	batchSize   int
	timeout     time.Duration
	inProcess   bool

	format      string
	quiet       bool
	maxWarnings int

	cache         bool
	cacheLocation string

	logLevel string
	logJSON  bool

	watch bool

	stdin         bool
	stdinFilename string
}

func (f *lintFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Path to a .parallint.yaml file (default: searched upward from the working directory)")
	pf.BoolVar(&f.fix, "fix", false, "Apply automatic fixes and write them to disk")
	pf.StringSliceVar(&f.linters, "linter", nil, "Linter to run, repeatable (syntax, eslint, ruff, golangci-lint)")
	pf.StringArrayVar(&f.rules, "rule", nil, "Rule severity override as id=off|warn|error, repeatable")
	pf.StringArrayVar(&f.ignorePatterns, "ignore-pattern", nil, "Additional ignore pattern, repeatable")
	pf.StringVar(&f.ignorePath, "ignore-path", "", "File with one ignore pattern per line")
	pf.BoolVar(&f.noIgnore, "no-ignore", false, "Disable every ignore rule")
	pf.StringSliceVar(&f.extensions, "ext", nil, "File extensions to lint when expanding directories")
	pf.BoolVar(&f.noInlineConfig, "no-inline-config", false, "Ignore parallint-disable comments")
	pf.IntVarP(&f.concurrency, "concurrency", "j", 0, "Maximum worker count (default: number of CPUs minus one)")
	pf.IntVar(&f.batchSize, "batch-size", 0, "Files per job (default 50)")
	pf.DurationVar(&f.timeout, "timeout", 0, "Abort the run after this long, 0 disables (default 10m)")
	pf.BoolVar(&f.inProcess, "in-process", false, "Run workers as goroutines instead of processes")
	pf.StringVar(&f.cacheLocation, "cache-location", "", "Directory of the result cache")
	pf.BoolVar(&f.cache, "cache", false, "Skip files whose cached results are still valid")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.BoolVar(&f.logJSON, "log-json", false, "Log JSON records")

	fl := cmd.Flags()
	fl.StringVarP(&f.format, "format", "f", "", "Output format: stylish or json")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "Report errors only")
	fl.IntVar(&f.maxWarnings, "max-warnings", -1, "Exit with status 1 when there are more warnings than this")
	fl.BoolVarP(&f.watch, "watch", "w", false, "Lint again whenever a watched file changes")
	fl.BoolVar(&f.stdin, "stdin", false, "Lint text read from standard input (not supported by the parallel engine)")
	fl.StringVar(&f.stdinFilename, "stdin-filename", "", "Path to report for text read with --stdin")
}

// loadConfig reads the configuration file, then applies every flag the
// user set explicitly.
func (f *lintFlags) loadConfig(cmd *cobra.Command, cwd string) (config.Config, error) {
	path := f.configPath
	if path == "" {
		found, err := config.Find(cwd)
		if err != nil {
			return config.Config{}, err
		}
		path = found
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := f.apply(cmd.Flags(), &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (f *lintFlags) apply(flags *pflag.FlagSet, cfg *config.Config) error {
	changed := flags.Changed

	if changed("fix") {
		cfg.Fix = f.fix
	}
	if changed("linter") {
		cfg.Linters = f.linters
	}
	if changed("rule") {
		if cfg.Rules == nil {
			cfg.Rules = make(map[string]string, len(f.rules))
		}
		for _, r := range f.rules {
			id, sev, ok := strings.Cut(r, "=")
			if !ok || id == "" {
				return fmt.Errorf("%w: --rule %q must be id=severity", config.ErrInvalidConfig, r)
			}
			if _, err := report.ParseSeverity(sev); err != nil {
				return fmt.Errorf("%w: --rule %s: %v", config.ErrInvalidConfig, id, err)
			}
			cfg.Rules[id] = sev
		}
	}
	if changed("ignore-pattern") {
		cfg.IgnorePatterns = append(cfg.IgnorePatterns, f.ignorePatterns...)
	}
	if changed("ignore-path") {
		cfg.IgnorePath = f.ignorePath
	}
	if changed("ext") {
		cfg.Extensions = f.extensions
	}
	if changed("no-inline-config") {
		cfg.AllowInlineConfig = !f.noInlineConfig
	}
	if changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if changed("batch-size") {
		cfg.BatchSize = f.batchSize
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if changed("format") {
		cfg.Format = f.format
	}
	if changed("cache") {
		cfg.Cache.Enabled = f.cache
	}
	if changed("cache-location") {
		cfg.Cache.Dir = f.cacheLocation
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	} else if lvl := os.Getenv(logLevelEnv); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if changed("log-json") {
		cfg.Logging.JSON = f.logJSON
	}
	return nil
}
