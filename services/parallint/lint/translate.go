// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/parallint/services/parallint/report"
)

// DefaultIgnoreFile is read from the working directory when no ignore path is set.
const DefaultIgnoreFile = ".parallintignore"

// Config is the translated, live form of Options.
//
// Thread Safety: Immutable after Translate returns; safe for concurrent use.
type Config struct {
	// Cwd is the absolute working directory.
	Cwd string

	Fix               bool
	AllowInlineConfig bool

	// Modules are the resolved linters in run order.
	Modules []Module

	// Rules maps rule ids to overriding severities.
	Rules map[string]report.Severity

	extensions map[string]bool
	ignore     *IgnoreMatcher
}

// FileConfig is the effective configuration for one file.
type FileConfig struct {
	*Config

	// Language is detected from the file extension.
	Language string

	// Modules is the subset of Config.Modules that handles Language.
	Modules []Module
}

// Translate converts an option bag into a Config.
//
// Description:
//
//	Resolves every named module through resolver concurrently, parses rule
//	severities, and builds the ignore matcher from defaults, the ignore file
//	and explicit patterns. Module resolution failure is returned as a
//	*ModuleError wrapping ErrModuleNotFound (or the resolver's error), which
//	makes the worker's initialization fail.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	opts - The option bag.
//	resolver - Resolves module names. Nil uses NewRegistry().
//
// Outputs:
//
//	*Config - The translated configuration.
//	error - ErrInvalidInput, ErrInvalidOption or a *ModuleError.
//
// Thread Safety: Safe for concurrent use.
func Translate(ctx context.Context, opts Options, resolver Resolver) (*Config, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	if resolver == nil {
		resolver = NewRegistry()
	}

	cwd := opts.Cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cwd = wd
	}
	cwd, err := filepath.Abs(cwd)
	if err != nil {
		return nil, fmt.Errorf("%w: cwd %q: %v", ErrInvalidOption, opts.Cwd, err)
	}

	rules := make(map[string]report.Severity, len(opts.Rules))
	for rule, value := range opts.Rules {
		sev, err := report.ParseSeverity(value)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", ErrInvalidOption, rule, err)
		}
		rules[rule] = sev
	}

	names := opts.Linters
	if len(names) == 0 {
		names = DefaultLinters
	}
	modules, err := resolveModules(ctx, names, resolver, opts)
	if err != nil {
		return nil, err
	}

	ignore, err := buildIgnoreMatcher(cwd, opts)
	if err != nil {
		return nil, err
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	extensions := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[ext] = true
	}

	return &Config{
		Cwd:               cwd,
		Fix:               opts.Fix,
		AllowInlineConfig: opts.AllowInlineConfig,
		Modules:           modules,
		Rules:             rules,
		extensions:        extensions,
		ignore:            ignore,
	}, nil
}

// resolveModules resolves names concurrently and keeps their order.
func resolveModules(ctx context.Context, names []string, resolver Resolver, opts Options) ([]Module, error) {
	modules := make([]Module, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mod, err := resolver.Resolve(name)
			if err != nil {
				return &ModuleError{Name: name, Err: err}
			}
			if ext, ok := mod.(*ExternalModule); ok {
				ext.cfg = ext.cfg.withTimeout(opts.LinterTimeout)
			}
			modules[i] = mod
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return modules, nil
}

func buildIgnoreMatcher(cwd string, opts Options) (*IgnoreMatcher, error) {
	if opts.NoIgnore {
		return NewIgnoreMatcher(nil), nil
	}

	patterns := append([]string{}, DefaultIgnorePatterns...)

	ignorePath := opts.IgnorePath
	explicit := ignorePath != ""
	if !explicit {
		ignorePath = DefaultIgnoreFile
	}
	if !filepath.IsAbs(ignorePath) {
		ignorePath = filepath.Join(cwd, ignorePath)
	}
	if explicit {
		if _, err := os.Stat(ignorePath); err != nil {
			return nil, fmt.Errorf("%w: ignore path: %v", ErrInvalidOption, err)
		}
	}
	fromFile, err := loadIgnoreFile(ignorePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read ignore file: %v", ErrInvalidOption, err)
	}
	patterns = append(patterns, fromFile...)
	patterns = append(patterns, opts.IgnorePatterns...)
	return NewIgnoreMatcher(patterns), nil
}

// Ignored reports whether the absolute or cwd-relative path is excluded.
func (c *Config) Ignored(path string) bool {
	return c.ignore.Ignored(c.Rel(path))
}

// Rel returns path relative to Cwd with forward slashes. Paths outside Cwd
// are returned cleaned but absolute.
func (c *Config) Rel(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path))
	}
	rel, err := filepath.Rel(c.Cwd, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Clean(path))
	}
	return filepath.ToSlash(rel)
}

// Abs resolves path against Cwd.
func (c *Config) Abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.Cwd, path)
}

// Lintable reports whether directory expansion should include path.
func (c *Config) Lintable(path string) bool {
	return c.extensions[strings.ToLower(filepath.Ext(path))]
}

// ForFile returns the effective configuration for path.
func (c *Config) ForFile(path string) *FileConfig {
	lang := LanguageFromPath(path)
	fc := &FileConfig{Config: c, Language: lang}
	for _, m := range c.Modules {
		if m.Handles(lang) {
			fc.Modules = append(fc.Modules, m)
		}
	}
	return fc
}
