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
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
)

// FileEntry is one file produced by the enumerator.
type FileEntry struct {
	// Config is the effective configuration for the file.
	Config *FileConfig

	// FilePath is absolute.
	FilePath string

	// Ignored is set for files named explicitly that match an ignore rule.
	// Ignored entries must not be linted.
	Ignored bool
}

// Enumerator expands path patterns into files lazily.
//
// Thread Safety: Safe for concurrent use. Each Iterate call starts a new walk.
type Enumerator struct {
	config *Config
}

// NewEnumerator creates an enumerator bound to cfg.
func NewEnumerator(cfg *Config) *Enumerator {
	return &Enumerator{config: cfg}
}

// ConfigFor resolves the effective configuration of a single file.
func (e *Enumerator) ConfigFor(path string) *FileConfig {
	return e.config.ForFile(path)
}

// Iterate yields the files matched by patterns, in pattern order.
//
// Description:
//
//	A pattern naming a file yields that file, flagged Ignored when an
//	ignore rule matches it. A directory is walked recursively and yields
//	every lintable file not ignored; ignored directories are not descended.
//	A glob is walked from its static base directory. Each file is yielded
//	at most once per call even when several patterns match it. A pattern
//	that yields nothing produces an ErrNoFilesMatched error and iteration
//	stops.
//
// Inputs:
//
//	patterns - File, directory or glob patterns, relative to Cwd or absolute.
//
// Outputs:
//
//	iter.Seq2[FileEntry, error] - Entries, or a single terminal error.
func (e *Enumerator) Iterate(patterns []string) iter.Seq2[FileEntry, error] {
	return func(yield func(FileEntry, error) bool) {
		seen := make(map[string]bool)
		for _, pattern := range patterns {
			found := 0
			emit := func(abs string, ignored bool) bool {
				found++
				if seen[abs] {
					return true
				}
				seen[abs] = true
				return yield(FileEntry{Config: e.config.ForFile(abs), FilePath: abs, Ignored: ignored}, nil)
			}

			cont, err := e.expand(pattern, emit)
			if err != nil {
				yield(FileEntry{}, err)
				return
			}
			if !cont {
				return
			}
			if found == 0 {
				yield(FileEntry{}, fmt.Errorf("%w: %q", ErrNoFilesMatched, pattern))
				return
			}
		}
	}
}

// errStop aborts a directory walk when the consumer stops iterating.
var errStop = errors.New("stop")

// expand feeds every file matched by pattern to emit. It returns false when
// emit asked to stop.
func (e *Enumerator) expand(pattern string, emit func(string, bool) bool) (bool, error) {
	cfg := e.config

	if isGlobPattern(pattern) {
		glob := filepath.ToSlash(cfg.Rel(cfg.Abs(pattern)))
		return e.walk(cfg.Abs(globBase(pattern)), func(abs string) bool {
			return matchGlob(glob, cfg.Rel(abs))
		}, emit)
	}

	abs := cfg.Abs(pattern)
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return true, fmt.Errorf("%w: %q", ErrNoFilesMatched, pattern)
		}
		return true, fmt.Errorf("stat %s: %w", pattern, err)
	}
	if !info.IsDir() {
		return emit(abs, cfg.Ignored(abs)), nil
	}
	return e.walk(abs, cfg.Lintable, emit)
}

func (e *Enumerator) walk(root string, include func(string) bool, emit func(string, bool) bool) (bool, error) {
	cfg := e.config
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if p != root && cfg.Ignored(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || cfg.Ignored(p) || !include(p) {
			return nil
		}
		if !emit(p, false) {
			return errStop
		}
		return nil
	})
	if errors.Is(err, errStop) {
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("walk %s: %w", root, err)
	}
	return true, nil
}
