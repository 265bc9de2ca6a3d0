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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collects bursts of events (editors often write a file in
// several steps) into one re-run.
const watchDebounce = 200 * time.Millisecond

// skippedDirs are never watched.
var skippedDirs = []string{".git", "node_modules", ".hg", ".svn"}

// watch runs lintOnce, then again after every settled burst of changes
// below the directories behind patterns, until ctx is cancelled.
func (a *app) watch(ctx context.Context, s *session, patterns []string, lintOnce func(context.Context) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()

	var skip []string
	if s.cache != nil {
		skip = append(skip, s.cfg.CacheDir(s.cwd))
	}
	for _, dir := range watchRoots(s.cwd, patterns) {
		if err := addRecursive(w, dir, skip); err != nil {
			return err
		}
	}

	logger := s.logger.Slog()
	return watchLoop(ctx, w, skip, watchDebounce, logger, func(ctx context.Context) {
		if err := lintOnce(ctx); err != nil && !isLintFailure(err) {
			fmt.Fprintf(a.stderr, "parallint: %v\n", err)
		}
		fmt.Fprintln(a.stderr, "Watching for changes. Press Ctrl+C to stop.")
	})
}

// watchLoop calls run once immediately and again whenever events settle
// for debounce.
func watchLoop(ctx context.Context, w *fsnotify.Watcher, skip []string, debounce time.Duration, logger *slog.Logger, run func(context.Context)) error {
	run(ctx)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if underAny(event.Name, skip) || isSkippedDir(filepath.Base(event.Name)) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addRecursive(w, event.Name, skip); err != nil {
						logger.Warn("watch new directory", slog.String("dir", event.Name), slog.String("error", err.Error()))
					}
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			logger.Debug("file changed", slog.String("file", event.Name), slog.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			run(ctx)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logger.Warn("watch events dropped, linting again")
				run(ctx)
				continue
			}
			logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// watchRoots returns the directories to watch for patterns: directories
// themselves, the parent of files and the static prefix of globs.
func watchRoots(cwd string, patterns []string) []string {
	var roots []string
	for _, p := range patterns {
		if i := strings.IndexAny(p, "*?["); i >= 0 {
			p = p[:i]
			if j := strings.LastIndexAny(p, `/\`); j >= 0 {
				p = p[:j+1]
			} else {
				p = "."
			}
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(cwd, p)
		}
		p = filepath.Clean(p)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			p = filepath.Dir(p)
		}
		roots = append(roots, p)
	}

	slices.Sort(roots)
	out := roots[:0]
	for _, r := range roots {
		if len(out) > 0 && underAny(r, out[len(out)-1:]) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func addRecursive(w *fsnotify.Watcher, root string, skip []string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isSkippedDir(d.Name()) || underAny(path, skip) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func isSkippedDir(name string) bool {
	return slices.Contains(skippedDirs, name)
}

// underAny reports whether path is one of dirs or below one of them.
func underAny(path string, dirs []string) bool {
	for _, d := range dirs {
		if path == d || strings.HasPrefix(path, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
