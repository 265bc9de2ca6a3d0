// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package linttest provides lint modules and file trees for tests of the
// packages built on lint.
package linttest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/parallint/services/parallint/lint"
	"github.com/AleutianAI/parallint/services/parallint/report"
)

// MarkerModuleName is the module name Resolver resolves to a MarkerModule.
const MarkerModuleName = "marker"

// Marker is the text MarkerModule reports on.
const Marker = "BAD"

// MarkerModule reports one error per occurrence of Marker and fixes by
// deleting it. It counts the files it has verified.
type MarkerModule struct {
	verified atomic.Int64
}

// Name implements lint.Module.
func (m *MarkerModule) Name() string { return MarkerModuleName }

// Handles implements lint.Module.
func (m *MarkerModule) Handles(string) bool { return true }

// Verify implements lint.Module.
func (m *MarkerModule) Verify(ctx context.Context, src *lint.Source) ([]report.Message, error) {
	m.verified.Add(1)
	var out []report.Message
	for i, line := range strings.Split(string(src.Text), "\n") {
		if col := strings.Index(line, Marker); col >= 0 {
			out = append(out, report.Message{
				RuleID:   "no-marker",
				Severity: report.SeverityError,
				Message:  "marker found",
				Line:     i + 1,
				Column:   col + 1,
				Fixable:  true,
			})
		}
	}
	return out, nil
}

// Fix implements lint.Fixer.
func (m *MarkerModule) Fix(ctx context.Context, src *lint.Source) ([]byte, error) {
	return bytes.ReplaceAll(src.Text, []byte(Marker), nil), nil
}

// Verified returns how many sources Verify has seen.
func (m *MarkerModule) Verified() int64 {
	return m.verified.Load()
}

// Resolver resolves MarkerModuleName to mod and falls back to the default
// registry for every other name.
func Resolver(mod *MarkerModule) lint.Resolver {
	registry := lint.NewRegistry()
	return lint.ResolverFunc(func(name string) (lint.Module, error) {
		if name == MarkerModuleName {
			return mod, nil
		}
		return registry.Resolve(name)
	})
}

// Options returns options for cwd that run only the marker module.
func Options(cwd string) lint.Options {
	opts := lint.DefaultOptions(cwd)
	opts.Linters = []string{MarkerModuleName}
	return opts
}

// WriteTree creates files under a fresh temp directory and returns it.
func WriteTree(t testing.TB, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

// WriteFiles creates n clean files named f000.js, f001.js, ... under a temp
// directory and returns the directory.
func WriteFiles(t testing.TB, n int) string {
	t.Helper()
	files := make(map[string]string, n)
	for i := 0; i < n; i++ {
		files[fmt.Sprintf("f%03d.js", i)] = "const x = 1;\n"
	}
	return WriteTree(t, files)
}
