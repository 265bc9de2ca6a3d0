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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"time"

	"github.com/AleutianAI/parallint/services/parallint/report"
)

// =============================================================================
// LINTER CONFIGS
// =============================================================================

// LinterConfig describes how to invoke an external linter.
type LinterConfig struct {
	// Name is the module name, e.g. "golangci-lint".
	Name string

	// Command is the binary looked up in PATH.
	Command string

	// Args are passed before the file path.
	Args []string

	// FixArgs replace Args for a fix run. Empty means the linter cannot fix.
	FixArgs []string

	// Languages this linter applies to.
	Languages []string

	// Timeout bounds one invocation. Zero means 30 seconds.
	Timeout time.Duration

	// Parse converts the linter's stdout into messages.
	Parse ParserFunc
}

// DefaultLinterConfigs returns the built-in external linter adapters.
func DefaultLinterConfigs() []LinterConfig {
	return []LinterConfig{
		{
			Name:    "golangci-lint",
			Command: "golangci-lint",
			Args: []string{
				"run",
				"--out-format=json",
				"--issues-exit-code=0",
				"--timeout=30s",
			},
			FixArgs: []string{
				"run",
				"--fix",
				"--out-format=json",
				"--issues-exit-code=0",
				"--timeout=30s",
			},
			Languages: []string{"go"},
			Timeout:   30 * time.Second,
			Parse:     parseGolangCIOutput,
		},
		{
			Name:      "ruff",
			Command:   "ruff",
			Args:      []string{"check", "--output-format=json", "--exit-zero"},
			FixArgs:   []string{"check", "--fix", "--output-format=json", "--exit-zero"},
			Languages: []string{"python"},
			Timeout:   10 * time.Second,
			Parse:     parseRuffOutput,
		},
		{
			Name:      "eslint",
			Command:   "eslint",
			Args:      []string{"--format=json"},
			FixArgs:   []string{"--fix", "--format=json"},
			Languages: []string{"javascript", "typescript", "tsx"},
			Timeout:   30 * time.Second,
			Parse:     parseESLintOutput,
		},
	}
}

// =============================================================================
// EXTERNAL MODULE
// =============================================================================

// ExternalModule runs an external linter binary on a copy of the source.
//
// Description:
//
//	The source text is written to a temporary file next to the original so
//	that the linter discovers the same project configuration. The linter's
//	JSON output is parsed and file names are mapped back to the original
//	path. A fix run applies FixArgs to the temporary copy and returns its
//	content; the original file is never touched here.
//
// Thread Safety: Safe for concurrent use.
type ExternalModule struct {
	cfg      LinterConfig
	lookPath func(string) (string, error)
}

// NewExternalModule creates a module for cfg.
func NewExternalModule(cfg LinterConfig) *ExternalModule {
	return &ExternalModule{cfg: cfg, lookPath: exec.LookPath}
}

// Name implements Module.
func (m *ExternalModule) Name() string { return m.cfg.Name }

// Handles implements Module.
func (m *ExternalModule) Handles(language string) bool {
	return slices.Contains(m.cfg.Languages, language)
}

// Available reports whether the linter binary is in PATH.
func (m *ExternalModule) Available() bool {
	_, err := m.lookPath(m.cfg.Command)
	return err == nil
}

// Verify implements Module.
func (m *ExternalModule) Verify(ctx context.Context, src *Source) ([]report.Message, error) {
	messages, _, err := m.run(ctx, src, m.cfg.Args, false)
	return messages, err
}

// Fix implements Fixer.
func (m *ExternalModule) Fix(ctx context.Context, src *Source) ([]byte, error) {
	if len(m.cfg.FixArgs) == 0 {
		return src.Text, nil
	}
	_, fixed, err := m.run(ctx, src, m.cfg.FixArgs, true)
	if err != nil {
		return nil, err
	}
	return fixed, nil
}

func (m *ExternalModule) run(ctx context.Context, src *Source, args []string, readBack bool) ([]report.Message, []byte, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	if !m.Available() {
		return nil, nil, NewLinterError(m.cfg.Name, src.Language, ErrLinterNotInstalled)
	}

	tmp, err := os.CreateTemp(filepath.Dir(src.Path), ".parallint-*"+filepath.Ext(src.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(src.Text); err != nil {
		tmp.Close()
		return nil, nil, fmt.Errorf("writing temp file: %w", err)
	}
	tmp.Close()

	output, err := m.execute(ctx, append(slices.Clone(args), tmpPath), filepath.Dir(src.Path), src.Language)
	if err != nil {
		return nil, nil, err
	}

	var messages []report.Message
	if len(bytes.TrimSpace(output)) > 0 && m.cfg.Parse != nil {
		messages, err = m.cfg.Parse(output)
		if err != nil {
			return nil, nil, NewLinterError(m.cfg.Name, src.Language, fmt.Errorf("%w: %v", ErrParseOutput, err))
		}
	}
	for i := range messages {
		messages[i].Linter = m.cfg.Name
	}

	if !readBack {
		return messages, nil, nil
	}
	fixed, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading fixed file: %w", err)
	}
	return messages, fixed, nil
}

// execute runs the linter subprocess.
func (m *ExternalModule) execute(ctx context.Context, args []string, dir, language string) ([]byte, error) {
	timeout := m.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, m.cfg.Command, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return nil, NewLinterError(m.cfg.Name, language, ErrLinterTimeout).WithOutput(stderr.String())
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Linters exit non-zero when they find issues; only an empty stdout is a failure.
	if err != nil && stdout.Len() == 0 {
		return nil, NewLinterError(m.cfg.Name, language, ErrLinterFailed).WithOutput(stderr.String())
	}
	return stdout.Bytes(), nil
}

// withTimeout returns a copy of cfg whose timeout is d when d is positive.
func (cfg LinterConfig) withTimeout(d time.Duration) LinterConfig {
	if d > 0 {
		cfg.Timeout = d
	}
	return cfg
}
