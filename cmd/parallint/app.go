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
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/parallint/services/parallint/lint"
	"github.com/AleutianAI/parallint/services/parallint/pool"
)

// Exit codes.
const (
	exitOK      = 0
	exitLint    = 1
	exitFailure = 2
)

// logLevelEnv carries the supervisor's log level to worker processes.
const logLevelEnv = "PARALLINT_LOG_LEVEL"

// exitError ends the command with a specific exit code. A nil err means the
// reason was already reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// app holds the process-wide dependencies of the commands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// resolver overrides the linter registry in the supervisor and in
	// in-process workers.
	resolver lint.Resolver

	// spawner overrides the worker spawner chosen from flags.
	spawner pool.Spawner
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

// execute runs the command line and maps the outcome to an exit code.
func (a *app) execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := a.newRootCmd()
	root.SetArgs(args)
	if a.stdin != nil {
		root.SetIn(a.stdin)
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(a.stderr, "parallint: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(a.stderr, "parallint: %v\n", err)
	return exitFailure
}

func (a *app) newRootCmd() *cobra.Command {
	f := &lintFlags{}
	root := &cobra.Command{
		Use:   "parallint [flags] <patterns...>",
		Short: "Lint large file sets across a pool of worker processes",
		Long: `parallint enumerates the files matched by the given patterns, splits them
into batches and lints the batches in parallel worker processes. Results from
every worker are merged into one report.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLint(cmd, f, args)
		},
	}
	f.register(root)

	root.AddCommand(a.newWorkerCmd(), a.newServeCmd(f))
	return root
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

// colorEnabled follows the NO_COLOR convention on top of terminal detection.
func colorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isTerminal(w)
}
