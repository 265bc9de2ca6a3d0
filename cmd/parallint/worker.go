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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/parallint/pkg/logging"
	"github.com/AleutianAI/parallint/services/parallint/pool"
	"github.com/AleutianAI/parallint/services/parallint/protocol"
	"github.com/AleutianAI/parallint/services/parallint/worker"
)

// newWorkerCmd is the entry point of worker processes started by
// pool.ExecSpawner. It speaks the protocol on stdin and stdout and logs JSON
// to stderr.
func (a *app) newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    pool.WorkerCommand,
		Short:  "Run as a lint worker (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(os.Getenv(logLevelEnv))
			if err != nil {
				level = logging.LevelWarn
			}
			logger := logging.New(logging.Config{
				Level:   level,
				Service: "parallint-worker",
				JSON:    true,
				Writer:  a.stderr,
			}).With("worker_pid", os.Getpid())
			defer logger.Close()

			opts := []worker.Option{worker.WithLogger(logger.Slog())}
			if a.resolver != nil {
				opts = append(opts, worker.WithResolver(a.resolver))
			}
			conn := protocol.NewStreamConn(os.Stdin, os.Stdout)
			if err := worker.New(conn, opts...).Serve(cmd.Context()); err != nil {
				return &exitError{code: exitFailure, err: err}
			}
			return nil
		},
	}
}
