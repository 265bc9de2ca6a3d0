// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package pool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/parallint/services/parallint/lint"
	"github.com/AleutianAI/parallint/services/parallint/lint/linttest"
	"github.com/AleutianAI/parallint/services/parallint/protocol"
	"github.com/AleutianAI/parallint/services/parallint/worker"
)

// testWorkerEnv turns the test binary into a worker process when set.
const testWorkerEnv = "PARALLINT_POOL_TEST_WORKER"

func TestMain(m *testing.M) {
	switch os.Getenv(testWorkerEnv) {
	case "serve":
		conn := protocol.NewStreamConn(os.Stdin, os.Stdout)
		rt := worker.New(conn, worker.WithResolver(linttest.Resolver(&linttest.MarkerModule{})))
		if err := rt.Serve(context.Background()); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	case "badinit":
		// Replies failed to init and exits at once.
		missing := lint.ResolverFunc(func(name string) (lint.Module, error) {
			return nil, errors.New("module not installed: " + name)
		})
		rt := worker.New(protocol.NewStreamConn(os.Stdin, os.Stdout), worker.WithResolver(missing))
		_ = rt.Serve(context.Background())
		os.Exit(3)
	case "hang":
		// Ignores EOF on stdin so only the process group kill stops it.
		time.Sleep(time.Hour)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func testExecutable(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return exe
}

func TestExecSpawner_Pool(t *testing.T) {
	root := linttest.WriteTree(t, map[string]string{
		"a.js": "const BAD = 1;\n",
		"b.js": "const ok = 1;\n",
	})
	p, err := New(Config{
		Concurrency: 2,
		Options:     linttest.Options(root),
		Spawner: &ExecSpawner{
			Path:  testExecutable(t),
			Env:   []string{testWorkerEnv + "=serve"},
			Grace: time.Second,
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.Run(ctx, []string{filepath.Join(root, "a.js"), filepath.Join(root, "b.js")})
	require.NoError(t, err)

	c := nextCompletion(t, p)
	require.NoError(t, c.Err)
	assert.Equal(t, 2, c.Files)

	reports, err := p.GetReports(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Len(t, reports[0].Results, 2)
	assert.Equal(t, 1, reports[0].ErrorCount)

	require.NoError(t, p.SpinDown(ctx))
	assert.Equal(t, 0, p.Size())
}

func TestExecSpawner_InitFailureIsReported(t *testing.T) {
	root := linttest.WriteFiles(t, 1)
	p, err := New(Config{
		Concurrency: 1,
		Options:     linttest.Options(root),
		Spawner: &ExecSpawner{
			Path:  testExecutable(t),
			Env:   []string{testWorkerEnv + "=badinit"},
			Grace: time.Second,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.SpinDown(context.Background()) })

	for i := 0; i < 5; i++ {
		jobID, err := p.Run(context.Background(), []string{filepath.Join(root, "f000.js")})
		require.NoError(t, err)

		c := nextCompletion(t, p)
		assert.Equal(t, jobID, c.JobID)
		require.ErrorIs(t, c.Err, ErrWorkerInitFailed, "attempt %d", i)
		var werr *WorkerError
		require.True(t, errors.As(c.Err, &werr))
		assert.Contains(t, werr.Reason, "module not installed")

		assert.Eventually(t, func() bool { return p.Size() == 0 }, waitTimeout, 10*time.Millisecond)
	}
}

func TestExecSpawner_StopKillsUnresponsiveWorker(t *testing.T) {
	s := &ExecSpawner{
		Path:  testExecutable(t),
		Env:   []string{testWorkerEnv + "=hang"},
		Grace: 100 * time.Millisecond,
	}
	proc, err := s.Spawn(context.Background(), 1)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, proc.Stop(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-proc.Done():
	default:
		t.Fatal("worker process still running after Stop")
	}
}

func TestExecSpawner_MissingBinary(t *testing.T) {
	s := &ExecSpawner{Path: filepath.Join(t.TempDir(), "missing")}
	_, err := s.Spawn(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSpawnFailed)
}
