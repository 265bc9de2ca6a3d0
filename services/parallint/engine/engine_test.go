// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/parallint/services/parallint/cache"
	"github.com/AleutianAI/parallint/services/parallint/lint"
	"github.com/AleutianAI/parallint/services/parallint/lint/linttest"
	"github.com/AleutianAI/parallint/services/parallint/pool"
	"github.com/AleutianAI/parallint/services/parallint/protocol"
	"github.com/AleutianAI/parallint/services/parallint/report"
)

// countingSpawner counts the workers started through it.
type countingSpawner struct {
	inner   pool.Spawner
	spawned atomic.Int32
}

func (s *countingSpawner) Spawn(ctx context.Context, id int) (pool.Process, error) {
	s.spawned.Add(1)
	return s.inner.Spawn(ctx, id)
}

// crashingSpawner starts workers that exit as soon as they receive a job.
type crashingSpawner struct{}

func (crashingSpawner) Spawn(ctx context.Context, id int) (pool.Process, error) {
	sup, wrk := protocol.Pipe()
	p := &crashedProcess{conn: sup, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for msg := range wrk.Recv() {
			if msg.Kind == protocol.KindFiles {
				wrk.Close()
				return
			}
		}
	}()
	return p, nil
}

type crashedProcess struct {
	conn protocol.Conn
	done chan struct{}
}

func (p *crashedProcess) Conn() protocol.Conn   { return p.conn }
func (p *crashedProcess) Done() <-chan struct{} { return p.done }
func (p *crashedProcess) Stop(ctx context.Context) error {
	p.conn.Close()
	return nil
}

// ackThenCrashSpawner starts workers that acknowledge each job without
// linting it and exit right after.
type ackThenCrashSpawner struct{}

func (ackThenCrashSpawner) Spawn(ctx context.Context, id int) (pool.Process, error) {
	sup, wrk := protocol.Pipe()
	p := &crashedProcess{conn: sup, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for msg := range wrk.Recv() {
			if msg.Kind == protocol.KindFiles {
				_ = wrk.Send(context.Background(), protocol.Done(msg.JobID))
				wrk.Close()
				return
			}
		}
	}()
	return p, nil
}

// blockingModule never finishes until its context is cancelled.
type blockingModule struct{}

func (blockingModule) Name() string        { return "blocking" }
func (blockingModule) Handles(string) bool { return true }
func (blockingModule) Verify(ctx context.Context, src *lint.Source) ([]report.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestEngine(t *testing.T, root string, mod *linttest.MarkerModule, mutate func(*Config)) (*Engine, *countingSpawner) {
	t.Helper()
	resolver := linttest.Resolver(mod)
	spawner := &countingSpawner{inner: &pool.InProcessSpawner{Resolver: resolver}}
	cfg := Config{
		Options:     linttest.Options(root),
		Concurrency: 4,
		Spawner:     spawner,
		Resolver:    resolver,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), spawner
}

func filePaths(results []report.Result) []string {
	paths := make([]string, len(results))
	for i, r := range results {
		paths[i] = r.FilePath
	}
	sort.Strings(paths)
	return paths
}

func TestEngine_Batching(t *testing.T) {
	root := linttest.WriteFiles(t, 120)
	mod := &linttest.MarkerModule{}

	var mu sync.Mutex
	var sizes []int
	eng, _ := newTestEngine(t, root, mod, func(cfg *Config) {
		cfg.OnJobDone = func(p Progress) {
			mu.Lock()
			defer mu.Unlock()
			sizes = append(sizes, p.Files)
		}
	})

	merged, err := eng.Run(context.Background(), []string{"."})
	require.NoError(t, err)

	assert.Equal(t, 3, merged.JobCount)
	assert.Len(t, merged.Results, 120)
	assert.Equal(t, 0, merged.ErrorCount)
	assert.LessOrEqual(t, merged.WorkerCount, 3)
	assert.NotEmpty(t, merged.RunID)
	assert.Equal(t, int64(120), mod.Verified())

	mu.Lock()
	defer mu.Unlock()
	sort.Ints(sizes)
	assert.Equal(t, []int{20, 50, 50}, sizes)
}

func TestEngine_SmallRun(t *testing.T) {
	root := linttest.WriteTree(t, map[string]string{
		"a.js": "const a = 1;\n",
		"b.js": "const b = 2;\n",
	})
	eng, spawner := newTestEngine(t, root, &linttest.MarkerModule{}, nil)

	merged, err := eng.Run(context.Background(), []string{"a.js", "b.js"})
	require.NoError(t, err)

	assert.Equal(t, 1, merged.JobCount)
	assert.Equal(t, 1, merged.WorkerCount)
	assert.Equal(t, int32(1), spawner.spawned.Load())
	assert.Equal(t, 0, merged.ErrorCount)
	assert.Equal(t, 0, merged.WarningCount)
	assert.Equal(t, []string{filepath.Join(root, "a.js"), filepath.Join(root, "b.js")}, filePaths(merged.Results))
}

func TestEngine_MergesCounts(t *testing.T) {
	root := linttest.WriteTree(t, map[string]string{
		"a.js":        "BAD\n",
		"b.js":        "BAD\nBAD\n",
		"c.js":        "fine\n",
		"vendor/v.js": "BAD\n",
	})
	eng, _ := newTestEngine(t, root, &linttest.MarkerModule{}, func(cfg *Config) {
		cfg.BatchSize = 1
		cfg.Options.IgnorePatterns = []string{"vendor/"}
	})

	merged, err := eng.Run(context.Background(), []string{"a.js", "b.js", "c.js", "vendor/v.js"})
	require.NoError(t, err)

	assert.Equal(t, 3, merged.JobCount)
	assert.Len(t, merged.Results, 4)
	assert.Equal(t, 3, merged.ErrorCount)
	assert.Equal(t, 3, merged.FixableErrorCount)
	assert.Equal(t, 1, merged.WarningCount, "ignore result warning")

	var ignored int
	for _, r := range merged.Results {
		if r.Ignored {
			ignored++
			assert.Equal(t, filepath.Join(root, "vendor", "v.js"), r.FilePath)
		}
	}
	assert.Equal(t, 1, ignored)
}

func TestEngine_InvalidPatterns(t *testing.T) {
	tests := map[string][]string{
		"nil":           nil,
		"empty":         {},
		"empty string":  {""},
		"whitespace":    {"a.js", "   "},
		"trailing tabs": {"\t"},
	}
	for name, patterns := range tests {
		t.Run(name, func(t *testing.T) {
			eng, spawner := newTestEngine(t, t.TempDir(), &linttest.MarkerModule{}, nil)
			_, err := eng.Run(context.Background(), patterns)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Equal(t, int32(0), spawner.spawned.Load())
		})
	}
}

func TestEngine_AllIgnored(t *testing.T) {
	root := linttest.WriteTree(t, map[string]string{
		"gen/a.js": "BAD\n",
		"gen/b.js": "BAD\n",
	})
	eng, spawner := newTestEngine(t, root, &linttest.MarkerModule{}, func(cfg *Config) {
		cfg.Options.IgnorePatterns = []string{"gen/**"}
	})

	merged, err := eng.Run(context.Background(), []string{"gen/a.js", "gen/b.js"})
	require.NoError(t, err)
	assert.Equal(t, 0, merged.JobCount)
	assert.Equal(t, 0, merged.WorkerCount)
	assert.Equal(t, int32(0), spawner.spawned.Load())
	assert.Len(t, merged.Results, 2)
	assert.Equal(t, 0, merged.ErrorCount)
	assert.Equal(t, 2, merged.WarningCount)
}

func TestEngine_NoFilesMatched(t *testing.T) {
	root := linttest.WriteFiles(t, 1)
	eng, spawner := newTestEngine(t, root, &linttest.MarkerModule{}, nil)

	_, err := eng.Run(context.Background(), []string{"missing/*.js"})
	assert.ErrorIs(t, err, lint.ErrNoFilesMatched)
	assert.Equal(t, int32(0), spawner.spawned.Load())
}

func TestEngine_WorkerCrash(t *testing.T) {
	root := linttest.WriteFiles(t, 3)
	eng, _ := newTestEngine(t, root, &linttest.MarkerModule{}, func(cfg *Config) {
		cfg.Spawner = crashingSpawner{}
	})

	_, err := eng.Run(context.Background(), []string{"."})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.ErrorIs(t, err, pool.ErrWorkerExited)
	var werr *pool.WorkerError
	assert.True(t, errors.As(err, &werr))
}

func TestEngine_WorkerCrashAfterDone(t *testing.T) {
	root := linttest.WriteFiles(t, 3)
	eng, _ := newTestEngine(t, root, &linttest.MarkerModule{}, func(cfg *Config) {
		cfg.Spawner = ackThenCrashSpawner{}
	})

	merged, err := eng.Run(context.Background(), []string{"."})
	assert.Nil(t, merged)
	require.Error(t, err)
	assert.ErrorIs(t, err, pool.ErrWorkerExited)
	var werr *pool.WorkerError
	assert.True(t, errors.As(err, &werr))
}

func TestEngine_InitFailure(t *testing.T) {
	root := linttest.WriteFiles(t, 2)
	// The supervisor resolves the module but the workers do not.
	eng, _ := newTestEngine(t, root, &linttest.MarkerModule{}, func(cfg *Config) {
		cfg.Spawner = &pool.InProcessSpawner{Resolver: lint.NewRegistry()}
	})

	_, err := eng.Run(context.Background(), []string{"."})
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.ErrorIs(t, err, pool.ErrWorkerInitFailed)
}

func TestEngine_Timeout(t *testing.T) {
	root := linttest.WriteFiles(t, 2)
	resolver := lint.ResolverFunc(func(name string) (lint.Module, error) {
		return blockingModule{}, nil
	})
	eng := New(Config{
		Options:  linttest.Options(root),
		Timeout:  100 * time.Millisecond,
		Spawner:  &pool.InProcessSpawner{Resolver: resolver},
		Resolver: resolver,
	})

	start := time.Now()
	_, err := eng.Run(context.Background(), []string{"."})
	assert.ErrorIs(t, err, ErrRunTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEngine_Cancelled(t *testing.T) {
	root := linttest.WriteFiles(t, 2)
	eng, _ := newTestEngine(t, root, &linttest.MarkerModule{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Run(ctx, []string{"."})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_Cache(t *testing.T) {
	root := linttest.WriteTree(t, map[string]string{
		"a.js": "BAD\n",
		"b.js": "ok\n",
	})
	c, err := cache.Open(cache.Config{Store: cache.InMemoryStoreConfig()})
	require.NoError(t, err)
	defer c.Close()

	mod := &linttest.MarkerModule{}
	eng, _ := newTestEngine(t, root, mod, func(cfg *Config) { cfg.Cache = c })

	first, err := eng.Run(context.Background(), []string{"."})
	require.NoError(t, err)
	assert.Equal(t, 1, first.JobCount)
	assert.Equal(t, int64(2), mod.Verified())

	second, err := eng.Run(context.Background(), []string{"."})
	require.NoError(t, err)
	assert.Equal(t, 0, second.JobCount)
	assert.Equal(t, int64(2), mod.Verified(), "cached files are not linted again")
	assert.Equal(t, first.Stats, second.Stats)
	assert.Equal(t, filePaths(first.Results), filePaths(second.Results))

	t.Run("edited file is linted again", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "b.js"), []byte("BAD\n"), 0o644))
		third, err := eng.Run(context.Background(), []string{"."})
		require.NoError(t, err)
		assert.Equal(t, 1, third.JobCount)
		assert.Equal(t, int64(3), mod.Verified())
		assert.Equal(t, 2, third.ErrorCount)
	})
}

func TestEngine_LintText(t *testing.T) {
	eng := New(Config{})
	_, err := eng.LintText(context.Background(), "const x = 1;", "x.js")
	assert.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestNew_Defaults(t *testing.T) {
	eng := New(Config{})
	assert.Equal(t, DefaultBatchSize, eng.cfg.BatchSize)
	assert.NotNil(t, eng.logger)
}
