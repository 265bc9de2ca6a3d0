// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worker

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
)

const recvTimeout = 5 * time.Second

// harness runs a Runtime on one end of a pipe and drives it from the other.
type harness struct {
	t       *testing.T
	sup     protocol.Conn
	rt      *Runtime
	served  chan error
	cancel  context.CancelFunc
	options lint.Options
}

func newHarness(t *testing.T, opts lint.Options, rtOpts ...Option) *harness {
	t.Helper()
	sup, wrk := protocol.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:       t,
		sup:     sup,
		rt:      New(wrk, rtOpts...),
		served:  make(chan error, 1),
		cancel:  cancel,
		options: opts,
	}
	go func() { h.served <- h.rt.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		sup.Close()
	})
	return h
}

func (h *harness) send(msg *protocol.Message) {
	h.t.Helper()
	require.NoError(h.t, h.sup.Send(context.Background(), msg))
}

func (h *harness) init() {
	h.t.Helper()
	raw, err := h.options.Marshal()
	require.NoError(h.t, err)
	h.send(protocol.Init(1, raw))
}

func (h *harness) recv() *protocol.Message {
	h.t.Helper()
	select {
	case msg, ok := <-h.sup.Recv():
		require.True(h.t, ok, "worker closed the connection: %v", h.sup.Err())
		return msg
	case <-time.After(recvTimeout):
		h.t.Fatal("timed out waiting for worker message")
		return nil
	}
}

func (h *harness) report() *protocol.Message {
	h.t.Helper()
	h.send(protocol.ReportRequest())
	msg := h.recv()
	require.Equal(h.t, protocol.KindReportBack, msg.Kind)
	require.NotNil(h.t, msg.Report)
	return msg
}

func TestRuntime_FilesAndReport(t *testing.T) {
	root := linttest.WriteTree(t, map[string]string{
		"a.js": "const a = 1;\n",
		"b.js": "BAD\nconst b = 2; BAD\n",
	})
	mod := &linttest.MarkerModule{}
	h := newHarness(t, linttest.Options(root), WithResolver(linttest.Resolver(mod)))
	h.init()

	h.send(protocol.Files(7, []string{filepath.Join(root, "a.js"), filepath.Join(root, "b.js")}))
	done := h.recv()
	assert.Equal(t, protocol.KindDone, done.Kind)
	assert.Equal(t, 7, done.JobID)

	msg := h.report()
	require.Len(t, msg.Report.Results, 2)
	assert.Equal(t, filepath.Join(root, "a.js"), msg.Report.Results[0].FilePath)
	assert.Equal(t, 0, msg.Report.Results[0].ErrorCount)
	assert.Equal(t, 2, msg.Report.Results[1].ErrorCount)
	assert.Equal(t, 2, msg.Report.ErrorCount)
	assert.Equal(t, int64(2), mod.Verified())
}

func TestRuntime_QueuesMessagesUntilInitCompletes(t *testing.T) {
	root := linttest.WriteFiles(t, 3)
	mod := &linttest.MarkerModule{}
	release := make(chan struct{})
	resolver := linttest.Resolver(mod)

	h := newHarness(t, linttest.Options(root), WithTranslator(func(ctx context.Context, opts lint.Options) (*lint.Config, error) {
		<-release
		return lint.Translate(ctx, opts, resolver)
	}))
	h.init()
	h.send(protocol.Files(1, []string{filepath.Join(root, "f000.js")}))
	h.send(protocol.Files(2, []string{filepath.Join(root, "f001.js"), filepath.Join(root, "f002.js")}))
	h.send(protocol.ReportRequest())

	select {
	case msg := <-h.sup.Recv():
		t.Fatalf("worker replied before init completed: %s", msg.Kind)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StateInitializing, h.rt.State())

	close(release)

	first := h.recv()
	assert.Equal(t, protocol.KindDone, first.Kind)
	assert.Equal(t, 1, first.JobID)
	second := h.recv()
	assert.Equal(t, protocol.KindDone, second.Kind)
	assert.Equal(t, 2, second.JobID)
	back := h.recv()
	require.Equal(t, protocol.KindReportBack, back.Kind)
	assert.Len(t, back.Report.Results, 3)
	assert.Equal(t, StateReady, h.rt.State())
}

func TestRuntime_ResultsOnlyGrow(t *testing.T) {
	root := linttest.WriteFiles(t, 4)
	h := newHarness(t, linttest.Options(root), WithResolver(linttest.Resolver(&linttest.MarkerModule{})))
	h.init()

	empty := h.report()
	assert.Empty(t, empty.Report.Results)

	h.send(protocol.Files(1, []string{filepath.Join(root, "f000.js"), filepath.Join(root, "f001.js")}))
	h.recv()
	first := h.report()
	require.Len(t, first.Report.Results, 2)

	again := h.report()
	assert.Equal(t, first.Report.Results, again.Report.Results)

	h.send(protocol.Files(2, []string{filepath.Join(root, "f002.js"), filepath.Join(root, "f003.js")}))
	h.recv()
	last := h.report()
	require.Len(t, last.Report.Results, 4)
	assert.Equal(t, first.Report.Results, last.Report.Results[:2])
}

func TestRuntime_PerFileErrorsBecomeResults(t *testing.T) {
	root := linttest.WriteFiles(t, 1)
	h := newHarness(t, linttest.Options(root), WithResolver(linttest.Resolver(&linttest.MarkerModule{})))
	h.init()

	missing := filepath.Join(root, "gone.js")
	h.send(protocol.Files(3, []string{missing, filepath.Join(root, "f000.js")}))
	done := h.recv()
	assert.Equal(t, protocol.KindDone, done.Kind)

	msg := h.report()
	require.Len(t, msg.Report.Results, 2)
	assert.Equal(t, missing, msg.Report.Results[0].FilePath)
	assert.Equal(t, 1, msg.Report.Results[0].FatalErrorCount)
	assert.True(t, msg.Report.Results[0].HasFatal())
	assert.Equal(t, 0, msg.Report.Results[1].ErrorCount)
}

func TestRuntime_FixesAreWrittenBeforeDone(t *testing.T) {
	root := linttest.WriteTree(t, map[string]string{"fix.js": "const BADx = 1;\n"})
	opts := linttest.Options(root)
	opts.Fix = true
	h := newHarness(t, opts, WithResolver(linttest.Resolver(&linttest.MarkerModule{})))
	h.init()

	path := filepath.Join(root, "fix.js")
	h.send(protocol.Files(1, []string{path}))
	done := h.recv()
	require.Equal(t, protocol.KindDone, done.Kind)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "const x = 1;\n", string(content))

	msg := h.report()
	require.Len(t, msg.Report.Results, 1)
	assert.Equal(t, 0, msg.Report.Results[0].ErrorCount)
	assert.Equal(t, "const x = 1;\n", msg.Report.Results[0].Output)
}

func TestRuntime_InitFailure(t *testing.T) {
	t.Run("unknown linter", func(t *testing.T) {
		opts := lint.DefaultOptions(t.TempDir())
		opts.Linters = []string{"no-such-linter"}
		h := newHarness(t, opts)
		h.init()
		h.send(protocol.Files(1, []string{"queued.js"}))

		msg := h.recv()
		assert.Equal(t, protocol.KindFailed, msg.Kind)
		assert.Equal(t, 1, msg.WorkerID)
		assert.Contains(t, msg.Error, "no-such-linter")

		select {
		case err := <-h.served:
			assert.ErrorIs(t, err, ErrInitFailed)
		case <-time.After(recvTimeout):
			t.Fatal("Serve did not return after init failure")
		}
		assert.Equal(t, StateFailed, h.rt.State())
	})

	t.Run("translator error", func(t *testing.T) {
		boom := errors.New("boom")
		h := newHarness(t, lint.DefaultOptions(t.TempDir()), WithTranslator(func(context.Context, lint.Options) (*lint.Config, error) {
			return nil, boom
		}))
		h.init()

		msg := h.recv()
		assert.Equal(t, protocol.KindFailed, msg.Kind)
		assert.Equal(t, "boom", msg.Error)
	})
}

func TestRuntime_Lifecycle(t *testing.T) {
	t.Run("peer close ends serve", func(t *testing.T) {
		h := newHarness(t, lint.DefaultOptions(t.TempDir()))
		require.NoError(t, h.sup.Close())

		select {
		case err := <-h.served:
			assert.NoError(t, err)
		case <-time.After(recvTimeout):
			t.Fatal("Serve did not return after peer close")
		}
	})

	t.Run("cancellation ends serve", func(t *testing.T) {
		h := newHarness(t, lint.DefaultOptions(t.TempDir()))
		h.cancel()

		select {
		case err := <-h.served:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(recvTimeout):
			t.Fatal("Serve did not return after cancel")
		}
	})

	t.Run("second init is a protocol error", func(t *testing.T) {
		h := newHarness(t, linttest.Options(t.TempDir()), WithResolver(linttest.Resolver(&linttest.MarkerModule{})))
		h.init()
		h.init()

		select {
		case err := <-h.served:
			assert.ErrorIs(t, err, ErrProtocol)
		case <-time.After(recvTimeout):
			t.Fatal("Serve did not return after duplicate init")
		}
	})
}

func TestRuntimeState_String(t *testing.T) {
	tests := map[RuntimeState]string{
		StateUninitialized: "uninitialized",
		StateInitializing:  "initializing",
		StateReady:         "ready",
		StateFailed:        "failed",
		RuntimeState(9):    "unknown(9)",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}
