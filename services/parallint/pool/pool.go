// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pool owns the lint workers: spawning them lazily up to a cap,
// assigning each job to the least-loaded worker, tracking acknowledgments
// and collecting reports.
package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/parallint/services/parallint/lint"
	"github.com/AleutianAI/parallint/services/parallint/protocol"
	"github.com/AleutianAI/parallint/services/parallint/report"
)

// MaxWorkers returns the worker cap for a configured concurrency.
//
// A positive value is used as is. Otherwise the cap is the number of CPUs
// minus one for the supervisor, and at least one.
func MaxWorkers(concurrency int) int {
	if concurrency > 0 {
		return concurrency
	}
	return max(1, runtime.NumCPU()-1)
}

// Config configures a Pool.
type Config struct {
	// Concurrency caps the worker count. Zero or less derives it from NumCPU.
	Concurrency int

	// Options is sent to every worker in its init message.
	Options lint.Options

	// Spawner starts workers. Nil uses an ExecSpawner for the running binary.
	Spawner Spawner

	Logger *slog.Logger
}

// Completion is the outcome of one job. Err is nil when the worker
// acknowledged the job and a *WorkerError when the worker was lost first.
type Completion struct {
	WorkerID int
	JobID    int
	Files    int
	Err      error
}

// WorkerInfo is a point-in-time view of one worker.
type WorkerInfo struct {
	ID             int
	ActiveJobCount int
}

// WorkerHandle is the pool's record of one live worker.
type WorkerHandle struct {
	ID             int
	ActiveJobCount int

	process Process

	// inflight maps job id to file count for jobs not yet acknowledged.
	inflight map[int]int

	// acked counts acknowledged jobs whose results live only in the worker
	// until its report is collected.
	acked int

	replies *protocol.Mailbox[*protocol.Message]

	// staleReplies counts report replies whose requester gave up; they are
	// skipped by the next reader.
	staleReplies atomic.Int32

	lost bool
}

// Pool distributes jobs over a bounded set of workers.
//
// Description:
//
//	Run spawns one worker per call while the pool is below its cap, then
//	sends the job to the worker with the fewest active jobs. Workers are
//	kept in ascending ActiveJobCount order, ties going to the worker spawned
//	first; the order is recomputed after every dispatch and acknowledgment.
//	One listener goroutine per worker turns done messages into Completions.
//
// Thread Safety:
//
//	Safe for concurrent use. Sends to workers happen outside the state lock
//	but under a dispatch lock, so each worker receives messages in dispatch
//	order.
type Pool struct {
	capacity int
	options  json.RawMessage
	spawner  Spawner
	logger   *slog.Logger

	dispatchMu sync.Mutex
	reportMu   sync.Mutex

	mu        sync.Mutex
	workers   []*WorkerHandle
	nextID    int
	nextJobID int
	stopped   bool
	callbacks []func(Completion)

	// lostResults records workers that were lost holding acknowledged
	// results. GetReports fails while it is non-empty.
	lostResults []*WorkerError

	completions *protocol.Mailbox[Completion]
	listeners   sync.WaitGroup
}

// New creates an empty pool. No worker is started until the first Run.
func New(cfg Config) (*Pool, error) {
	raw, err := cfg.Options.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	spawner := cfg.Spawner
	if spawner == nil {
		spawner = &ExecSpawner{Logger: logger}
	}
	return &Pool{
		capacity:    MaxWorkers(cfg.Concurrency),
		options:     raw,
		spawner:     spawner,
		logger:      logger,
		completions: protocol.NewMailbox[Completion](),
	}, nil
}

// Capacity returns the maximum number of workers.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Size returns the number of live workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Workers returns the live workers in assignment order.
func (p *Pool) Workers() []WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]WorkerInfo, len(p.workers))
	for i, h := range p.workers {
		out[i] = WorkerInfo{ID: h.ID, ActiveJobCount: h.ActiveJobCount}
	}
	return out
}

// OnTaskCompleted registers cb to run once per completed job.
//
// Callbacks run on the listener goroutine of the worker that completed the
// job, so callbacks for different workers may run concurrently.
func (p *Pool) OnTaskCompleted(cb func(Completion)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// Completions delivers one Completion per dispatched job. The channel is
// closed by SpinDown.
func (p *Pool) Completions() <-chan Completion {
	return p.completions.C()
}

// Run dispatches files as one job and returns its id without waiting for it.
//
// Inputs:
//
//	ctx - Bounds the spawn and the send, not the job.
//	files - Absolute file paths. Must not be empty.
//
// Outputs:
//
//	int - The job id, unique within the pool.
//	error - ErrEmptyJob, ErrPoolStopped, ErrSpawnFailed or a send error.
//	When an error is returned no Completion will be delivered for the job.
func (p *Pool) Run(ctx context.Context, files []string) (int, error) {
	if len(files) == 0 {
		return 0, ErrEmptyJob
	}
	job := append([]string(nil), files...)

	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return 0, ErrPoolStopped
	}
	needSpawn := len(p.workers) < p.capacity
	p.mu.Unlock()

	var spawned *WorkerHandle
	if needSpawn {
		h, err := p.spawn(ctx)
		if err != nil {
			return 0, err
		}
		spawned = h
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return 0, ErrPoolStopped
	}
	if spawned != nil && spawned.lost {
		spawned = nil
	}
	if len(p.workers) == 0 {
		p.mu.Unlock()
		return 0, fmt.Errorf("%w: no live worker", ErrWorkerExited)
	}
	target := p.workers[0]
	p.nextJobID++
	jobID := p.nextJobID
	target.ActiveJobCount++
	target.inflight[jobID] = len(job)
	p.sortLocked()
	p.mu.Unlock()
	activeJobs.Inc()

	if spawned != nil {
		if err := spawned.process.Conn().Send(ctx, protocol.Init(spawned.ID, p.options)); err != nil {
			p.abandon(target, jobID)
			p.lose(spawned, ErrWorkerExited, err.Error())
			return 0, fmt.Errorf("worker %d: send init: %w", spawned.ID, err)
		}
	}
	if err := target.process.Conn().Send(ctx, protocol.Files(jobID, job)); err != nil {
		p.abandon(target, jobID)
		return 0, fmt.Errorf("worker %d: send job %d: %w", target.ID, jobID, err)
	}

	jobsDispatchedTotal.Inc()
	jobSize.Observe(float64(len(job)))
	p.logger.Debug("job dispatched",
		slog.Int("job_id", jobID),
		slog.Int("worker_id", target.ID),
		slog.Int("files", len(job)))
	return jobID, nil
}

// spawn starts a worker and appends it to the ordering. The id is reserved
// under p.mu but the spawner runs without it, so completions from live
// workers are not held up by a slow fork. p.dispatchMu is held.
func (p *Pool) spawn(ctx context.Context) (*WorkerHandle, error) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	proc, err := p.spawner.Spawn(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w %d: %v", ErrSpawnFailed, id, err)
	}
	h := &WorkerHandle{
		ID:       id,
		process:  proc,
		inflight: make(map[int]int),
		replies:  protocol.NewMailbox[*protocol.Message](),
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		_ = proc.Stop(context.WithoutCancel(ctx))
		return nil, ErrPoolStopped
	}
	p.workers = append(p.workers, h)
	p.sortLocked()
	p.listeners.Add(1)
	p.mu.Unlock()
	go p.listen(h)

	workersSpawnedTotal.Inc()
	p.logger.Debug("worker spawned",
		slog.Int("worker_id", id),
		slog.Int("capacity", p.capacity))
	return h, nil
}

// sortLocked restores least-loaded order. p.mu is held.
func (p *Pool) sortLocked() {
	sort.SliceStable(p.workers, func(i, j int) bool {
		a, b := p.workers[i], p.workers[j]
		if a.ActiveJobCount != b.ActiveJobCount {
			return a.ActiveJobCount < b.ActiveJobCount
		}
		return a.ID < b.ID
	})
}

// abandon forgets a job whose send failed.
func (p *Pool) abandon(h *WorkerHandle, jobID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := h.inflight[jobID]; !ok {
		return
	}
	delete(h.inflight, jobID)
	h.ActiveJobCount--
	p.sortLocked()
	activeJobs.Dec()
}

// listen handles one worker's messages until its connection closes.
func (p *Pool) listen(h *WorkerHandle) {
	defer p.listeners.Done()
	conn := h.process.Conn()

	for msg := range conn.Recv() {
		switch msg.Kind {
		case protocol.KindDone:
			p.complete(h, msg.JobID, nil)
		case protocol.KindReportBack:
			h.replies.Put(msg)
		case protocol.KindFailed:
			p.lose(h, ErrWorkerInitFailed, msg.Error)
		default:
			p.logger.Warn("unexpected message from worker",
				slog.Int("worker_id", h.ID),
				slog.String("kind", string(msg.Kind)))
		}
	}
	h.replies.Close()

	reason := ""
	if err := conn.Err(); err != nil {
		reason = err.Error()
	}
	p.lose(h, ErrWorkerExited, reason)
}

// complete records the end of one job and notifies callbacks and the
// completion channel.
func (p *Pool) complete(h *WorkerHandle, jobID int, err error) {
	p.mu.Lock()
	files, ok := h.inflight[jobID]
	if !ok {
		p.mu.Unlock()
		p.logger.Warn("acknowledgment for unknown job",
			slog.Int("worker_id", h.ID),
			slog.Int("job_id", jobID))
		return
	}
	delete(h.inflight, jobID)
	h.ActiveJobCount--
	h.acked++
	p.sortLocked()
	callbacks := append([]func(Completion){}, p.callbacks...)
	p.mu.Unlock()

	p.notify(Completion{WorkerID: h.ID, JobID: jobID, Files: files, Err: err}, callbacks)
}

func (p *Pool) notify(c Completion, callbacks []func(Completion)) {
	activeJobs.Dec()
	outcome := "done"
	if c.Err != nil {
		outcome = "failed"
	}
	jobsCompletedTotal.WithLabelValues(outcome).Inc()

	for _, cb := range callbacks {
		cb(c)
	}
	p.completions.Put(c)
}

// lose removes a worker that failed or exited and fails its in-flight jobs.
// It does nothing for a worker already lost or a pool being spun down.
func (p *Pool) lose(h *WorkerHandle, cause error, reason string) {
	p.mu.Lock()
	if h.lost || p.stopped {
		p.mu.Unlock()
		return
	}
	h.lost = true
	for i, w := range p.workers {
		if w == h {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	jobIDs := make([]int, 0, len(h.inflight))
	for id := range h.inflight {
		jobIDs = append(jobIDs, id)
	}
	sort.Ints(jobIDs)
	files := h.inflight
	h.inflight = make(map[int]int)
	h.ActiveJobCount = 0
	acked := h.acked
	if acked > 0 {
		p.lostResults = append(p.lostResults, &WorkerError{WorkerID: h.ID, Reason: reason, Err: cause})
	}
	callbacks := append([]func(Completion){}, p.callbacks...)
	p.mu.Unlock()

	label := "exited"
	if cause == ErrWorkerInitFailed {
		label = "init_failed"
	}
	workerFailuresTotal.WithLabelValues(label).Inc()
	p.logger.Error("worker lost",
		slog.Int("worker_id", h.ID),
		slog.String("cause", cause.Error()),
		slog.String("reason", reason),
		slog.Int("jobs_failed", len(jobIDs)),
		slog.Int("jobs_acknowledged", acked))

	go func() {
		_ = h.process.Stop(context.Background())
	}()

	for _, id := range jobIDs {
		werr := &WorkerError{WorkerID: h.ID, JobID: id, Reason: reason, Err: cause}
		p.notify(Completion{WorkerID: h.ID, JobID: id, Files: files[id], Err: werr}, callbacks)
	}
}

// GetReports asks every live worker for its accumulated report.
//
// Description:
//
//	A report request is broadcast to the workers concurrently. The result
//	holds one report per worker in the pool's assignment order at the time
//	of the call. A worker lost before replying fails the whole call with a
//	*WorkerError, and so does any worker lost earlier while it still held
//	results of acknowledged jobs, since those results can no longer be
//	collected.
//
// Outputs:
//
//	[]report.Report - One report per live worker.
//	error - ErrPoolStopped, a *WorkerError or a context error.
func (p *Pool) GetReports(ctx context.Context) ([]report.Report, error) {
	ctx, span := tracer.Start(ctx, "parallint.pool.GetReports")
	defer span.End()

	p.reportMu.Lock()
	defer p.reportMu.Unlock()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolStopped
	}
	if len(p.lostResults) > 0 {
		werr := p.lostResults[0]
		p.mu.Unlock()
		span.RecordError(werr)
		return nil, werr
	}
	workers := append([]*WorkerHandle(nil), p.workers...)
	p.mu.Unlock()
	span.SetAttributes(attribute.Int("workers", len(workers)))

	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	reports := make([]report.Report, len(workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range workers {
		g.Go(func() error {
			r, err := p.requestReport(gctx, h)
			if err != nil {
				return err
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return reports, nil
}

func (p *Pool) requestReport(ctx context.Context, h *WorkerHandle) (report.Report, error) {
	if err := h.process.Conn().Send(ctx, protocol.ReportRequest()); err != nil {
		return report.Report{}, &WorkerError{WorkerID: h.ID, Reason: err.Error(), Err: ErrWorkerExited}
	}
	for {
		select {
		case msg, ok := <-h.replies.C():
			if !ok {
				return report.Report{}, &WorkerError{WorkerID: h.ID, Err: ErrWorkerExited}
			}
			if h.staleReplies.Load() > 0 {
				h.staleReplies.Add(-1)
				continue
			}
			if msg.Report == nil {
				return report.Report{}, nil
			}
			return *msg.Report, nil
		case <-ctx.Done():
			h.staleReplies.Add(1)
			return report.Report{}, ctx.Err()
		}
	}
}

// GetResults returns the per-file results of every live worker, flattened in
// the same order as GetReports.
func (p *Pool) GetResults(ctx context.Context) ([]report.Result, error) {
	reports, err := p.GetReports(ctx)
	if err != nil {
		return nil, err
	}
	var results []report.Result
	for _, r := range reports {
		results = append(results, r.Results...)
	}
	return results, nil
}

// SpinDown stops every worker and clears the pool. Jobs still in flight are
// abandoned without a Completion. It is idempotent.
func (p *Pool) SpinDown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()

	_, span := tracer.Start(ctx, "parallint.pool.SpinDown",
		trace.WithAttributes(attribute.Int("workers", len(workers))))
	defer span.End()

	var g errgroup.Group
	for _, h := range workers {
		g.Go(func() error {
			if err := h.process.Stop(ctx); err != nil {
				return fmt.Errorf("stop worker %d: %w", h.ID, err)
			}
			return nil
		})
	}
	err := g.Wait()

	p.listeners.Wait()
	p.completions.Close()

	p.logger.Debug("pool spun down", slog.Int("workers", len(workers)))
	return err
}
