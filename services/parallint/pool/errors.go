// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolStopped is returned by operations on a pool after SpinDown.
	ErrPoolStopped = errors.New("pool stopped")

	// ErrEmptyJob is returned by Run when the file list is empty.
	ErrEmptyJob = errors.New("job has no files")

	// ErrWorkerExited indicates a worker's connection closed while it still
	// owned jobs or results that had not been reported.
	ErrWorkerExited = errors.New("worker exited unexpectedly")

	// ErrWorkerInitFailed indicates a worker replied failed to init.
	ErrWorkerInitFailed = errors.New("worker initialization failed")

	// ErrSpawnFailed indicates the spawner could not start a worker.
	ErrSpawnFailed = errors.New("spawn worker")
)

// WorkerError describes a worker that was lost and the job it took with it.
// JobID is zero when the worker had no job in flight but took the results of
// acknowledged jobs.
type WorkerError struct {
	WorkerID int
	JobID    int

	// Reason is the worker's own explanation, when it gave one.
	Reason string

	// Err is ErrWorkerExited or ErrWorkerInitFailed.
	Err error
}

func (e *WorkerError) Error() string {
	msg := fmt.Sprintf("worker %d: %v", e.WorkerID, e.Err)
	if e.JobID > 0 {
		msg = fmt.Sprintf("worker %d job %d: %v", e.WorkerID, e.JobID, e.Err)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}
