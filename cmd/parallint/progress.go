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
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/parallint/services/parallint/engine"
)

// progressInterval is the minimum time between two progress redraws.
const progressInterval = 100 * time.Millisecond

// progressPrinter redraws a single status line as jobs complete. Job
// completions arrive from several goroutines and can be far more frequent
// than a terminal needs, so redraws are rate limited.
type progressPrinter struct {
	w       io.Writer
	enabled bool
	limiter *rate.Limiter

	mu      sync.Mutex
	drawn   bool
	files   int
	jobs    int
	workers map[int]struct{}
}

func newProgressPrinter(w io.Writer, enabled bool) *progressPrinter {
	return &progressPrinter{
		w:       w,
		enabled: enabled,
		limiter: rate.NewLimiter(rate.Every(progressInterval), 1),
		workers: make(map[int]struct{}),
	}
}

// update is an engine.Config.OnJobDone callback.
func (p *progressPrinter) update(pr engine.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.jobs++
	p.files = max(p.files, pr.FilesDone)
	p.workers[pr.WorkerID] = struct{}{}

	if !p.enabled || !p.limiter.Allow() {
		return
	}
	fmt.Fprintf(p.w, "\r\033[K%s linted (%s, %s)",
		plural(p.files, "file"), plural(p.jobs, "job"), plural(len(p.workers), "worker"))
	p.drawn = true
}

// finish clears the status line.
func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprint(p.w, "\r\033[K")
		p.drawn = false
	}
}
