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
	"sync"

	"github.com/AleutianAI/parallint/services/parallint/report"
)

// accumulator holds the worker's results. It is never reset, so successive
// snapshots only grow.
type accumulator struct {
	mu     sync.Mutex
	report report.Report
	state  RuntimeState
}

func newAccumulator() *accumulator {
	return &accumulator{report: report.NewReport(nil)}
}

func (a *accumulator) append(res report.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.Append(res)
}

func (a *accumulator) snapshot() report.Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report.Clone()
}

func (a *accumulator) setState(s RuntimeState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

func (a *accumulator) getState() RuntimeState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
