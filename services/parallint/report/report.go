// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report defines lint results and the statistics derived from them.
//
// A Result describes one file. A Report is the accumulated output of one
// worker. Merge combines reports from many workers into the single report a
// run produces. Counts are always derived from messages, so a Report built
// from the same results always carries the same totals.
package report

import (
	"fmt"
	"time"
)

// =============================================================================
// SEVERITY
// =============================================================================

// Severity is the weight of a lint message.
//
// The numeric values match the conventional linter scale where 0 disables a
// rule, 1 reports it as a warning and 2 reports it as an error.
type Severity int

const (
	// SeverityOff means the message is suppressed.
	SeverityOff Severity = 0

	// SeverityWarning is reported but does not fail the run.
	SeverityWarning Severity = 1

	// SeverityError fails the run.
	SeverityError Severity = 2
)

// String returns the configuration spelling of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityOff:
		return "off"
	case SeverityWarning:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity converts "off", "warn", "warning" or "error" (or "0", "1",
// "2") into a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "off", "0":
		return SeverityOff, nil
	case "warn", "warning", "1":
		return SeverityWarning, nil
	case "error", "2":
		return SeverityError, nil
	default:
		return SeverityOff, fmt.Errorf("unknown severity %q", s)
	}
}

// =============================================================================
// MESSAGES AND RESULTS
// =============================================================================

// Message is a single finding inside a file.
type Message struct {
	// RuleID identifies the rule. Empty for fatal parse and read errors.
	RuleID string `json:"ruleId,omitempty"`

	// Linter names the module that produced the message.
	Linter string `json:"linter,omitempty"`

	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Line      int      `json:"line,omitempty"`
	Column    int      `json:"column,omitempty"`
	EndLine   int      `json:"endLine,omitempty"`
	EndColumn int      `json:"endColumn,omitempty"`

	// Fatal marks messages that prevented the file from being linted at all.
	Fatal bool `json:"fatal,omitempty"`

	// Fixable marks messages an autofix run could resolve.
	Fixable bool `json:"fixable,omitempty"`
}

// Stats holds the numeric totals of a result set.
//
// Every field is a plain sum, so Add is associative and commutative.
type Stats struct {
	ErrorCount          int `json:"errorCount"`
	FatalErrorCount     int `json:"fatalErrorCount"`
	WarningCount        int `json:"warningCount"`
	FixableErrorCount   int `json:"fixableErrorCount"`
	FixableWarningCount int `json:"fixableWarningCount"`
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		ErrorCount:          s.ErrorCount + o.ErrorCount,
		FatalErrorCount:     s.FatalErrorCount + o.FatalErrorCount,
		WarningCount:        s.WarningCount + o.WarningCount,
		FixableErrorCount:   s.FixableErrorCount + o.FixableErrorCount,
		FixableWarningCount: s.FixableWarningCount + o.FixableWarningCount,
	}
}

// Result is the outcome of linting one file.
type Result struct {
	FilePath string    `json:"filePath"`
	Messages []Message `json:"messages"`
	Stats

	// Output holds the fixed source when an autofix changed the file.
	Output string `json:"output,omitempty"`

	// Ignored is set on placeholder results for files excluded by ignore rules.
	Ignored bool `json:"ignored,omitempty"`
}

// NewResult builds a Result for path and derives its counts from messages.
func NewResult(path string, messages []Message) Result {
	if messages == nil {
		messages = []Message{}
	}
	r := Result{FilePath: path, Messages: messages}
	r.Recount()
	return r
}

// Recount recomputes the counts from the message list.
func (r *Result) Recount() {
	var s Stats
	for _, m := range r.Messages {
		switch m.Severity {
		case SeverityError:
			s.ErrorCount++
			if m.Fatal {
				s.FatalErrorCount++
			}
			if m.Fixable {
				s.FixableErrorCount++
			}
		case SeverityWarning:
			s.WarningCount++
			if m.Fixable {
				s.FixableWarningCount++
			}
		}
	}
	r.Stats = s
}

// HasFatal reports whether any message in the result is fatal.
func (r Result) HasFatal() bool {
	return r.FatalErrorCount > 0
}

// ignoredMessage is the text attached to ignore-results.
const ignoredMessage = "File ignored because of a matching ignore pattern. Use \"--no-ignore\" to override."

// IgnoredResult returns the placeholder result for a file excluded by ignore
// rules. It carries one warning so the user learns the file was skipped.
func IgnoredResult(path string) Result {
	r := NewResult(path, []Message{{
		Severity: SeverityWarning,
		Message:  ignoredMessage,
	}})
	r.Ignored = true
	return r
}

// ErrorResult returns a result recording that path could not be linted.
//
// The message is fatal so the file is counted among fatal errors and is never
// cached as a clean result.
func ErrorResult(path string, err error) Result {
	return NewResult(path, []Message{{
		Severity: SeverityError,
		Message:  err.Error(),
		Fatal:    true,
	}})
}

// =============================================================================
// REPORTS
// =============================================================================

// Report is a list of results with their summed statistics.
type Report struct {
	Results []Result `json:"results"`
	Stats
}

// NewReport builds a Report whose totals are the sum of the results' counts.
func NewReport(results []Result) Report {
	r := Report{Results: make([]Result, 0, len(results))}
	for _, res := range results {
		r.Append(res)
	}
	return r
}

// Append adds one result and its counts to the report.
func (r *Report) Append(res Result) {
	r.Results = append(r.Results, res)
	r.Stats = r.Stats.Add(res.Stats)
}

// Clone returns a deep enough copy for handing the report to another owner.
//
// The result slice is copied so later appends on either side do not alias.
func (r Report) Clone() Report {
	out := Report{Stats: r.Stats, Results: make([]Result, len(r.Results))}
	copy(out.Results, r.Results)
	return out
}

// Merge concatenates the results of every report and sums their statistics.
//
// Merge is associative: Merge(Merge(a, b), c) and Merge(a, Merge(b, c)) carry
// the same results in the same order and the same totals. Totals are also
// independent of argument order. Result order follows argument order and is
// not sorted.
func Merge(reports ...Report) Report {
	n := 0
	for _, r := range reports {
		n += len(r.Results)
	}
	out := Report{Results: make([]Result, 0, n)}
	for _, r := range reports {
		out.Results = append(out.Results, r.Results...)
		out.Stats = out.Stats.Add(r.Stats)
	}
	return out
}

// MergedReport is the externally visible outcome of one run.
type MergedReport struct {
	Report

	// RunID identifies the run in logs and traces.
	RunID string `json:"runId"`

	// JobCount is the number of jobs dispatched to workers.
	JobCount int `json:"jobCount"`

	// WorkerCount is the number of workers that contributed a report.
	WorkerCount int `json:"workerCount"`

	Duration time.Duration `json:"duration"`
}
