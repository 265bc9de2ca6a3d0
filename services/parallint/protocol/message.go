// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol defines the messages exchanged between the supervisor and
// its workers and the transports that carry them.
//
// The vocabulary is fixed:
//
//	supervisor -> worker: init, files, report
//	worker -> supervisor: done, reportback, failed
//
// Messages sent on one Conn arrive in send order. Nothing is guaranteed about
// ordering across different workers. A worker only speaks in reply: one done
// per files, one reportback per report, and failed when init cannot complete.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/parallint/services/parallint/report"
)

// Kind names a message in the protocol vocabulary.
type Kind string

const (
	// KindInit carries the option bag and the worker id. Supervisor to worker.
	KindInit Kind = "init"

	// KindFiles carries one job. Supervisor to worker.
	KindFiles Kind = "files"

	// KindReport asks for the accumulated results. Supervisor to worker.
	KindReport Kind = "report"

	// KindDone acknowledges one fully processed job. Worker to supervisor.
	KindDone Kind = "done"

	// KindReportBack answers a report request. Worker to supervisor.
	KindReportBack Kind = "reportback"

	// KindFailed reports that init could not complete. Worker to supervisor.
	KindFailed Kind = "failed"
)

// Message is the single envelope type for every protocol message.
//
// Only the fields relevant to Kind are populated. The option bag travels as
// raw JSON because it must be rebuilt inside each worker rather than shared.
type Message struct {
	Kind     Kind            `json:"kind"`
	WorkerID int             `json:"workerId,omitempty"`
	JobID    int             `json:"jobId,omitempty"`
	Options  json.RawMessage `json:"options,omitempty"`
	Files    []string        `json:"files,omitempty"`
	Report   *report.Report  `json:"report,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Init builds an init message.
func Init(workerID int, options json.RawMessage) *Message {
	return &Message{Kind: KindInit, WorkerID: workerID, Options: options}
}

// Files builds a files message for one job.
func Files(jobID int, files []string) *Message {
	return &Message{Kind: KindFiles, JobID: jobID, Files: files}
}

// ReportRequest builds a report message.
func ReportRequest() *Message {
	return &Message{Kind: KindReport}
}

// Done builds the acknowledgment for jobID.
func Done(jobID int) *Message {
	return &Message{Kind: KindDone, JobID: jobID}
}

// ReportBack builds the reply to a report request.
func ReportBack(r report.Report) *Message {
	return &Message{Kind: KindReportBack, Report: &r}
}

// Failed builds the reply sent when init fails.
func Failed(workerID int, err error) *Message {
	return &Message{Kind: KindFailed, WorkerID: workerID, Error: err.Error()}
}

// Validate checks that the fields required by Kind are present.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}
	switch m.Kind {
	case KindInit:
		if m.WorkerID <= 0 {
			return fmt.Errorf("%w: init without worker id", ErrMalformedMessage)
		}
	case KindFiles:
		if m.JobID <= 0 {
			return fmt.Errorf("%w: files without job id", ErrMalformedMessage)
		}
		if len(m.Files) == 0 {
			return fmt.Errorf("%w: files message for job %d is empty", ErrMalformedMessage, m.JobID)
		}
	case KindDone:
		if m.JobID <= 0 {
			return fmt.Errorf("%w: done without job id", ErrMalformedMessage)
		}
	case KindReportBack:
		if m.Report == nil {
			return fmt.Errorf("%w: reportback without report", ErrMalformedMessage)
		}
	case KindReport, KindFailed:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, m.Kind)
	}
	return nil
}
