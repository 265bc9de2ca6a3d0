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

import "errors"

var (
	// ErrInvalidArgument is returned for an empty pattern list or a blank
	// pattern. Nothing has been spawned when it is returned.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedMode is returned by LintText. The parallel engine only
	// lints files on disk.
	ErrUnsupportedMode = errors.New("linting text is not supported in parallel mode")

	// ErrRunTimeout is returned when a run exceeds Config.Timeout.
	ErrRunTimeout = errors.New("lint run timed out")

	// ErrJobFailed wraps the first job a lost worker took with it.
	ErrJobFailed = errors.New("lint job failed")
)
