// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command parallint lints large file sets in parallel.
//
// Usage:
//
//	parallint [flags] <patterns...>
//	parallint serve --addr 127.0.0.1:8723
//
// Patterns may be files, directories or globs. Files are split into batches
// of --batch-size and spread over up to --concurrency worker processes,
// which are the same binary started with the hidden "worker" command.
//
// Exit codes:
//
//	0 - No errors, and warnings within --max-warnings.
//	1 - Lint errors, or too many warnings.
//	2 - Invalid usage, configuration or an internal failure. --stdin always
//	    exits here: the parallel engine only lints files on disk.
package main

import (
	"os"
)

func main() {
	os.Exit(newApp(os.Stdout, os.Stderr).execute(os.Args[1:]))
}
