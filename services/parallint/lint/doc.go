// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lint holds the single-process lint engine used by every worker.
//
// It is made of four collaborators:
//
//   - Options and Translate: a flat, serializable option bag and its
//     translation into a live Config, resolving named modules through a
//     Resolver.
//   - Enumerator: expands file, directory and glob patterns lazily into
//     FileEntry values, flagging explicitly named ignored files.
//   - Verify: runs the modules of a FileConfig over one Source, applies
//     fixes, rule overrides and inline directives, and returns one
//     report.Result.
//   - Modules: SyntaxModule (tree-sitter parse check) and ExternalModule
//     adapters for golangci-lint, ruff and eslint.
//
// # Usage
//
//	cfg, err := lint.Translate(ctx, opts, lint.NewRegistry())
//	if err != nil {
//	    return err
//	}
//	for entry, err := range lint.NewEnumerator(cfg).Iterate(patterns) {
//	    ...
//	}
//
// # Thread Safety
//
// Config, Enumerator and the built-in modules are safe for concurrent use.
package lint
