// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lint

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// DefaultExtensions are linted when a directory pattern is expanded and no
// extension list is configured.
var DefaultExtensions = []string{".go", ".py", ".pyi", ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx"}

// DefaultLinters are used when the option bag names none.
var DefaultLinters = []string{SyntaxModuleName}

// Options is the flat, serializable option bag.
//
// Description:
//
//	Options crosses the process boundary to every worker, so it holds only
//	plain values. Anything live (resolved modules, matchers) is rebuilt from
//	it by Translate inside each process.
//
// Thread Safety: Treat as immutable once handed to a pool.
type Options struct {
	// Cwd is the directory patterns and ignore rules are relative to.
	Cwd string `json:"cwd"`

	// Fix applies autofixes and writes them back to disk.
	Fix bool `json:"fix,omitempty"`

	// Linters names the modules to resolve, in run order.
	Linters []string `json:"linters,omitempty"`

	// Rules overrides severities by rule id: "off", "warn" or "error".
	Rules map[string]string `json:"rules,omitempty"`

	// IgnorePatterns are additional glob patterns excluded from linting.
	IgnorePatterns []string `json:"ignorePatterns,omitempty"`

	// IgnorePath names a file with one ignore pattern per line.
	// Defaults to .parallintignore in Cwd when that file exists.
	IgnorePath string `json:"ignorePath,omitempty"`

	// NoIgnore disables every ignore rule, including the defaults.
	NoIgnore bool `json:"noIgnore,omitempty"`

	// Extensions limits which files directory patterns expand to.
	Extensions []string `json:"extensions,omitempty"`

	// AllowInlineConfig honours parallint-disable comments in source.
	AllowInlineConfig bool `json:"allowInlineConfig"`

	// LinterTimeout bounds each external linter invocation.
	LinterTimeout time.Duration `json:"linterTimeout,omitempty"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions(cwd string) Options {
	return Options{
		Cwd:               cwd,
		Linters:           slices.Clone(DefaultLinters),
		AllowInlineConfig: true,
	}
}

// Marshal encodes the options for an init message.
func (o Options) Marshal() (json.RawMessage, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}
	return data, nil
}

// UnmarshalOptions decodes an option bag received in an init message.
func UnmarshalOptions(data json.RawMessage) (Options, error) {
	var o Options
	if len(data) == 0 {
		return o, fmt.Errorf("%w: empty option bag", ErrInvalidOption)
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}
	return o, nil
}
