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
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/parallint/services/parallint/report"
)

// =============================================================================
// MODULES
// =============================================================================

// Source is one file handed to a module.
type Source struct {
	// Path is the absolute path of the file on disk.
	Path string

	// Language is the detected language, e.g. "go" or "python".
	Language string

	// Text is the content to check. It may differ from disk during a fix pass.
	Text []byte
}

// Module checks source text and reports messages.
//
// Implementations must be safe for concurrent use; one Module instance is
// shared by every file a worker processes.
type Module interface {
	// Name is the identifier used in option bags and on messages.
	Name() string

	// Handles reports whether the module applies to language.
	Handles(language string) bool

	// Verify returns the module's findings for src. An error means the module
	// could not run, not that it found problems.
	Verify(ctx context.Context, src *Source) ([]report.Message, error)
}

// Fixer is implemented by modules that can rewrite source.
type Fixer interface {
	// Fix returns the corrected text, or src.Text unchanged.
	Fix(ctx context.Context, src *Source) ([]byte, error)
}

// Resolver turns a module name into a Module.
type Resolver interface {
	Resolve(name string) (Module, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) (Module, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(name string) (Module, error) {
	return f(name)
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is the default Resolver. It maps names to module factories.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Module
}

// NewRegistry creates a registry holding the built-in modules: the
// tree-sitter syntax check and the golangci-lint, ruff and eslint adapters.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]func() Module)}
	r.Register(SyntaxModuleName, func() Module { return NewSyntaxModule() })
	for _, cfg := range DefaultLinterConfigs() {
		cfg := cfg
		r.Register(cfg.Name, func() Module { return NewExternalModule(cfg) })
	}
	return r
}

// Register adds or replaces a module factory.
func (r *Registry) Register(name string, factory func() Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Resolve implements Resolver.
func (r *Registry) Resolve(name string) (Module, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return factory(), nil
}

// Names returns the registered module names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// LANGUAGE DETECTION
// =============================================================================

var extensionLanguages = map[string]string{
	".go":  "go",
	".py":  "python",
	".pyi": "python",
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".cjs": "javascript",
	".ts":  "typescript",
	".mts": "typescript",
	".cts": "typescript",
	".tsx": "tsx",
}

// LanguageFromPath detects the language from the file extension.
// Returns "" for unknown extensions.
func LanguageFromPath(path string) string {
	return extensionLanguages[strings.ToLower(filepath.Ext(path))]
}
