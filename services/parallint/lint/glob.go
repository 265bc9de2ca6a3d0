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
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultIgnorePatterns are applied unless NoIgnore is set.
var DefaultIgnorePatterns = []string{
	"**/node_modules/**",
	".git/**",
	"**/.git/**",
}

// IgnoreMatcher decides whether a path relative to the working directory is
// excluded from linting.
//
// Patterns use glob syntax with ** for recursive matching:
//   - * matches any sequence of non-separator characters
//   - ** matches any sequence of characters including separators
//   - ? matches any single non-separator character
//   - [abc] matches one of the characters in brackets
//   - a trailing / matches a directory and everything below it
//   - a leading ! re-includes paths excluded by an earlier pattern
//
// Thread Safety: Safe for concurrent use after creation.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	glob     string
	negate   bool
	anchored bool
}

// NewIgnoreMatcher builds a matcher from patterns in precedence order.
func NewIgnoreMatcher(patterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, p := range patterns {
		m.add(p)
	}
	return m
}

func (m *IgnoreMatcher) add(raw string) {
	p := strings.TrimSpace(raw)
	if p == "" || strings.HasPrefix(p, "#") {
		return
	}
	negate := strings.HasPrefix(p, "!")
	p = filepath.ToSlash(strings.TrimPrefix(p, "!"))
	anchored := strings.HasPrefix(p, "/")
	p = strings.TrimPrefix(p, "/")
	if strings.HasSuffix(p, "/") {
		p += "**"
	}
	m.patterns = append(m.patterns, ignorePattern{glob: p, negate: negate, anchored: anchored})
}

// Len returns the number of active patterns.
func (m *IgnoreMatcher) Len() int {
	return len(m.patterns)
}

// Ignored reports whether rel is excluded. The last matching pattern wins.
func (m *IgnoreMatcher) Ignored(rel string) bool {
	rel = filepath.ToSlash(rel)
	ignored := false
	for _, p := range m.patterns {
		var matched bool
		if p.anchored {
			matched = matchPath(p.glob, rel)
		} else {
			matched = matchGlob(p.glob, rel)
		}
		if matched {
			ignored = !p.negate
		}
	}
	return ignored
}

// loadIgnoreFile reads one pattern per line. A missing file yields nothing.
func loadIgnoreFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	return patterns, scanner.Err()
}

// isGlobPattern reports whether p contains glob metacharacters.
func isGlobPattern(p string) bool {
	return strings.ContainsAny(p, "*?[")
}

// globBase returns the longest leading directory of a pattern that contains
// no metacharacters.
func globBase(pattern string) string {
	parts := strings.Split(filepath.ToSlash(pattern), "/")
	var base []string
	for _, part := range parts {
		if isGlobPattern(part) {
			break
		}
		base = append(base, part)
	}
	if len(base) == len(parts) {
		base = base[:len(base)-1]
	}
	if len(base) == 0 {
		return "."
	}
	joined := strings.Join(base, "/")
	if joined == "" {
		return "/"
	}
	return joined
}

// matchGlob matches a slash-separated path against a glob pattern.
//
// Patterns without a separator also match against the base name, so "*.min.js"
// excludes minified files in every directory.
func matchGlob(pattern, p string) bool {
	if matchPath(pattern, p) {
		return true
	}
	if !strings.Contains(pattern, "/") {
		matched, _ := path.Match(pattern, path.Base(p))
		return matched
	}
	return false
}

// matchPath matches the whole path without the base name fallback.
func matchPath(pattern, p string) bool {
	if strings.Contains(pattern, "**") {
		return matchDoublestar(pattern, p)
	}
	matched, _ := path.Match(pattern, p)
	return matched
}

// matchDoublestar matches patterns containing ** segment by segment.
func matchDoublestar(pattern, p string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(p, "/"))
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(rest, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if matched, _ := path.Match(pat[0], segs[0]); !matched {
			return false
		}
		pat, segs = pat[1:], segs[1:]
	}
	return len(segs) == 0
}
