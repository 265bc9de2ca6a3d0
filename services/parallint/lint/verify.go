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
	"bytes"
	"context"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/parallint/services/parallint/report"
)

// maxFixPasses bounds repeated fixing when one fix enables another.
const maxFixPasses = 10

// Verify lints one source and returns its result.
//
// Description:
//
//	Runs every module of fc in order. A fatal message (a parse failure)
//	short-circuits the remaining modules. A module that fails to run
//	contributes a fatal message naming the module instead of aborting.
//	When fc.Fix is set, fixers run until the text is stable or
//	maxFixPasses is reached; the result then describes the fixed text and
//	carries it in Output. Rule overrides and inline directives are applied
//	last and messages are sorted by position.
//
//	Verify never returns an error; every failure is part of the result.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	src - The file to lint. src.Language is filled from fc when empty.
//	fc - The effective configuration for the file.
//
// Outputs:
//
//	report.Result - Messages and derived counts for src.Path.
//
// Thread Safety: Safe for concurrent use.
func Verify(ctx context.Context, src *Source, fc *FileConfig) report.Result {
	start := time.Now()
	if src.Language == "" {
		src.Language = fc.Language
	}

	ctx, span := startVerifySpan(ctx, src, len(fc.Modules))
	defer span.End()

	messages := runModules(ctx, src, fc.Modules)

	var output []byte
	if fc.Fix && !hasFatal(messages) {
		if fixed, ok := applyFixes(ctx, src, fc.Modules); ok {
			output = fixed
			messages = runModules(ctx, &Source{Path: src.Path, Language: src.Language, Text: fixed}, fc.Modules)
		}
	}

	text := src.Text
	if output != nil {
		text = output
	}
	messages = applyRules(messages, fc.Rules)
	if fc.AllowInlineConfig {
		messages = applyInlineDirectives(messages, text)
	}
	sortMessages(messages)

	result := report.NewResult(src.Path, messages)
	if output != nil {
		result.Output = string(output)
	}

	setVerifySpanResult(span, result)
	recordVerifyMetrics(ctx, src.Language, time.Since(start), result)
	return result
}

func runModules(ctx context.Context, src *Source, modules []Module) []report.Message {
	var messages []report.Message
	for _, m := range modules {
		found, err := m.Verify(ctx, src)
		if err != nil {
			messages = append(messages, report.Message{
				Linter:   m.Name(),
				Severity: report.SeverityError,
				Message:  err.Error(),
				Fatal:    true,
			})
			continue
		}
		for i := range found {
			if found[i].Linter == "" {
				found[i].Linter = m.Name()
			}
		}
		if hasFatal(found) {
			return found
		}
		messages = append(messages, found...)
	}
	return messages
}

// applyFixes runs every fixer until the text stops changing. It reports
// whether the final text differs from src.Text.
func applyFixes(ctx context.Context, src *Source, modules []Module) ([]byte, bool) {
	text := src.Text
	for pass := 0; pass < maxFixPasses; pass++ {
		changed := false
		for _, m := range modules {
			fixer, ok := m.(Fixer)
			if !ok {
				continue
			}
			fixed, err := fixer.Fix(ctx, &Source{Path: src.Path, Language: src.Language, Text: text})
			if err != nil || fixed == nil || bytes.Equal(fixed, text) {
				continue
			}
			text = fixed
			changed = true
		}
		if !changed {
			break
		}
	}
	return text, !bytes.Equal(text, src.Text)
}

// applyRules applies severity overrides. Fatal messages are never remapped.
func applyRules(messages []report.Message, rules map[string]report.Severity) []report.Message {
	if len(rules) == 0 {
		return messages
	}
	out := messages[:0]
	for _, m := range messages {
		if sev, ok := rules[m.RuleID]; ok && !m.Fatal && m.RuleID != "" {
			if sev == report.SeverityOff {
				continue
			}
			m.Severity = sev
		}
		out = append(out, m)
	}
	return out
}

// =============================================================================
// INLINE DIRECTIVES
// =============================================================================

const (
	directiveLine     = "parallint-disable-line"
	directiveNextLine = "parallint-disable-next-line"
)

// applyInlineDirectives drops messages suppressed by comments in text.
//
// A comment containing parallint-disable-line suppresses messages on its own
// line; parallint-disable-next-line suppresses the following line. Either
// may be followed by a comma-separated rule list; without one every rule is
// suppressed. Fatal messages cannot be suppressed.
func applyInlineDirectives(messages []report.Message, text []byte) []report.Message {
	if len(messages) == 0 || !bytes.Contains(text, []byte("parallint-disable")) {
		return messages
	}

	disabled := make(map[int][]string)
	for i, line := range strings.Split(string(text), "\n") {
		target, rest := i+1, ""
		if idx := strings.Index(line, directiveNextLine); idx >= 0 {
			target, rest = i+2, line[idx+len(directiveNextLine):]
		} else if idx := strings.Index(line, directiveLine); idx >= 0 {
			rest = line[idx+len(directiveLine):]
		} else {
			continue
		}
		rules := directiveRules(rest)
		if len(rules) == 0 {
			rules = []string{"*"}
		}
		disabled[target] = append(disabled[target], rules...)
	}

	out := messages[:0]
	for _, m := range messages {
		if !m.Fatal && suppressed(disabled[m.Line], m.RuleID) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func directiveRules(rest string) []string {
	rest = strings.TrimSpace(rest)
	for _, end := range []string{"*/", "-->"} {
		rest = strings.TrimSpace(strings.TrimSuffix(rest, end))
	}
	if rest == "" {
		return nil
	}
	var rules []string
	for _, r := range strings.Split(rest, ",") {
		if r = strings.TrimSpace(r); r != "" {
			rules = append(rules, r)
		}
	}
	return rules
}

func suppressed(rules []string, ruleID string) bool {
	for _, r := range rules {
		if r == "*" || r == ruleID {
			return true
		}
	}
	return false
}

func hasFatal(messages []report.Message) bool {
	for _, m := range messages {
		if m.Fatal {
			return true
		}
	}
	return false
}

func sortMessages(messages []report.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].Line != messages[j].Line {
			return messages[i].Line < messages[j].Line
		}
		return messages[i].Column < messages[j].Column
	})
}
