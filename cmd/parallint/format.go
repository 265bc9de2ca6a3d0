// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/parallint/services/parallint/report"
)

// Formatter renders a merged report.
type Formatter interface {
	Format(w io.Writer, r *report.MergedReport) error
}

func newFormatter(name string, color bool) (Formatter, error) {
	switch name {
	case "", "stylish":
		return newStylishFormatter(color), nil
	case "json":
		return jsonFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q", name)
	}
}

// =============================================================================
// JSON
// =============================================================================

type jsonFormatter struct{}

func (jsonFormatter) Format(w io.Writer, r *report.MergedReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// =============================================================================
// STYLISH
// =============================================================================

var (
	colorError   = lipgloss.Color("#E74C3C")
	colorWarning = lipgloss.Color("#F4D03F")
	colorMuted   = lipgloss.Color("#2C4A54")
	colorSuccess = lipgloss.Color("#2CD7C7")
)

type stylishStyles struct {
	path    lipgloss.Style
	error   lipgloss.Style
	warning lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
}

// stylishFormatter groups messages by file with aligned columns and ends
// with a problem summary.
type stylishFormatter struct {
	styles stylishStyles
}

func newStylishFormatter(color bool) *stylishFormatter {
	if !color {
		plain := lipgloss.NewStyle()
		return &stylishFormatter{styles: stylishStyles{plain, plain, plain, plain, plain}}
	}
	return &stylishFormatter{styles: stylishStyles{
		path:    lipgloss.NewStyle().Underline(true),
		error:   lipgloss.NewStyle().Foreground(colorError),
		warning: lipgloss.NewStyle().Foreground(colorWarning),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
		success: lipgloss.NewStyle().Foreground(colorSuccess).Bold(true),
	}}
}

func (f *stylishFormatter) Format(w io.Writer, r *report.MergedReport) error {
	var b strings.Builder
	total := r.ErrorCount + r.WarningCount

	for _, res := range r.Results {
		if len(res.Messages) == 0 {
			continue
		}
		b.WriteString("\n")
		b.WriteString(f.styles.path.Render(res.FilePath))
		b.WriteString("\n")

		posWidth, sevWidth, textWidth := 0, 0, 0
		for _, m := range res.Messages {
			posWidth = max(posWidth, len(position(m)))
			sevWidth = max(sevWidth, len(severityLabel(m.Severity)))
			textWidth = max(textWidth, len(m.Message))
		}
		for _, m := range res.Messages {
			sev := padRight(severityLabel(m.Severity), sevWidth)
			if m.Severity == report.SeverityError {
				sev = f.styles.error.Render(sev)
			} else {
				sev = f.styles.warning.Render(sev)
			}
			line := fmt.Sprintf("  %s  %s  %s  %s",
				f.styles.muted.Render(padLeft(position(m), posWidth)),
				sev,
				padRight(m.Message, textWidth),
				f.styles.muted.Render(ruleLabel(m)))
			b.WriteString(strings.TrimRight(line, " "))
			b.WriteString("\n")
		}
	}

	if total > 0 {
		style := f.styles.warning
		if r.ErrorCount > 0 {
			style = f.styles.error
		}
		b.WriteString("\n")
		b.WriteString(style.Render(fmt.Sprintf("✖ %s (%s, %s)",
			plural(total, "problem"),
			plural(r.ErrorCount, "error"),
			plural(r.WarningCount, "warning"))))
		b.WriteString("\n")
		if r.FixableErrorCount > 0 || r.FixableWarningCount > 0 {
			b.WriteString(style.Render(fmt.Sprintf("  %s and %s potentially fixable with the `--fix` option.",
				plural(r.FixableErrorCount, "error"),
				plural(r.FixableWarningCount, "warning"))))
			b.WriteString("\n")
		}
	} else if len(r.Results) > 0 {
		b.WriteString(f.styles.success.Render(fmt.Sprintf("✓ %s linted, no problems", plural(len(r.Results), "file"))))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func position(m report.Message) string {
	return fmt.Sprintf("%d:%d", m.Line, m.Column)
}

func severityLabel(s report.Severity) string {
	if s == report.SeverityError {
		return "error"
	}
	return "warning"
}

func ruleLabel(m report.Message) string {
	switch {
	case m.RuleID != "" && m.Linter != "":
		return m.Linter + "/" + m.RuleID
	case m.RuleID != "":
		return m.RuleID
	default:
		return m.Linter
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

// errorsOnly returns a copy of r with warnings removed, for --quiet.
// Results left without messages are dropped.
func errorsOnly(r *report.MergedReport) *report.MergedReport {
	results := make([]report.Result, 0, len(r.Results))
	for _, res := range r.Results {
		var kept []report.Message
		for _, m := range res.Messages {
			if m.Severity == report.SeverityError {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			continue
		}
		filtered := res
		filtered.Messages = kept
		filtered.Recount()
		results = append(results, filtered)
	}
	out := *r
	out.Report = report.NewReport(results)
	return &out
}
