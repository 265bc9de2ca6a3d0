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
	"strings"

	"github.com/AleutianAI/parallint/services/parallint/report"
)

// ParserFunc converts raw linter output into messages.
type ParserFunc func(data []byte) ([]report.Message, error)

// =============================================================================
// GOLANGCI-LINT PARSER
// =============================================================================

type golangciOutput struct {
	Issues []golangciIssue `json:"Issues"`
}

type golangciIssue struct {
	FromLinter  string               `json:"FromLinter"`
	Text        string               `json:"Text"`
	Severity    string               `json:"Severity"`
	Pos         golangciPos          `json:"Pos"`
	LineRange   *golangciLineRange   `json:"LineRange,omitempty"`
	Replacement *golangciReplacement `json:"Replacement,omitempty"`
}

type golangciPos struct {
	Filename string `json:"Filename"`
	Line     int    `json:"Line"`
	Column   int    `json:"Column"`
}

type golangciLineRange struct {
	From int `json:"From"`
	To   int `json:"To"`
}

type golangciReplacement struct {
	NeedOnlyDelete bool     `json:"NeedOnlyDelete"`
	NewLines       []string `json:"NewLines"`
}

// parseGolangCIOutput parses `golangci-lint run --out-format=json`.
func parseGolangCIOutput(data []byte) ([]report.Message, error) {
	var output golangciOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("parsing golangci-lint output: %w", err)
	}

	messages := make([]report.Message, 0, len(output.Issues))
	for _, gi := range output.Issues {
		msg := report.Message{
			RuleID:   gi.FromLinter,
			Severity: mapGolangCISeverity(gi.Severity),
			Message:  gi.Text,
			Line:     gi.Pos.Line,
			Column:   gi.Pos.Column,
			Fixable:  gi.Replacement != nil,
		}
		if gi.LineRange != nil {
			msg.EndLine = gi.LineRange.To
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func mapGolangCISeverity(s string) report.Severity {
	if strings.EqualFold(s, "error") {
		return report.SeverityError
	}
	// golangci-lint often leaves severity empty; most of its linters are style checks.
	return report.SeverityWarning
}

// =============================================================================
// RUFF PARSER
// =============================================================================

type ruffIssue struct {
	Code        string       `json:"code"`
	EndLocation ruffLocation `json:"end_location"`
	Filename    string       `json:"filename"`
	Fix         *ruffFix     `json:"fix"`
	Location    ruffLocation `json:"location"`
	Message     string       `json:"message"`
}

type ruffLocation struct {
	Column int `json:"column"`
	Row    int `json:"row"`
}

type ruffFix struct {
	Applicability string `json:"applicability"`
}

// parseRuffOutput parses `ruff check --output-format=json`.
func parseRuffOutput(data []byte) ([]report.Message, error) {
	var issues []ruffIssue
	if err := json.Unmarshal(data, &issues); err != nil {
		return nil, fmt.Errorf("parsing ruff output: %w", err)
	}

	messages := make([]report.Message, 0, len(issues))
	for _, ri := range issues {
		messages = append(messages, report.Message{
			RuleID:    ri.Code,
			Severity:  mapRuffSeverity(ri.Code),
			Message:   ri.Message,
			Line:      ri.Location.Row,
			Column:    ri.Location.Column,
			EndLine:   ri.EndLocation.Row,
			EndColumn: ri.EndLocation.Column,
			Fixable:   ri.Fix != nil && (ri.Fix.Applicability == "safe" || ri.Fix.Applicability == "always"),
		})
	}
	return messages, nil
}

// mapRuffSeverity maps Ruff rule prefixes to a severity.
func mapRuffSeverity(code string) report.Severity {
	if code == "" {
		return report.SeverityWarning
	}
	switch strings.ToUpper(code[:1]) {
	case "E", "F", "S": // pycodestyle errors, pyflakes, bandit
		return report.SeverityError
	default:
		return report.SeverityWarning
	}
}

// =============================================================================
// ESLINT PARSER
// =============================================================================

type eslintFile struct {
	FilePath string          `json:"filePath"`
	Messages []eslintMessage `json:"messages"`
}

type eslintMessage struct {
	RuleID    string          `json:"ruleId"`
	Severity  int             `json:"severity"`
	Message   string          `json:"message"`
	Line      int             `json:"line"`
	Column    int             `json:"column"`
	EndLine   int             `json:"endLine"`
	EndColumn int             `json:"endColumn"`
	Fatal     bool            `json:"fatal"`
	Fix       json.RawMessage `json:"fix"`
}

// parseESLintOutput parses `eslint --format=json`. Severities already use the
// 1 and 2 scale.
func parseESLintOutput(data []byte) ([]report.Message, error) {
	var files []eslintFile
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("parsing eslint output: %w", err)
	}

	var messages []report.Message
	for _, file := range files {
		for _, em := range file.Messages {
			sev := report.SeverityWarning
			if em.Severity >= 2 || em.Fatal {
				sev = report.SeverityError
			}
			messages = append(messages, report.Message{
				RuleID:    em.RuleID,
				Severity:  sev,
				Message:   em.Message,
				Line:      em.Line,
				Column:    em.Column,
				EndLine:   em.EndLine,
				EndColumn: em.EndColumn,
				Fatal:     em.Fatal,
				Fixable:   len(em.Fix) > 0 && string(em.Fix) != "null",
			})
		}
	}
	return messages, nil
}
