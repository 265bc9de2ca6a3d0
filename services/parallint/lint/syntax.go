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

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/AleutianAI/parallint/services/parallint/report"
)

// SyntaxModuleName is the registry name of the parse check.
const SyntaxModuleName = "syntax"

// maxSyntaxDepth bounds the error search on pathological trees.
const maxSyntaxDepth = 1000

// SyntaxModule reports files that do not parse.
//
// Description:
//
//	The file is parsed with tree-sitter and the first ERROR or MISSING node
//	becomes a single fatal message, the same shape a linter reports for a
//	parsing error. A file that fails here is not handed to other modules.
//
// Thread Safety: Safe for concurrent use. A parser is created per call.
type SyntaxModule struct{}

// NewSyntaxModule creates the parse check module.
func NewSyntaxModule() *SyntaxModule {
	return &SyntaxModule{}
}

// Name implements Module.
func (m *SyntaxModule) Name() string { return SyntaxModuleName }

// Handles implements Module.
func (m *SyntaxModule) Handles(language string) bool {
	return treeSitterLanguage(language) != nil
}

// Verify implements Module.
func (m *SyntaxModule) Verify(ctx context.Context, src *Source) ([]report.Message, error) {
	lang := treeSitterLanguage(src.Language)
	if lang == nil {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, src.Text)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || !root.HasError() {
		return nil, nil
	}

	node := firstSyntaxError(root, 0)
	if node == nil {
		node = root
	}
	pos := node.StartPoint()

	text := "Parsing error: unexpected token"
	if node.IsMissing() {
		text = fmt.Sprintf("Parsing error: missing %s", node.Type())
	} else if snippet := node.Content(src.Text); snippet != "" && len(snippet) <= 40 {
		text = fmt.Sprintf("Parsing error: unexpected %q", snippet)
	}

	return []report.Message{{
		Linter:   SyntaxModuleName,
		Severity: report.SeverityError,
		Message:  text,
		Line:     int(pos.Row) + 1,
		Column:   int(pos.Column) + 1,
		Fatal:    true,
	}}, nil
}

// firstSyntaxError returns the first ERROR or MISSING node in document order.
func firstSyntaxError(node *sitter.Node, depth int) *sitter.Node {
	if node == nil || depth > maxSyntaxDepth {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstSyntaxError(node.Child(i), depth+1); found != nil {
			return found
		}
	}
	return nil
}

func treeSitterLanguage(language string) *sitter.Language {
	switch language {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	case "tsx":
		return tsx.GetLanguage()
	default:
		return nil
	}
}
