// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package outputschema

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// NewDiff builds a diff block from the before/after content of a file
// edit. The unified diff is rendered with three lines of context, matching
// the hunk-with-context shape the source used for its HTML edit diffs
// (internal/claude/diff.go's computeLineDiff), retargeted here to plain
// unified-diff text since the broker has no HTML rendering surface.
//
// An edit that produces no textual difference still yields a block (empty
// Content) rather than being refused, since the caller already knows an
// edit occurred; it is up to the runtime whether to persist a no-op diff.
func NewDiff(path, oldContent, newContent string) (Block, error) {
	if path == "" {
		return Block{}, &missingFieldError{KindDiff, "path"}
	}

	udiff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldContent),
		B:        difflib.SplitLines(newContent),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(udiff)
	if err != nil {
		return Block{}, err
	}

	b := newBlock(KindDiff, RoleAssistant)
	b.Path = path
	b.Content = strings.TrimRight(text, "\n")
	return b, nil
}
