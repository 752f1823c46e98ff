// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"encoding/json"

	"perch/internal/outputschema"
)

// genericContentBlock is the shared shape of one item inside an
// `assistant`-style message's content array, common to the CursorAgent and
// Claude JSON dialects.
type genericContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

func blocksFromContent(content []genericContentBlock, rawLine []byte) []outputschema.Block {
	var blocks []outputschema.Block
	for _, c := range content {
		switch c.Type {
		case "text":
			blocks = append(blocks, outputschema.NewText(outputschema.RoleAssistant, c.Text, false))
		case "tool_use":
			b, err := outputschema.NewToolUseStart(c.ID, c.Name, c.Input)
			if err != nil {
				blocks = append(blocks, outputschema.NewRaw(rawLine))
				continue
			}
			blocks = append(blocks, b)
		case "tool_result":
			b, err := outputschema.NewToolUseResult(c.ToolUseID, c.Content, c.IsError)
			if err != nil {
				blocks = append(blocks, outputschema.NewRaw(rawLine))
				continue
			}
			blocks = append(blocks, b)
		}
	}
	return blocks
}
