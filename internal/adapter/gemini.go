// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"encoding/json"
	"fmt"
	"strings"

	"perch/internal/outputschema"
)

// geminiAdapter drives the `gemini` CLI. The exact flag surface is
// unverified in the source (flagged as an open question in the
// specification); this adapter implements the documented subset and treats
// anything else as best-effort, matching json-lines for its structured
// event stream with a text fallback for stray lines.
type geminiAdapter struct{}

// NewGemini returns the Gemini adapter.
func NewGemini() Adapter { return geminiAdapter{} }

func (geminiAdapter) Name() string { return "gemini" }

func (geminiAdapter) ExecutableCandidates() []string { return []string{"gemini"} }

func (geminiAdapter) ParseStrategy() ParseStrategy { return JSONLines }

// BuildCreateArgs: like Claude, Gemini has no create command; the caller
// mints an id.
func (geminiAdapter) BuildCreateArgs(workspace string) ([]string, bool) {
	return nil, true
}

func (geminiAdapter) BuildSendArgs(sessionID, workspace, model, mode, message string) []string {
	args := []string{"--prompt", message}
	if workspace != "" {
		args = append(args, "--workspace", workspace)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if sessionID != "" {
		args = append(args, "--session-id", sessionID)
	}
	return args
}

func (geminiAdapter) BuildInteractiveArgs(sessionID, workspace, model, mode string) []string {
	var args []string
	if workspace != "" {
		args = append(args, "--workspace", workspace)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if sessionID != "" {
		args = append(args, "--session-id", sessionID)
	}
	return args
}

func (geminiAdapter) ParseCreateOutput(raw string) (string, error) {
	return "", fmt.Errorf("gemini: adapter has no create command")
}

// geminiContentItem is Gemini's content-array item shape, which uses
// alternate field names for tool calls/results depending on API version;
// both are normalized to the same outputschema kinds.
type geminiContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	FunctionCall json.RawMessage `json:"functionCall,omitempty"`
	ToolCall     json.RawMessage `json:"tool_call,omitempty"`
	FunctionResp json.RawMessage `json:"functionResponse,omitempty"`
	ToolResult   json.RawMessage `json:"tool_result,omitempty"`
}

type geminiFunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	ID       string `json:"id,omitempty"`
	Response string `json:"response,omitempty"`
	IsError  bool   `json:"isError,omitempty"`
}

type geminiMessage struct {
	Content []geminiContentItem `json:"content"`
}

type geminiEvent struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
}

func (geminiAdapter) ParseJSONEvent(line []byte) ([]outputschema.Block, error) {
	var ev geminiEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("gemini: malformed event: %w", err)
	}
	if ev.Type != "assistant" && ev.Type != "message" {
		return nil, fmt.Errorf("gemini: unrecognized event type %q", ev.Type)
	}

	var msg geminiMessage
	if err := json.Unmarshal(ev.Message, &msg); err != nil {
		return nil, fmt.Errorf("gemini: malformed message: %w", err)
	}

	var blocks []outputschema.Block
	for _, item := range msg.Content {
		switch {
		case item.Type == "text" || item.Text != "":
			blocks = append(blocks, outputschema.NewText(outputschema.RoleAssistant, item.Text, false))

		case len(item.FunctionCall) > 0 || len(item.ToolCall) > 0:
			raw := item.FunctionCall
			if len(raw) == 0 {
				raw = item.ToolCall
			}
			var fc geminiFunctionCall
			if err := json.Unmarshal(raw, &fc); err != nil {
				blocks = append(blocks, outputschema.NewRaw(line))
				continue
			}
			b, err := outputschema.NewToolUseStart(fc.ID, fc.Name, fc.Args)
			if err != nil {
				blocks = append(blocks, outputschema.NewRaw(line))
				continue
			}
			blocks = append(blocks, b)

		case len(item.FunctionResp) > 0 || len(item.ToolResult) > 0:
			raw := item.FunctionResp
			if len(raw) == 0 {
				raw = item.ToolResult
			}
			var fr geminiFunctionResponse
			if err := json.Unmarshal(raw, &fr); err != nil {
				blocks = append(blocks, outputschema.NewRaw(line))
				continue
			}
			b, err := outputschema.NewToolUseResult(fr.ID, fr.Response, fr.IsError)
			if err != nil {
				blocks = append(blocks, outputschema.NewRaw(line))
				continue
			}
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

func (geminiAdapter) ParseTextLine(stripped, original string) outputschema.Block {
	trimmed := strings.TrimSpace(stripped)
	if strings.HasPrefix(trimmed, "$ ") {
		if b, err := outputschema.NewCommandRun(strings.TrimPrefix(trimmed, "$ ")); err == nil {
			return b
		}
	}
	return outputschema.NewText(outputschema.RoleAssistant, stripped, false)
}

func (geminiAdapter) DetectApprovalRequest(text string) (ApprovalKind, bool) {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "(y/n)") && !strings.Contains(lower, "allow") {
		return "", false
	}
	switch {
	case strings.Contains(lower, "edit") || strings.Contains(lower, "write"):
		return ApprovalFileEdit, true
	case strings.Contains(lower, "run") || strings.Contains(lower, "command"):
		return ApprovalCommand, true
	default:
		return ApprovalGeneric, true
	}
}
