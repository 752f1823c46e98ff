// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"encoding/json"
	"fmt"
	"strings"

	"perch/internal/outputschema"
)

// claudeAdapter drives the `claude` CLI in --output-format stream-json
// mode. Grounded on internal/claude/manager.go's ensureProcess/readLoop:
// the same flag surface, the same NDJSON event shapes, generalized from a
// hardcoded single long-running session into the Adapter contract.
type claudeAdapter struct{}

// NewClaude returns the Claude Code adapter.
func NewClaude() Adapter { return claudeAdapter{} }

func (claudeAdapter) Name() string { return "claude" }

func (claudeAdapter) ExecutableCandidates() []string { return []string{"claude", "claude-code"} }

func (claudeAdapter) ParseStrategy() ParseStrategy { return JSONLines }

// BuildCreateArgs: Claude has no native create command; the caller mints a
// UUID and passes it as --session-id to subsequent calls.
func (claudeAdapter) BuildCreateArgs(workspace string) ([]string, bool) {
	return nil, true
}

func (claudeAdapter) BuildSendArgs(sessionID, workspace, model, mode, message string) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--session-id", sessionID,
	}
	if workspace != "" {
		args = append(args, "--workspace", workspace)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if mode == "plan" {
		args = append(args, "--permission-mode", "plan")
	}
	return append(args, message)
}

func (claudeAdapter) BuildInteractiveArgs(sessionID, workspace, model, mode string) []string {
	args := []string{"--resume", "--session-id", sessionID}
	if workspace != "" {
		args = append(args, "--workspace", workspace)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if mode == "plan" {
		args = append(args, "--permission-mode", "plan")
	}
	return args
}

func (claudeAdapter) ParseCreateOutput(raw string) (string, error) {
	return "", fmt.Errorf("claude: adapter has no create command")
}

// claudeEvent mirrors one NDJSON line from `claude --output-format
// stream-json --include-partial-messages`.
type claudeEvent struct {
	Type       string          `json:"type"`
	Subtype    string          `json:"subtype,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Delta      json.RawMessage `json:"delta,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
	Result     string          `json:"result,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Request    json.RawMessage `json:"request,omitempty"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

type claudeMessageStart struct {
	Model string `json:"model"`
}

type claudeDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeAssistantMessage struct {
	Content []genericContentBlock `json:"content"`
}

func (claudeAdapter) ParseJSONEvent(line []byte) ([]outputschema.Block, error) {
	var ev claudeEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("claude: malformed event: %w", err)
	}

	switch ev.Type {
	case "message_start":
		var msg claudeMessageStart
		if len(ev.Message) > 0 {
			_ = json.Unmarshal(ev.Message, &msg)
		}
		return []outputschema.Block{outputschema.NewSessionStart(msg.Model)}, nil

	case "content_block_delta":
		var d claudeDelta
		if err := json.Unmarshal(ev.Delta, &d); err != nil {
			return nil, fmt.Errorf("claude: malformed delta: %w", err)
		}
		switch d.Type {
		case "text_delta":
			return []outputschema.Block{outputschema.NewText(outputschema.RoleAssistant, d.Text, true)}, nil
		case "thinking_delta":
			return []outputschema.Block{outputschema.NewThinking(d.Text, true)}, nil
		default:
			return nil, nil
		}

	case "message_stop":
		reason := ev.StopReason
		if reason == "" {
			reason = "end_turn"
		}
		b, err := outputschema.NewSessionEnd(reason, false)
		if err != nil {
			return nil, err
		}
		return []outputschema.Block{b}, nil

	case "assistant":
		var msg claudeAssistantMessage
		if err := json.Unmarshal(ev.Message, &msg); err != nil {
			return nil, fmt.Errorf("claude: malformed assistant message: %w", err)
		}
		return blocksFromContent(msg.Content, line), nil

	case "control_request":
		text := string(ev.Request)
		kind, ok := claudeAdapter{}.DetectApprovalRequest(text)
		if !ok {
			kind = ApprovalGeneric
		}
		b, err := outputschema.NewApprovalRequest(string(kind), text)
		if err != nil {
			return nil, err
		}
		return []outputschema.Block{b}, nil

	case "result":
		reason := ev.Result
		if ev.IsError && reason == "" {
			reason = "error"
		}
		if reason == "" {
			reason = "success"
		}
		b, err := outputschema.NewSessionEnd(reason, ev.IsError)
		if err != nil {
			return nil, err
		}
		blocks := []outputschema.Block{b}
		if ev.Usage != nil {
			blocks = append(blocks, outputschema.NewUsage(ev.Usage.InputTokens, ev.Usage.OutputTokens))
		}
		return blocks, nil

	case "system":
		// init/status events carry slash-commands/skills caching and
		// compaction status; no stable content-block mapping, so they
		// are swallowed rather than forced into an ill-fitting kind.
		return nil, nil

	default:
		return nil, fmt.Errorf("claude: unrecognized event type %q", ev.Type)
	}
}

func (claudeAdapter) ParseTextLine(stripped, original string) outputschema.Block {
	// Claude's parse strategy is JSONLines; ParseTextLine is reached when a
	// line is not valid JSON (a stray log line from the CLI) or when
	// ParseJSONEvent rejects it (e.g. an unrecognized event type).
	return outputschema.NewText(outputschema.RoleAssistant, stripped, false)
}

func (claudeAdapter) DetectApprovalRequest(text string) (ApprovalKind, bool) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "edit") || strings.Contains(lower, "write") || strings.Contains(lower, "file_path"):
		return ApprovalFileEdit, true
	case strings.Contains(lower, "command") || strings.Contains(lower, "bash") || strings.Contains(lower, "run"):
		return ApprovalCommand, true
	case strings.Contains(lower, "permission") || strings.Contains(lower, "approve") || strings.Contains(lower, "(y/n)"):
		return ApprovalGeneric, true
	}
	return "", false
}
