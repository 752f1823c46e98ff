// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"perch/internal/outputschema"
)

// cursorAgentAdapter drives the `cursor-agent` CLI. Unlike Claude it has a
// native create-chat command, and its primary parse strategy is free text
// with ANSI codes, though it still emits structured JSON events in
// --output-format stream-json mode that are accepted opportunistically.
type cursorAgentAdapter struct{}

// NewCursorAgent returns the CursorAgent adapter.
func NewCursorAgent() Adapter { return cursorAgentAdapter{} }

func (cursorAgentAdapter) Name() string { return "cursor-agent" }

func (cursorAgentAdapter) ExecutableCandidates() []string { return []string{"cursor-agent"} }

func (cursorAgentAdapter) ParseStrategy() ParseStrategy { return AnsiText }

func (cursorAgentAdapter) BuildCreateArgs(workspace string) ([]string, bool) {
	args := []string{"create-chat"}
	if workspace != "" {
		args = append(args, "--workspace", workspace)
	}
	return args, false
}

func (cursorAgentAdapter) BuildSendArgs(sessionID, workspace, model, mode, message string) []string {
	args := []string{"--resume", sessionID, "-p", "-f", "--output-format", "stream-json"}
	if workspace != "" {
		args = append(args, "--workspace", workspace)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if mode == "plan" || mode == "ask" {
		args = append(args, "--mode", mode)
	}
	return append(args, message)
}

func (cursorAgentAdapter) BuildInteractiveArgs(sessionID, workspace, model, mode string) []string {
	args := []string{"--resume", sessionID}
	if workspace != "" {
		args = append(args, "--workspace", workspace)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if mode == "plan" || mode == "ask" {
		args = append(args, "--mode", mode)
	}
	return args
}

// ParseCreateOutput trims whitespace and returns the printed id verbatim.
func (cursorAgentAdapter) ParseCreateOutput(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("cursor-agent: create-chat printed no session id")
	}
	return id, nil
}

type cursorAssistantMessage struct {
	Content []genericContentBlock `json:"content"`
}

type cursorEvent struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
}

// ParseJSONEvent handles the JSON events cursor-agent emits in
// --output-format stream-json mode, accepted even though the adapter's
// default parse strategy is ansi-text (§4.2: "JSON events are accepted
// when they arrive").
func (cursorAgentAdapter) ParseJSONEvent(line []byte) ([]outputschema.Block, error) {
	var ev cursorEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("cursor-agent: malformed event: %w", err)
	}
	if ev.Type != "assistant" {
		return nil, fmt.Errorf("cursor-agent: unrecognized event type %q", ev.Type)
	}
	var msg cursorAssistantMessage
	if err := json.Unmarshal(ev.Message, &msg); err != nil {
		return nil, fmt.Errorf("cursor-agent: malformed assistant message: %w", err)
	}
	return blocksFromContent(msg.Content, line), nil
}

var (
	cursorReadingRe = regexp.MustCompile(`^Reading:\s*(.+)$`)
	cursorWritingRe = regexp.MustCompile(`^Writing:\s*(.+)$`)
	cursorDiffLine  = regexp.MustCompile(`^[-+@]`)
)

// ParseTextLine classifies one ANSI-stripped cursor-agent output line
// using the marker patterns documented in the source: "Reading:"/
// "Writing:" file markers, a leading "$" shell prompt, and diff-looking
// `-`/`+`/`@` prefixed lines. Everything else is plain text.
func (cursorAgentAdapter) ParseTextLine(stripped, original string) outputschema.Block {
	trimmed := strings.TrimSpace(stripped)

	if m := cursorReadingRe.FindStringSubmatch(trimmed); m != nil {
		if b, err := outputschema.NewFileRead(m[1]); err == nil {
			return b
		}
	}
	if m := cursorWritingRe.FindStringSubmatch(trimmed); m != nil {
		if b, err := outputschema.NewFileEdit(m[1], ""); err == nil {
			return b
		}
	}
	if strings.HasPrefix(trimmed, "$ ") {
		if b, err := outputschema.NewCommandRun(strings.TrimPrefix(trimmed, "$ ")); err == nil {
			return b
		}
	}
	if cursorDiffLine.MatchString(trimmed) {
		if b, err := outputschema.NewCodeBlock("diff", stripped); err == nil {
			return b
		}
	}
	return outputschema.NewText(outputschema.RoleAssistant, stripped, false)
}

func (cursorAgentAdapter) DetectApprovalRequest(text string) (ApprovalKind, bool) {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "(y/n)") && !strings.Contains(lower, "yes/no") {
		return "", false
	}
	switch {
	case strings.Contains(lower, "edit") || strings.Contains(lower, "write"):
		return ApprovalFileEdit, true
	case strings.Contains(lower, "run") || strings.Contains(lower, "command") || strings.Contains(lower, "execute"):
		return ApprovalCommand, true
	default:
		return ApprovalGeneric, true
	}
}
