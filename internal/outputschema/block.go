// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package outputschema defines the closed set of normalized content-block
// kinds emitted by adapters and the output parser, persisted by the
// transcript store, and delivered to subscribers over the wire.
package outputschema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the shape of a Block. The set is closed: adapters and the
// parser must only ever produce one of these, falling back to KindRaw when
// a required field for the intended kind is missing.
type Kind string

const (
	KindText            Kind = "text"
	KindThinking        Kind = "thinking"
	KindToolUseStart    Kind = "tool_use_start"
	KindToolUseResult   Kind = "tool_use_result"
	KindFileRead        Kind = "file_read"
	KindFileEdit        Kind = "file_edit"
	KindCommandRun      Kind = "command_run"
	KindCodeBlock       Kind = "code_block"
	KindDiff            Kind = "diff"
	KindProgress        Kind = "progress"
	KindApprovalRequest Kind = "approval_request"
	KindUsage           Kind = "usage"
	KindSessionStart    Kind = "session_start"
	KindSessionEnd      Kind = "session_end"
	KindError           Kind = "error"
	KindRaw             Kind = "raw"
)

// Role is the originator of a Block. Empty for blocks with no clear role
// (e.g. progress, usage).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Block is one append-only event in a conversation transcript. It is both
// the persistence record and the wire format delivered to subscribers.
// Fields not meaningful for a given Kind are left zero.
type Block struct {
	ConversationID string          `json:"conversationId"`
	ID             string          `json:"id"`
	Kind           Kind            `json:"type"`
	Role           Role            `json:"role,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	IsPartial      bool            `json:"isPartial,omitempty"`
	Content        string          `json:"content,omitempty"`
	ToolID         string          `json:"toolId,omitempty"`
	ToolName       string          `json:"toolName,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	IsError        bool            `json:"isError,omitempty"`
	Path           string          `json:"path,omitempty"`
	Command        string          `json:"command,omitempty"`
	Language       string          `json:"language,omitempty"`
	Code           string          `json:"code,omitempty"`
	InputTokens    int             `json:"inputTokens,omitempty"`
	OutputTokens   int             `json:"outputTokens,omitempty"`
	// Raw preserves the unrecognized payload for KindRaw, or sibling fields
	// an adapter saw but the schema has no slot for, to avoid data loss.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// missingFieldError is returned by constructors when a required field for
// the requested kind is empty; callers fall back to NewRaw per §4.1.
type missingFieldError struct {
	kind  Kind
	field string
}

func (e *missingFieldError) Error() string {
	return fmt.Sprintf("outputschema: %s block missing required field %q", e.kind, e.field)
}

func newBlock(kind Kind, role Role) Block {
	return Block{
		Kind:      kind,
		Role:      role,
		Timestamp: time.Now(),
	}
}

// NewText builds a text block. Content may be empty, for partial deltas
// and non-partial blocks alike (a CLI may emit an empty one to signal an
// empty turn).
func NewText(role Role, content string, partial bool) Block {
	b := newBlock(KindText, role)
	b.Content = content
	b.IsPartial = partial
	return b
}

// NewThinking builds a thinking (model reasoning) block.
func NewThinking(content string, partial bool) Block {
	b := newBlock(KindThinking, RoleAssistant)
	b.Content = content
	b.IsPartial = partial
	return b
}

// NewToolUseStart builds a tool invocation block. toolName is required (a
// missing toolName demotes the caller to NewRaw); toolID may be empty.
func NewToolUseStart(toolID, toolName string, input json.RawMessage) (Block, error) {
	if toolName == "" {
		return Block{}, &missingFieldError{KindToolUseStart, "toolName"}
	}
	b := newBlock(KindToolUseStart, RoleAssistant)
	b.ToolID = toolID
	b.ToolName = toolName
	b.Input = input
	return b, nil
}

// NewToolUseResult builds a tool result block. toolID is required.
func NewToolUseResult(toolID, content string, isError bool) (Block, error) {
	if toolID == "" {
		return Block{}, &missingFieldError{KindToolUseResult, "toolId"}
	}
	b := newBlock(KindToolUseResult, RoleAssistant)
	b.ToolID = toolID
	b.Content = content
	b.IsError = isError
	return b, nil
}

// NewFileRead builds a file-read block. path is required.
func NewFileRead(path string) (Block, error) {
	if path == "" {
		return Block{}, &missingFieldError{KindFileRead, "path"}
	}
	b := newBlock(KindFileRead, RoleAssistant)
	b.Path = path
	return b, nil
}

// NewFileEdit builds a file-edit block. path is required.
func NewFileEdit(path, code string) (Block, error) {
	if path == "" {
		return Block{}, &missingFieldError{KindFileEdit, "path"}
	}
	b := newBlock(KindFileEdit, RoleAssistant)
	b.Path = path
	b.Code = code
	return b, nil
}

// NewCommandRun builds a command-run block. command is required.
func NewCommandRun(command string) (Block, error) {
	if command == "" {
		return Block{}, &missingFieldError{KindCommandRun, "command"}
	}
	b := newBlock(KindCommandRun, RoleAssistant)
	b.Command = command
	return b, nil
}

// NewCodeBlock builds a fenced code block. code is required; language may
// be empty (unknown language).
func NewCodeBlock(language, code string) (Block, error) {
	if code == "" {
		return Block{}, &missingFieldError{KindCodeBlock, "code"}
	}
	b := newBlock(KindCodeBlock, RoleAssistant)
	b.Language = language
	b.Code = code
	return b, nil
}

// NewProgress builds a progress/status block (e.g. "compacting").
func NewProgress(content string) Block {
	b := newBlock(KindProgress, RoleSystem)
	b.Content = content
	return b
}

// NewApprovalRequest builds a pending-approval block. The action
// (file_edit|command|generic, per detect-approval-request) is carried in
// Path; content carries the prompt text.
func NewApprovalRequest(action, content string) (Block, error) {
	if action == "" {
		return Block{}, &missingFieldError{KindApprovalRequest, "action"}
	}
	b := newBlock(KindApprovalRequest, RoleAssistant)
	b.Path = action // reuses Path as the "action" slot; avoids a one-off field
	b.Content = content
	return b, nil
}

// NewUsage builds a token-usage block.
func NewUsage(inputTokens, outputTokens int) Block {
	b := newBlock(KindUsage, "")
	b.InputTokens = inputTokens
	b.OutputTokens = outputTokens
	return b
}

// NewSessionStart builds the block emitted when a child process is
// successfully spawned. model, if known, is carried in Content.
func NewSessionStart(model string) Block {
	b := newBlock(KindSessionStart, RoleSystem)
	b.Content = model
	return b
}

// NewSessionEnd builds the block emitted on child exit. reason is
// required ("end_turn", "success", "failure: ...", etc).
func NewSessionEnd(reason string, isError bool) (Block, error) {
	if reason == "" {
		return Block{}, &missingFieldError{KindSessionEnd, "reason"}
	}
	b := newBlock(KindSessionEnd, RoleSystem)
	b.Content = reason
	b.IsError = isError
	return b, nil
}

// NewError builds a terminal error block.
func NewError(message string) Block {
	b := newBlock(KindError, RoleSystem)
	b.Content = message
	b.IsError = true
	return b
}

// NewRaw builds a catch-all block preserving an unparseable or
// schema-unmapped payload verbatim. Used whenever a more specific
// constructor would refuse due to a missing required field, and whenever
// the parser cannot classify a chunk at all.
func NewRaw(raw json.RawMessage) Block {
	b := newBlock(KindRaw, "")
	b.Raw = raw
	return b
}
