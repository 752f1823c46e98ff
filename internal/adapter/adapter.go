// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package adapter declares the per-tool plug-in contract used to invoke and
// parse output from the supported AI CLI executables (cursor-agent, claude,
// gemini), and a registry that resolves a tool name to its adapter and
// caches executable availability.
package adapter

import (
	"perch/internal/outputschema"
)

// ParseStrategy selects how the Output Parser splits and dispatches an
// adapter's raw byte stream before handing a chunk to the adapter.
type ParseStrategy string

const (
	// JSONLines means each complete line is attempted as a JSON event
	// first; ParseJSONEvent handles it, falling back to ParseTextLine on
	// unmarshal failure.
	JSONLines ParseStrategy = "json-lines"
	// AnsiText means the parser strips ANSI SGR and cursor-movement
	// escapes from each line before handing it to ParseTextLine. A
	// stripped line that is valid JSON is first offered to ParseJSONEvent,
	// falling back to ParseTextLine if ParseJSONEvent rejects it.
	AnsiText ParseStrategy = "ansi-text"
)

// ApprovalKind categorizes a detected approval prompt.
type ApprovalKind string

const (
	ApprovalFileEdit ApprovalKind = "file_edit"
	ApprovalCommand  ApprovalKind = "command"
	ApprovalGeneric  ApprovalKind = "generic"
)

// Adapter knows how to build command-line invocations for one AI CLI tool
// and how to parse its output into content blocks. Implementations must be
// stateless and safe for concurrent use; any per-invocation state lives in
// the Session Runtime, not the adapter.
type Adapter interface {
	// Name is the tool identifier used in Conversation.tool and in the
	// registry ("cursor-agent", "claude", "gemini").
	Name() string

	// ExecutableCandidates lists binary names to probe on PATH, in
	// preference order. Most adapters have exactly one.
	ExecutableCandidates() []string

	// ParseStrategy is this adapter's default stream-splitting strategy.
	ParseStrategy() ParseStrategy

	// BuildCreateArgs returns the argument list for native session
	// creation. callerGeneratesID is true when the adapter has no create
	// command of its own and the caller (Broker) must mint a UUID and
	// pass it to BuildSendArgs/BuildInteractiveArgs instead; in that case
	// args is nil and no child is spawned for creation.
	BuildCreateArgs(workspace string) (args []string, callerGeneratesID bool)

	// BuildSendArgs returns the argument list for one headless turn:
	// spawn, stream stdout to EOF, exit. model and mode may be empty.
	BuildSendArgs(sessionID, workspace, model, mode, message string) []string

	// BuildInteractiveArgs returns the argument list for a long-lived PTY
	// session (REPL mode, no per-turn spawn).
	BuildInteractiveArgs(sessionID, workspace, model, mode string) []string

	// ParseCreateOutput extracts the CLI-assigned session id from the
	// stdout of a create invocation.
	ParseCreateOutput(raw string) (id string, err error)

	// ParseJSONEvent parses one complete JSON line into zero or more
	// content blocks, in source order (a single event may carry several
	// content items, e.g. text followed by a tool_use).
	ParseJSONEvent(line []byte) ([]outputschema.Block, error)

	// ParseTextLine classifies one ANSI-stripped line. original is the
	// pre-strip line, kept for adapters whose markers depend on control
	// sequences. Always returns exactly one block; unrecognized lines
	// become outputschema.KindText.
	ParseTextLine(stripped, original string) outputschema.Block

	// DetectApprovalRequest inspects already-emitted text for an approval
	// prompt pattern and classifies it.
	DetectApprovalRequest(text string) (kind ApprovalKind, ok bool)
}
