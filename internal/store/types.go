// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store implements the durable transcript store: a single-writer
// embedded SQL database holding conversations and their ordered message
// events, surviving process restart.
package store

import "perch/internal/outputschema"

// Status is a Conversation's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusEnded     Status = "ended"
	StatusErrored   Status = "errored"
)

// Conversation is a single chat session with one AI CLI.
type Conversation struct {
	ID          string
	Tool        string // cursor-agent | claude | gemini
	Topic       string
	Model       string // nullable (empty string means unset)
	Mode        string // agent | plan | ask
	ProjectPath string
	Status      Status
	CreatedAt   int64 // epoch ms
	UpdatedAt   int64 // epoch ms
}

// Message is one append-only entry in a conversation transcript, widening
// outputschema.Block with the store's own identity and ordering fields.
type Message struct {
	ConversationID string
	ID             string
	Timestamp      int64 // epoch ms, monotonic per conversation by insertion order
	Block          outputschema.Block
}
