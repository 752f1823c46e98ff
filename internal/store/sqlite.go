// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"perch/internal/outputschema"
)

// schema mirrors the table layout from §6: conversations keyed by id,
// messages with a FK-indexed conversationId and a (conversationId,
// timestamp) ordering index. WAL mode and a foreign-key pragma are applied
// at open time, matching the WAL-pragma-then-CREATE-TABLE-IF-NOT-EXISTS
// shape used for the ledger schema elsewhere in the retrieved corpus.
const schema = `
PRAGMA journal_mode=WAL;
PRAGMA synchronous=NORMAL;
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS conversations (
	id           TEXT PRIMARY KEY,
	tool         TEXT NOT NULL,
	topic        TEXT NOT NULL DEFAULT '',
	model        TEXT NOT NULL DEFAULT '',
	mode         TEXT NOT NULL DEFAULT '',
	projectPath  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	createdAt    INTEGER NOT NULL,
	updatedAt    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	rowid          INTEGER PRIMARY KEY AUTOINCREMENT,
	conversationId TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	id             TEXT NOT NULL,
	type           TEXT NOT NULL,
	role           TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL DEFAULT '',
	toolId         TEXT NOT NULL DEFAULT '',
	toolName       TEXT NOT NULL DEFAULT '',
	input          TEXT NOT NULL DEFAULT '',
	isError        INTEGER NOT NULL DEFAULT 0,
	path           TEXT NOT NULL DEFAULT '',
	command        TEXT NOT NULL DEFAULT '',
	language       TEXT NOT NULL DEFAULT '',
	code           TEXT NOT NULL DEFAULT '',
	inputTokens    INTEGER NOT NULL DEFAULT 0,
	outputTokens   INTEGER NOT NULL DEFAULT 0,
	timestamp      INTEGER NOT NULL,
	isPartial      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_timestamp
	ON messages(conversationId, timestamp);
`

// Store is the transcript store: one writer at a time per conversation,
// many concurrent readers, backed by a single SQLite file.
type Store struct {
	mu   sync.Mutex // serializes writes; database/sql already pools reads
	db   *sql.DB
	path string
}

// Init opens (creating if absent) the database file at
// <dataDir>/chat-persistence.db and applies the schema. Idempotent.
func Init(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Err: err}
	}
	path := filepath.Join(dataDir, "chat-persistence.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers; serialize at the handle

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}

	return &Store{db: db, path: path}, nil
}

// Close flushes and releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return ErrFailedPrecondition
	}
	return s.db.Close()
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// SaveConversation upserts a conversation by id and sets updatedAt.
func (s *Store) SaveConversation(ctx context.Context, c Conversation) error {
	if s.db == nil {
		return ErrFailedPrecondition
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c.UpdatedAt = nowMillis()
	if c.CreatedAt == 0 {
		c.CreatedAt = c.UpdatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, tool, topic, model, mode, projectPath, status, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tool=excluded.tool, topic=excluded.topic, model=excluded.model,
			mode=excluded.mode, projectPath=excluded.projectPath,
			status=excluded.status, updatedAt=excluded.updatedAt
	`, c.ID, c.Tool, c.Topic, c.Model, c.Mode, c.ProjectPath, string(c.Status), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return &StorageError{Op: "saveConversation", Err: err}
	}
	return nil
}

// GetConversation returns the current snapshot, or ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if s.db == nil {
		return Conversation{}, ErrFailedPrecondition
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tool, topic, model, mode, projectPath, status, createdAt, updatedAt
		FROM conversations WHERE id = ?`, id)

	var c Conversation
	var status string
	if err := row.Scan(&c.ID, &c.Tool, &c.Topic, &c.Model, &c.Mode, &c.ProjectPath, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, &StorageError{Op: "getConversation", Err: err}
	}
	c.Status = Status(status)
	return c, nil
}

// GetAllConversations returns every conversation, sorted by updatedAt desc.
func (s *Store) GetAllConversations(ctx context.Context) ([]Conversation, error) {
	if s.db == nil {
		return nil, ErrFailedPrecondition
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool, topic, model, mode, projectPath, status, createdAt, updatedAt
		FROM conversations ORDER BY updatedAt DESC`)
	if err != nil {
		return nil, &StorageError{Op: "getAllConversations", Err: err}
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var status string
		if err := rows.Scan(&c.ID, &c.Tool, &c.Topic, &c.Model, &c.Mode, &c.ProjectPath, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, &StorageError{Op: "getAllConversations", Err: err}
		}
		c.Status = Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConversationStatus atomically transitions a conversation's status.
func (s *Store) UpdateConversationStatus(ctx context.Context, id string, status Status) error {
	if s.db == nil {
		return ErrFailedPrecondition
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updatedAt = ? WHERE id = ?`,
		string(status), nowMillis(), id)
	if err != nil {
		return &StorageError{Op: "updateConversationStatus", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "updateConversationStatus", Err: err}
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a conversation and cascades to its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrFailedPrecondition
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return &StorageError{Op: "deleteConversation", Err: err}
	}
	return nil
}

// SaveMessage appends one message. Partials are never deduplicated.
func (s *Store) SaveMessage(ctx context.Context, m Message) error {
	if s.db == nil {
		return ErrFailedPrecondition
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b := m.Block
	var input string
	if len(b.Input) > 0 {
		input = string(b.Input)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			conversationId, id, type, role, content, toolId, toolName, input,
			isError, path, command, language, code, inputTokens, outputTokens,
			timestamp, isPartial
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ConversationID, m.ID, string(b.Kind), string(b.Role), b.Content, b.ToolID, b.ToolName, input,
		boolToInt(b.IsError), b.Path, b.Command, b.Language, b.Code, b.InputTokens, b.OutputTokens,
		m.Timestamp, boolToInt(b.IsPartial))
	if err != nil {
		return &StorageError{Op: "saveMessage", Err: err}
	}
	return nil
}

// GetMessages returns messages for a conversation ordered by (timestamp,
// insertion), optionally starting strictly after the given cursor
// timestamp. cursor of 0 returns the full history.
func (s *Store) GetMessages(ctx context.Context, conversationID string, cursor int64) ([]Message, error) {
	if s.db == nil {
		return nil, ErrFailedPrecondition
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, role, content, toolId, toolName, input, isError,
		       path, command, language, code, inputTokens, outputTokens,
		       timestamp, isPartial
		FROM messages
		WHERE conversationId = ? AND timestamp > ?
		ORDER BY timestamp ASC, rowid ASC
	`, conversationID, cursor)
	if err != nil {
		return nil, &StorageError{Op: "getMessages", Err: err}
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var kind, role, input string
		var isError, isPartial int
		m.ConversationID = conversationID
		if err := rows.Scan(&m.ID, &kind, &role, &m.Block.Content, &m.Block.ToolID, &m.Block.ToolName,
			&input, &isError, &m.Block.Path, &m.Block.Command, &m.Block.Language, &m.Block.Code,
			&m.Block.InputTokens, &m.Block.OutputTokens, &m.Timestamp, &isPartial); err != nil {
			return nil, &StorageError{Op: "getMessages", Err: err}
		}
		m.Block.ConversationID = conversationID
		m.Block.ID = m.ID
		m.Block.Kind = outputschema.Kind(kind)
		m.Block.Role = outputschema.Role(role)
		m.Block.IsError = isError != 0
		m.Block.IsPartial = isPartial != 0
		m.Block.Timestamp = time.UnixMilli(m.Timestamp)
		if input != "" {
			m.Block.Input = json.RawMessage(input)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SuspendAllActiveChats transitions every `running` conversation to
// `suspended` and returns how many were changed. Called on shutdown and on
// startup restart-recovery.
func (s *Store) SuspendAllActiveChats(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, ErrFailedPrecondition
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updatedAt = ? WHERE status = ?`,
		string(StatusSuspended), nowMillis(), string(StatusRunning))
	if err != nil {
		return 0, &StorageError{Op: "suspendAllActiveChats", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "suspendAllActiveChats", Err: err}
	}
	return int(n), nil
}

// Stats is the cheap aggregate returned by GetStats.
type Stats struct {
	ConversationCount int
	TotalMessages     int
}

// GetStats returns a cheap aggregate over the whole store.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	if s.db == nil {
		return Stats{}, ErrFailedPrecondition
	}
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&st.ConversationCount); err != nil {
		return Stats{}, &StorageError{Op: "getStats", Err: err}
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.TotalMessages); err != nil {
		return Stats{}, &StorageError{Op: "getStats", Err: err}
	}
	return st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
