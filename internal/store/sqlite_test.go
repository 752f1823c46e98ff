// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch/internal/outputschema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveConversationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := Conversation{ID: "c1", Tool: "claude", Status: StatusRunning}
	require.NoError(t, s.SaveConversation(ctx, c))
	require.NoError(t, s.SaveConversation(ctx, c))

	all, err := s.GetAllConversations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "c1", all[0].ID)
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateConversationStatusNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateConversationStatus(context.Background(), "missing", StatusEnded)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSuspendAllActiveChats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveConversation(ctx, Conversation{ID: "c1", Tool: "claude", Status: StatusRunning}))
	require.NoError(t, s.SaveConversation(ctx, Conversation{ID: "c2", Tool: "gemini", Status: StatusRunning}))
	require.NoError(t, s.SaveConversation(ctx, Conversation{ID: "c3", Tool: "claude", Status: StatusEnded}))

	n, err := s.SuspendAllActiveChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c1, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, c1.Status)

	c3, err := s.GetConversation(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, c3.Status)
}

func TestGetMessagesOrderedWithCursor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveConversation(ctx, Conversation{ID: "c1", Tool: "claude", Status: StatusRunning}))

	sessionEnd, err := outputschema.NewSessionEnd("end_turn", false)
	require.NoError(t, err)

	blocks := []outputschema.Block{
		outputschema.NewText(outputschema.RoleAssistant, "Hel", true),
		outputschema.NewText(outputschema.RoleAssistant, "lo", true),
		sessionEnd,
	}
	for i, b := range blocks {
		require.NoError(t, s.SaveMessage(ctx, Message{
			ConversationID: "c1",
			ID:             b.ID,
			Timestamp:      int64(1000 + i),
			Block:          b,
		}))
	}

	all, err := s.GetMessages(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Hel", all[0].Block.Content)
	assert.Equal(t, "lo", all[1].Block.Content)
	assert.Equal(t, outputschema.KindSessionEnd, all[2].Block.Kind)

	fromCursor, err := s.GetMessages(ctx, "c1", 1000)
	require.NoError(t, err)
	require.Len(t, fromCursor, 2)
	assert.Equal(t, "lo", fromCursor[0].Block.Content)
}

func TestDeleteConversationCascadesMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveConversation(ctx, Conversation{ID: "c1", Tool: "claude", Status: StatusRunning}))
	require.NoError(t, s.SaveMessage(ctx, Message{
		ConversationID: "c1",
		ID:             "m1",
		Timestamp:      1,
		Block:          outputschema.NewText(outputschema.RoleAssistant, "hi", false),
	}))

	require.NoError(t, s.DeleteConversation(ctx, "c1"))

	_, err := s.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err := s.GetMessages(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveConversation(ctx, Conversation{ID: "c1", Tool: "claude", Status: StatusRunning}))
	require.NoError(t, s.SaveMessage(ctx, Message{
		ConversationID: "c1", ID: "m1", Timestamp: 1,
		Block: outputschema.NewText(outputschema.RoleAssistant, "hi", false),
	}))

	st, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ConversationCount)
	assert.Equal(t, 1, st.TotalMessages)
}

func TestOperationsBeforeInitFail(t *testing.T) {
	var s Store
	_, err := s.GetConversation(context.Background(), "x")
	assert.ErrorIs(t, err, ErrFailedPrecondition)
}
