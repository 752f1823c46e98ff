// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch/internal/adapter"
	"perch/internal/outputschema"
	"perch/internal/store"
)

func newTestRuntime(t *testing.T) (*Runtime, *store.Store) {
	t.Helper()
	st, err := store.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.SaveConversation(context.Background(), store.Conversation{
		ID: "c1", Tool: "claude", Status: store.StatusRunning,
	}))

	r := New("c1", adapter.NewClaude(), "claude", st, "/workspace", "", "", false)
	return r, st
}

func TestSubscribeDeliversSnapshotThenLive(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRuntime(t)

	require.NoError(t, r.emit(ctx, outputschema.NewText(outputschema.RoleAssistant, "first", false)))

	ch, _, unsubscribe, err := r.Subscribe(ctx, 0)
	require.NoError(t, err)
	defer unsubscribe()

	snapshot := <-ch
	assert.Equal(t, "first", snapshot.Content)

	require.NoError(t, r.emit(ctx, outputschema.NewText(outputschema.RoleAssistant, "live", false)))
	live := <-ch
	assert.Equal(t, "live", live.Content)
}

func TestFanOutDropsSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRuntime(t)

	ch, droppedCh, _, err := r.Subscribe(ctx, 0)
	require.NoError(t, err)

	for i := 0; i < subscriberBufferSize+5; i++ {
		require.NoError(t, r.emit(ctx, outputschema.NewText(outputschema.RoleAssistant, "x", true)))
	}

	r.mu.Lock()
	remaining := len(r.subs)
	r.mu.Unlock()
	assert.Equal(t, 0, remaining, "a subscriber that can't keep up must be dropped, not block the runtime")

	select {
	case <-droppedCh:
	default:
		t.Fatal("droppedCh should be closed once the subscriber is dropped")
	}

	// The dropped channel is closed: draining it must terminate.
	for range ch {
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRuntime(t)

	_, _, unsubscribe, err := r.Subscribe(ctx, 0)
	require.NoError(t, err)

	unsubscribe()
	assert.NotPanics(t, func() { unsubscribe() })
}

func TestSpawnFailedTransitionsToErrored(t *testing.T) {
	ctx := context.Background()
	r, st := newTestRuntime(t)

	r.mu.Lock()
	r.state = StateStarting
	r.mu.Unlock()

	err := r.spawnFailed(ctx, assert.AnError)
	require.Error(t, err)
	assert.Equal(t, StateErrored, r.State())

	c, gerr := st.GetConversation(ctx, "c1")
	require.NoError(t, gerr)
	assert.Equal(t, store.StatusErrored, c.Status)
}

func TestRouteApprovalResponseRequiresPending(t *testing.T) {
	r, _ := newTestRuntime(t)
	err := r.RouteApprovalResponse(context.Background(), "y")
	assert.Error(t, err)
}
