// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch/internal/outputschema"
)

func TestClaudeSeedScenario1(t *testing.T) {
	a := NewClaude()

	b1, err := a.ParseJSONEvent([]byte(`{"type":"message_start","message":{"model":"m"}}`))
	require.NoError(t, err)
	require.Len(t, b1, 1)
	assert.Equal(t, outputschema.KindSessionStart, b1[0].Kind)
	assert.Equal(t, "m", b1[0].Content)

	b2, err := a.ParseJSONEvent([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`))
	require.NoError(t, err)
	require.Len(t, b2, 1)
	assert.Equal(t, "Hel", b2[0].Content)
	assert.True(t, b2[0].IsPartial)

	b3, err := a.ParseJSONEvent([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`))
	require.NoError(t, err)
	assert.Equal(t, "lo", b3[0].Content)

	b4, err := a.ParseJSONEvent([]byte(`{"type":"message_stop","stop_reason":"end_turn"}`))
	require.NoError(t, err)
	require.Len(t, b4, 1)
	assert.Equal(t, outputschema.KindSessionEnd, b4[0].Kind)
	assert.Equal(t, "end_turn", b4[0].Content)
}

func TestCursorAgentToolUse(t *testing.T) {
	a := NewCursorAgent()
	line := []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"Listing"},{"type":"tool_use","id":"t1","name":"Grep","input":{"q":"x"}}]}}`)

	blocks, err := a.ParseJSONEvent(line)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, outputschema.KindText, blocks[0].Kind)
	assert.Equal(t, "Listing", blocks[0].Content)
	assert.Equal(t, outputschema.KindToolUseStart, blocks[1].Kind)
	assert.Equal(t, "t1", blocks[1].ToolID)
	assert.Equal(t, "Grep", blocks[1].ToolName)
}

func TestGeminiAnsiCommandLine(t *testing.T) {
	a := NewGemini()
	b := a.ParseTextLine("$ npm test", "$ npm test")
	assert.Equal(t, outputschema.KindCommandRun, b.Kind)
	assert.Equal(t, "npm test", b.Command)
}

func TestClaudeBuildSendArgs(t *testing.T) {
	a := NewClaude()
	args := a.BuildSendArgs("sid", "/tmp/p", "sonnet", "plan", "hi")
	assert.Contains(t, args, "--session-id")
	assert.Contains(t, args, "sid")
	assert.Contains(t, args, "--permission-mode")
	assert.Equal(t, "hi", args[len(args)-1])
}

func TestCursorAgentCreateOutputTrims(t *testing.T) {
	a := NewCursorAgent()
	id, err := a.ParseCreateOutput("  abc-123\n")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)

	_, err = a.ParseCreateOutput("   ")
	assert.Error(t, err)
}

func TestRegistryGetKnownAndUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("claude")
	require.NoError(t, err)

	_, err = r.Get("nonexistent")
	var unk *ErrUnknownTool
	assert.ErrorAs(t, err, &unk)
}
