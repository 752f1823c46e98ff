// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package outputschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToolUseStartRequiresName(t *testing.T) {
	_, err := NewToolUseStart("t1", "", nil)
	require.Error(t, err)

	b, err := NewToolUseStart("t1", "Grep", []byte(`{"q":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, KindToolUseStart, b.Kind)
	assert.Equal(t, "t1", b.ToolID)
	assert.Equal(t, "Grep", b.ToolName)
}

func TestNewCommandRunRequiresCommand(t *testing.T) {
	_, err := NewCommandRun("")
	require.Error(t, err)

	b, err := NewCommandRun("npm test")
	require.NoError(t, err)
	assert.Equal(t, "npm test", b.Command)
}

func TestNewTextAllowsEmptyPartial(t *testing.T) {
	b := NewText(RoleAssistant, "", true)
	assert.Equal(t, KindText, b.Kind)
	assert.True(t, b.IsPartial)
}

func TestNewRawPreservesPayload(t *testing.T) {
	raw := []byte(`{"weird":true}`)
	b := NewRaw(raw)
	assert.Equal(t, KindRaw, b.Kind)
	assert.Equal(t, raw, []byte(b.Raw))
}

func TestNewDiffRendersUnifiedFormat(t *testing.T) {
	b, err := NewDiff("foo.go", "a\nb\nc\n", "a\nx\nc\n")
	require.NoError(t, err)
	assert.Equal(t, KindDiff, b.Kind)
	assert.Contains(t, b.Content, "-b")
	assert.Contains(t, b.Content, "+x")
}

func TestNewDiffRequiresPath(t *testing.T) {
	_, err := NewDiff("", "a", "b")
	require.Error(t, err)
}
