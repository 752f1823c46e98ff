// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch/internal/adapter"
	"perch/internal/broker"
	"perch/internal/outputschema"
	"perch/internal/store"
)

type fakeAdapter struct{}

func (fakeAdapter) Name() string                         { return "fake" }
func (fakeAdapter) ExecutableCandidates() []string        { return []string{"echo"} }
func (fakeAdapter) ParseStrategy() adapter.ParseStrategy  { return adapter.JSONLines }
func (fakeAdapter) BuildCreateArgs(workspace string) ([]string, bool) { return nil, true }

func (fakeAdapter) BuildSendArgs(sessionID, workspace, model, mode, message string) []string {
	payload, _ := json.Marshal(map[string]string{"type": "assistant", "text": message})
	return []string{string(payload)}
}

func (fakeAdapter) BuildInteractiveArgs(sessionID, workspace, model, mode string) []string {
	return nil
}

func (fakeAdapter) ParseCreateOutput(raw string) (string, error) {
	return "", fmt.Errorf("fake: no create command")
}

func (fakeAdapter) ParseJSONEvent(line []byte) ([]outputschema.Block, error) {
	var v struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(line, &v); err != nil || v.Type != "assistant" {
		return nil, fmt.Errorf("fake: not an assistant event")
	}
	return []outputschema.Block{outputschema.NewText(outputschema.RoleAssistant, v.Text, false)}, nil
}

func (fakeAdapter) ParseTextLine(stripped, original string) outputschema.Block {
	return outputschema.NewText(outputschema.RoleAssistant, stripped, false)
}

func (fakeAdapter) DetectApprovalRequest(text string) (adapter.ApprovalKind, bool) {
	return "", false
}

func newTestRouter(t *testing.T) (*mux.Router, *broker.Broker) {
	t.Helper()
	st, err := store.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := adapter.NewRegistryWithAdapters(fakeAdapter{})
	b := broker.New(reg, st)

	r := mux.NewRouter()
	h := NewChatHandler(b, nil)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/chat", h.Create).Methods("POST")
	api.HandleFunc("/chat/{id}/message", h.Message).Methods("POST")
	api.HandleFunc("/chat/{id}/close", h.Close).Methods("POST")
	api.HandleFunc("/chat/{id}/messages", h.Messages).Methods("GET")
	api.HandleFunc("/chat/ws", h.WebSocket).Methods("GET")
	return r, b
}

func createConversation(t *testing.T, r *mux.Router, workspace string) string {
	t.Helper()
	body, _ := json.Marshal(createRequest{Tool: "fake", ProjectPath: workspace})
	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	return data["conversationId"].(string)
}

func TestCreate_Success(t *testing.T) {
	r, _ := newTestRouter(t)
	id := createConversation(t, r, t.TempDir())
	assert.NotEmpty(t, id)
}

func TestCreate_MissingFields(t *testing.T) {
	r, _ := newTestRouter(t)
	body, _ := json.Marshal(createRequest{})
	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreate_UnknownTool(t *testing.T) {
	r, _ := newTestRouter(t)
	body, _ := json.Marshal(createRequest{Tool: "nonexistent", ProjectPath: t.TempDir()})
	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMessage_AcceptsAndQueues(t *testing.T) {
	r, _ := newTestRouter(t)
	id := createConversation(t, r, t.TempDir())

	body, _ := json.Marshal(messageRequest{Text: "hello"})
	req := httptest.NewRequest("POST", fmt.Sprintf("/api/v1/chat/%s/message", id), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestMessage_UnknownConversation(t *testing.T) {
	r, _ := newTestRouter(t)
	body, _ := json.Marshal(messageRequest{Text: "hello"})
	req := httptest.NewRequest("POST", "/api/v1/chat/missing/message", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessages_ReturnsTranscript(t *testing.T) {
	r, _ := newTestRouter(t)
	id := createConversation(t, r, t.TempDir())

	body, _ := json.Marshal(messageRequest{Text: "hello"})
	req := httptest.NewRequest("POST", fmt.Sprintf("/api/v1/chat/%s/message", id), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		req := httptest.NewRequest("GET", fmt.Sprintf("/api/v1/chat/%s/messages", id), nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			return false
		}
		var resp Response
		json.Unmarshal(rec.Body.Bytes(), &resp)
		blocks, _ := json.Marshal(resp.Data)
		return strings.Contains(string(blocks), "hello")
	}, 5*time.Second, 50*time.Millisecond)
}

func TestClose_UnknownConversationIsNoop(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest("POST", "/api/v1/chat/missing/close", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWebSocket_SubscribeDeliversLiveBlocks(t *testing.T) {
	r, _ := newTestRouter(t)
	id := createConversation(t, r, t.TempDir())

	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "subscribe", ConversationID: id}))

	var subscribed subscribedFrame
	require.NoError(t, conn.ReadJSON(&subscribed))
	assert.Equal(t, "subscribed", subscribed.Type)
	assert.Equal(t, id, subscribed.ConversationID)

	body, _ := json.Marshal(messageRequest{Text: "hello there"})
	req := httptest.NewRequest("POST", fmt.Sprintf("/api/v1/chat/%s/message", id), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sawUser, sawAssistant := false, false
	for i := 0; i < 4 && !(sawUser && sawAssistant); i++ {
		var frame messageFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		if frame.Message.Role == outputschema.RoleUser {
			sawUser = true
		}
		if frame.Message.Role == outputschema.RoleAssistant {
			sawAssistant = true
		}
	}
	assert.True(t, sawUser)
	assert.True(t, sawAssistant)
}
