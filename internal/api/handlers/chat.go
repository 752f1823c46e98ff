// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"perch/internal/broker"
	"perch/internal/outputschema"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Authenticator decides whether a request or a WebSocket auth frame's token
// carries valid credentials. Actual token validation is out of scope per
// spec.md §1; a nil Authenticator means no auth is configured and every
// request is allowed through.
type Authenticator interface {
	Authenticate(r *http.Request) bool
	AuthenticateToken(token string) bool
}

// ChatHandler serves the broker's HTTP + WebSocket surface: create/message/
// close/list-messages over REST, and a single multiplexed WebSocket per
// client carrying auth/subscribe/unsubscribe control frames plus live
// message/error frames for every conversation the client has subscribed to.
// Generalizes the teacher's ClaudeHandler, which wired one WebSocket per
// Claude session instead of multiplexing many conversations over one.
type ChatHandler struct {
	broker *broker.Broker
	auth   Authenticator
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(b *broker.Broker, auth Authenticator) *ChatHandler {
	return &ChatHandler{broker: b, auth: auth}
}

// createRequest is the body of POST /chat.
type createRequest struct {
	Tool        string `json:"tool"`
	ProjectPath string `json:"projectPath"`
	Model       string `json:"model,omitempty"`
	Mode        string `json:"mode,omitempty"`
}

// Create handles POST /chat.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Tool == "" || req.ProjectPath == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "tool and projectPath are required")
		return
	}

	id, err := h.broker.CreateSession(r.Context(), req.Tool, req.ProjectPath, req.Model, req.Mode)
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{"conversationId": id})
}

// messageRequest is the body of POST /chat/{id}/message.
type messageRequest struct {
	Text string `json:"text"`
}

// Message handles POST /chat/{id}/message.
func (h *ChatHandler) Message(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Text == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "text is required")
		return
	}

	if err := h.broker.Send(r.Context(), id, req.Text); err != nil {
		writeBrokerError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Close handles POST /chat/{id}/close.
func (h *ChatHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.broker.CloseSession(r.Context(), id); err != nil {
		writeBrokerError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Messages handles GET /chat/{id}/messages?since=<timestamp>.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "since must be an integer epoch-ms timestamp")
			return
		}
		since = v
	}

	msgs, err := h.broker.Messages(r.Context(), id, since)
	if err != nil {
		writeBrokerError(w, err)
		return
	}

	blocks := make([]outputschema.Block, len(msgs))
	for i, m := range msgs {
		blocks[i] = m.Block
	}
	WriteJSON(w, http.StatusOK, blocks)
}

// clientMessage is a control frame received on the multiplexed WebSocket.
type clientMessage struct {
	Type           string `json:"type"`
	Token          string `json:"token,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Cursor         int64  `json:"cursor,omitempty"`
}

type subscribedFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Cursor         int64  `json:"cursor"`
}

type messageFrame struct {
	Type           string             `json:"type"`
	ConversationID string             `json:"conversationId"`
	Message        outputschema.Block `json:"message"`
}

type errorFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

// WebSocket handles the multiplexed subscription connection: an optional
// initial auth frame, then any number of subscribe/unsubscribe frames, each
// opening or closing a live feed of message/error frames for one
// conversation. Grounded on ClaudeHandler.serveSession's write-mutex-guarded
// writeJSON helper, buffered read-channel goroutine, and ping/pong keepalive,
// generalized from one-session-per-connection to many-per-connection.
func (h *ChatHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSON := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	if h.auth != nil {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var first clientMessage
		if err := conn.ReadJSON(&first); err != nil || first.Type != "auth" || !h.auth.AuthenticateToken(first.Token) {
			writeJSON(errorFrame{Type: "error", Code: ErrAuthRequired, Message: "authentication required"})
			return
		}
	}
	conn.SetReadDeadline(time.Time{})

	var subsMu sync.Mutex
	unsubs := make(map[string]func())
	defer func() {
		subsMu.Lock()
		for _, unsub := range unsubs {
			unsub()
		}
		subsMu.Unlock()
	}()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()
	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	readCh := make(chan clientMessage, 10)
	wsClosed := make(chan struct{})
	go func() {
		defer close(wsClosed)
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			readCh <- msg
		}
	}()

	for {
		select {
		case msg := <-readCh:
			switch msg.Type {
			case "subscribe":
				if msg.ConversationID == "" {
					continue
				}
				subsMu.Lock()
				_, already := unsubs[msg.ConversationID]
				subsMu.Unlock()
				if already {
					continue
				}

				convID := msg.ConversationID
				unsubscribe, err := h.broker.Attach(context.Background(), convID, msg.Cursor, func(b outputschema.Block) {
					writeJSON(messageFrame{Type: "message", ConversationID: convID, Message: b})
				}, func() {
					subsMu.Lock()
					delete(unsubs, convID)
					subsMu.Unlock()
					writeJSON(errorFrame{Type: "error", ConversationID: convID, Code: ErrBackpressureDropped, Message: "subscriber fell behind and was dropped"})
				})
				if err != nil {
					writeJSON(errorFrame{Type: "error", ConversationID: convID, Code: brokerErrorCode(err), Message: err.Error()})
					continue
				}

				subsMu.Lock()
				unsubs[convID] = unsubscribe
				subsMu.Unlock()
				writeJSON(subscribedFrame{Type: "subscribed", ConversationID: convID, Cursor: msg.Cursor})

			case "unsubscribe":
				subsMu.Lock()
				unsubscribe, ok := unsubs[msg.ConversationID]
				delete(unsubs, msg.ConversationID)
				subsMu.Unlock()
				if ok {
					unsubscribe()
				}
			}

		case <-wsClosed:
			return
		}
	}
}

// brokerErrorCode maps a broker sentinel error onto the HTTP response error
// code taxonomy shared by REST and WebSocket error frames.
func brokerErrorCode(err error) string {
	switch {
	case errors.Is(err, broker.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, broker.ErrAdapterUnavailable):
		return ErrAdapterUnavailable
	case errors.Is(err, broker.ErrInvalidState):
		return ErrConflict
	default:
		return ErrInternalError
	}
}

func writeBrokerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrNotFound):
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
	case errors.Is(err, broker.ErrAdapterUnavailable):
		WriteError(w, http.StatusServiceUnavailable, ErrAdapterUnavailable, err.Error())
	case errors.Is(err, broker.ErrInvalidState):
		WriteError(w, http.StatusConflict, ErrConflict, err.Error())
	default:
		log.Printf("chat: internal error: %v", err)
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
	}
}
