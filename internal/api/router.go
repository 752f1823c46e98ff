// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"perch/internal/api/handlers"
	"perch/internal/api/middleware"
	"perch/internal/broker"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Broker *broker.Broker
	Auth   middleware.Authenticator // nil disables auth entirely
}

// NewRouter creates a new API router exposing the broker's chat surface
// (spec.md §6): POST /chat, POST /chat/{id}/message, POST /chat/{id}/close,
// GET /chat/{id}/messages, and the multiplexed WebSocket subscription
// endpoint. Trimmed from the teacher's router, which additionally served
// worktree/workflow/service/terminal/log/trace/crash/case/vscode/nav
// surfaces that have no place in this spec's scope.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(middleware.RequireAuth(deps.Auth))

	chatHandler := handlers.NewChatHandler(deps.Broker, deps.Auth)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/chat", chatHandler.Create).Methods("POST")
	api.HandleFunc("/chat/{id}/message", chatHandler.Message).Methods("POST")
	api.HandleFunc("/chat/{id}/close", chatHandler.Close).Methods("POST")
	api.HandleFunc("/chat/{id}/messages", chatHandler.Messages).Methods("GET")
	api.HandleFunc("/chat/ws", chatHandler.WebSocket).Methods("GET")

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. If TLS is configured (tls_cert and
// tls_key), uses HTTPS.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	if tlsEnabled {
		certPath := expandPath(s.cfg.TLSCert)
		keyPath := expandPath(s.cfg.TLSKey)
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
