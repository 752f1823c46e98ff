// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading and validation for
// perchd. Trimmed from the teacher's project/worktree/services/workflows/
// terminal/events/watch/ui/log_viewers/trace/crashes sections (all
// out-of-scope features) down to the sections a session broker actually
// needs: server, logging, store, adapters, auth.
package config

// Config is the root configuration structure for perchd.
type Config struct {
	Version string         `json:"version"`
	Server  ServerConfig   `json:"server"`
	Logging LoggingConfig  `json:"logging"`
	Store   StoreConfig    `json:"store"`
	Auth    AuthConfig     `json:"auth"`
	Adapters AdaptersConfig `json:"adapters"`
}

// ServerConfig configures the HTTP+WebSocket server.
type ServerConfig struct {
	Port    int    `json:"port"`
	Host    string `json:"host"`
	TLSCert string `json:"tls_cert"` // enables HTTPS if both cert and key set
	TLSKey  string `json:"tls_key"`
}

// LoggingConfig holds logging settings. They are defaulted and validated
// but not applied: perchd logs through the stdlib `log` package with its
// default settings regardless of level or format.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug|info|warn|error
	Format string `json:"format"` // text|json
}

// StoreConfig configures the transcript store.
type StoreConfig struct {
	DataDir string `json:"data_dir"` // directory holding chat-persistence.db
}

// AuthConfig configures the bearer-token middleware gating non-localhost
// access (spec.md §6's external-interfaces auth requirement).
type AuthConfig struct {
	Token          string   `json:"token"`
	AllowLocalhost bool     `json:"allow_localhost"`
	ExemptPaths    []string `json:"exempt_paths"`
}

// AdaptersConfig holds per-tool settings (an executable path and a default
// model/mode). They are parsed but not applied: the adapter registry always
// probes PATH, and the broker uses the model/mode of each create request.
type AdaptersConfig struct {
	CursorAgent AdapterConfig `json:"cursor_agent"`
	Claude      AdapterConfig `json:"claude"`
	Gemini      AdapterConfig `json:"gemini"`
}

// AdapterConfig overrides one adapter's defaults.
type AdapterConfig struct {
	ExecutablePath string `json:"executable_path"`
	DefaultModel   string `json:"default_model"`
	DefaultMode    string `json:"default_mode"`
}
