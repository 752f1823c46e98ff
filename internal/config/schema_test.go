// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigRoundTripsThroughJSON(t *testing.T) {
	cfg := Config{
		Version: "1.0",
		Server:  ServerConfig{Port: 8765, Host: "127.0.0.1"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Store:   StoreConfig{DataDir: ".perch"},
		Auth:    AuthConfig{Token: "secret", ExemptPaths: []string{"/healthz"}},
		Adapters: AdaptersConfig{
			Claude: AdapterConfig{DefaultModel: "claude-opus"},
		},
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var out Config
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, cfg, out)
}

func TestAdaptersConfigDefaultsToZeroValue(t *testing.T) {
	var cfg Config
	assert.Equal(t, AdapterConfig{}, cfg.Adapters.CursorAgent)
	assert.Equal(t, AdapterConfig{}, cfg.Adapters.Gemini)
}
