// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_Validate_ValidConfig(t *testing.T) {
	cfg := &Config{
		Version: "1.0",
		Server:  ServerConfig{Port: 8765, Host: "127.0.0.1"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Store:   StoreConfig{DataDir: ".perch"},
	}

	validator := NewValidator()
	assert.NoError(t, validator.Validate(cfg))
}

func TestValidator_Validate_MissingVersion(t *testing.T) {
	cfg := &Config{Store: StoreConfig{DataDir: ".perch"}}
	err := validatorErr(t, cfg)
	assert.Contains(t, err.Error(), "version")
}

func TestValidator_Validate_PortOutOfRange(t *testing.T) {
	cfg := &Config{Version: "1.0", Server: ServerConfig{Port: 70000}, Store: StoreConfig{DataDir: ".perch"}}
	err := validatorErr(t, cfg)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidator_Validate_TLSRequiresBoth(t *testing.T) {
	cfg := &Config{
		Version: "1.0",
		Server:  ServerConfig{TLSCert: "/tmp/cert.pem"},
		Store:   StoreConfig{DataDir: ".perch"},
	}
	err := validatorErr(t, cfg)
	assert.Contains(t, err.Error(), "tls_cert")
}

func TestValidator_Validate_InvalidLoggingLevel(t *testing.T) {
	cfg := &Config{
		Version: "1.0",
		Logging: LoggingConfig{Level: "verbose"},
		Store:   StoreConfig{DataDir: ".perch"},
	}
	err := validatorErr(t, cfg)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidator_Validate_EmptyDataDir(t *testing.T) {
	cfg := &Config{Version: "1.0"}
	err := validatorErr(t, cfg)
	assert.Contains(t, err.Error(), "store.data_dir")
}

func validatorErr(t *testing.T, cfg *Config) error {
	t.Helper()
	err := NewValidator().Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	return err
}
