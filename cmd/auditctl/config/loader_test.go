// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/auditflow/pkg/reputation"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvAPIBaseURL, "")
	t.Setenv(EnvUserID, "")
	t.Setenv(EnvSessionDir, "")
}

func TestCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".auditflow", "auditflow.yaml")
	require.NoError(t, createDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg AuditflowConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Contains(t, string(data), "api_base_url: "+reputation.DefaultBaseURL)
	assert.Contains(t, string(data), "ttl: 30m0s")
}

func TestLoad_FirstRunCreatesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "auditflow.yaml")
	var notice bytes.Buffer

	cfg, err := Load(path, &notice)
	require.NoError(t, err)
	assert.Contains(t, notice.String(), "First run detected")
	assert.FileExists(t, path)
	assert.Equal(t, reputation.DefaultBaseURL, cfg.APIBaseURL)
	assert.False(t, cfg.HasOwner())

	notice.Reset()
	_, err = Load(path, &notice)
	require.NoError(t, err)
	assert.Empty(t, notice.String())
}

func TestLoad_FileValues(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "auditflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_base_url: https://audits.example.com/api
user_id: 42
poll:
  interval: 2s
log:
  level: debug
`), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://audits.example.com/api", cfg.APIBaseURL)
	assert.Equal(t, int64(42), cfg.UserID)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset fields keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, DefaultConfig().Poll.RefreshPerMinute, cfg.Poll.RefreshPerMinute)

	q := cfg.HistoryQuery(20)
	assert.Equal(t, reputation.HistoryQuery{UserID: 42, Limit: 20}, q)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auditflow.yaml")
	require.NoError(t, createDefault(path))
	t.Setenv(EnvAPIBaseURL, "http://127.0.0.1:9000/api")
	t.Setenv(EnvUserID, "7")
	t.Setenv(EnvSessionDir, "/tmp/auditflow-session")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000/api", cfg.APIBaseURL)
	assert.Equal(t, int64(7), cfg.UserID)
	assert.Equal(t, "/tmp/auditflow-session", cfg.Session.Dir)
}

func TestLoad_BadUserIDEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auditflow.yaml")
	require.NoError(t, createDefault(path))
	clearEnv(t)
	t.Setenv(EnvUserID, "seven")

	_, err := Load(path, nil)
	assert.ErrorContains(t, err, EnvUserID)
}

func TestLoad_ExpandsHome(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(t.TempDir(), "auditflow.yaml")
	require.NoError(t, createDefault(path))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".auditflow", "session"), cfg.Session.Dir)
}

func TestLoad_MalformedYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "auditflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_base_url: [oops"), 0o644))

	_, err := Load(path, nil)
	assert.ErrorContains(t, err, "failed to parse the config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AuditflowConfig)
		errMsg string
	}{
		{"defaults", func(*AuditflowConfig) {}, ""},
		{"relative url", func(c *AuditflowConfig) { c.APIBaseURL = "/api" }, "api_base_url"},
		{"ftp url", func(c *AuditflowConfig) { c.APIBaseURL = "ftp://x/api" }, "api_base_url"},
		{"negative timeout", func(c *AuditflowConfig) { c.RequestTimeout = -time.Second }, "request_timeout"},
		{"negative user", func(c *AuditflowConfig) { c.UserID = -1 }, "user_id"},
		{"negative poll", func(c *AuditflowConfig) { c.Poll.Interval = -time.Second }, "poll"},
		{"bad level", func(c *AuditflowConfig) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
