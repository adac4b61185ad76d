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
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/auditflow/pkg/logging"
)

// Environment overrides, applied after the file is read.
const (
	EnvAPIBaseURL = "AUDITFLOW_API_BASE_URL"
	EnvUserID     = "AUDITFLOW_USER_ID"
	EnvSessionDir = "AUDITFLOW_SESSION_DIR"
)

// DefaultPath returns ~/.auditflow/auditflow.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".auditflow", "auditflow.yaml"), nil
}

// Load reads the config file at path, creating it with defaults when it
// does not exist, then applies environment overrides and validates the
// result. An empty path selects DefaultPath. The first-run notice is
// written to notice, which may be nil.
func Load(path string, notice io.Writer) (AuditflowConfig, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return AuditflowConfig{}, err
		}
		path = p
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if notice != nil {
			fmt.Fprintf(notice, "First run detected, creating the config at %s\n", path)
		}
		if err := createDefault(path); err != nil {
			return AuditflowConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return AuditflowConfig{}, fmt.Errorf("failed to read the config file %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AuditflowConfig{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return AuditflowConfig{}, err
	}
	cfg.Session.Dir = expandHome(cfg.Session.Dir)
	cfg.Log.Dir = expandHome(cfg.Log.Dir)

	if err := cfg.Validate(); err != nil {
		return AuditflowConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func applyEnv(cfg *AuditflowConfig) error {
	if v := strings.TrimSpace(os.Getenv(EnvAPIBaseURL)); v != "" {
		cfg.APIBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvUserID)); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", EnvUserID, err)
		}
		cfg.UserID = id
	}
	if v := strings.TrimSpace(os.Getenv(EnvSessionDir)); v != "" {
		cfg.Session.Dir = v
	}
	return nil
}

// Validate checks the fields that cannot take a default.
func (c AuditflowConfig) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_base_url %q must be an absolute http(s) URL", c.APIBaseURL)
	}
	if c.RequestTimeout < 0 {
		return errors.New("request_timeout must not be negative")
	}
	if c.UserID < 0 {
		return errors.New("user_id must be positive")
	}
	if c.Session.TTL < 0 {
		return errors.New("session.ttl must not be negative")
	}
	if c.Poll.Interval < 0 || c.Poll.RefreshPerMinute < 0 {
		return errors.New("poll settings must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
