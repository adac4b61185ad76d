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
	"time"

	"github.com/AleutianAI/auditflow/pkg/history"
	"github.com/AleutianAI/auditflow/pkg/reputation"
	"github.com/AleutianAI/auditflow/pkg/sessionstore"
)

type AuditflowConfig struct {
	// APIBaseURL is the backend root, e.g. http://localhost:8000/api
	APIBaseURL string `yaml:"api_base_url"`

	// RequestTimeout bounds every backend call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Owner identity sent with scans and history queries. One of them is
	// required for history.
	UserID      int64  `yaml:"user_id,omitempty"`
	LookupEmail string `yaml:"lookup_email,omitempty"`

	Session SessionConfig `yaml:"session"`
	Poll    PollConfig    `yaml:"poll"`
	Log     LogConfig     `yaml:"log"`
}

type SessionConfig struct {
	// Dir holds the session database. Separate invocations share state
	// through it.
	Dir string        `yaml:"dir"`
	TTL time.Duration `yaml:"ttl"`
}

type PollConfig struct {
	Interval         time.Duration `yaml:"interval"`
	RefreshPerMinute int           `yaml:"refresh_per_minute"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() AuditflowConfig {
	return AuditflowConfig{
		APIBaseURL:     reputation.DefaultBaseURL,
		RequestTimeout: 30 * time.Second,
		Session: SessionConfig{
			Dir: "~/.auditflow/session",
			TTL: sessionstore.DefaultTTL,
		},
		Poll: PollConfig{
			Interval:         history.DefaultInterval,
			RefreshPerMinute: history.DefaultRefreshPerMinute,
		},
		Log: LogConfig{Level: "warn"},
	}
}

// HistoryQuery returns the owner filter for history calls.
func (c AuditflowConfig) HistoryQuery(limit int) reputation.HistoryQuery {
	return reputation.HistoryQuery{UserID: c.UserID, LookupEmail: c.LookupEmail, Limit: limit}
}

// HasOwner reports whether a user id or lookup email is configured.
func (c AuditflowConfig) HasOwner() bool {
	return c.UserID > 0 || c.LookupEmail != ""
}
