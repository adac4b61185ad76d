// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sessionstore holds the short-lived state handed between views of
// the audit flow: a pending candidate selection, a one-shot queue notice and
// the last successful scan result.
//
// Each slot has a single writer that saves and a single reader that consumes.
// Loads are destructive: a value is returned at most once and the slot is
// empty afterwards. Everything is scoped to a session and expires after the
// configured TTL.
//
// Storage is BadgerDB. With no directory the database is in memory and the
// session ends with the process. With a directory, separate processes share
// the session until it has been idle for the TTL.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/AleutianAI/auditflow/pkg/observability"
	"github.com/AleutianAI/auditflow/pkg/reputation"
)

// Slot names. These are also the key suffixes in the database.
const (
	SlotSelection  = "auditSelectionContext"
	SlotQueue      = "auditQueueNotice"
	SlotLastResult = "auditResults"
)

// Default banner texts.
const (
	DefaultSelectionMessage = "Select your business, or click Continue without Google Business Profile if your business is not listed."
	DefaultQueueMessage     = "Your audit has started successfully."
)

// DefaultTTL is how long an untouched session survives.
const DefaultTTL = 30 * time.Minute

const (
	keyPrefix      = "auditflow/"
	currentSession = keyPrefix + "session/current"
	maxTxnAttempts = 3
)

// =============================================================================
// Slot Types
// =============================================================================

// SelectionContext is the disambiguation state: the candidates to choose
// from and the request to amend once the user has chosen.
type SelectionContext struct {
	Message        string                  `json:"message"`
	Candidates     []reputation.Candidate  `json:"candidates"`
	PendingRequest *reputation.ScanRequest `json:"pending_payload"`
	AuditID        *int64                  `json:"audit_id,omitempty"`
	CreatedAt      strfmt.DateTime         `json:"created_at"`
}

// Valid reports whether the context can drive a selection: it needs a
// pending request and at least one candidate.
func (c *SelectionContext) Valid() bool {
	return c != nil && c.PendingRequest != nil && len(c.Candidates) > 0
}

// QueueNotice is the one-time banner shown after an audit was queued.
type QueueNotice struct {
	Message   string          `json:"message"`
	AuditID   *int64          `json:"audit_id,omitempty"`
	CreatedAt strfmt.DateTime `json:"created_at"`
}

// LastResult is the raw success payload handed to the results view.
type LastResult struct {
	Payload json.RawMessage
}

// =============================================================================
// Store
// =============================================================================

// Config configures a Store.
type Config struct {
	// Dir is the database directory. Empty means in memory.
	Dir string

	// TTL bounds the lifetime of every saved value and of the session
	// itself. Zero selects DefaultTTL.
	TTL time.Duration

	// SessionID pins the session. When empty, an in-memory store makes a
	// fresh one and a directory store reuses the current session or starts
	// a new one if it has expired.
	SessionID string

	// Logger is used for store events. Nil uses slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *observability.Metrics
}

// Store is a session-scoped key/value store with destructive reads.
//
// Thread Safety: Safe for concurrent use. Concurrent saves to the same slot
// resolve as last write wins.
type Store struct {
	db      *badger.DB
	session string
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Open opens a store.
//
// # Description
//
// Opens the database and resolves the session id. In directory mode the
// current session id is itself stored with the TTL, so an idle session
// expires and the next process starts clean.
//
// # Outputs
//
//   - *Store: Ready store. Call Close when done.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	db, err := openDB(cfg.Dir, logger.With("component", "badger"))
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:      db,
		ttl:     ttl,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}

	s.session = cfg.SessionID
	if s.session == "" {
		s.session, err = s.resolveSession(cfg.Dir != "")
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	s.logger = logger.With("session", s.session)
	s.logger.Debug("session store opened", "dir", cfg.Dir, "ttl", ttl.String())
	return s, nil
}

// Close runs a final GC pass and closes the database.
func (s *Store) Close() error {
	collectGarbage(s.db, s.logger)
	return s.db.Close()
}

// SessionID returns the id the store is scoped to.
func (s *Store) SessionID() string { return s.session }

// resolveSession reuses the stored current session or starts a new one.
func (s *Store) resolveSession(shared bool) (string, error) {
	if !shared {
		return uuid.NewString(), nil
	}
	var id string
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(currentSession))
		switch {
		case err == nil:
			return item.Value(func(val []byte) error {
				id = string(val)
				return nil
			})
		case errors.Is(err, badger.ErrKeyNotFound):
			id = uuid.NewString()
			return txn.SetEntry(badger.NewEntry([]byte(currentSession), []byte(id)).WithTTL(s.ttl))
		default:
			return err
		}
	})
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	return id, nil
}

// -----------------------------------------------------------------------------
// Slots
// -----------------------------------------------------------------------------

// SaveSelection stores the pending selection, overwriting any previous one.
// A zero CreatedAt is stamped with the current time.
func (s *Store) SaveSelection(ctx context.Context, sel SelectionContext) error {
	if time.Time(sel.CreatedAt).IsZero() {
		sel.CreatedAt = strfmt.DateTime(s.now().UTC())
	}
	return s.save(ctx, SlotSelection, sel)
}

// LoadAndClearSelection returns the pending selection and removes it.
// It returns nil, nil when the slot is empty, expired or unreadable.
func (s *Store) LoadAndClearSelection(ctx context.Context) (*SelectionContext, error) {
	return loadAndClear[SelectionContext](ctx, s, SlotSelection)
}

// SaveQueueNotice stores the one-time queue banner.
func (s *Store) SaveQueueNotice(ctx context.Context, n QueueNotice) error {
	if time.Time(n.CreatedAt).IsZero() {
		n.CreatedAt = strfmt.DateTime(s.now().UTC())
	}
	return s.save(ctx, SlotQueue, n)
}

// LoadAndClearQueueNotice returns the queue banner and removes it.
func (s *Store) LoadAndClearQueueNotice(ctx context.Context) (*QueueNotice, error) {
	return loadAndClear[QueueNotice](ctx, s, SlotQueue)
}

// SaveLastResult stores a raw success payload for the results view.
func (s *Store) SaveLastResult(ctx context.Context, payload json.RawMessage) error {
	if !json.Valid(payload) {
		s.metrics.ObserveStore(SlotLastResult, "save", "invalid")
		return fmt.Errorf("save %s: payload is not valid JSON", SlotLastResult)
	}
	return s.save(ctx, SlotLastResult, payload)
}

// LoadAndClearLastResult returns the last result and removes it.
func (s *Store) LoadAndClearLastResult(ctx context.Context) (*LastResult, error) {
	raw, err := loadAndClear[json.RawMessage](ctx, s, SlotLastResult)
	if err != nil || raw == nil {
		return nil, err
	}
	return &LastResult{Payload: *raw}, nil
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

func (s *Store) key(slot string) []byte {
	return []byte(keyPrefix + s.session + "/" + slot)
}

// save encodes v and writes it with the session TTL. The session marker's TTL
// is refreshed in the same transaction.
func (s *Store) save(ctx context.Context, slot string, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save %s: %w", slot, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.metrics.ObserveStore(slot, "save", "error")
		return fmt.Errorf("encode %s: %w", slot, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(s.key(slot), data).WithTTL(s.ttl)); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(currentSession), []byte(s.session)).WithTTL(s.ttl))
	})
	if err != nil {
		s.metrics.ObserveStore(slot, "save", "error")
		return fmt.Errorf("save %s: %w", slot, err)
	}
	s.metrics.ObserveStore(slot, "save", "ok")
	s.logger.Debug("session slot saved", "slot", slot, "bytes", len(data))
	return nil
}

// loadAndClear reads and deletes a slot in one read-write transaction, so
// two concurrent readers never both see the value. Undecodable bytes are
// deleted and reported as empty.
func loadAndClear[T any](ctx context.Context, s *Store, slot string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", slot, err)
	}

	var (
		data []byte
		err  error
	)
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		data = nil
		err = s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(s.key(slot))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			data, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
			return txn.Delete(s.key(slot))
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		s.metrics.ObserveStore(slot, "load", "error")
		return nil, fmt.Errorf("load %s: %w", slot, err)
	}
	if data == nil {
		s.metrics.ObserveStore(slot, "load", "empty")
		return nil, nil
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		s.metrics.ObserveStore(slot, "load", "malformed")
		s.logger.Warn("discarding malformed session slot", "slot", slot, "error", err)
		return nil, nil
	}
	s.metrics.ObserveStore(slot, "load", "ok")
	return &out, nil
}
