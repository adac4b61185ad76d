// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox is an in-memory reputation audit backend implementing the
// scan and history HTTP contract. It exists for local development of the
// audit client and for end-to-end tests.
//
// # Scenario rules
//
// A scan request resolves by these rules, in order:
//   - An X-Sandbox-Scenario header (success, selection, queued, error)
//     forces the outcome.
//   - A name-only request without place_id or skip_places that matches two
//     or more catalog entries returns selection_required.
//   - A request with a website returns queued when QueueWebsiteScans is set.
//     The audit then moves pending → processing → success on timers.
//   - Anything else returns success immediately.
//
// # Thread Safety
//
// Backend is safe for concurrent use.
package sandbox

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/auditflow/pkg/reputation"
)

// Scenario header values.
const (
	ScenarioHeader    = "X-Sandbox-Scenario"
	ScenarioSuccess   = "success"
	ScenarioSelection = "selection"
	ScenarioQueued    = "queued"
	ScenarioError     = "error"
)

// Messages returned by the sandbox.
const (
	MsgSelection     = "We found several businesses matching your search. Select yours or continue without matching."
	MsgQueued        = "Your audit has been queued. Check your audit history for progress."
	MsgNotFound      = "Audit not found."
	MsgOwnerRequired = "A user_id or lookup_email is required."
	MsgScanFailed    = "The business website could not be reached."
)

// DefaultHistoryCap bounds a history page.
const DefaultHistoryCap = 100

// ErrNotFound is returned for unknown or foreign audit ids.
var ErrNotFound = errors.New(MsgNotFound)

// Config configures a Backend.
type Config struct {
	// Catalog is searched for place matches. Nil uses DefaultCatalog.
	Catalog []reputation.Candidate

	// QueueWebsiteScans makes website scans asynchronous.
	QueueWebsiteScans bool

	// ProcessingDelay is how long a queued audit stays pending.
	ProcessingDelay time.Duration

	// CompleteDelay is how long a queued audit stays processing.
	CompleteDelay time.Duration

	// Now is the clock. Nil uses time.Now.
	Now func() time.Time

	Logger  *slog.Logger
	Metrics *Metrics
}

// DefaultConfig returns the configuration used by the sandbox binary.
func DefaultConfig() Config {
	return Config{
		QueueWebsiteScans: true,
		ProcessingDelay:   5 * time.Second,
		CompleteDelay:     15 * time.Second,
	}
}

// audit is the server-side record.
type audit struct {
	record   reputation.AuditRecord
	userID   int64
	email    string
	request  reputation.ScanRequest
	response json.RawMessage
	scan     json.RawMessage
}

func (a *audit) detail() reputation.AuditDetail {
	req := a.request.Clone()
	return reputation.AuditDetail{
		AuditRecord:     a.record,
		RequestPayload:  &req,
		ResponsePayload: a.response,
		ScanResponse:    a.scan,
	}
}

// Backend holds audits in memory.
type Backend struct {
	config  Config
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	nextID int64
	audits map[int64]*audit
	timers []*time.Timer
	closed bool
}

// NewBackend creates an empty backend.
func NewBackend(config Config) *Backend {
	if config.Catalog == nil {
		config.Catalog = DefaultCatalog()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		config:  config,
		logger:  logger.With("component", "sandbox"),
		metrics: config.Metrics,
		nextID:  1,
		audits:  make(map[int64]*audit),
	}
}

// Close stops pending status timers. Queued audits stop advancing.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = nil
}

// scanResult is what Scan hands back to the HTTP layer.
type scanResult struct {
	status int
	body   any
}

// Scan resolves one scan request. scenario is the forced outcome or "".
func (b *Backend) Scan(req reputation.ScanRequest, scenario string) (scanResult, error) {
	if err := reputation.Validate(req); err != nil {
		b.metrics.observeScan("validation")
		return scanResult{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.claimLocked(req)
	now := b.config.Now()

	switch b.resolveScenario(req, scenario) {
	case ScenarioSelection:
		candidates := b.matchesFor(req)
		if len(candidates) == 0 {
			candidates = b.config.Catalog
		}
		body := map[string]any{
			"status":     reputation.StatusSelectionRequired,
			"message":    MsgSelection,
			"candidates": candidates,
			"total":      len(candidates),
			"audit_id":   a.record.ID,
		}
		a.record.Status = reputation.HistorySelectionRequired
		a.response = mustJSON(body)
		b.metrics.observeScan(reputation.StatusSelectionRequired)
		b.logger.Info("scan needs selection", "audit_id", a.record.ID, "candidates", len(candidates))
		return scanResult{status: 200, body: body}, nil

	case ScenarioQueued:
		a.record.Status = reputation.HistoryPending
		b.scheduleLocked(a.record.ID)
		body := map[string]any{
			"status":   reputation.StatusQueued,
			"audit_id": a.record.ID,
			"message":  MsgQueued,
			"audit":    a.record,
		}
		b.metrics.observeScan(reputation.StatusQueued)
		b.logger.Info("scan queued", "audit_id", a.record.ID)
		return scanResult{status: 202, body: body}, nil

	case ScenarioError:
		a.record.Status = reputation.HistoryError
		a.record.ErrorCode = reputation.String("scan_failed")
		a.record.ErrorMessage = reputation.String(MsgScanFailed)
		body := map[string]any{
			"status":  reputation.StatusError,
			"code":    "scan_failed",
			"message": MsgScanFailed,
			"details": map[string][]string{"website": {MsgScanFailed}},
		}
		b.metrics.observeScan(reputation.StatusError)
		return scanResult{status: 422, body: body}, nil

	default:
		body := b.completeLocked(a, now)
		b.metrics.observeScan(reputation.StatusSuccess)
		b.logger.Info("scan complete", "audit_id", a.record.ID, "score", *a.record.ReputationScore)
		return scanResult{status: 200, body: body}, nil
	}
}

func (b *Backend) resolveScenario(req reputation.ScanRequest, scenario string) string {
	switch scenario {
	case ScenarioSuccess, ScenarioSelection, ScenarioQueued, ScenarioError:
		return scenario
	}
	if req.PlaceID == "" && !req.SkipPlaces && req.Website == "" && len(b.matchesFor(req)) >= 2 {
		return ScenarioSelection
	}
	if req.Website != "" && b.config.QueueWebsiteScans {
		return ScenarioQueued
	}
	return ScenarioSuccess
}

func (b *Backend) matchesFor(req reputation.ScanRequest) []reputation.Candidate {
	return MatchCatalog(b.config.Catalog, req.BusinessName)
}

// claimLocked returns the audit a request continues, or a new one. A
// request carrying the audit_id of an audit owned by the same user reuses
// that audit, as happens after a candidate is chosen.
func (b *Backend) claimLocked(req reputation.ScanRequest) *audit {
	userID, email := owner(req)
	if req.AuditID != nil {
		if a, ok := b.audits[*req.AuditID]; ok && a.ownedBy(userID, email) {
			a.request = req.Clone()
			a.refreshSummary()
			a.record.Status = reputation.HistoryProcessing
			a.record.ErrorCode = nil
			a.record.ErrorMessage = nil
			return a
		}
	}

	id := b.nextID
	b.nextID++
	a := &audit{
		record: reputation.AuditRecord{
			ID:        id,
			Status:    reputation.HistoryProcessing,
			CreatedAt: reputation.String(strfmt.DateTime(b.config.Now()).String()),
		},
		userID:  userID,
		email:   email,
		request: req.Clone(),
	}
	b.audits[id] = a
	a.refreshSummary()
	return a
}

func (a *audit) refreshSummary() {
	r := a.request
	set := func(v string) *string {
		if v == "" {
			return nil
		}
		return reputation.String(v)
	}
	name := r.BusinessName
	if name == "" {
		name = r.SelectedPlaceName
	}
	a.record.BusinessName = set(name)
	a.record.Website = set(r.Website)
	a.record.Location = set(r.Location)
	a.record.Industry = set(r.Industry)
}

func (a *audit) ownedBy(userID int64, email string) bool {
	if userID > 0 && a.userID == userID {
		return true
	}
	return email != "" && strings.EqualFold(a.email, email)
}

func owner(req reputation.ScanRequest) (int64, string) {
	var id int64
	if req.UserID != nil {
		id = *req.UserID
	}
	return id, strings.TrimSpace(req.LookupEmail)
}

// completeLocked marks a as successful and returns the success body.
func (b *Backend) completeLocked(a *audit, now time.Time) map[string]any {
	a.refreshSummary()
	body, score := SuccessBody(a.request, now)
	body["audit_id"] = a.record.ID

	a.record.Status = reputation.HistorySuccess
	a.record.ReputationScore = &score
	a.record.ScanDate = reputation.String(strfmt.DateTime(now).String())
	a.scan = mustJSON(body)
	return body
}

// scheduleLocked advances a queued audit through processing to success.
func (b *Backend) scheduleLocked(id int64) {
	if b.closed {
		return
	}
	processing := time.AfterFunc(b.config.ProcessingDelay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		a, ok := b.audits[id]
		if !ok || b.closed || a.record.Status != reputation.HistoryPending {
			return
		}
		a.record.Status = reputation.HistoryProcessing
		b.logger.Debug("queued audit processing", "audit_id", id)

		b.timers = append(b.timers, time.AfterFunc(b.config.CompleteDelay, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			a, ok := b.audits[id]
			if !ok || b.closed || a.record.Status != reputation.HistoryProcessing {
				return
			}
			b.completeLocked(a, b.config.Now())
			b.metrics.observeCompletion()
			b.logger.Info("queued audit complete", "audit_id", id)
		}))
	})
	b.timers = append(b.timers, processing)
}

// List returns the newest audits owned by the caller and the total count.
func (b *Backend) List(userID int64, email string, limit int) ([]reputation.AuditRecord, int) {
	if limit <= 0 || limit > DefaultHistoryCap {
		limit = DefaultHistoryCap
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	owned := make([]reputation.AuditRecord, 0, len(b.audits))
	for _, a := range b.audits {
		if a.ownedBy(userID, email) {
			owned = append(owned, a.record)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID > owned[j].ID })

	total := len(owned)
	if len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, total
}

// Get returns one audit owned by the caller.
func (b *Backend) Get(id, userID int64, email string) (reputation.AuditDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.audits[id]
	if !ok || !a.ownedBy(userID, email) {
		return reputation.AuditDetail{}, ErrNotFound
	}
	return a.detail(), nil
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
