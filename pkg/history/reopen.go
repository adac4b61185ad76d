// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/auditflow/pkg/reputation"
	"github.com/AleutianAI/auditflow/pkg/sessionstore"
)

// User-facing reopen messages.
const (
	MsgSelectionUnavailable = "Unable to restore this selection. Start a new audit to continue."
	MsgNoScanResult         = "This audit does not have a completed scan result yet."
)

var (
	// ErrSelectionUnavailable means the audit lacks the request or the
	// candidates needed to resume disambiguation.
	ErrSelectionUnavailable = errors.New("selection cannot be restored")

	// ErrNoScanResult means the audit has no completed scan result.
	ErrNoScanResult = errors.New("no completed scan result")
)

// ReopenError reports why an audit could not be reopened. Message is safe
// to show to the user.
type ReopenError struct {
	AuditID int64
	Message string
	Err     error
}

func (e *ReopenError) Error() string { return e.Message }

func (e *ReopenError) Unwrap() error { return e.Err }

// Store receives the state handed to the submission flow or results view.
type Store interface {
	SaveSelection(ctx context.Context, sel sessionstore.SelectionContext) error
	SaveLastResult(ctx context.Context, payload json.RawMessage) error
}

// Reopener turns history entries back into session state.
type Reopener struct {
	source reputation.HistorySource
	store  Store
	logger *slog.Logger
}

// NewReopener creates a Reopener. A nil logger uses slog.Default().
func NewReopener(source reputation.HistorySource, store Store, logger *slog.Logger) *Reopener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reopener{source: source, store: store, logger: logger}
}

// ResolveSelection prepares a needs-selection audit for the submission flow.
//
// # Description
//
// Fetches the audit and rebuilds its selection context from the original
// request and the candidates in the stored response. The pending request is
// bound to auditID so the resubmission updates the same audit. The context
// is saved for the submission flow's Resume.
//
// # Outputs
//
//   - *sessionstore.SelectionContext: The saved context.
//   - error: *ReopenError wrapping ErrSelectionUnavailable, a client error,
//     or a store error.
func (r *Reopener) ResolveSelection(ctx context.Context, auditID int64, q reputation.HistoryQuery) (*sessionstore.SelectionContext, error) {
	detail, err := r.source.GetAudit(ctx, auditID, q)
	if err != nil {
		return nil, err
	}

	message, candidates := decodeSelection(detail.ResponsePayload)
	if detail.RequestPayload == nil || len(candidates) == 0 {
		r.logger.Info("audit has no restorable selection", "audit_id", auditID)
		return nil, &ReopenError{AuditID: auditID, Message: MsgSelectionUnavailable, Err: ErrSelectionUnavailable}
	}
	if message == "" {
		message = sessionstore.DefaultSelectionMessage
	}

	pending := detail.RequestPayload.Clone()
	pending.AuditID = reputation.Int64(auditID)
	sel := sessionstore.SelectionContext{
		Message:        message,
		Candidates:     candidates,
		PendingRequest: &pending,
		AuditID:        reputation.Int64(auditID),
	}
	if err := r.store.SaveSelection(ctx, sel); err != nil {
		return nil, fmt.Errorf("save selection for audit %d: %w", auditID, err)
	}
	return &sel, nil
}

// OpenResult stores a completed audit's scan response as the last result.
//
// # Outputs
//
//   - json.RawMessage: The stored scan response.
//   - error: *ReopenError wrapping ErrNoScanResult, a client error, or a
//     store error.
func (r *Reopener) OpenResult(ctx context.Context, auditID int64, q reputation.HistoryQuery) (json.RawMessage, error) {
	detail, err := r.source.GetAudit(ctx, auditID, q)
	if err != nil {
		return nil, err
	}
	if !detail.HasScanResponse() {
		return nil, &ReopenError{AuditID: auditID, Message: MsgNoScanResult, Err: ErrNoScanResult}
	}
	if err := r.store.SaveLastResult(ctx, detail.ScanResponse); err != nil {
		return nil, fmt.Errorf("save result for audit %d: %w", auditID, err)
	}
	return detail.ScanResponse, nil
}

// decodeSelection extracts the prompt and candidates from a stored
// selection_required response. Anything unexpected yields no candidates.
func decodeSelection(raw json.RawMessage) (string, []reputation.Candidate) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return "", nil
	}
	var candidates []reputation.Candidate
	if err := json.Unmarshal(payload["candidates"], &candidates); err != nil {
		return "", nil
	}
	var message string
	if err := json.Unmarshal(payload["message"], &message); err != nil {
		message = ""
	}
	return strings.TrimSpace(message), candidates
}
