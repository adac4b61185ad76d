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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/auditflow/pkg/reputation"
	"github.com/AleutianAI/auditflow/pkg/sessionstore"
)

func openStore(t *testing.T) *sessionstore.Store {
	t.Helper()
	s, err := sessionstore.Open(sessionstore.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func detailSource(detail reputation.AuditDetail) *mockSource {
	return &mockSource{
		GetAuditFunc: func(_ context.Context, id int64, _ reputation.HistoryQuery) (reputation.AuditDetail, error) {
			detail.ID = id
			return detail, nil
		},
	}
}

// =============================================================================
// Filter Tests
// =============================================================================

func TestFilter(t *testing.T) {
	records := []reputation.AuditRecord{
		{ID: 1, Status: reputation.HistoryPending, BusinessName: reputation.String("Acme Corp"), Website: reputation.String("https://acme.example")},
		{ID: 2, Status: reputation.HistorySuccess, BusinessName: reputation.String("Blue Bakery")},
		{ID: 3, Status: reputation.HistorySelectionRequired, Website: reputation.String("https://ACME-shop.example")},
		{ID: 4, Status: "cancelled"},
	}
	ids := func(rs []reputation.AuditRecord) []int64 {
		out := make([]int64, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		status reputation.ClientStatus
		term   string
		want   []int64
	}{
		{"no filter", "", "", []int64{1, 2, 3, 4}},
		{"status only", reputation.ClientComplete, "", []int64{2}},
		{"unknown status is failed", reputation.ClientFailed, "", []int64{4}},
		{"term matches name or website", "", "  acme ", []int64{1, 3}},
		{"status and term", reputation.ClientNeedsSelection, "acme", []int64{3}},
		{"no match", "", "zebra", []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Filter(records, tt.status, tt.term)))
		})
	}
}

func TestCounts(t *testing.T) {
	counts := Counts([]reputation.AuditRecord{
		{Status: reputation.HistoryPending},
		{Status: reputation.HistoryPending},
		{Status: reputation.HistoryError},
		{Status: "weird"},
	})
	assert.Equal(t, 2, counts[reputation.ClientQueued])
	assert.Equal(t, 2, counts[reputation.ClientFailed])
	assert.Zero(t, counts[reputation.ClientComplete])
}

// =============================================================================
// Reopener Tests
// =============================================================================

func TestReopener_ResolveSelection(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	source := detailSource(reputation.AuditDetail{
		RequestPayload:  &reputation.ScanRequest{BusinessName: "Acme Corp", Location: "Springfield"},
		ResponsePayload: json.RawMessage(`{"status":"selection_required","message":"Pick your listing","candidates":[{"place_id":"p1","name":"Acme Corp"}]}`),
	})
	r := NewReopener(source, store, nil)

	sel, err := r.ResolveSelection(ctx, 17, reputation.HistoryQuery{UserID: 3})
	require.NoError(t, err)
	assert.Equal(t, "Pick your listing", sel.Message)
	require.NotNil(t, sel.PendingRequest.AuditID)
	assert.Equal(t, int64(17), *sel.PendingRequest.AuditID)

	stored, err := store.LoadAndClearSelection(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Valid())
	assert.Equal(t, "Acme Corp", stored.PendingRequest.BusinessName)
	require.Len(t, stored.Candidates, 1)
	assert.Equal(t, "p1", stored.Candidates[0].ID())
	require.NotNil(t, stored.AuditID)
	assert.Equal(t, int64(17), *stored.AuditID)
}

func TestReopener_ResolveSelectionDefaultMessage(t *testing.T) {
	source := detailSource(reputation.AuditDetail{
		RequestPayload:  &reputation.ScanRequest{Website: "https://acme.example"},
		ResponsePayload: json.RawMessage(`{"message":42,"candidates":[{"place_id":"p1"}]}`),
	})
	sel, err := NewReopener(source, openStore(t), nil).ResolveSelection(context.Background(), 1, reputation.HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, sessionstore.DefaultSelectionMessage, sel.Message)
}

func TestReopener_ResolveSelectionUnavailable(t *testing.T) {
	request := &reputation.ScanRequest{BusinessName: "Acme Corp"}
	tests := []struct {
		name   string
		detail reputation.AuditDetail
	}{
		{"no request", reputation.AuditDetail{ResponsePayload: json.RawMessage(`{"candidates":[{"place_id":"p1"}]}`)}},
		{"no response", reputation.AuditDetail{RequestPayload: request}},
		{"empty candidates", reputation.AuditDetail{RequestPayload: request, ResponsePayload: json.RawMessage(`{"candidates":[]}`)}},
		{"candidates not a list", reputation.AuditDetail{RequestPayload: request, ResponsePayload: json.RawMessage(`{"candidates":"p1"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openStore(t)
			_, err := NewReopener(detailSource(tt.detail), store, nil).ResolveSelection(context.Background(), 9, reputation.HistoryQuery{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSelectionUnavailable)
			assert.Equal(t, MsgSelectionUnavailable, reputation.UserMessage(err))

			stored, err := store.LoadAndClearSelection(context.Background())
			require.NoError(t, err)
			assert.Nil(t, stored)
		})
	}
}

func TestReopener_ClientErrorPassesThrough(t *testing.T) {
	apiErr := &reputation.APIError{Message: "Audit not found"}
	source := &mockSource{
		GetAuditFunc: func(context.Context, int64, reputation.HistoryQuery) (reputation.AuditDetail, error) {
			return reputation.AuditDetail{}, apiErr
		},
	}
	r := NewReopener(source, openStore(t), nil)

	_, err := r.ResolveSelection(context.Background(), 1, reputation.HistoryQuery{})
	assert.True(t, errors.Is(err, apiErr))
	_, err = r.OpenResult(context.Background(), 1, reputation.HistoryQuery{})
	assert.True(t, errors.Is(err, apiErr))
}

func TestReopener_OpenResult(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	payload := `{"status":"success","business_name":"Acme Corp","results":{"reputation_score":64}}`
	r := NewReopener(detailSource(reputation.AuditDetail{ScanResponse: json.RawMessage(payload)}), store, nil)

	raw, err := r.OpenResult(ctx, 4, reputation.HistoryQuery{})
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(raw))

	last, err := store.LoadAndClearLastResult(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.JSONEq(t, payload, string(last.Payload))
}

func TestReopener_OpenResultMissing(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage(`null`)} {
		r := NewReopener(detailSource(reputation.AuditDetail{ScanResponse: raw}), openStore(t), nil)
		_, err := r.OpenResult(context.Background(), 4, reputation.HistoryQuery{})
		assert.ErrorIs(t, err, ErrNoScanResult)
		assert.Equal(t, MsgNoScanResult, reputation.UserMessage(err))
	}
}
