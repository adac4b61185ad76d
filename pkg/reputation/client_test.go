// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/auditflow/pkg/observability"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestServer serves body with the given status for every request and
// counts the calls.
func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func validRequest() ScanRequest {
	return ScanRequest{Website: "https://acme.example", BusinessName: "Acme"}
}

// =============================================================================
// Submit Tests
// =============================================================================

func TestClient_Submit_Success(t *testing.T) {
	body := `{"status":"success","business_name":"Acme","scan_date":"2025-01-02T03:04:05Z","results":{"reputation_score":81}}`
	srv, calls := newTestServer(t, http.StatusOK, body)
	client := NewClient(srv.URL)

	outcome, err := client.Submit(context.Background(), validRequest())

	require.NoError(t, err)
	success, ok := outcome.(*Success)
	require.True(t, ok, "expected *Success, got %T", outcome)
	assert.Equal(t, "Acme", success.BusinessName)
	assert.JSONEq(t, `{"reputation_score":81}`, string(success.Results))
	assert.JSONEq(t, body, string(success.Raw))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestClient_Submit_SelectionRequired(t *testing.T) {
	body := `{"status":"selection_required","message":"Pick one","total":2,"audit_id":7,
		"candidates":[{"place_id":"p1","name":"Acme Downtown"},{"place_id":null,"name":null}]}`
	srv, _ := newTestServer(t, http.StatusOK, body)

	outcome, err := NewClient(srv.URL).Submit(context.Background(), validRequest())

	require.NoError(t, err)
	sel, ok := outcome.(*SelectionRequired)
	require.True(t, ok)
	assert.Equal(t, "Pick one", sel.Message)
	require.Len(t, sel.Candidates, 2)
	assert.True(t, sel.Candidates[0].Selectable())
	assert.False(t, sel.Candidates[1].Selectable())
	assert.Equal(t, "Unnamed business", sel.Candidates[1].DisplayName())
	require.NotNil(t, sel.AuditID)
	assert.Equal(t, int64(7), *sel.AuditID)
}

func TestClient_Submit_Queued(t *testing.T) {
	body := `{"status":"queued","audit_id":42,"message":"Started","audit":{"id":42,"status":"pending"}}`
	srv, _ := newTestServer(t, http.StatusAccepted, body)

	outcome, err := NewClient(srv.URL).Submit(context.Background(), validRequest())

	require.NoError(t, err)
	q, ok := outcome.(*Queued)
	require.True(t, ok)
	assert.Equal(t, int64(42), q.AuditID)
	assert.Equal(t, ClientQueued, q.Summary.ClientStatus())
}

func TestClient_Submit_QueuedWithoutAuditID(t *testing.T) {
	for _, body := range []string{
		`{"status":"queued","message":"ok"}`,
		`{"status":"queued","audit_id":0,"message":"ok"}`,
	} {
		srv, _ := newTestServer(t, http.StatusAccepted, body)

		outcome, err := NewClient(srv.URL).Submit(context.Background(), validRequest())

		assert.Nil(t, outcome, body)
		var protoErr *ProtocolError
		require.True(t, errors.As(err, &protoErr), body)
		assert.Equal(t, "Unexpected audit response from server.", UserMessage(err))
	}
}

func TestClient_Submit_SendsRequestBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/reputation/scan", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"status":"queued","audit_id":1}`)
	}))
	defer srv.Close()

	req := validRequest().WithoutMatching()
	_, err := NewClient(srv.URL + "/").Submit(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, true, got["skip_places"])
	assert.Equal(t, "Acme", got["business_name"])
	assert.NotContains(t, got, "place_id")
}

func TestClient_Submit_ValidationSkipsNetwork(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK, `{"status":"success"}`)

	_, err := NewClient(srv.URL).Submit(context.Background(), ScanRequest{Phone: "555-0100"})

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestClient_Submit_BlankFieldsSkipNetwork(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK, `{"status":"success"}`)
	client := NewClient(srv.URL)

	for _, req := range []ScanRequest{
		{BusinessName: "   "},
		{Website: " \t "},
		{Phone: "  ", Location: "  "},
	} {
		_, err := client.Submit(context.Background(), req)
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestClient_Submit_ErrorMessagePrecedence(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{
			name:   "first detail wins",
			status: http.StatusUnprocessableEntity,
			body:   `{"status":"error","message":"Validation failed","details":{"website":["The website format is invalid."],"phone":["bad"]}}`,
			want:   "The website format is invalid.",
		},
		{
			name:   "string detail",
			status: http.StatusBadRequest,
			body:   `{"status":"error","details":{"general":"Quota exceeded"}}`,
			want:   "Quota exceeded",
		},
		{
			name:   "message when no details",
			status: http.StatusInternalServerError,
			body:   `{"status":"error","message":"Upstream timeout"}`,
			want:   "Upstream timeout",
		},
		{
			name:   "fallback",
			status: http.StatusBadGateway,
			body:   `{}`,
			want:   "Audit request failed. Please try again.",
		},
		{
			name:   "error envelope with 200",
			status: http.StatusOK,
			body:   `{"status":"error","code":"E_LIMIT","message":"Slow down"}`,
			want:   "Slow down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status, tt.body)

			_, err := NewClient(srv.URL).Submit(context.Background(), validRequest())

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr), "expected *APIError, got %T", err)
			assert.Equal(t, tt.want, apiErr.Message)
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestClient_Submit_UnknownStatus(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"status":"running"}`)

	_, err := NewClient(srv.URL).Submit(context.Background(), validRequest())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Unexpected audit response from server.", apiErr.Message)
}

func TestClient_Submit_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `<html>oops</html>`)

	_, err := NewClient(srv.URL).Submit(context.Background(), validRequest())

	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "Audit request failed. Please try again.", UserMessage(err))
}

func TestClient_Submit_NetworkError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{}`)
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Submit(context.Background(), validRequest())

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, OpScan, netErr.Op)
}

func TestClient_Submit_RecordsMetrics(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"status":"queued","audit_id":3}`)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	_, err := NewClient(srv.URL, WithMetrics(metrics)).Submit(context.Background(), validRequest())

	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ClientRequestsTotal.WithLabelValues(OpScan, StatusQueued)))
}

// =============================================================================
// History Tests
// =============================================================================

func TestClient_ListAudits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reputation/history", r.URL.Path)
		assert.Equal(t, "9", r.URL.Query().Get("user_id"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"status":"success","total":2,"audits":[
			{"id":1,"status":"processing","business_name":"Acme"},
			{"id":2,"status":"success","reputation_score":77.5}]}`)
	}))
	defer srv.Close()

	page, err := NewClient(srv.URL).ListAudits(context.Background(), HistoryQuery{UserID: 9, Limit: 25})

	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Audits, 2)
	assert.Equal(t, ClientProcessing, page.Audits[0].ClientStatus())
	assert.Equal(t, ClientComplete, page.Audits[1].ClientStatus())
}

func TestClient_ListAudits_EmptyIsNonNil(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"status":"success","total":0}`)

	page, err := NewClient(srv.URL).ListAudits(context.Background(), HistoryQuery{})

	require.NoError(t, err)
	assert.NotNil(t, page.Audits)
	assert.Empty(t, page.Audits)
}

func TestClient_ListAudits_Fallback(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusInternalServerError, `{"status":"error"}`)

	_, err := NewClient(srv.URL).ListAudits(context.Background(), HistoryQuery{})

	require.Error(t, err)
	assert.Equal(t, "Unable to load audit history right now.", UserMessage(err))
}

func TestClient_GetAudit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reputation/history/12", r.URL.Path)
		assert.Equal(t, "a@b.example", r.URL.Query().Get("lookup_email"))
		_, _ = io.WriteString(w, `{"status":"success","audit":{
			"id":12,"status":"selection_required",
			"request_payload":{"business_name":"Acme","skip_places":false},
			"response_payload":{"candidates":[{"place_id":"p1"}]},
			"scan_response":null}}`)
	}))
	defer srv.Close()

	detail, err := NewClient(srv.URL).GetAudit(context.Background(), 12, HistoryQuery{LookupEmail: "a@b.example"})

	require.NoError(t, err)
	assert.Equal(t, int64(12), detail.ID)
	require.NotNil(t, detail.RequestPayload)
	assert.Equal(t, "Acme", detail.RequestPayload.BusinessName)
	assert.False(t, detail.HasScanResponse())
}

func TestClient_GetAudit_Fallback(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusNotFound, `not json`)

	_, err := NewClient(srv.URL).GetAudit(context.Background(), 5, HistoryQuery{})

	require.Error(t, err)
	assert.Equal(t, "Unable to load audit details right now.", UserMessage(err))
}

// =============================================================================
// firstDetail Tests
// =============================================================================

func TestFirstDetail(t *testing.T) {
	assert.Equal(t, "", firstDetail(nil))
	assert.Equal(t, "", firstDetail(json.RawMessage(`null`)))
	assert.Equal(t, "", firstDetail(json.RawMessage(`{}`)))
	assert.Equal(t, "", firstDetail(json.RawMessage(`{"a":[]}`)))
	assert.Equal(t, "", firstDetail(json.RawMessage(`["x"]`)))
	assert.Equal(t, "z first", firstDetail(json.RawMessage(`{"z":["z first"],"a":["a"]}`)))
}
