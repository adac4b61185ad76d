// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/auditflow/pkg/normalize"
	"github.com/AleutianAI/auditflow/pkg/reputation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var fixedNow = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

type testServer struct {
	router  *gin.Engine
	backend *Backend
	metrics *Metrics
	reg     *prometheus.Registry
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return fixedNow }
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Metrics = metrics
	if mutate != nil {
		mutate(&cfg)
	}
	b := NewBackend(cfg)
	t.Cleanup(b.Close)

	router := gin.New()
	SetupRoutes(router, b, reg)
	return &testServer{router: router, backend: b, metrics: metrics, reg: reg}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func userScan(req reputation.ScanRequest) reputation.ScanRequest {
	req.UserID = reputation.Int64(5)
	return req
}

// =============================================================================
// Route Tests
// =============================================================================

func TestSetupRoutes_Registered(t *testing.T) {
	s := newTestServer(t, nil)
	want := map[string]bool{
		"GET /health":                     false,
		"GET /metrics":                    false,
		"POST /api/reputation/scan":       false,
		"GET /api/reputation/history":     false,
		"GET /api/reputation/history/:id": false,
	}
	for _, r := range s.router.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		assert.True(t, found, route)
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, nil)
	w, body := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

// =============================================================================
// Scan Tests
// =============================================================================

func TestHandleScan_NameOnlyNeedsSelection(t *testing.T) {
	s := newTestServer(t, nil)
	w, body := s.do(t, http.MethodPost, "/api/reputation/scan", userScan(reputation.ScanRequest{BusinessName: "acme"}), nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reputation.StatusSelectionRequired, body["status"])
	assert.Equal(t, MsgSelection, body["message"])
	assert.EqualValues(t, 3, body["total"])
	assert.EqualValues(t, 1, body["audit_id"])

	detail, err := s.backend.Get(1, 5, "")
	require.NoError(t, err)
	assert.Equal(t, reputation.HistorySelectionRequired, detail.Status)
	assert.Contains(t, string(detail.ResponsePayload), "place-acme-north")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.ScansTotal.WithLabelValues(reputation.StatusSelectionRequired)))
}

func TestHandleScan_ChosenCandidateCompletesSameAudit(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/reputation/scan", userScan(reputation.ScanRequest{BusinessName: "Acme Corp"}), nil)

	var candidates []reputation.Candidate
	detail, err := s.backend.Get(1, 5, "")
	require.NoError(t, err)
	var payload struct {
		Candidates []reputation.Candidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(detail.ResponsePayload, &payload))
	candidates = payload.Candidates
	require.NotEmpty(t, candidates)

	next := userScan(reputation.ScanRequest{BusinessName: "Acme Corp", AuditID: reputation.Int64(1)}).WithCandidate(candidates[0])
	w, body := s.do(t, http.MethodPost, "/api/reputation/scan", next, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reputation.StatusSuccess, body["status"])
	assert.Equal(t, "Acme Corp", body["business_name"])
	assert.EqualValues(t, 1, body["audit_id"])

	records, total := s.backend.List(5, "", 10)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, reputation.HistorySuccess, records[0].Status)
	require.NotNil(t, records[0].ReputationScore)

	detail, err = s.backend.Get(1, 5, "")
	require.NoError(t, err)
	result := normalize.Normalize(detail.ScanResponse)
	require.NotNil(t, result)
	assert.Equal(t, "Acme Corp", result.BusinessName)
	assert.Equal(t, int(*records[0].ReputationScore), result.ReputationScore)
	require.NotNil(t, result.Profile)
	assert.Equal(t, "Acme Corp", result.Profile.Name)
}

func TestHandleScan_SkipPlacesSucceeds(t *testing.T) {
	s := newTestServer(t, nil)
	w, body := s.do(t, http.MethodPost, "/api/reputation/scan",
		userScan(reputation.ScanRequest{BusinessName: "Acme"}).WithoutMatching(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reputation.StatusSuccess, body["status"])
}

func TestHandleScan_WebsiteIsQueuedThenCompletes(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.ProcessingDelay = 10 * time.Millisecond
		c.CompleteDelay = 10 * time.Millisecond
	})
	w, body := s.do(t, http.MethodPost, "/api/reputation/scan", userScan(reputation.ScanRequest{Website: "https://x.com"}), nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, reputation.StatusQueued, body["status"])
	assert.EqualValues(t, 1, body["audit_id"])
	assert.Equal(t, MsgQueued, body["message"])

	assert.Eventually(t, func() bool {
		records, _ := s.backend.List(5, "", 10)
		return len(records) == 1 && records[0].Status == reputation.HistorySuccess
	}, 2*time.Second, 10*time.Millisecond)

	detail, err := s.backend.Get(1, 5, "")
	require.NoError(t, err)
	assert.True(t, detail.HasScanResponse())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.CompletionsTotal))
}

func TestHandleScan_CloseStopsQueuedAudits(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.ProcessingDelay = 20 * time.Millisecond
	})
	s.do(t, http.MethodPost, "/api/reputation/scan", userScan(reputation.ScanRequest{Website: "x.com"}), nil)
	s.backend.Close()

	time.Sleep(60 * time.Millisecond)
	records, _ := s.backend.List(5, "", 10)
	require.Len(t, records, 1)
	assert.Equal(t, reputation.HistoryPending, records[0].Status)
}

func TestHandleScan_ScenarioHeader(t *testing.T) {
	tests := []struct {
		scenario string
		code     int
		status   string
	}{
		{ScenarioSuccess, http.StatusOK, reputation.StatusSuccess},
		{ScenarioSelection, http.StatusOK, reputation.StatusSelectionRequired},
		{ScenarioQueued, http.StatusAccepted, reputation.StatusQueued},
		{"ERROR", http.StatusUnprocessableEntity, reputation.StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			s := newTestServer(t, nil)
			w, body := s.do(t, http.MethodPost, "/api/reputation/scan",
				userScan(reputation.ScanRequest{BusinessName: "Globex"}),
				map[string]string{ScenarioHeader: tt.scenario})
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.status, body["status"])
		})
	}
}

func TestHandleScan_ErrorScenarioRecordsFailure(t *testing.T) {
	s := newTestServer(t, nil)
	_, body := s.do(t, http.MethodPost, "/api/reputation/scan",
		userScan(reputation.ScanRequest{Website: "https://down.example"}),
		map[string]string{ScenarioHeader: ScenarioError})

	assert.Equal(t, "scan_failed", body["code"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{MsgScanFailed}, details["website"])

	records, _ := s.backend.List(5, "", 10)
	require.Len(t, records, 1)
	assert.Equal(t, reputation.ClientFailed, records[0].ClientStatus())
	assert.Equal(t, MsgScanFailed, *records[0].ErrorMessage)
}

func TestHandleScan_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	w, body := s.do(t, http.MethodPost, "/api/reputation/scan", reputation.ScanRequest{BusinessName: "Acme", Phone: "555-0100"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "validation_error", body["code"])
	details := body["details"].(map[string]any)
	assert.Equal(t, []any{reputation.MsgPhoneNeedsLoc}, details["location"])

	w, body = s.do(t, http.MethodPost, "/api/reputation/scan", reputation.ScanRequest{}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, []any{reputation.MsgMissingIdentity}, body["details"].(map[string]any)["business_name"])

	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.ScansTotal.WithLabelValues("validation")))
	records, _ := s.backend.List(0, "", 10)
	assert.Empty(t, records)
}

func TestHandleScan_BadJSON(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/reputation/scan", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_json")
}

// =============================================================================
// History Tests
// =============================================================================

func TestHandleHistory(t *testing.T) {
	s := newTestServer(t, nil)
	for _, name := range []string{"Globex", "Initech", "Hooli"} {
		s.do(t, http.MethodPost, "/api/reputation/scan", userScan(reputation.ScanRequest{BusinessName: name}), nil)
	}
	s.do(t, http.MethodPost, "/api/reputation/scan", reputation.ScanRequest{BusinessName: "Umbrella", LookupEmail: "ops@umbrella.test"}, nil)

	w, body := s.do(t, http.MethodGet, "/api/reputation/history?user_id=5&limit=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 3, body["total"])
	audits := body["audits"].([]any)
	require.Len(t, audits, 2)
	assert.EqualValues(t, 3, audits[0].(map[string]any)["id"], "newest first")
	assert.Equal(t, "Hooli", audits[0].(map[string]any)["business_name"])

	_, body = s.do(t, http.MethodGet, "/api/reputation/history?lookup_email=OPS@umbrella.test", nil, nil)
	assert.EqualValues(t, 1, body["total"])

	w, body = s.do(t, http.MethodGet, "/api/reputation/history", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, MsgOwnerRequired, body["message"])

	w, _ = s.do(t, http.MethodGet, "/api/reputation/history?user_id=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 4.0, testutil.ToFloat64(s.metrics.HistoryRequestsTotal.WithLabelValues("list")))
}

func TestHandleHistoryItem(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/reputation/scan", userScan(reputation.ScanRequest{BusinessName: "Globex", Location: "Cypress Creek"}), nil)

	w, body := s.do(t, http.MethodGet, "/api/reputation/history/1?user_id=5", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	audit := body["audit"].(map[string]any)
	assert.EqualValues(t, 1, audit["id"])
	assert.Equal(t, "success", audit["status"])
	assert.Equal(t, "Cypress Creek", audit["location"])
	assert.Equal(t, "Globex", audit["request_payload"].(map[string]any)["business_name"])
	assert.Equal(t, "success", audit["scan_response"].(map[string]any)["status"])

	for _, path := range []string{
		"/api/reputation/history/1?user_id=6",
		"/api/reputation/history/99?user_id=5",
		"/api/reputation/history/x?user_id=5",
	} {
		w, body := s.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "not_found", body["code"], path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/reputation/scan", userScan(reputation.ScanRequest{BusinessName: "Globex"}), nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `auditflow_sandbox_scans_total{outcome="success"} 1`)
}

// =============================================================================
// Catalog Tests
// =============================================================================

func TestMatchCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	assert.Len(t, MatchCatalog(catalog, "ACME"), 3)
	assert.Len(t, MatchCatalog(catalog, "globex"), 1)
	assert.Empty(t, MatchCatalog(catalog, "  "))
}

func TestScoreIsStable(t *testing.T) {
	a := Score(reputation.ScanRequest{BusinessName: "Globex"})
	b := Score(reputation.ScanRequest{BusinessName: "globex"})
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 45.0)
	assert.LessOrEqual(t, a, 94.0)

	body, score := SuccessBody(reputation.ScanRequest{Website: "https://www.x.com/home"}, fixedNow)
	assert.Equal(t, "x.com", body["business_name"])
	assert.Equal(t, Score(reputation.ScanRequest{Website: "https://www.x.com/home"}), score)
}
