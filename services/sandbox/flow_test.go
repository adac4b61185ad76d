// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/auditflow/pkg/auditflow"
	"github.com/AleutianAI/auditflow/pkg/history"
	"github.com/AleutianAI/auditflow/pkg/normalize"
	"github.com/AleutianAI/auditflow/pkg/reputation"
	"github.com/AleutianAI/auditflow/pkg/sessionstore"
	"github.com/AleutianAI/auditflow/services/sandbox"
)

// These tests drive the real client, state machine, session store and
// poller against the sandbox over HTTP.

type stack struct {
	client *reputation.Client
	store  *sessionstore.Store
	logger *slog.Logger
	query  reputation.HistoryQuery
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := sandbox.DefaultConfig()
	cfg.ProcessingDelay = 20 * time.Millisecond
	cfg.CompleteDelay = 20 * time.Millisecond
	cfg.Logger = logger
	backend := sandbox.NewBackend(cfg)
	t.Cleanup(backend.Close)

	router := gin.New()
	sandbox.SetupRoutes(router, backend, nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	store, err := sessionstore.Open(sessionstore.Config{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &stack{
		client: reputation.NewClient(srv.URL+"/api", reputation.WithLogger(logger)),
		store:  store,
		logger: logger,
		query:  reputation.HistoryQuery{UserID: 5, Limit: 20},
	}
}

func (s *stack) machine(t *testing.T) *auditflow.Machine {
	m := auditflow.NewMachine(s.client, s.store, auditflow.WithLogger(s.logger))
	t.Cleanup(m.Close)
	return m
}

func TestFlow_SelectionThenChooseCandidate(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	m := s.machine(t)

	snap, err := m.Submit(ctx, reputation.ScanRequest{BusinessName: "Acme Corp", UserID: reputation.Int64(5)})
	require.NoError(t, err)
	require.Equal(t, auditflow.StateAwaitingSelection, snap.State)
	require.Len(t, snap.Selection.Candidates, 2)
	assert.Equal(t, "place-acme-main", snap.Selection.Selected)
	require.NotNil(t, snap.Selection.AuditID)
	auditID := *snap.Selection.AuditID

	snap, err = m.ChooseCandidate(ctx, "place-acme-north")
	require.NoError(t, err)
	require.Equal(t, auditflow.StateSucceeded, snap.State)
	assert.False(t, snap.Placeholder)
	assert.Equal(t, "Acme Corp", snap.Result.BusinessName)
	require.NotNil(t, snap.Result.Profile)
	assert.Equal(t, "Acme Corporation North", snap.Result.Profile.Name)

	last, err := s.store.LoadAndClearLastResult(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	stored := normalize.Normalize(last.Payload)
	require.NotNil(t, stored)
	assert.Equal(t, snap.Result.BusinessName, stored.BusinessName)
	assert.Equal(t, snap.Result.ReputationScore, stored.ReputationScore)

	page, err := s.client.ListAudits(ctx, s.query)
	require.NoError(t, err)
	require.Len(t, page.Audits, 1, "the resubmission continues the same audit")
	assert.Equal(t, auditID, page.Audits[0].ID)
	assert.Equal(t, reputation.ClientComplete, page.Audits[0].ClientStatus())
}

func TestFlow_QueuedAuditIsPolledToCompletion(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	m := s.machine(t)

	snap, err := m.Submit(ctx, reputation.ScanRequest{Website: "x.com", UserID: reputation.Int64(5)})
	require.NoError(t, err)
	require.Equal(t, auditflow.StateQueued, snap.State)
	auditID := snap.Queued.AuditID

	notice, err := s.store.LoadAndClearQueueNotice(ctx)
	require.NoError(t, err)
	require.NotNil(t, notice)
	require.NotNil(t, notice.AuditID)
	assert.Equal(t, auditID, *notice.AuditID)
	assert.Equal(t, sandbox.MsgQueued, notice.Message)

	var (
		mu       sync.Mutex
		statuses []reputation.ClientStatus
	)
	poller := history.NewPoller(s.client, history.Config{Interval: 10 * time.Millisecond, Logger: s.logger})
	require.NoError(t, poller.Start(ctx, s.query, func(u history.Update) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range u.Records {
			if r.ID == auditID {
				statuses = append(statuses, r.ClientStatus())
			}
		}
	}))
	defer poller.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) > 0 && statuses[len(statuses)-1] == reputation.ClientComplete
	}, 3*time.Second, 10*time.Millisecond)

	raw, err := history.NewReopener(s.client, s.store, s.logger).OpenResult(ctx, auditID, s.query)
	require.NoError(t, err)
	result := normalize.Normalize(raw)
	require.NotNil(t, result)
	assert.Equal(t, "x.com", result.BusinessName)
}

func TestFlow_ResolveSelectionFromHistory(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	first := s.machine(t)
	snap, err := first.Submit(ctx, reputation.ScanRequest{BusinessName: "Acme", UserID: reputation.Int64(5)})
	require.NoError(t, err)
	require.Equal(t, auditflow.StateAwaitingSelection, snap.State)
	auditID := *snap.Selection.AuditID

	_, err = first.Restart(ctx)
	require.NoError(t, err)
	stored, err := s.store.LoadAndClearSelection(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored, "restart discards the pending selection")

	sel, err := history.NewReopener(s.client, s.store, s.logger).ResolveSelection(ctx, auditID, s.query)
	require.NoError(t, err)
	assert.Equal(t, sandbox.MsgSelection, sel.Message)
	assert.Len(t, sel.Candidates, 3)

	second := s.machine(t)
	snap, err = second.Resume(ctx)
	require.NoError(t, err)
	require.Equal(t, auditflow.StateAwaitingSelection, snap.State)

	snap, err = second.DeclineMatching(ctx)
	require.NoError(t, err)
	require.Equal(t, auditflow.StateSucceeded, snap.State)

	page, err := s.client.ListAudits(ctx, s.query)
	require.NoError(t, err)
	require.Len(t, page.Audits, 1)
	assert.Equal(t, reputation.ClientComplete, page.Audits[0].ClientStatus())
}

func TestFlow_ServerErrorsSurfaceAsAPIError(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.client.GetAudit(ctx, 404, s.query)
	var apiErr *reputation.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, sandbox.MsgNotFound, apiErr.Message)
	assert.Equal(t, "not_found", apiErr.Code)

	_, err = s.client.ListAudits(ctx, reputation.HistoryQuery{})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, sandbox.MsgOwnerRequired, apiErr.Message)
}
