// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auditflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/auditflow/pkg/normalize"
	"github.com/AleutianAI/auditflow/pkg/observability"
	"github.com/AleutianAI/auditflow/pkg/reputation"
	"github.com/AleutianAI/auditflow/pkg/sessionstore"
)

var tracer = otel.Tracer("auditflow.flow")

// Store is the session state the machine hands to other views.
// *sessionstore.Store implements it.
type Store interface {
	SaveSelection(ctx context.Context, sel sessionstore.SelectionContext) error
	LoadAndClearSelection(ctx context.Context) (*sessionstore.SelectionContext, error)
	SaveQueueNotice(ctx context.Context, n sessionstore.QueueNotice) error
	SaveLastResult(ctx context.Context, payload json.RawMessage) error
}

var _ Store = (*sessionstore.Store)(nil)

// Transition describes one state change.
type Transition struct {
	FlowID  string
	From    State
	To      State
	Trigger string
	At      time.Time
}

// Selection is the pending disambiguation.
type Selection struct {
	Message    string
	Candidates []reputation.Candidate

	// Selected is the highlighted place id. It is only a default for the
	// user's confirmation and never submitted on its own.
	Selected string

	AuditID *int64
}

// QueuedAudit identifies an audit that continues on the backend.
type QueuedAudit struct {
	AuditID int64
	Message string
}

// Snapshot is a consistent copy of the machine's state.
type Snapshot struct {
	FlowID string
	State  State

	// Request is the last request submitted, or the one about to be.
	Request *reputation.ScanRequest

	// Selection is set in StateAwaitingSelection.
	Selection *Selection

	// Result is set in StateSucceeded. Treat it as read-only.
	Result *normalize.Result

	// Placeholder is true when the backend result could not be normalized
	// and Result is the sample result.
	Placeholder bool

	// Queued is set in StateQueued.
	Queued *QueuedAudit

	// Err is the error that moved the machine to StateFailed.
	Err error
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(mt *observability.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

// WithOnTransition registers a hook called after every state change. The
// hook runs outside the machine's lock and may call Snapshot.
func WithOnTransition(fn func(Transition)) Option {
	return func(m *Machine) { m.onTransition = fn }
}

// Machine is the audit submission state machine.
type Machine struct {
	scanner      reputation.Scanner
	store        Store
	logger       *slog.Logger
	metrics      *observability.Metrics
	onTransition func(Transition)

	mu          sync.Mutex
	flowID      string
	state       State
	request     *reputation.ScanRequest
	pending     *reputation.ScanRequest
	selection   *Selection
	result      *normalize.Result
	placeholder bool
	queued      *QueuedAudit
	err         error
	closed      bool
}

// NewMachine creates a machine in StateIdle.
//
// # Inputs
//
//   - scanner: Submits scan requests. Usually a *reputation.Client.
//   - store: Receives the selection context, queue notice and last result.
//   - opts: Logger, metrics and transition hook.
func NewMachine(scanner reputation.Scanner, store Store, opts ...Option) *Machine {
	m := &Machine{
		scanner: scanner,
		store:   store,
		logger:  slog.Default(),
		flowID:  uuid.NewString(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "auditflow")
	return m
}

// =============================================================================
// Triggers
// =============================================================================

// Submit starts an audit with req.
//
// # Description
//
// The request is trimmed, normalized and validated first. A validation error
// is returned without changing state and without network I/O. Submitting
// from StateAwaitingSelection abandons the pending selection.
//
// # Outputs
//
//   - Snapshot: State after the backend answered.
//   - error: Validation, guard or backend error. A non-nil error with
//     Snapshot.State == StateFailed means the request itself failed.
func (m *Machine) Submit(ctx context.Context, req reputation.ScanRequest) (Snapshot, error) {
	return m.submit(ctx, "submit", func() (reputation.ScanRequest, error) {
		return reputation.Prepare(req)
	})
}

// ChooseCandidate resubmits the pending request matched to a candidate.
// An empty placeID uses the currently highlighted candidate.
func (m *Machine) ChooseCandidate(ctx context.Context, placeID string) (Snapshot, error) {
	return m.submit(ctx, "choose_candidate", func() (reputation.ScanRequest, error) {
		if m.state != StateAwaitingSelection || m.pending == nil {
			return reputation.ScanRequest{}, ErrNoPendingSelection
		}
		id := placeID
		if id == "" {
			id = m.selection.Selected
		}
		c, ok := reputation.FindCandidate(m.selection.Candidates, id)
		if !ok || !c.Selectable() {
			return reputation.ScanRequest{}, fmt.Errorf("%w: %q", ErrUnknownCandidate, id)
		}
		m.selection.Selected = id
		return m.pending.WithCandidate(c), nil
	})
}

// DeclineMatching resubmits the pending request with place matching skipped.
func (m *Machine) DeclineMatching(ctx context.Context) (Snapshot, error) {
	return m.submit(ctx, "decline_matching", func() (reputation.ScanRequest, error) {
		if m.state != StateAwaitingSelection || m.pending == nil {
			return reputation.ScanRequest{}, ErrNoPendingSelection
		}
		return m.pending.WithoutMatching(), nil
	})
}

// Retry resubmits the request that failed, unchanged.
func (m *Machine) Retry(ctx context.Context) (Snapshot, error) {
	return m.submit(ctx, "retry", func() (reputation.ScanRequest, error) {
		if m.state != StateFailed || m.request == nil {
			return reputation.ScanRequest{}, ErrNothingToRetry
		}
		return m.request.Clone(), nil
	})
}

// Select highlights a candidate without submitting.
func (m *Machine) Select(placeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.state != StateAwaitingSelection || m.selection == nil {
		return ErrNoPendingSelection
	}
	c, ok := reputation.FindCandidate(m.selection.Candidates, placeID)
	if !ok || !c.Selectable() {
		return fmt.Errorf("%w: %q", ErrUnknownCandidate, placeID)
	}
	m.selection.Selected = placeID
	return nil
}

// Resume re-enters a disambiguation saved by an earlier flow.
//
// # Description
//
// Reads the stored selection context exactly once; the store no longer has
// it afterwards. A valid context (a pending request and at least one
// candidate) moves the machine to StateAwaitingSelection. Anything else,
// including an empty store, leaves it in StateIdle without error.
//
// The store is read without holding the machine lock. If another trigger
// moves the machine out of StateIdle meanwhile, that trigger wins: the
// context read here is dropped and Resume reports ErrInvalidTransition.
//
// # Outputs
//
//   - Snapshot: The resulting state.
//   - error: ErrClosed, ErrInvalidTransition when not idle, or a store error.
func (m *Machine) Resume(ctx context.Context) (Snapshot, error) {
	if snap, err := m.resumable(); err != nil {
		return snap, err
	}

	stored, err := m.store.LoadAndClearSelection(ctx)
	if err != nil {
		return m.Snapshot(), fmt.Errorf("resume selection: %w", err)
	}

	m.mu.Lock()
	// Another trigger may have run while the store was read.
	if m.closed || m.state != StateIdle {
		snap := m.snapshotLocked()
		closed := m.closed
		m.mu.Unlock()
		if stored.Valid() {
			m.logger.Debug("selection consumed by a superseded resume", "flow_id", snap.FlowID)
		}
		if closed {
			return snap, ErrClosed
		}
		return snap, invalidTransition(snap.State, StateAwaitingSelection)
	}
	if !stored.Valid() {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		m.logger.Debug("no pending selection to resume", "flow_id", snap.FlowID)
		return snap, nil
	}

	pending := stored.PendingRequest.Clone()
	if pending.AuditID == nil && stored.AuditID != nil {
		v := *stored.AuditID
		pending.AuditID = &v
	}
	m.request = &pending
	m.pending = &pending
	m.selection = newSelection(stored.Message, stored.Candidates, pending.PlaceID, pending.AuditID)
	fired := m.setState(StateAwaitingSelection, "resume")
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(fired)
	return snap, nil
}

// resumable checks that Resume may read the store.
func (m *Machine) resumable() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshotLocked()
	if m.closed {
		return snap, ErrClosed
	}
	if m.state != StateIdle {
		return snap, invalidTransition(snap.State, StateAwaitingSelection)
	}
	return snap, nil
}

// Restart discards everything and returns to StateIdle with a new flow id.
// A stored selection context is discarded too.
func (m *Machine) Restart(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	if m.closed {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrClosed
	}
	if m.state == StateSubmitting {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrSubmissionInFlight
	}
	hadSelection := m.state == StateAwaitingSelection
	m.reset()
	m.flowID = uuid.NewString()
	fired := m.setState(StateIdle, "restart")
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(fired)
	if hadSelection {
		m.discardStoredSelection(ctx)
	}
	return snap, nil
}

// Close marks the machine dead. A response arriving afterwards is dropped
// without state changes or store writes, and its trigger returns ErrClosed.
// Close does not cancel the request itself; cancel the trigger's context
// for that.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// =============================================================================
// Submission
// =============================================================================

// submit runs one request/response cycle.
//
// build runs under the lock after the guards pass and produces the request
// to send. The response is applied under the lock again, unless the machine
// was closed meanwhile.
func (m *Machine) submit(ctx context.Context, trigger string, build func() (reputation.ScanRequest, error)) (Snapshot, error) {
	m.mu.Lock()
	if m.closed {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrClosed
	}
	if m.state == StateSubmitting {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrSubmissionInFlight
	}
	if !canTransition(m.state, StateSubmitting) {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, invalidTransition(snap.State, StateSubmitting)
	}
	req, err := build()
	if err != nil {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, err
	}

	leavingSelection := m.state == StateAwaitingSelection
	sent := req.Clone()
	m.request = &sent
	m.err = nil
	flowID := m.flowID
	fired := m.setState(StateSubmitting, trigger)
	m.mu.Unlock()
	m.emit(fired)

	if leavingSelection {
		m.discardStoredSelection(ctx)
	}

	ctx, span := tracer.Start(ctx, "auditflow.Submit",
		trace.WithAttributes(
			attribute.String("flow.id", flowID),
			attribute.String("flow.trigger", trigger),
		),
	)
	defer span.End()

	outcome, callErr := m.scanner.Submit(ctx, req)

	m.mu.Lock()
	if m.closed {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		span.SetAttributes(attribute.Bool("flow.discarded", true))
		m.logger.Debug("discarding response for closed flow", "flow_id", flowID, "trigger", trigger)
		return snap, ErrClosed
	}

	// Store writes use a context that survives cancellation of the trigger:
	// once the response is in, it is recorded.
	persistCtx := context.WithoutCancel(ctx)
	var (
		next       State
		persistErr error
	)
	if callErr != nil {
		m.err = callErr
		next = StateFailed
	} else {
		switch o := outcome.(type) {
		case *reputation.Success:
			next, persistErr = StateSucceeded, m.applySuccess(persistCtx, o)
		case *reputation.SelectionRequired:
			next, persistErr = StateAwaitingSelection, m.applySelection(persistCtx, o, req)
		case *reputation.Queued:
			next, persistErr = StateQueued, m.applyQueued(persistCtx, o)
		default:
			callErr = &reputation.ProtocolError{
				Op:      reputation.OpScan,
				Message: "Unexpected audit response from server.",
				Err:     fmt.Errorf("unexpected outcome %T", outcome),
			}
			m.err = callErr
			next = StateFailed
		}
	}
	fired = m.setState(next, trigger)
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.emit(fired)

	span.SetAttributes(attribute.String("flow.state", string(next)))
	switch {
	case callErr != nil:
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
		return snap, callErr
	case persistErr != nil:
		span.RecordError(persistErr)
		span.SetStatus(codes.Error, persistErr.Error())
		m.logger.Warn("failed to persist flow state", "flow_id", flowID, "state", next, "error", persistErr)
		return snap, persistErr
	default:
		span.SetStatus(codes.Ok, "")
		return snap, nil
	}
}

// applySuccess normalizes the result and stores the raw payload for the
// results view. Called with the lock held.
func (m *Machine) applySuccess(ctx context.Context, o *reputation.Success) error {
	raw := o.Raw
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(o); err != nil {
			raw = nil
		}
	}

	result := normalize.Normalize(raw)
	m.placeholder = result == nil
	if m.placeholder {
		m.logger.Warn("scan result could not be normalized, using placeholder", "flow_id", m.flowID)
		result = normalize.Sample()
		m.metrics.ObserveResult("placeholder")
	} else {
		m.metrics.ObserveResult("normalized")
	}
	m.result = result
	m.pending, m.selection, m.queued = nil, nil, nil

	if raw == nil {
		return nil
	}
	if err := m.store.SaveLastResult(ctx, raw); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	return nil
}

// applySelection records the disambiguation and persists it before the
// trigger returns. Called with the lock held.
func (m *Machine) applySelection(ctx context.Context, o *reputation.SelectionRequired, sent reputation.ScanRequest) error {
	pending := sent.Clone()
	if o.AuditID != nil {
		v := *o.AuditID
		pending.AuditID = &v
	}
	m.pending = &pending
	m.selection = newSelection(o.Message, o.Candidates, sent.PlaceID, pending.AuditID)
	m.result, m.placeholder, m.queued = nil, false, nil

	stored := pending.Clone()
	err := m.store.SaveSelection(ctx, sessionstore.SelectionContext{
		Message:        m.selection.Message,
		Candidates:     append([]reputation.Candidate(nil), m.selection.Candidates...),
		PendingRequest: &stored,
		AuditID:        stored.AuditID,
	})
	if err != nil {
		return fmt.Errorf("persist selection: %w", err)
	}
	return nil
}

// applyQueued saves the one-time notice for the history view. Called with
// the lock held.
func (m *Machine) applyQueued(ctx context.Context, o *reputation.Queued) error {
	msg := strings.TrimSpace(o.Message)
	if msg == "" {
		msg = sessionstore.DefaultQueueMessage
	}
	m.queued = &QueuedAudit{AuditID: o.AuditID, Message: msg}
	m.pending, m.selection, m.result, m.placeholder = nil, nil, nil, false

	id := o.AuditID
	if err := m.store.SaveQueueNotice(ctx, sessionstore.QueueNotice{Message: msg, AuditID: &id}); err != nil {
		return fmt.Errorf("persist queue notice: %w", err)
	}
	return nil
}

// discardStoredSelection drops a persisted selection that the flow has moved
// past. Best effort.
func (m *Machine) discardStoredSelection(ctx context.Context) {
	if _, err := m.store.LoadAndClearSelection(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("failed to discard stored selection", "error", err)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// newSelection builds the pending selection with its default highlight.
func newSelection(message string, candidates []reputation.Candidate, previous string, auditID *int64) *Selection {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = sessionstore.DefaultSelectionMessage
	}
	var id *int64
	if auditID != nil {
		v := *auditID
		id = &v
	}
	return &Selection{
		Message:    msg,
		Candidates: append([]reputation.Candidate(nil), candidates...),
		Selected:   DefaultSelection(candidates, previous),
		AuditID:    id,
	}
}

// DefaultSelection picks the candidate to highlight: previous when it is
// still offered, otherwise the first selectable candidate in order. It
// returns "" when nothing is selectable.
func DefaultSelection(candidates []reputation.Candidate, previous string) string {
	if c, ok := reputation.FindCandidate(candidates, previous); ok && c.Selectable() {
		return previous
	}
	for _, c := range candidates {
		if c.Selectable() {
			return c.ID()
		}
	}
	return ""
}

// reset clears all per-audit state. Called with the lock held.
func (m *Machine) reset() {
	m.request, m.pending, m.selection = nil, nil, nil
	m.result, m.placeholder, m.queued, m.err = nil, false, nil, nil
}

// setState changes state and returns the transition for emit. Called with
// the lock held.
func (m *Machine) setState(to State, trigger string) Transition {
	t := Transition{FlowID: m.flowID, From: m.state, To: to, Trigger: trigger, At: time.Now()}
	m.state = to
	return t
}

// emit logs, counts and publishes a transition. Called without the lock.
func (m *Machine) emit(t Transition) {
	m.logger.Info("audit flow transition",
		slog.String("flow_id", t.FlowID),
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)),
		slog.String("trigger", t.Trigger),
	)
	m.metrics.ObserveTransition(string(t.From), string(t.To))
	if m.onTransition != nil {
		m.onTransition(t)
	}
}

// snapshotLocked copies the state. Called with the lock held.
func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		FlowID:      m.flowID,
		State:       m.state,
		Result:      m.result,
		Placeholder: m.placeholder,
		Err:         m.err,
	}
	if m.request != nil {
		r := m.request.Clone()
		s.Request = &r
	}
	if m.selection != nil {
		sel := *m.selection
		sel.Candidates = append([]reputation.Candidate(nil), m.selection.Candidates...)
		if m.selection.AuditID != nil {
			v := *m.selection.AuditID
			sel.AuditID = &v
		}
		s.Selection = &sel
	}
	if m.queued != nil {
		q := *m.queued
		s.Queued = &q
	}
	return s
}
