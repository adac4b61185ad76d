// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auditflow drives one audit submission from the first request to a
// terminal outcome.
//
// # Description
//
// A Machine submits a scan request and follows the backend's answer: a
// finished result, a request to pick the matching business profile, or an
// acknowledgement that the audit continues asynchronously. Disambiguation
// loops back through Submitting until the backend settles.
//
// At most one request is outstanding per Machine. Triggers that would submit
// while a request is in flight fail with ErrSubmissionInFlight and issue
// nothing.
//
// # Thread Safety
//
// Machine is safe for concurrent use. The network call is made without
// holding the internal lock, so Snapshot stays responsive while submitting.
package auditflow

import (
	"errors"
	"fmt"
)

// State is a state of the submission flow.
type State string

const (
	// StateIdle is the initial state, and the state after Restart.
	StateIdle State = "idle"

	// StateSubmitting means one scan request is on the wire.
	StateSubmitting State = "submitting"

	// StateSucceeded means a result was received and normalized.
	StateSucceeded State = "succeeded"

	// StateAwaitingSelection means the user must pick a candidate or
	// decline matching.
	StateAwaitingSelection State = "awaiting_selection"

	// StateQueued means the backend continues the audit asynchronously.
	StateQueued State = "queued"

	// StateFailed means the last request failed. Retry resubmits it.
	StateFailed State = "failed"
)

// Terminal reports whether the flow has settled for this audit.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateQueued
}

// Errors returned by Machine triggers.
var (
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	ErrNoPendingSelection = errors.New("no candidate selection is pending")
	ErrUnknownCandidate   = errors.New("candidate is not in the pending selection")
	ErrNothingToRetry     = errors.New("there is no failed request to retry")
	ErrClosed             = errors.New("audit flow is closed")
	ErrInvalidTransition  = errors.New("invalid state transition")
)

// transitions is the allowed transition graph:
//
//	idle               → submitting          : Submit
//	idle               → awaiting_selection  : Resume with a stored context
//	submitting         → succeeded           : success outcome
//	submitting         → awaiting_selection  : selection_required outcome
//	submitting         → queued              : queued outcome
//	submitting         → failed              : any error
//	awaiting_selection → submitting          : ChooseCandidate, DeclineMatching, Submit
//	failed             → submitting          : Retry, Submit
//	succeeded, queued  → submitting          : Submit of a new audit
//	* except submitting → idle               : Restart
var transitions = map[State][]State{
	StateIdle:              {StateSubmitting, StateAwaitingSelection, StateIdle},
	StateSubmitting:        {StateSucceeded, StateAwaitingSelection, StateQueued, StateFailed},
	StateAwaitingSelection: {StateSubmitting, StateIdle},
	StateFailed:            {StateSubmitting, StateIdle},
	StateSucceeded:         {StateSubmitting, StateIdle},
	StateQueued:            {StateSubmitting, StateIdle},
}

// canTransition reports whether from → to is in the graph.
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func invalidTransition(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
