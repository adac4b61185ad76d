// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/auditflow/pkg/auditflow"
	"github.com/AleutianAI/auditflow/pkg/reputation"
	"github.com/AleutianAI/auditflow/pkg/sessionstore"
)

const (
	msgResumeHint   = "Run `auditctl resume --place-id <id>` to continue, or `auditctl resume --no-match` to scan without a profile."
	msgNothingToRes = "No candidate selection is pending. Run `auditctl scan` to start an audit."
	msgRetryPrompt  = "The audit could not be completed. Retry?"
)

// runScan submits req and follows the flow to a terminal outcome.
//
// # Description
//
// A success shows the result, a queued audit prints where to follow it, and
// a disambiguation either prompts (interactive) or prints the candidates and
// leaves the selection for `auditctl resume`. Validation errors exit with
// code 2 before anything is sent.
func (a *app) runScan(ctx context.Context, req reputation.ScanRequest) error {
	if req.UserID == nil && a.cfg.UserID > 0 {
		req.UserID = reputation.Int64(a.cfg.UserID)
	}
	if req.LookupEmail == "" {
		req.LookupEmail = a.cfg.LookupEmail
	}

	m := a.newMachine()
	defer m.Close()

	snap, err := a.submitting("Submitting audit...", func() (auditflow.Snapshot, error) {
		return m.Submit(ctx, req)
	})
	return a.settle(ctx, "scan", m, snap, err, nil)
}

// runResume re-enters a stored disambiguation. preset, when non-nil,
// answers it without prompting.
func (a *app) runResume(ctx context.Context, preset *Choice) error {
	m := a.newMachine()
	defer m.Close()

	snap, err := m.Resume(ctx)
	if err != nil {
		return a.failed("resume", err)
	}
	if snap.State == auditflow.StateIdle {
		a.printer.Info(msgNothingToRes)
		return nil
	}
	return a.settle(ctx, "resume", m, snap, nil, preset)
}

// submitting runs one trigger behind a spinner.
func (a *app) submitting(message string, fn func() (auditflow.Snapshot, error)) (auditflow.Snapshot, error) {
	spin := a.printer.NewSpinner(message)
	spin.Start()
	defer spin.Stop()
	return fn()
}

// settle reacts to each state until the flow stops needing input.
func (a *app) settle(ctx context.Context, command string, m *auditflow.Machine, snap auditflow.Snapshot, err error, preset *Choice) error {
	var picked Choice
	for {
		if err != nil && snap.State != auditflow.StateFailed {
			var ve *reputation.ValidationError
			switch {
			case errors.As(err, &ve):
				a.printer.Error(ve.Message)
				return &CommandError{Command: command, ExitCode: exitUsage, Wrapped: err}
			case errors.Is(err, auditflow.ErrUnknownCandidate):
				a.printer.Error(fmt.Sprintf("%q is not one of the selectable candidates.", picked.PlaceID))
				a.keepSelection(ctx, m.Snapshot())
				return &CommandError{Command: command, ExitCode: exitUsage, Wrapped: err}
			case isFlowGuard(err):
				return a.failed(command, err)
			default:
				// The backend answered but the session state could not be
				// recorded. The outcome itself is still valid.
				a.printer.Warning("Session state could not be saved: " + err.Error())
			}
		}

		switch snap.State {
		case auditflow.StateSucceeded:
			if snap.Placeholder {
				a.printer.Warning("The audit finished but its result could not be read.")
			}
			return a.runResults(ctx)

		case auditflow.StateQueued:
			a.printer.Success(fmt.Sprintf("Audit #%d queued.", snap.Queued.AuditID))
			a.printer.Info(snap.Queued.Message)
			a.printer.Info("Run `auditctl history --watch` to follow its progress.")
			return nil

		case auditflow.StateAwaitingSelection:
			choice, ok, cerr := a.choose(ctx, *snap.Selection, preset)
			preset = nil
			if cerr != nil {
				a.keepSelection(ctx, snap)
				return a.failed(command, cerr)
			}
			if !ok {
				a.keepSelection(ctx, snap)
				a.printer.RenderCandidates(snap.Selection.Message, snap.Selection.Candidates, snap.Selection.Selected)
				a.printer.Info(msgResumeHint)
				return nil
			}
			picked = choice
			if choice.NoMatch {
				snap, err = a.submitting("Submitting audit without a business profile...", func() (auditflow.Snapshot, error) {
					return m.DeclineMatching(ctx)
				})
			} else {
				snap, err = a.submitting("Submitting audit...", func() (auditflow.Snapshot, error) {
					return m.ChooseCandidate(ctx, choice.PlaceID)
				})
			}

		case auditflow.StateFailed:
			a.printer.Error(reputation.UserMessage(snap.Err))
			if !a.confirmRetry(ctx) {
				return &CommandError{Command: command, ExitCode: exitFailure, Wrapped: snap.Err}
			}
			snap, err = a.submitting("Retrying audit...", func() (auditflow.Snapshot, error) {
				return m.Retry(ctx)
			})

		default:
			return fmt.Errorf("unexpected flow state %s", snap.State)
		}
	}
}

// choose answers a pending selection from preset or the Chooser. ok is false
// when there is nobody to ask or the user backed out.
func (a *app) choose(ctx context.Context, sel auditflow.Selection, preset *Choice) (Choice, bool, error) {
	if preset != nil {
		return *preset, true, nil
	}
	if a.chooser == nil {
		return Choice{}, false, nil
	}
	choice, err := a.chooser.ChooseCandidate(ctx, sel)
	switch {
	case errors.Is(err, errChoiceAborted):
		return Choice{}, false, nil
	case err != nil:
		return Choice{}, false, err
	}
	return choice, true, nil
}

func (a *app) confirmRetry(ctx context.Context) bool {
	if a.chooser == nil {
		return false
	}
	retry, err := a.chooser.ConfirmRetry(ctx, msgRetryPrompt)
	if err != nil {
		a.logger.Debug("retry prompt closed", "error", err)
		return false
	}
	return retry
}

// keepSelection stores the pending selection again so a later
// `auditctl resume` can pick it up. Resume consumes the stored copy, so
// without this an unanswered resume would lose it.
func (a *app) keepSelection(ctx context.Context, snap auditflow.Snapshot) {
	if snap.State != auditflow.StateAwaitingSelection || snap.Selection == nil || snap.Request == nil {
		return
	}
	pending := snap.Request.Clone()
	err := a.store.SaveSelection(context.WithoutCancel(ctx), sessionstore.SelectionContext{
		Message:        snap.Selection.Message,
		Candidates:     snap.Selection.Candidates,
		PendingRequest: &pending,
		AuditID:        snap.Selection.AuditID,
	})
	if err != nil {
		a.printer.Warning("The pending selection could not be saved: " + err.Error())
	}
}

func isFlowGuard(err error) bool {
	return errors.Is(err, auditflow.ErrSubmissionInFlight) ||
		errors.Is(err, auditflow.ErrNoPendingSelection) ||
		errors.Is(err, auditflow.ErrNothingToRetry) ||
		errors.Is(err, auditflow.ErrClosed) ||
		errors.Is(err, auditflow.ErrInvalidTransition)
}
