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
	"io"

	"github.com/charmbracelet/huh"

	"github.com/AleutianAI/auditflow/pkg/auditflow"
	"github.com/AleutianAI/auditflow/pkg/ux"
)

// errChoiceAborted is returned by a Chooser when the user backs out.
var errChoiceAborted = errors.New("choice aborted")

// Choice is the user's answer to a pending selection.
type Choice struct {
	// PlaceID is the chosen candidate. Empty with NoMatch set means the
	// user declined matching.
	PlaceID string
	NoMatch bool
}

// Chooser asks the user to settle interactive decisions.
//
// # Description
//
// The scan and resume commands only consult a Chooser when stdin is a
// terminal. Tests supply a scripted implementation.
type Chooser interface {
	// ChooseCandidate returns the user's pick for sel. sel.Selected is the
	// default highlight.
	ChooseCandidate(ctx context.Context, sel auditflow.Selection) (Choice, error)

	// ConfirmRetry asks whether to resubmit after a failure.
	ConfirmRetry(ctx context.Context, message string) (bool, error)
}

// huhChooser prompts with charmbracelet/huh forms.
type huhChooser struct {
	in         io.Reader
	out        io.Writer
	accessible bool
}

func newHuhChooser(in io.Reader, out io.Writer, accessible bool) *huhChooser {
	return &huhChooser{in: in, out: out, accessible: accessible}
}

func (h *huhChooser) run(ctx context.Context, fields ...huh.Field) error {
	form := huh.NewForm(huh.NewGroup(fields...)).
		WithAccessible(h.accessible).
		WithInput(h.in).
		WithOutput(h.out)
	err := form.RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return errChoiceAborted
	}
	return err
}

// ChooseCandidate lists the selectable candidates plus a "none of these"
// entry that declines matching.
func (h *huhChooser) ChooseCandidate(ctx context.Context, sel auditflow.Selection) (Choice, error) {
	options := make([]huh.Option[Choice], 0, len(sel.Candidates)+1)
	hidden := 0
	for _, c := range sel.Candidates {
		if !c.Selectable() {
			hidden++
			continue
		}
		opt := huh.NewOption(ux.CandidateLabel(c), Choice{PlaceID: c.ID()})
		options = append(options, opt.Selected(c.ID() == sel.Selected))
	}
	options = append(options, huh.NewOption("None of these, scan without a business profile", Choice{NoMatch: true}))

	description := "Pick the business profile to use for this audit."
	if hidden > 0 {
		description = fmt.Sprintf("%s %d listing(s) without a profile id are not shown.", description, hidden)
	}

	choice := Choice{PlaceID: sel.Selected}
	err := h.run(ctx, huh.NewSelect[Choice]().
		Title(sel.Message).
		Description(description).
		Options(options...).
		Value(&choice))
	if err != nil {
		return Choice{}, err
	}
	return choice, nil
}

func (h *huhChooser) ConfirmRetry(ctx context.Context, message string) (bool, error) {
	retry := true
	err := h.run(ctx, huh.NewConfirm().
		Title(message).
		Affirmative("Retry").
		Negative("Give up").
		Value(&retry))
	if err != nil {
		return false, err
	}
	return retry, nil
}
