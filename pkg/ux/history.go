// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/AleutianAI/auditflow/pkg/reputation"
)

// MsgNoAudits is shown when the history listing is empty.
const MsgNoAudits = "No audits yet. Run `auditctl scan` to start one."

// HistoryRow is the display form of one audit record.
type HistoryRow struct {
	ID       string
	Business string
	Website  string
	Status   reputation.ClientStatus
	Score    string
	Created  string
}

// NewHistoryRow formats r for display. Missing values read "--".
func NewHistoryRow(r reputation.AuditRecord) HistoryRow {
	row := HistoryRow{
		ID:       strconv.FormatInt(r.ID, 10),
		Business: orDash(r.BusinessName),
		Website:  "--",
		Status:   r.ClientStatus(),
		Score:    "--",
		Created:  "--",
	}
	if r.Website != nil && *r.Website != "" {
		row.Website = DisplayDomain(*r.Website)
	}
	if r.ReputationScore != nil {
		row.Score = strconv.Itoa(int(*r.ReputationScore + 0.5))
	}
	if t, ok := r.CreatedTime(); ok {
		row.Created = t.Format("Jan 2, 2006")
	} else if r.CreatedAt != nil && *r.CreatedAt != "" {
		row.Created = *r.CreatedAt
	}
	return row
}

// RenderHistory prints audit records as a table, or as tab-separated lines
// in plain mode. total is the server-side count and may exceed len(records)
// when the listing was limited or filtered.
func (p *Printer) RenderHistory(records []reputation.AuditRecord, total int) {
	if len(records) == 0 {
		p.Info(MsgNoAudits)
		return
	}

	rows := make([]HistoryRow, len(records))
	for i, r := range records {
		rows[i] = NewHistoryRow(r)
	}

	if p.plain() {
		for _, r := range rows {
			fmt.Fprintf(p.out, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Business, r.Website, r.Status, r.Score, r.Created)
		}
		return
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.st.Muted).
		Headers("ID", "Business", "Website", "Status", "Score", "Created").
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return p.st.Bold.Padding(0, 1)
			}
			if col == 3 && row >= 0 && row < len(rows) {
				return p.statusStyle(rows[row].Status).Padding(0, 1)
			}
			return base
		})
	for _, r := range rows {
		t.Row(r.ID, r.Business, r.Website, r.Status.Label(), r.Score, r.Created)
	}
	fmt.Fprintln(p.out, t.Render())

	noun := "audits"
	if total == 1 {
		noun = "audit"
	}
	p.Muted(fmt.Sprintf("%d %s found", total, noun))
}

// RenderQueueNotice prints the one-shot banner for a queued audit.
func (p *Printer) RenderQueueNotice(message string, auditID *int64) {
	if auditID != nil {
		message = fmt.Sprintf("%s (audit #%d)", message, *auditID)
	}
	if p.plain() {
		fmt.Fprintf(p.out, "QUEUED: %s\n", message)
		return
	}
	p.WarningBox("Audit queued", message+"\nRun `auditctl history --watch` to follow it.")
}

// RenderCandidates lists business matches for selection. The entry equal
// to selected is marked.
func (p *Printer) RenderCandidates(message string, candidates []reputation.Candidate, selected string) {
	if p.plain() {
		fmt.Fprintf(p.out, "SELECT: %s\n", message)
		for _, c := range candidates {
			mark := " "
			if c.Selectable() && c.ID() == selected {
				mark = "*"
			}
			fmt.Fprintf(p.out, "%s\t%s\t%s\t%s\t%s\n", mark, orDashString(c.ID()), c.DisplayName(), c.DisplayAddress(), candidateStats(c))
		}
		return
	}

	p.Title(message)
	for i, c := range candidates {
		icon := p.st.Muted.Render(string(IconPending))
		if c.Selectable() && c.ID() == selected {
			icon = p.st.Highlight.Render(string(IconArrow))
		}
		name := p.st.Bold.Render(c.DisplayName())
		if !c.Selectable() {
			name = p.st.Muted.Render(c.DisplayName() + " (cannot be selected)")
		}
		fmt.Fprintf(p.out, "%s %d. %s\n", icon, i+1, name)
		fmt.Fprintf(p.out, "     %s\n", p.st.Muted.Render(c.DisplayAddress()))
		if stats := candidateStats(c); stats != "" {
			fmt.Fprintf(p.out, "     %s\n", stats)
		}
	}
}

// CandidateLabel is the one-line option text for a selection prompt.
func CandidateLabel(c reputation.Candidate) string {
	label := c.DisplayName() + " - " + c.DisplayAddress()
	if stats := candidateStats(c); stats != "" {
		label += " (" + stats + ")"
	}
	return label
}

func candidateStats(c reputation.Candidate) string {
	switch {
	case c.Rating != nil && c.ReviewCount != nil:
		return fmt.Sprintf("%.1f stars, %d reviews", *c.Rating, *c.ReviewCount)
	case c.Rating != nil:
		return fmt.Sprintf("%.1f stars", *c.Rating)
	case c.ReviewCount != nil:
		return fmt.Sprintf("%d reviews", *c.ReviewCount)
	}
	return ""
}

func (p *Printer) statusStyle(s reputation.ClientStatus) lipgloss.Style {
	switch s {
	case reputation.ClientComplete:
		return p.st.Success
	case reputation.ClientFailed:
		return p.st.Error
	case reputation.ClientNeedsSelection:
		return p.st.Warning
	default:
		return p.st.Subtitle
	}
}

func orDash(s *string) string {
	if s == nil {
		return "--"
	}
	return orDashString(*s)
}

func orDashString(s string) string {
	if s == "" {
		return "--"
	}
	return s
}
