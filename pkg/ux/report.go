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
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/auditflow/pkg/normalize"
)

// MsgSampleReport explains a placeholder report.
const MsgSampleReport = "No audit result is available for this session. Showing a sample report; run a new audit to see your own."

// ReportOptions tunes RenderReport.
type ReportOptions struct {
	// Placeholder marks r as the sample result.
	Placeholder bool
}

// RenderReport prints a normalized audit result.
//
// # Description
//
// Rich mode prints the score, sentiment bars, a theme table, mentions,
// recommendations and the four narrative sections. Plain mode prints one
// "key: value" line per fact, with tab-separated columns for list items.
func (p *Printer) RenderReport(r *normalize.Result, opts ReportOptions) {
	if r == nil {
		r = normalize.Sample()
		opts.Placeholder = true
	}
	if p.plain() {
		p.plainReport(r, opts)
		return
	}

	if opts.Placeholder {
		p.WarningBox("Sample report", MsgSampleReport)
	}
	p.Title("Reputation audit: " + r.BusinessName)
	for _, line := range [][2]string{
		{"Website", DisplayDomain(r.VerifiedWebsite)},
		{"Location", r.VerifiedLocation},
		{"Phone", r.VerifiedPhone},
		{"Scanned", FormatDate(r.ScanDate)},
	} {
		if line[1] != "" && line[1] != "--" {
			fmt.Fprintf(p.out, "%s %s\n", p.st.Muted.Render(fmt.Sprintf("%-9s", line[0])), line[1])
		}
	}
	fmt.Fprintln(p.out)

	fmt.Fprintf(p.out, "%s %s %s\n",
		p.st.Bold.Render("Reputation score"),
		p.scoreStyle(r.ReputationScore).Render(fmt.Sprintf("%d/100", r.ReputationScore)),
		p.st.Muted.Render(normalize.ScoreBand(r.ReputationScore)),
	)
	fmt.Fprintln(p.out, p.ProgressBar(r.ReputationScore, 100, 40))
	fmt.Fprintln(p.out)

	fmt.Fprintln(p.out, p.st.Subtitle.Render("Sentiment"))
	for _, s := range []struct {
		label string
		value int
	}{
		{"Positive", r.Sentiment.Positive},
		{"Neutral", r.Sentiment.Neutral},
		{"Negative", r.Sentiment.Negative},
	} {
		fmt.Fprintf(p.out, "  %-9s %s\n", s.label, p.ProgressBar(s.value, 100, 30))
	}
	fmt.Fprintln(p.out)

	if len(r.Themes) > 0 {
		fmt.Fprintln(p.out, p.st.Subtitle.Render("Top themes"))
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(p.st.Muted).
			Headers("Theme", "Sentiment", "Mentions").
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return p.st.Bold.Padding(0, 1)
				}
				if col == 1 && row >= 0 && row < len(r.Themes) {
					return p.sentimentStyle(r.Themes[row].Sentiment).Padding(0, 1)
				}
				return lipgloss.NewStyle().Padding(0, 1)
			})
		for _, th := range r.Themes {
			t.Row(th.Name, th.Sentiment, strconv.Itoa(th.Frequency))
		}
		fmt.Fprintln(p.out, t.Render())
		fmt.Fprintln(p.out)
	}

	if len(r.Mentions) > 0 {
		fmt.Fprintln(p.out, p.st.Subtitle.Render("Top mentions"))
		for _, m := range r.Mentions {
			label := m.Title
			if label == "" {
				label = mentionSource(m)
			}
			fmt.Fprintf(p.out, "  %s %s %s\n", IconBullet, label, p.sentimentStyle(m.Sentiment).Render("("+m.Sentiment+")"))
			fmt.Fprintf(p.out, "    %s\n", p.st.Muted.Render(m.URL))
		}
		fmt.Fprintln(p.out)
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintln(p.out, p.st.Subtitle.Render("Recommendations"))
		for i, rec := range r.Recommendations {
			fmt.Fprintf(p.out, "  %d. %s\n", i+1, rec)
		}
		fmt.Fprintln(p.out)
	}

	p.Box("Executive summary", r.Narrative.ExecutiveSummary)
	p.Box("Detailed analysis", r.Narrative.DetailedAnalysis)
	p.Box("Risk factors", r.Narrative.RiskFactors)
	p.Box("Opportunities", r.Narrative.Opportunities)

	if r.Profile != nil {
		p.Box("Business profile", profileSummary(r.Profile))
	}
}

func (p *Printer) plainReport(r *normalize.Result, opts ReportOptions) {
	w := p.out
	if opts.Placeholder {
		fmt.Fprintln(w, "sample: true")
	}
	fmt.Fprintf(w, "business: %s\n", r.BusinessName)
	for _, kv := range [][2]string{
		{"website", r.VerifiedWebsite},
		{"location", r.VerifiedLocation},
		{"phone", r.VerifiedPhone},
		{"scan_date", r.ScanDate},
	} {
		if kv[1] != "" {
			fmt.Fprintf(w, "%s: %s\n", kv[0], kv[1])
		}
	}
	fmt.Fprintf(w, "score: %d\n", r.ReputationScore)
	fmt.Fprintf(w, "band: %s\n", normalize.ScoreBand(r.ReputationScore))
	fmt.Fprintf(w, "sentiment: positive=%d neutral=%d negative=%d\n",
		r.Sentiment.Positive, r.Sentiment.Neutral, r.Sentiment.Negative)
	for _, th := range r.Themes {
		fmt.Fprintf(w, "theme: %s\t%s\t%d\n", th.Name, th.Sentiment, th.Frequency)
	}
	for _, m := range r.Mentions {
		fmt.Fprintf(w, "mention: %s\t%s\t%s\n", m.URL, m.Sentiment, mentionSource(m))
	}
	for _, rec := range r.Recommendations {
		fmt.Fprintf(w, "recommendation: %s\n", rec)
	}
	fmt.Fprintf(w, "executive_summary: %s\n", r.Narrative.ExecutiveSummary)
	fmt.Fprintf(w, "detailed_analysis: %s\n", r.Narrative.DetailedAnalysis)
	fmt.Fprintf(w, "risk_factors: %s\n", r.Narrative.RiskFactors)
	fmt.Fprintf(w, "opportunities: %s\n", r.Narrative.Opportunities)
	if r.Profile != nil {
		fmt.Fprintf(w, "profile: %s\n", profileSummary(r.Profile))
	}
}

func (p *Printer) scoreStyle(score int) lipgloss.Style {
	switch {
	case score >= 60:
		return p.st.Success.Bold(true)
	case score >= 40:
		return p.st.Warning.Bold(true)
	default:
		return p.st.Error.Bold(true)
	}
}

func (p *Printer) sentimentStyle(s string) lipgloss.Style {
	switch s {
	case normalize.Positive:
		return p.st.Success
	case normalize.Negative:
		return p.st.Error
	default:
		return p.st.Muted
	}
}

func mentionSource(m normalize.Mention) string {
	if m.Source != "" {
		return m.Source
	}
	return SiteName(m.URL)
}

func profileSummary(pr *normalize.Profile) string {
	parts := []string{pr.Name}
	if pr.Address != "" {
		parts = append(parts, pr.Address)
	}
	if pr.Rating != nil {
		parts = append(parts, fmt.Sprintf("%.1f stars", *pr.Rating))
	}
	if pr.ReviewCount != nil {
		parts = append(parts, fmt.Sprintf("%d reviews", *pr.ReviewCount))
	}
	return strings.Join(parts, ", ")
}

// FormatDate renders a backend timestamp as "Jan 2, 2006". Empty input
// gives "--" and unparseable input is returned unchanged.
func FormatDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "--"
	}
	if dt, err := strfmt.ParseDateTime(value); err == nil {
		return time.Time(dt).Format("Jan 2, 2006")
	}
	if t, err := time.Parse("2006-01-02 15:04:05", value); err == nil {
		return t.Format("Jan 2, 2006")
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.Format("Jan 2, 2006")
	}
	return value
}
