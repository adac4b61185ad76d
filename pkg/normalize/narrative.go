// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package normalize

import (
	"fmt"
	"sort"
	"strings"
)

// synthesize fills every blank narrative field from the bounded result.
// Non-blank fields from the backend are kept verbatim.
func synthesize(r *Result, given Narrative) Narrative {
	out := Narrative{
		ExecutiveSummary: strings.TrimSpace(given.ExecutiveSummary),
		DetailedAnalysis: strings.TrimSpace(given.DetailedAnalysis),
		RiskFactors:      strings.TrimSpace(given.RiskFactors),
		Opportunities:    strings.TrimSpace(given.Opportunities),
	}
	if out.ExecutiveSummary == "" {
		out.ExecutiveSummary = executiveSummary(r)
	}
	if out.DetailedAnalysis == "" {
		out.DetailedAnalysis = detailedAnalysis(r)
	}
	if out.RiskFactors == "" {
		out.RiskFactors = riskFactors(r)
	}
	if out.Opportunities == "" {
		out.Opportunities = opportunities(r)
	}
	return out
}

func executiveSummary(r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall, the online reputation of %s is %s with a score of %d/100.",
		r.BusinessName, ScoreBand(r.ReputationScore), r.ReputationScore)
	s := r.Sentiment
	if s.Positive+s.Negative+s.Neutral > 0 {
		fmt.Fprintf(&b, " Sentiment across sources is %d%% positive, %d%% neutral and %d%% negative.",
			s.Positive, s.Neutral, s.Negative)
	}
	if top := topThemes(r.Themes, "", 3); len(top) > 0 {
		fmt.Fprintf(&b, " The most discussed topics are %s.", joinList(top))
	}
	return b.String()
}

func detailedAnalysis(r *Result) string {
	if len(r.Themes) == 0 && len(r.Mentions) == 0 {
		return "Not enough review data was available for a detailed analysis. Run a new audit once the business has more online activity."
	}
	var parts []string
	if len(r.Themes) > 0 {
		parts = append(parts, fmt.Sprintf("The audit identified %d recurring %s, led by %s.",
			len(r.Themes), plural(len(r.Themes), "theme", "themes"), joinList(topThemes(r.Themes, "", 3))))
	}
	if pos := topThemes(r.Themes, Positive, 3); len(pos) > 0 {
		parts = append(parts, fmt.Sprintf("Reviewers speak favorably about %s.", joinList(pos)))
	}
	if len(r.Mentions) > 0 {
		parts = append(parts, fmt.Sprintf("%d online %s referencing the business %s reviewed.",
			len(r.Mentions), plural(len(r.Mentions), "source", "sources"), plural(len(r.Mentions), "was", "were")))
	}
	return strings.Join(parts, " ")
}

func riskFactors(r *Result) string {
	if neg := topThemes(r.Themes, Negative, 3); len(neg) > 0 {
		return fmt.Sprintf("Key risk areas include %s. Recurring complaints in these areas could affect customer retention if left unaddressed.", joinList(neg))
	}
	if r.Sentiment.Negative > 0 {
		return fmt.Sprintf("%d%% of sentiment is negative. Monitor reviews and respond to critical feedback promptly.", r.Sentiment.Negative)
	}
	return "No significant risk factors were identified in the sources reviewed."
}

func opportunities(r *Result) string {
	var parts []string
	if pos := topThemes(r.Themes, Positive, 3); len(pos) > 0 {
		parts = append(parts, fmt.Sprintf("Strengths such as %s can be highlighted in marketing.", joinList(pos)))
	}
	if len(r.Recommendations) > 0 {
		parts = append(parts, fmt.Sprintf("A good first step: %s.", strings.TrimRight(r.Recommendations[0], ".")))
	}
	if len(parts) == 0 {
		return "Encouraging satisfied customers to leave reviews will strengthen the online presence of the business."
	}
	return strings.Join(parts, " ")
}

// topThemes returns up to n theme names ordered by frequency, most frequent
// first. Ties keep input order. An empty sentiment matches every theme.
func topThemes(themes []Theme, sentiment string, n int) []string {
	filtered := make([]Theme, 0, len(themes))
	for _, t := range themes {
		if sentiment == "" || t.Sentiment == sentiment {
			filtered = append(filtered, t)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Frequency > filtered[j].Frequency })
	if len(filtered) > n {
		filtered = filtered[:n]
	}
	names := make([]string, len(filtered))
	for i, t := range filtered {
		names[i] = t.Name
	}
	return names
}

// joinList joins names as "a", "a and b" or "a, b and c".
func joinList(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
