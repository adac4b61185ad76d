// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalize turns loosely-typed scan result payloads into the fully
// populated display model used by the results view.
//
// # Description
//
// Backend scan results are produced partly by upstream AI services and may be
// partial, oddly typed or missing whole sections. Normalize never fails: it
// returns nil only when the input is not a JSON object or carries an explicit
// non-success status, and otherwise fills every field of Result, synthesizing
// narrative text when the backend omitted it.
//
// Decoding is layered. The results object is first decoded strictly into the
// expected schema; only when that fails is it read field by field from a
// generic map.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package normalize

// Bounds of the display model.
const (
	MaxThemes          = 12
	MaxMentions        = 10
	MaxRecommendations = 8
)

// Sentiment labels.
const (
	Positive = "positive"
	Negative = "negative"
	Neutral  = "neutral"
)

// FallbackBusinessName is used when no business name is present.
const FallbackBusinessName = "Your Business"

// Result is the normalized audit result.
type Result struct {
	BusinessName     string `json:"business_name"`
	VerifiedWebsite  string `json:"verified_website,omitempty"`
	VerifiedLocation string `json:"verified_location,omitempty"`
	VerifiedPhone    string `json:"verified_phone,omitempty"`
	ScanDate         string `json:"scan_date,omitempty"`

	// ReputationScore is in [0, 100].
	ReputationScore int `json:"reputation_score"`

	Sentiment       Sentiment `json:"sentiment_breakdown"`
	Themes          []Theme   `json:"top_themes"`
	Mentions        []Mention `json:"top_mentions"`
	Recommendations []string  `json:"recommendations"`
	Narrative       Narrative `json:"audit"`

	// Profile is the matched business profile, when the scan had one.
	Profile *Profile `json:"online_profile,omitempty"`
}

// Sentiment holds three percentages, each in [0, 100]. They need not sum to
// exactly 100.
type Sentiment struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Theme is a recurring topic in reviews and mentions.
type Theme struct {
	Name      string `json:"theme"`
	Sentiment string `json:"sentiment"`

	// Frequency is at least 1.
	Frequency int `json:"frequency"`
}

// Mention is one online source that references the business.
type Mention struct {
	URL       string `json:"url"`
	Sentiment string `json:"sentiment"`
	Title     string `json:"title,omitempty"`
	Source    string `json:"source,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Narrative is the four-part written report.
type Narrative struct {
	ExecutiveSummary string `json:"executive_summary"`
	DetailedAnalysis string `json:"detailed_analysis"`
	RiskFactors      string `json:"risk_factors"`
	Opportunities    string `json:"opportunities"`
}

// Profile is a snapshot of the matched business profile.
type Profile struct {
	Name        string   `json:"name"`
	Address     string   `json:"address,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`
}

// ScoreBand names the band a score falls in.
func ScoreBand(score int) string {
	switch {
	case score >= 80:
		return "Excellent"
	case score >= 60:
		return "Good"
	case score >= 40:
		return "Fair"
	default:
		return "Needs Improvement"
	}
}
