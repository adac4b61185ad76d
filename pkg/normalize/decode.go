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
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// =============================================================================
// Strict Layer
// =============================================================================

type strictSentiment struct {
	Positive *float64 `json:"positive"`
	Negative *float64 `json:"negative"`
	Neutral  *float64 `json:"neutral"`
}

func (s *strictSentiment) counts() *counts {
	if s == nil || (s.Positive == nil && s.Negative == nil && s.Neutral == nil) {
		return nil
	}
	return &counts{positive: num(s.Positive), negative: num(s.Negative), neutral: num(s.Neutral)}
}

type strictTheme struct {
	Theme     *string  `json:"theme"`
	Name      *string  `json:"name"`
	Sentiment *string  `json:"sentiment"`
	Frequency *float64 `json:"frequency"`
}

type strictMention struct {
	URL       *string `json:"url"`
	Sentiment *string `json:"sentiment"`
	Title     *string `json:"title"`
	Source    *string `json:"source"`
	Summary   *string `json:"summary"`
}

type strictProfile struct {
	Name        *string  `json:"name"`
	Address     *string  `json:"address"`
	Rating      *float64 `json:"rating"`
	ReviewCount *float64 `json:"review_count"`
}

type strictAudit struct {
	ExecutiveSummary  *string          `json:"executive_summary"`
	DetailedAnalysis  *string          `json:"detailed_analysis"`
	RiskFactors       *string          `json:"risk_factors"`
	Opportunities     *string          `json:"opportunities"`
	CustomerThemes    []strictTheme    `json:"customer_themes"`
	EmployeeThemes    []strictTheme    `json:"employee_themes"`
	Mentions          []strictMention  `json:"mentions"`
	CustomerSentiment *strictSentiment `json:"customer_sentiment"`
	EmployeeSentiment *strictSentiment `json:"employee_sentiment"`
}

type strictResults struct {
	BusinessName       *string          `json:"business_name"`
	VerifiedWebsite    *string          `json:"verified_website"`
	VerifiedLocation   *string          `json:"verified_location"`
	VerifiedPhone      *string          `json:"verified_phone"`
	ScanDate           *string          `json:"scan_date"`
	ReputationScore    *float64         `json:"reputation_score"`
	SentimentBreakdown *strictSentiment `json:"sentiment_breakdown"`
	Themes             []strictTheme    `json:"themes"`
	TopThemes          []strictTheme    `json:"top_themes"`
	Mentions           []strictMention  `json:"mentions"`
	TopMentions        []strictMention  `json:"top_mentions"`
	Recommendations    []string         `json:"recommendations"`
	ExecutiveSummary   *string          `json:"executive_summary"`
	DetailedAnalysis   *string          `json:"detailed_analysis"`
	RiskFactors        *string          `json:"risk_factors"`
	Opportunities      *string          `json:"opportunities"`
	Audit              *strictAudit     `json:"audit"`
	OnlineProfile      *strictProfile   `json:"online_profile"`
}

// decodeStrict decodes results into the expected schema. Any type mismatch
// is an error and sends the caller to the permissive layer.
func decodeStrict(raw []byte) (draft, error) {
	var s strictResults
	if err := json.Unmarshal(raw, &s); err != nil {
		return draft{}, err
	}

	d := draft{
		businessName: str(s.BusinessName),
		verified:     [3]string{str(s.VerifiedWebsite), str(s.VerifiedLocation), str(s.VerifiedPhone)},
		scanDate:     str(s.ScanDate),
		score:        num(s.ReputationScore),
		explicit:     s.SentimentBreakdown.counts(),
	}
	audit := s.Audit
	if audit == nil {
		audit = &strictAudit{}
	}
	for _, c := range []*counts{audit.CustomerSentiment.counts(), audit.EmployeeSentiment.counts()} {
		if c != nil {
			d.parties = append(d.parties, *c)
		}
	}

	themes := firstNonNil(s.Themes, s.TopThemes)
	if themes == nil {
		themes = append(append([]strictTheme{}, audit.CustomerThemes...), audit.EmployeeThemes...)
	}
	for _, t := range themes {
		name := str(t.Theme)
		if name == "" {
			name = str(t.Name)
		}
		d.themes = append(d.themes, Theme{Name: name, Sentiment: str(t.Sentiment), Frequency: roundInt(num(t.Frequency))})
	}

	mentions := firstNonNil(s.Mentions, s.TopMentions)
	if mentions == nil {
		mentions = audit.Mentions
	}
	for _, m := range mentions {
		d.mentions = append(d.mentions, Mention{
			URL: str(m.URL), Sentiment: str(m.Sentiment),
			Title: str(m.Title), Source: str(m.Source), Summary: str(m.Summary),
		})
	}

	d.recommendations = s.Recommendations
	d.narrative = Narrative{
		ExecutiveSummary: firstText(str(audit.ExecutiveSummary), str(s.ExecutiveSummary)),
		DetailedAnalysis: firstText(str(audit.DetailedAnalysis), str(s.DetailedAnalysis)),
		RiskFactors:      firstText(str(audit.RiskFactors), str(s.RiskFactors)),
		Opportunities:    firstText(str(audit.Opportunities), str(s.Opportunities)),
	}

	if p := s.OnlineProfile; p != nil && str(p.Name) != "" {
		d.profile = &Profile{Name: str(p.Name), Address: str(p.Address), Rating: p.Rating}
		if p.ReviewCount != nil {
			n := roundInt(*p.ReviewCount)
			d.profile.ReviewCount = &n
		}
	}
	return d, nil
}

func firstNonNil[T any](lists ...[]T) []T {
	for _, l := range lists {
		if l != nil {
			return l
		}
	}
	return nil
}

// firstText returns the first value that is not blank. The nested audit
// object wins over the flat results keys.
func firstText(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func num(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// =============================================================================
// Permissive Layer
// =============================================================================

// decodePermissive reads each field independently, coercing where it can
// and ignoring what it cannot.
func decodePermissive(raw []byte) draft {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return draft{}
	}
	audit, _ := m["audit"].(map[string]any)

	d := draft{
		businessName: asString(m["business_name"]),
		verified:     [3]string{asString(m["verified_website"]), asString(m["verified_location"]), asString(m["verified_phone"])},
		scanDate:     asString(m["scan_date"]),
	}
	d.score, _ = asFloat(m["reputation_score"])

	if sb, ok := m["sentiment_breakdown"].(map[string]any); ok {
		d.explicit = asCounts(sb)
	}
	for _, key := range []string{"customer_sentiment", "employee_sentiment"} {
		if c, ok := audit[key].(map[string]any); ok {
			if parsed := asCounts(c); parsed != nil {
				d.parties = append(d.parties, *parsed)
			}
		}
	}

	themes, ok := firstList(m, "themes", "top_themes")
	if !ok {
		customer, _ := audit["customer_themes"].([]any)
		employee, _ := audit["employee_themes"].([]any)
		themes = append(append([]any{}, customer...), employee...)
	}
	for _, item := range themes {
		switch t := item.(type) {
		case string:
			d.themes = append(d.themes, Theme{Name: t})
		case map[string]any:
			freq, _ := asFloat(pick(t, "frequency", "count", "mentions"))
			d.themes = append(d.themes, Theme{
				Name:      asString(pick(t, "theme", "name", "label")),
				Sentiment: asString(t["sentiment"]),
				Frequency: roundInt(freq),
			})
		}
	}

	mentions, ok := firstList(m, "mentions", "top_mentions")
	if !ok {
		mentions, _ = audit["mentions"].([]any)
	}
	for _, item := range mentions {
		switch v := item.(type) {
		case string:
			d.mentions = append(d.mentions, Mention{URL: v})
		case map[string]any:
			d.mentions = append(d.mentions, Mention{
				URL:       asString(pick(v, "url", "link")),
				Sentiment: asString(v["sentiment"]),
				Title:     asString(v["title"]),
				Source:    asString(v["source"]),
				Summary:   asString(v["summary"]),
			})
		}
	}

	recs, _ := m["recommendations"].([]any)
	for _, item := range recs {
		switch v := item.(type) {
		case string:
			d.recommendations = append(d.recommendations, v)
		case map[string]any:
			d.recommendations = append(d.recommendations, asString(pick(v, "recommendation", "message", "text")))
		}
	}

	narrative := func(key string) string {
		return firstText(asString(audit[key]), asString(m[key]))
	}
	d.narrative = Narrative{
		ExecutiveSummary: narrative("executive_summary"),
		DetailedAnalysis: narrative("detailed_analysis"),
		RiskFactors:      narrative("risk_factors"),
		Opportunities:    narrative("opportunities"),
	}

	if p, ok := m["online_profile"].(map[string]any); ok {
		if name := asString(p["name"]); name != "" {
			d.profile = &Profile{Name: name, Address: asString(p["address"])}
			if rating, ok := asFloat(p["rating"]); ok {
				d.profile.Rating = &rating
			}
			if count, ok := asFloat(p["review_count"]); ok {
				n := roundInt(count)
				d.profile.ReviewCount = &n
			}
		}
	}
	return d
}

// firstList returns the first key holding an array.
func firstList(m map[string]any, keys ...string) ([]any, bool) {
	for _, k := range keys {
		if l, ok := m[k].([]any); ok {
			return l, true
		}
	}
	return nil, false
}

// pick returns the first non-blank value among keys.
func pick(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil && asString(v) != "" {
			return v
		}
	}
	return nil
}

func asCounts(m map[string]any) *counts {
	pos, okP := asFloat(m["positive"])
	neg, okN := asFloat(m["negative"])
	neu, okU := asFloat(m["neutral"])
	if !okP && !okN && !okU {
		return nil
	}
	return &counts{positive: pos, negative: neg, neutral: neu}
}

// asFloat coerces numbers and numeric strings.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "%")), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// asString returns strings as is and formats numbers. Anything else is "".
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func roundInt(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Round(v))
}
