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
	"bytes"
	"encoding/json"
	"math"
	"strings"
)

// draft is the decoded but not yet bounded result. Both decoding layers
// produce one; finish applies every clamp, cap and fallback.
type draft struct {
	businessName string
	verified     [3]string // website, location, phone
	scanDate     string

	score float64

	// explicit is set when the payload carries percentages directly.
	explicit *counts
	// parties holds customer and employee sentiment counts.
	parties []counts

	themes          []Theme
	mentions        []Mention
	recommendations []string
	narrative       Narrative
	profile         *Profile
}

type counts struct {
	positive, negative, neutral float64
}

// Normalize converts a raw scan payload into a Result.
//
// # Description
//
// Accepts either a full success response (with a "results" object) or a flat
// results object. Returns nil when raw is not a JSON object or when it has a
// string "status" other than "success".
//
// # Inputs
//
//   - raw: JSON bytes.
//
// # Outputs
//
//   - *Result: Fully populated result, or nil.
func Normalize(raw []byte) *Result {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return nil
	}

	if status, ok := top["status"]; ok {
		var s string
		if json.Unmarshal(status, &s) == nil && s != "success" {
			return nil
		}
	}

	results := []byte(raw)
	if nested, ok := top["results"]; ok && isObject(nested) {
		results = nested
	}

	d, err := decodeStrict(results)
	if err != nil {
		d = decodePermissive(results)
	}

	// Identity fields live on the envelope in a full response.
	env := readEnvelope(top)
	if env.businessName != "" {
		d.businessName = env.businessName
	}
	for i, v := range env.verified {
		if v != "" {
			d.verified[i] = v
		}
	}
	if env.scanDate != "" {
		d.scanDate = env.scanDate
	}

	return finish(d)
}

// NormalizeValue normalizes an already-decoded payload such as a
// map[string]any or json.RawMessage.
func NormalizeValue(v any) *Result {
	switch raw := v.(type) {
	case nil:
		return nil
	case []byte:
		return Normalize(raw)
	case json.RawMessage:
		return Normalize(raw)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return Normalize(data)
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// readEnvelope reads the identity fields of a full response permissively.
func readEnvelope(top map[string]json.RawMessage) draft {
	str := func(key string) string {
		var v any
		if raw, ok := top[key]; ok && json.Unmarshal(raw, &v) == nil {
			return asString(v)
		}
		return ""
	}
	return draft{
		businessName: str("business_name"),
		verified:     [3]string{str("verified_website"), str("verified_location"), str("verified_phone")},
		scanDate:     str("scan_date"),
	}
}

// -----------------------------------------------------------------------------
// Bounding
// -----------------------------------------------------------------------------

// finish applies the display model's bounds and fallbacks.
func finish(d draft) *Result {
	r := &Result{
		BusinessName:     strings.TrimSpace(d.businessName),
		VerifiedWebsite:  strings.TrimSpace(d.verified[0]),
		VerifiedLocation: strings.TrimSpace(d.verified[1]),
		VerifiedPhone:    strings.TrimSpace(d.verified[2]),
		ScanDate:         strings.TrimSpace(d.scanDate),
		ReputationScore:  clampPercent(d.score),
		Themes:           []Theme{},
		Mentions:         []Mention{},
		Recommendations:  []string{},
		Profile:          d.profile,
	}
	if r.BusinessName == "" {
		r.BusinessName = FallbackBusinessName
	}

	r.Sentiment = sentimentFrom(d)

	for _, t := range d.themes {
		if len(r.Themes) == MaxThemes {
			break
		}
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		freq := t.Frequency
		if freq < 1 {
			freq = 1
		}
		r.Themes = append(r.Themes, Theme{Name: name, Sentiment: sentimentLabel(t.Sentiment), Frequency: freq})
	}

	for _, m := range d.mentions {
		if len(r.Mentions) == MaxMentions {
			break
		}
		url := strings.TrimSpace(m.URL)
		if url == "" {
			continue
		}
		r.Mentions = append(r.Mentions, Mention{
			URL:       url,
			Sentiment: sentimentLabel(m.Sentiment),
			Title:     strings.TrimSpace(m.Title),
			Source:    strings.TrimSpace(m.Source),
			Summary:   strings.TrimSpace(m.Summary),
		})
	}

	for _, rec := range d.recommendations {
		if len(r.Recommendations) == MaxRecommendations {
			break
		}
		if rec = strings.TrimSpace(rec); rec != "" {
			r.Recommendations = append(r.Recommendations, rec)
		}
	}

	r.Narrative = synthesize(r, d.narrative)
	return r
}

func sentimentFrom(d draft) Sentiment {
	if d.explicit != nil {
		return Sentiment{
			Positive: clampPercent(d.explicit.positive),
			Negative: clampPercent(d.explicit.negative),
			Neutral:  clampPercent(d.explicit.neutral),
		}
	}
	var sum counts
	for _, p := range d.parties {
		sum.positive += math.Max(p.positive, 0)
		sum.negative += math.Max(p.negative, 0)
		sum.neutral += math.Max(p.neutral, 0)
	}
	total := sum.positive + sum.negative + sum.neutral
	if total == 0 {
		return Sentiment{}
	}
	return Sentiment{
		Positive: clampPercent(sum.positive / total * 100),
		Negative: clampPercent(sum.negative / total * 100),
		Neutral:  clampPercent(sum.neutral / total * 100),
	}
}

// clampPercent rounds v and clamps it to [0, 100]. NaN becomes 0.
func clampPercent(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Min(math.Max(v, 0), 100)))
}

// sentimentLabel maps free-form sentiment to one of the three labels.
func sentimentLabel(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case Positive:
		return Positive
	case Negative:
		return Negative
	default:
		return Neutral
	}
}
