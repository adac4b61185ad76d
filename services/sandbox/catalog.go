// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/auditflow/pkg/reputation"
)

// DefaultCatalog returns the places the sandbox matches against. "Acme"
// matches two entries and one entry has no place id, so the selection flow
// sees an unselectable candidate.
func DefaultCatalog() []reputation.Candidate {
	rating := func(v float64) *float64 { return &v }
	reviews := func(v int) *int { return &v }
	return []reputation.Candidate{
		{
			PlaceID:     reputation.String("place-acme-main"),
			Name:        reputation.String("Acme Corp"),
			Address:     reputation.String("1 Main St, Springfield"),
			Rating:      rating(4.2),
			ReviewCount: reviews(318),
		},
		{
			PlaceID:     reputation.String("place-acme-north"),
			Name:        reputation.String("Acme Corporation North"),
			Address:     reputation.String("200 North Ave, Springfield"),
			Rating:      rating(3.9),
			ReviewCount: reviews(41),
		},
		{
			Name:    reputation.String("Acme Outlet"),
			Address: reputation.String("Springfield Mall"),
		},
		{
			PlaceID:     reputation.String("place-globex"),
			Name:        reputation.String("Globex"),
			Address:     reputation.String("9 Industrial Way, Cypress Creek"),
			Rating:      rating(4.7),
			ReviewCount: reviews(1204),
		},
	}
}

// MatchCatalog returns the catalog entries whose name contains name,
// ignoring case. An empty name matches nothing.
func MatchCatalog(catalog []reputation.Candidate, name string) []reputation.Candidate {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}
	var out []reputation.Candidate
	for _, c := range catalog {
		if c.Name != nil && strings.Contains(strings.ToLower(*c.Name), needle) {
			out = append(out, c)
		}
	}
	return out
}

// Score returns the deterministic reputation score for a business, in
// [45, 94].
func Score(req reputation.ScanRequest) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(identity(req))))
	return float64(45 + h.Sum32()%50)
}

func identity(req reputation.ScanRequest) string {
	switch {
	case req.PlaceID != "":
		return req.PlaceID
	case req.BusinessName != "":
		return req.BusinessName
	case req.Website != "":
		return req.Website
	default:
		return req.Phone + "|" + req.Location
	}
}

// SuccessBody builds a success response for req in the backend's wire
// shape. The second return is the reputation score.
func SuccessBody(req reputation.ScanRequest, now time.Time) (map[string]any, float64) {
	name := req.BusinessName
	if name == "" {
		name = req.SelectedPlaceName
	}
	if name == "" {
		name = hostName(req.Website)
	}
	score := Score(req)
	positive := int(score * 0.8)
	negative := (100 - positive) / 3
	neutral := 100 - positive - negative
	scanDate := strfmt.DateTime(now).String()

	body := map[string]any{
		"status":        reputation.StatusSuccess,
		"business_name": name,
		"scan_date":     scanDate,
	}
	if req.Website != "" {
		body["verified_website"] = req.Website
	}
	if req.Location != "" {
		body["verified_location"] = req.Location
	}
	if req.Phone != "" {
		body["verified_phone"] = req.Phone
	}

	results := map[string]any{
		"business_name":       name,
		"reputation_score":    score,
		"sentiment_breakdown": map[string]int{"positive": positive, "negative": negative, "neutral": neutral},
		"themes": []map[string]any{
			{"theme": "Customer Service", "sentiment": "positive", "frequency": 31},
			{"theme": "Pricing", "sentiment": "neutral", "frequency": 18},
			{"theme": "Wait Times", "sentiment": "negative", "frequency": 9},
		},
		"mentions": []map[string]any{
			{"url": "https://www.yelp.com/biz/" + slug(name), "sentiment": "positive", "title": name + " on Yelp"},
			{"url": "https://www.trustpilot.com/review/" + slug(name), "sentiment": "neutral"},
			{"url": "https://www.reddit.com/r/local/comments/" + slug(name), "sentiment": "negative", "source": "Reddit"},
		},
		"recommendations": []string{
			"Reply to every review within two business days",
			"Publish current opening hours on all listings",
		},
		"audit": map[string]any{
			"executive_summary": fmt.Sprintf("%s has a reputation score of %.0f/100.", name, score),
			"detailed_analysis": "Customers mention friendly staff most often. Pricing draws mixed comments.",
			"risk_factors":      "Several recent reviews mention long wait times.",
			"opportunities":     "Ask satisfied customers for reviews after each visit.",
		},
	}
	if req.SelectedPlaceName != "" {
		profile := map[string]any{"name": req.SelectedPlaceName, "address": req.SelectedPlaceAddress}
		if req.SelectedPlaceRating != nil {
			profile["rating"] = *req.SelectedPlaceRating
		}
		if req.SelectedPlaceReviewCount != nil {
			profile["review_count"] = *req.SelectedPlaceReviewCount
		}
		results["online_profile"] = profile
	}
	body["results"] = results
	return body, score
}

func slug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

func hostName(website string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(website, "https://"), "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "Unknown business"
	}
	return s
}
