// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reputation is the wire model and HTTP client for the reputation
// audit backend.
//
// # Outcomes
//
// A scan request resolves to exactly one of three outcomes, modelled as the
// sealed Outcome interface:
//
//	switch o := outcome.(type) {
//	case *reputation.Success:           // terminal, carries the raw results
//	case *reputation.SelectionRequired: // user must pick a candidate or opt out
//	case *reputation.Queued:            // backend continues asynchronously
//	}
//
// Errors follow a four-way taxonomy (ValidationError, NetworkError,
// ProtocolError, APIError); see errors.go.
package reputation

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
)

// =============================================================================
// Scan Request
// =============================================================================

// ScanRequest is the parameter set of one audit attempt.
//
// Optional string fields are omitted from the wire when empty. AuditID is set
// once the backend has created a persistent record; PlaceID once a candidate
// has been chosen. The SelectedPlace* fields are denormalized copies of the
// chosen candidate, carried for the backend's audit trail.
type ScanRequest struct {
	UserID      *int64 `json:"user_id,omitempty" validate:"omitempty,gt=0"`
	LookupEmail string `json:"lookup_email,omitempty" validate:"omitempty,email"`
	AuditID     *int64 `json:"audit_id,omitempty" validate:"omitempty,gt=0"`

	Website      string `json:"website,omitempty" validate:"omitempty,max=2048"`
	BusinessName string `json:"business_name,omitempty" validate:"omitempty,min=2,max=100"`
	Phone        string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Location     string `json:"location,omitempty" validate:"omitempty,min=3,max=100"`
	Industry     string `json:"industry,omitempty" validate:"omitempty,max=50"`
	Country      string `json:"country,omitempty" validate:"omitempty,max=64"`

	PlaceID    string `json:"place_id,omitempty"`
	SkipPlaces bool   `json:"skip_places"`

	SelectedPlaceName        string   `json:"selected_place_name,omitempty"`
	SelectedPlaceAddress     string   `json:"selected_place_address,omitempty"`
	SelectedPlaceRating      *float64 `json:"selected_place_rating,omitempty"`
	SelectedPlaceReviewCount *int     `json:"selected_place_review_count,omitempty"`
}

// Clone returns a deep copy. Pointer fields are re-allocated so amending the
// copy never leaks into a request that is still held elsewhere (for example
// the one kept for Retry).
func (r ScanRequest) Clone() ScanRequest {
	out := r
	out.UserID = cloneInt64(r.UserID)
	out.AuditID = cloneInt64(r.AuditID)
	if r.SelectedPlaceRating != nil {
		v := *r.SelectedPlaceRating
		out.SelectedPlaceRating = &v
	}
	if r.SelectedPlaceReviewCount != nil {
		v := *r.SelectedPlaceReviewCount
		out.SelectedPlaceReviewCount = &v
	}
	return out
}

// HasIdentity reports whether the request carries enough business information
// to be submitted: a website, a business name, or a phone with a location.
// Whitespace-only values count as absent.
func (r ScanRequest) HasIdentity() bool {
	return filled(r.Website) || filled(r.BusinessName) || (filled(r.Phone) && filled(r.Location))
}

func filled(s string) bool { return strings.TrimSpace(s) != "" }

// WithCandidate returns a copy amended to resolve the disambiguation with c.
func (r ScanRequest) WithCandidate(c Candidate) ScanRequest {
	out := r.Clone()
	out.PlaceID = c.ID()
	out.SkipPlaces = false
	out.SelectedPlaceName = deref(c.Name)
	out.SelectedPlaceAddress = deref(c.Address)
	out.SelectedPlaceRating = nil
	out.SelectedPlaceReviewCount = nil
	if c.Rating != nil {
		v := *c.Rating
		out.SelectedPlaceRating = &v
	}
	if c.ReviewCount != nil {
		v := *c.ReviewCount
		out.SelectedPlaceReviewCount = &v
	}
	return out
}

// WithoutMatching returns a copy that tells the backend to skip place matching.
func (r ScanRequest) WithoutMatching() ScanRequest {
	out := r.Clone()
	out.PlaceID = ""
	out.SkipPlaces = true
	out.SelectedPlaceName = ""
	out.SelectedPlaceAddress = ""
	out.SelectedPlaceRating = nil
	out.SelectedPlaceReviewCount = nil
	return out
}

// =============================================================================
// Candidate
// =============================================================================

// Candidate is one possible business-profile match. Every field is nullable
// because upstream match data may be partial. A candidate without a place id
// cannot be selected.
type Candidate struct {
	PlaceID     *string  `json:"place_id"`
	Name        *string  `json:"name"`
	Address     *string  `json:"address"`
	Rating      *float64 `json:"rating"`
	ReviewCount *int     `json:"review_count"`
}

// ID returns the place id, or "" when the candidate has none.
func (c Candidate) ID() string { return deref(c.PlaceID) }

// Selectable reports whether the candidate has a canonical place id.
func (c Candidate) Selectable() bool { return c.ID() != "" }

// DisplayName returns the name or a placeholder.
func (c Candidate) DisplayName() string {
	if n := deref(c.Name); n != "" {
		return n
	}
	return "Unnamed business"
}

// DisplayAddress returns the address or a placeholder.
func (c Candidate) DisplayAddress() string {
	if a := deref(c.Address); a != "" {
		return a
	}
	return "No address available"
}

// FindCandidate returns the candidate with the given place id.
func FindCandidate(candidates []Candidate, placeID string) (Candidate, bool) {
	if placeID == "" {
		return Candidate{}, false
	}
	for _, c := range candidates {
		if c.ID() == placeID {
			return c, true
		}
	}
	return Candidate{}, false
}

// =============================================================================
// Outcomes
// =============================================================================

// Outcome is the classified result of a scan submission. The only
// implementations are *Success, *SelectionRequired and *Queued.
type Outcome interface {
	// Status returns the wire discriminator of the outcome.
	Status() string
	sealed()
}

// Wire discriminators used by the backend.
const (
	StatusSuccess           = "success"
	StatusSelectionRequired = "selection_required"
	StatusQueued            = "queued"
	StatusError             = "error"
)

// Success is the terminal outcome carrying the full scan result.
type Success struct {
	BusinessName     string          `json:"business_name"`
	VerifiedWebsite  *string         `json:"verified_website,omitempty"`
	VerifiedLocation *string         `json:"verified_location,omitempty"`
	VerifiedPhone    *string         `json:"verified_phone,omitempty"`
	ScanDate         *string         `json:"scan_date,omitempty"`
	Results          json.RawMessage `json:"results"`

	// Raw is the complete response body, kept verbatim for the results view.
	Raw json.RawMessage `json:"-"`
}

// SelectionRequired asks the user to pick a candidate or opt out of matching.
type SelectionRequired struct {
	Message    string      `json:"message"`
	Candidates []Candidate `json:"candidates"`
	Total      int         `json:"total"`
	AuditID    *int64      `json:"audit_id,omitempty"`
}

// Queued means the backend accepted the audit for asynchronous processing.
// Completion is observed by polling the history endpoint.
type Queued struct {
	AuditID int64       `json:"audit_id"`
	Message string      `json:"message"`
	Summary AuditRecord `json:"audit"`
}

func (*Success) Status() string           { return StatusSuccess }
func (*SelectionRequired) Status() string { return StatusSelectionRequired }
func (*Queued) Status() string            { return StatusQueued }

func (*Success) sealed()           {}
func (*SelectionRequired) sealed() {}
func (*Queued) sealed()            {}

// =============================================================================
// Audit History
// =============================================================================

// AuditRecord is a server-tracked audit as listed by the history endpoint.
// The client never mutates it; it only polls and re-renders.
type AuditRecord struct {
	ID              int64         `json:"id"`
	Status          HistoryStatus `json:"status"`
	BusinessName    *string       `json:"business_name"`
	Website         *string       `json:"website"`
	Location        *string       `json:"location"`
	Industry        *string       `json:"industry"`
	ReputationScore *float64      `json:"reputation_score"`
	ScanDate        *string       `json:"scan_date"`
	CreatedAt       *string       `json:"created_at"`
	ErrorCode       *string       `json:"error_code"`
	ErrorMessage    *string       `json:"error_message"`
}

// ClientStatus maps the backend status into client vocabulary.
func (r AuditRecord) ClientStatus() ClientStatus { return MapStatus(r.Status) }

// CreatedTime parses CreatedAt. The second return is false when the field is
// missing or not a recognizable timestamp.
func (r AuditRecord) CreatedTime() (time.Time, bool) { return parseTimestamp(r.CreatedAt) }

// ScanTime parses ScanDate.
func (r AuditRecord) ScanTime() (time.Time, bool) { return parseTimestamp(r.ScanDate) }

// AuditDetail is a single audit with the payloads needed to resume or reopen it.
type AuditDetail struct {
	AuditRecord
	RequestPayload  *ScanRequest    `json:"request_payload"`
	ResponsePayload json.RawMessage `json:"response_payload"`
	ScanResponse    json.RawMessage `json:"scan_response"`
}

// HasScanResponse reports whether a completed scan result is attached.
func (d AuditDetail) HasScanResponse() bool { return present(d.ScanResponse) }

// HistoryPage is one page of the history listing.
type HistoryPage struct {
	Total  int           `json:"total"`
	Audits []AuditRecord `json:"audits"`
}

// HistoryQuery identifies whose audits to list.
type HistoryQuery struct {
	UserID      int64
	LookupEmail string
	Limit       int
}

// =============================================================================
// Helpers
// =============================================================================

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// present reports whether raw holds a JSON value other than null.
func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// parseTimestamp accepts RFC 3339 variants via strfmt and the plain
// "2006-01-02 15:04:05" layout some backends emit.
func parseTimestamp(p *string) (time.Time, bool) {
	if p == nil || *p == "" {
		return time.Time{}, false
	}
	if dt, err := strfmt.ParseDateTime(*p); err == nil {
		return time.Time(dt), true
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, *p); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
