// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reputation

// HistoryStatus is the backend's lifecycle vocabulary for an audit.
type HistoryStatus string

const (
	HistoryPending           HistoryStatus = "pending"
	HistoryProcessing        HistoryStatus = "processing"
	HistorySuccess           HistoryStatus = "success"
	HistoryError             HistoryStatus = "error"
	HistorySelectionRequired HistoryStatus = "selection_required"
)

// ClientStatus is the client-visible status shown in history views.
type ClientStatus string

const (
	ClientQueued         ClientStatus = "queued"
	ClientProcessing     ClientStatus = "processing"
	ClientComplete       ClientStatus = "complete"
	ClientNeedsSelection ClientStatus = "needs_selection"
	ClientFailed         ClientStatus = "failed"
)

// AllClientStatuses lists the client statuses in display order.
var AllClientStatuses = []ClientStatus{
	ClientQueued,
	ClientProcessing,
	ClientComplete,
	ClientNeedsSelection,
	ClientFailed,
}

// MapStatus maps a backend status to the client vocabulary. It is total:
// anything unrecognized maps to ClientFailed.
func MapStatus(s HistoryStatus) ClientStatus {
	switch s {
	case HistoryPending:
		return ClientQueued
	case HistoryProcessing:
		return ClientProcessing
	case HistorySuccess:
		return ClientComplete
	case HistorySelectionRequired:
		return ClientNeedsSelection
	default:
		return ClientFailed
	}
}

// Label returns the human-readable label for the status.
func (s ClientStatus) Label() string {
	switch s {
	case ClientQueued:
		return "Submitted"
	case ClientProcessing:
		return "Processing"
	case ClientComplete:
		return "Complete"
	case ClientNeedsSelection:
		return "Needs Selection"
	default:
		return "Failed"
	}
}

// ParseClientStatus parses a filter value. "" and "all" return ok=true with
// an empty status, meaning no filter.
func ParseClientStatus(v string) (ClientStatus, bool) {
	if v == "" || v == "all" {
		return "", true
	}
	for _, s := range AllClientStatuses {
		if string(s) == v {
			return s, true
		}
	}
	return "", false
}
