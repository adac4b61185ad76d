// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"strings"

	"github.com/AleutianAI/auditflow/pkg/reputation"
)

// Filter returns the records matching status and term, in input order.
//
// An empty status matches every record. term is matched case-insensitively
// as a substring of the business name or the website; a blank term matches
// everything.
func Filter(records []reputation.AuditRecord, status reputation.ClientStatus, term string) []reputation.AuditRecord {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]reputation.AuditRecord, 0, len(records))
	for _, r := range records {
		if status != "" && r.ClientStatus() != status {
			continue
		}
		if term != "" && !matches(r.BusinessName, term) && !matches(r.Website, term) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Counts tallies records per client status.
func Counts(records []reputation.AuditRecord) map[reputation.ClientStatus]int {
	counts := make(map[reputation.ClientStatus]int, len(reputation.AllClientStatuses))
	for _, r := range records {
		counts[r.ClientStatus()]++
	}
	return counts
}

func matches(field *string, term string) bool {
	return field != nil && strings.Contains(strings.ToLower(*field), term)
}
