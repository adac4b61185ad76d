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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		in    HistoryStatus
		want  ClientStatus
		label string
	}{
		{HistoryPending, ClientQueued, "Submitted"},
		{HistoryProcessing, ClientProcessing, "Processing"},
		{HistorySuccess, ClientComplete, "Complete"},
		{HistorySelectionRequired, ClientNeedsSelection, "Needs Selection"},
		{HistoryError, ClientFailed, "Failed"},
		{HistoryStatus("exploded"), ClientFailed, "Failed"},
		{HistoryStatus(""), ClientFailed, "Failed"},
	}
	for _, tt := range tests {
		got := MapStatus(tt.in)
		assert.Equal(t, tt.want, got, "status %q", tt.in)
		assert.Equal(t, tt.label, got.Label())
	}
}

func TestParseClientStatus(t *testing.T) {
	s, ok := ParseClientStatus("all")
	assert.True(t, ok)
	assert.Empty(t, s)

	s, ok = ParseClientStatus("needs_selection")
	assert.True(t, ok)
	assert.Equal(t, ClientNeedsSelection, s)

	_, ok = ParseClientStatus("running")
	assert.False(t, ok)
}

func TestAuditRecord_CreatedTime(t *testing.T) {
	r := AuditRecord{CreatedAt: String("2025-03-04T05:06:07Z")}
	got, ok := r.CreatedTime()
	assert.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC), got.UTC())

	r = AuditRecord{CreatedAt: String("2025-03-04 05:06:07")}
	_, ok = r.CreatedTime()
	assert.True(t, ok)

	r = AuditRecord{CreatedAt: String("yesterday")}
	_, ok = r.CreatedTime()
	assert.False(t, ok)

	_, ok = AuditRecord{}.ScanTime()
	assert.False(t, ok)
}
