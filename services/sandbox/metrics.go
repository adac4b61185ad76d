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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the sandbox collectors. A nil *Metrics records nothing.
//
// # Fields
//
//   - ScansTotal: scan requests by outcome (success, selection_required,
//     queued, error, validation)
//   - CompletionsTotal: queued audits that reached success
//   - HistoryRequestsTotal: history reads by endpoint (list, item)
type Metrics struct {
	ScansTotal           *prometheus.CounterVec
	CompletionsTotal     prometheus.Counter
	HistoryRequestsTotal *prometheus.CounterVec
}

// NewMetrics registers the sandbox collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auditflow",
				Subsystem: "sandbox",
				Name:      "scans_total",
				Help:      "Scan requests handled by the sandbox, by outcome",
			},
			[]string{"outcome"},
		),
		CompletionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "auditflow",
				Subsystem: "sandbox",
				Name:      "queued_completions_total",
				Help:      "Queued audits that finished processing",
			},
		),
		HistoryRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auditflow",
				Subsystem: "sandbox",
				Name:      "history_requests_total",
				Help:      "History reads by endpoint",
			},
			[]string{"endpoint"},
		),
	}
}

func (m *Metrics) observeScan(outcome string) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeCompletion() {
	if m == nil {
		return
	}
	m.CompletionsTotal.Inc()
}

func (m *Metrics) observeHistory(endpoint string) {
	if m == nil {
		return
	}
	m.HistoryRequestsTotal.WithLabelValues(endpoint).Inc()
}
