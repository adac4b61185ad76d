// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing setup for the audit
// client.
//
// # Description
//
// Prometheus metrics cover the four moving parts of the submission protocol:
//   - Backend calls (by operation and result)
//   - State machine transitions
//   - History poll ticks (ok, error, skipped, void)
//   - Session store reads and writes
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is safe on a nil *Metrics, so library callers that do not
// care about metrics can pass nil.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "auditflow"

// Poll tick results.
const (
	PollOK      = "ok"
	PollError   = "error"
	PollSkipped = "skipped"
	PollVoid    = "void"
)

// Metrics holds the Prometheus collectors used across the audit client.
//
// # Fields
//
//   - ClientRequestsTotal: backend calls by op (scan, history, history_item)
//     and result (success, selection_required, queued, ok, validation,
//     network, protocol, api)
//   - ClientRequestSeconds: backend call latency by op
//   - TransitionsTotal: state machine transitions by from/to state
//   - PollTicksTotal: poller ticks by result
//   - StoreOpsTotal: session store operations by slot, op and result
//   - ResultsTotal: results handed to the results view, by source
//     (normalized, placeholder)
type Metrics struct {
	ClientRequestsTotal  *prometheus.CounterVec
	ClientRequestSeconds *prometheus.HistogramVec
	TransitionsTotal     *prometheus.CounterVec
	PollTicksTotal       *prometheus.CounterVec
	StoreOpsTotal        *prometheus.CounterVec
	ResultsTotal         *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors with reg.
//
// # Description
//
// Pass prometheus.DefaultRegisterer in binaries and a fresh
// prometheus.NewRegistry() in tests; registering twice on the same registry
// panics.
//
// # Outputs
//
//   - *Metrics: The initialized metrics instance.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ClientRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "client",
				Name:      "requests_total",
				Help:      "Backend requests by operation and result",
			},
			[]string{"op", "result"},
		),
		ClientRequestSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "client",
				Name:      "request_duration_seconds",
				Help:      "Backend request latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"op"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "flow",
				Name:      "transitions_total",
				Help:      "Audit submission state machine transitions",
			},
			[]string{"from", "to"},
		),
		PollTicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "history",
				Name:      "poll_ticks_total",
				Help:      "History poll ticks by result",
			},
			[]string{"result"},
		),
		StoreOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "session",
				Name:      "store_ops_total",
				Help:      "Session store operations by slot, op and result",
			},
			[]string{"slot", "op", "result"},
		),
		ResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "results",
				Name:      "rendered_total",
				Help:      "Results handed to the results view by source",
			},
			[]string{"source"},
		),
	}
}

// ObserveRequest records one backend call.
func (m *Metrics) ObserveRequest(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ClientRequestsTotal.WithLabelValues(op, result).Inc()
	m.ClientRequestSeconds.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveTransition records a state machine transition.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObservePoll records a poll tick.
func (m *Metrics) ObservePoll(result string) {
	if m == nil {
		return
	}
	m.PollTicksTotal.WithLabelValues(result).Inc()
}

// ObserveStore records a session store operation.
func (m *Metrics) ObserveStore(slot, op, result string) {
	if m == nil {
		return
	}
	m.StoreOpsTotal.WithLabelValues(slot, op, result).Inc()
}

// ObserveResult records where a rendered result came from.
func (m *Metrics) ObserveResult(source string) {
	if m == nil {
		return
	}
	m.ResultsTotal.WithLabelValues(source).Inc()
}
