// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"sync"
	"time"
)

// LogExporter receives log records for an external destination.
//
// # Description
//
// Export is called synchronously from the logging call, so implementations
// that talk to a network should buffer and ship in batches. Flush and Close
// are called once, in that order, by Logger.Close.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is one exported record.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string

	// Attrs holds the record's attributes, including those attached with
	// With. Group members are keyed "group.key".
	Attrs map[string]any
}

// BufferedExporter keeps entries in memory. Tests use it to assert on log
// output:
//
//	exp := logging.NewBufferedExporter()
//	logger, _ := logging.New(logging.Config{Quiet: true, Exporter: exp})
//	logger.Info("audit flow transition", "to", "queued")
//	entries := exp.Entries()
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter creates an empty BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{entries: make([]LogEntry, 0, 32)}
}

// Export appends entry.
func (e *BufferedExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(context.Context) error { return nil }

func (e *BufferedExporter) Close() error { return nil }

// Entries returns a copy of the collected entries.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LogEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Messages returns the message of every collected entry, in order.
func (e *BufferedExporter) Messages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.entries))
	for i, entry := range e.entries {
		out[i] = entry.Message
	}
	return out
}

var _ LogExporter = (*BufferedExporter)(nil)
