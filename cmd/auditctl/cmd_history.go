// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/auditflow/pkg/history"
	"github.com/AleutianAI/auditflow/pkg/reputation"
	"github.com/AleutianAI/auditflow/pkg/ux"
)

// historyOptions are the history command's flags.
type historyOptions struct {
	Status string
	Search string
	Limit  int

	// Watch keeps polling until the context ends.
	Watch bool

	// UntilSettled stops watching once no listed audit is queued or
	// processing.
	UntilSettled bool

	// RefreshInput triggers a manual refresh for every line read. Nil
	// disables manual refresh.
	RefreshInput io.Reader
}

// runHistory lists the owner's audits, showing the queue notice first if
// one is pending.
func (a *app) runHistory(ctx context.Context, opts historyOptions) error {
	status, ok := reputation.ParseClientStatus(strings.ToLower(strings.TrimSpace(opts.Status)))
	if !ok {
		a.printer.Error(fmt.Sprintf("Unknown status %q. Use all, %s.", opts.Status, statusNames()))
		return &CommandError{Command: "history", ExitCode: exitUsage, Wrapped: fmt.Errorf("unknown status %q", opts.Status)}
	}
	if err := a.requireOwner("history"); err != nil {
		return err
	}

	a.showQueueNotice(ctx)
	q := a.cfg.HistoryQuery(opts.Limit)
	if opts.Watch {
		return a.watchHistory(ctx, q, status, opts)
	}

	spin := a.printer.NewSpinner("Loading audit history...")
	spin.Start()
	page, err := a.client.ListAudits(ctx, q)
	spin.Stop()
	if err != nil {
		return a.failed("history", err)
	}
	a.renderHistory(page.Audits, page.Total, status, opts.Search)
	return nil
}

// watchHistory renders every poller update until ctx ends, or until the
// list settles when requested.
func (a *app) watchHistory(ctx context.Context, q reputation.HistoryQuery, status reputation.ClientStatus, opts historyOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The Printer is not synchronized and callbacks run on poller
	// goroutines. done stops output once watching has ended.
	var (
		mu   sync.Mutex
		done bool
	)
	poller := history.NewPoller(a.client, history.Config{
		Interval:         a.cfg.Poll.Interval,
		RefreshPerMinute: a.cfg.Poll.RefreshPerMinute,
		OnError: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			if done || ctx.Err() != nil {
				return
			}
			a.printer.Warning(reputation.UserMessage(err))
		},
		Logger:  a.logger.Slog(),
		Metrics: a.metrics,
	})

	err := poller.Start(ctx, q, func(u history.Update) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		if a.printer.Mode() == ux.ModePlain {
			a.printer.Info("updated: " + u.FetchedAt.Format(time.RFC3339))
		} else {
			a.printer.Muted("Updated " + u.FetchedAt.Format(time.Kitchen))
		}
		a.renderHistory(u.Records, u.Total, status, opts.Search)
		if opts.UntilSettled && settled(u.Records) {
			done = true
			cancel()
		}
	})
	if err != nil {
		return a.failed("history", err)
	}

	if opts.RefreshInput != nil {
		go a.readRefreshes(ctx, poller, opts.RefreshInput, &mu)
	}

	<-ctx.Done()
	poller.Stop()
	mu.Lock()
	done = true
	mu.Unlock()
	return nil
}

// readRefreshes asks the poller for a loud fetch on every input line.
func (a *app) readRefreshes(ctx context.Context, poller *history.Poller, in io.Reader, mu *sync.Mutex) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := poller.Refresh(ctx); errors.Is(err, history.ErrRefreshThrottled) {
			mu.Lock()
			if ctx.Err() == nil {
				a.printer.Warning(err.Error())
			}
			mu.Unlock()
		}
	}
}

// renderHistory filters records client-side and prints them with a status
// summary.
func (a *app) renderHistory(records []reputation.AuditRecord, total int, status reputation.ClientStatus, term string) {
	filtered := history.Filter(records, status, term)
	if len(records) > 0 && len(filtered) == 0 {
		a.printer.Info("No audits match the current filter.")
	} else {
		a.printer.RenderHistory(filtered, total)
	}
	if len(records) == 0 {
		return
	}

	counts := history.Counts(records)
	parts := make([]string, 0, len(reputation.AllClientStatuses))
	for _, s := range reputation.AllClientStatuses {
		if a.printer.Mode() == ux.ModePlain {
			parts = append(parts, fmt.Sprintf("%s=%d", s, counts[s]))
		} else {
			parts = append(parts, fmt.Sprintf("%s %d", s.Label(), counts[s]))
		}
	}
	if a.printer.Mode() == ux.ModePlain {
		a.printer.Info("counts: " + strings.Join(parts, " "))
		return
	}
	a.printer.Muted(strings.Join(parts, "  ·  "))
}

// showQueueNotice prints the one-time queued banner, if any.
func (a *app) showQueueNotice(ctx context.Context) {
	notice, err := a.store.LoadAndClearQueueNotice(ctx)
	if err != nil {
		a.logger.Warn("failed to read queue notice", "error", err)
		return
	}
	if notice != nil {
		a.printer.RenderQueueNotice(notice.Message, notice.AuditID)
	}
}

// runHistoryResolve restores a needs-selection audit and continues it as
// `auditctl resume` would.
func (a *app) runHistoryResolve(ctx context.Context, auditID int64, preset *Choice) error {
	if err := a.requireOwner("history resolve"); err != nil {
		return err
	}
	if _, err := a.newReopener().ResolveSelection(ctx, auditID, a.cfg.HistoryQuery(0)); err != nil {
		return a.failed("history resolve", err)
	}
	return a.runResume(ctx, preset)
}

// runHistoryOpen shows the stored result of a completed audit.
func (a *app) runHistoryOpen(ctx context.Context, auditID int64) error {
	if err := a.requireOwner("history open"); err != nil {
		return err
	}
	if _, err := a.newReopener().OpenResult(ctx, auditID, a.cfg.HistoryQuery(0)); err != nil {
		return a.failed("history open", err)
	}
	return a.runResults(ctx)
}

// settled reports whether no record is still queued or processing.
func settled(records []reputation.AuditRecord) bool {
	for _, r := range records {
		switch r.ClientStatus() {
		case reputation.ClientQueued, reputation.ClientProcessing:
			return false
		}
	}
	return true
}

func statusNames() string {
	names := make([]string, len(reputation.AllClientStatuses))
	for i, s := range reputation.AllClientStatuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
