// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history keeps a list of audits in sync with the backend and
// reopens individual audits into the submission flow or the results view.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/auditflow/pkg/observability"
	"github.com/AleutianAI/auditflow/pkg/reputation"
)

// =============================================================================
// Poller
// =============================================================================

const (
	// DefaultInterval is the time between silent refreshes.
	DefaultInterval = 10 * time.Second

	// DefaultRefreshPerMinute bounds manual refreshes.
	DefaultRefreshPerMinute = 12
)

var (
	// ErrAlreadyRunning is returned by Start on a running poller.
	ErrAlreadyRunning = errors.New("history poller is already running")

	// ErrNotRunning is returned by Refresh before Start or after Stop.
	ErrNotRunning = errors.New("history poller is not running")

	// ErrRefreshThrottled is returned by Refresh when manual refreshes
	// exceed the configured rate.
	ErrRefreshThrottled = errors.New("history refresh throttled, try again shortly")
)

// Update is one successful fetch.
type Update struct {
	Records   []reputation.AuditRecord
	Total     int
	FetchedAt time.Time

	// Silent is true for interval refreshes, which do not toggle the
	// loading indicator.
	Silent bool
}

// Config holds poller settings.
//
// # Fields
//
//   - Interval: Time between silent refreshes. Default: 10s.
//   - RefreshPerMinute: Manual refresh budget. Default: 12.
//   - OnLoading: Called with true before and false after each loud fetch.
//   - OnError: Called for every failed fetch. The loop keeps running.
//   - Logger, Metrics: Optional.
type Config struct {
	Interval         time.Duration
	RefreshPerMinute int
	OnLoading        func(loading bool)
	OnError          func(err error)
	Logger           *slog.Logger
	Metrics          *observability.Metrics
}

// DefaultConfig returns the default poller settings.
func DefaultConfig() Config {
	return Config{
		Interval:         DefaultInterval,
		RefreshPerMinute: DefaultRefreshPerMinute,
	}
}

// Poller refreshes an audit list on a fixed interval.
//
// # Description
//
// Start issues one loud fetch and then a silent fetch on every tick. A tick
// that fires while the previous fetch is still in flight is skipped, so at
// most one interval fetch is outstanding. Manual refreshes and interval
// fetches for the same query share one request.
//
// Stop voids every result that lands afterwards: no callback runs for a
// fetch that started under an earlier Start.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Callbacks run on the poller's
// goroutines and may call Stop or Refresh.
type Poller struct {
	source  reputation.HistorySource
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics
	limiter *rate.Limiter
	group   singleflight.Group

	inFlight atomic.Bool

	mu       sync.Mutex
	running  bool
	gen      uint64
	cancel   context.CancelFunc
	query    reputation.HistoryQuery
	onUpdate func(Update)
}

// NewPoller creates a stopped poller.
//
// # Inputs
//
//   - source: Backend history listing. Usually a *reputation.Client.
//   - config: Zero fields take their defaults.
func NewPoller(source reputation.HistorySource, config Config) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.RefreshPerMinute <= 0 {
		config.RefreshPerMinute = DefaultRefreshPerMinute
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:  source,
		config:  config,
		logger:  logger.With("component", "history_poller"),
		metrics: config.Metrics,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RefreshPerMinute)), 1),
	}
}

// Start begins polling q and delivers each successful fetch to onUpdate.
//
// # Description
//
// Runs a goroutine that fetches immediately (loud) and then on every
// Interval tick (silent). Polling continues until Stop is called or ctx is
// cancelled; after a cancel the poller can be started again.
//
// # Outputs
//
//   - error: ErrAlreadyRunning if the poller is running.
func (p *Poller) Start(ctx context.Context, q reputation.HistoryQuery, onUpdate func(Update)) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.gen++
	p.cancel = cancel
	p.query = q
	p.onUpdate = onUpdate
	gen := p.gen
	p.mu.Unlock()

	p.logger.Info("history poller starting",
		"interval", p.config.Interval.String(),
		"user_id", q.UserID,
	)
	go p.runLoop(runCtx, gen, q)
	return nil
}

// Stop cancels polling and voids in-flight fetches. Safe to call multiple
// times, including from a callback.
//
// Stop does not wait for a callback that is already being delivered: a fetch
// that passed its generation check just before Stop may still invoke
// onUpdate or OnError once, possibly after Stop returns. Callers that must
// not render after stopping guard their callback themselves.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.logger.Info("history poller stopping")
	p.running = false
	p.gen++
	p.cancel()
	p.onUpdate = nil
}

// retire marks the run for gen as finished once its context is done. A
// newer Start is left untouched.
func (p *Poller) retire(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.gen != gen {
		return
	}
	p.running = false
	p.gen++
	p.cancel()
	p.onUpdate = nil
}

// Running reports whether the poller has been started and is still polling.
// A poller whose parent context ended is not running.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Refresh performs a loud fetch now.
//
// # Description
//
// Concurrent refreshes share a single request. Refreshes beyond the
// configured per-minute budget fail with ErrRefreshThrottled without
// touching the network.
//
// # Outputs
//
//   - error: ErrNotRunning, ErrRefreshThrottled, or the fetch error. A
//     fetch error is also delivered to OnError.
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	gen, q := p.gen, p.query
	p.mu.Unlock()

	if !p.limiter.Allow() {
		p.metrics.ObservePoll("throttled")
		return ErrRefreshThrottled
	}
	return p.fetch(ctx, gen, q, false)
}

// =============================================================================
// Internal Methods
// =============================================================================

// runLoop is the polling goroutine.
func (p *Poller) runLoop(ctx context.Context, gen uint64, q reputation.HistoryQuery) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.inFlight.Store(true)
	_ = p.fetch(ctx, gen, q, false)
	p.inFlight.Store(false)

	for {
		select {
		case <-ctx.Done():
			p.retire(gen)
			p.logger.Debug("history poller loop exited")
			return
		case <-ticker.C:
			p.tick(ctx, gen, q)
		}
	}
}

// tick starts a silent fetch unless one is still in flight.
func (p *Poller) tick(ctx context.Context, gen uint64, q reputation.HistoryQuery) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.metrics.ObservePoll("skipped")
		p.logger.Debug("history poll skipped, previous fetch still in flight")
		return
	}
	go func() {
		defer p.inFlight.Store(false)
		_ = p.fetch(ctx, gen, q, true)
	}()
}

// fetch loads one page and delivers it if gen is still current.
func (p *Poller) fetch(ctx context.Context, gen uint64, q reputation.HistoryQuery, silent bool) error {
	if !silent {
		p.setLoading(gen, true)
		defer p.setLoading(gen, false)
	}

	page, err := p.load(ctx, q)

	onUpdate, current := p.subscriber(gen)
	if !current {
		p.metrics.ObservePoll("void")
		return ErrNotRunning
	}
	if err != nil {
		p.metrics.ObservePoll("error")
		p.logger.Warn("history fetch failed", "silent", silent, "error", err)
		if p.config.OnError != nil {
			p.config.OnError(err)
		}
		return err
	}

	p.metrics.ObservePoll("ok")
	if onUpdate != nil {
		onUpdate(Update{
			Records:   page.Audits,
			Total:     page.Total,
			FetchedAt: time.Now(),
			Silent:    silent,
		})
	}
	return nil
}

// load lists audits, sharing the request with concurrent loads of q.
func (p *Poller) load(ctx context.Context, q reputation.HistoryQuery) (reputation.HistoryPage, error) {
	key := fmt.Sprintf("%d|%s|%d", q.UserID, q.LookupEmail, q.Limit)
	v, err, shared := p.group.Do(key, func() (interface{}, error) {
		return p.source.ListAudits(ctx, q)
	})
	if shared {
		p.logger.Debug("history fetch shared", "key", key)
	}
	if err != nil {
		return reputation.HistoryPage{}, err
	}
	return v.(reputation.HistoryPage), nil
}

// subscriber returns the update callback if gen is still current.
func (p *Poller) subscriber(gen uint64) (func(Update), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.gen != gen {
		return nil, false
	}
	return p.onUpdate, true
}

func (p *Poller) setLoading(gen uint64, loading bool) {
	if p.config.OnLoading == nil {
		return
	}
	if _, current := p.subscriber(gen); !current {
		return
	}
	p.config.OnLoading(loading)
}
