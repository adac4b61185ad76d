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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/auditflow/cmd/auditctl/config"
	"github.com/AleutianAI/auditflow/pkg/auditflow"
	"github.com/AleutianAI/auditflow/pkg/history"
	"github.com/AleutianAI/auditflow/pkg/logging"
	"github.com/AleutianAI/auditflow/pkg/observability"
	"github.com/AleutianAI/auditflow/pkg/reputation"
	"github.com/AleutianAI/auditflow/pkg/sessionstore"
	"github.com/AleutianAI/auditflow/pkg/ux"
)

// serviceName tags logs and spans from the CLI.
const serviceName = "auditctl"

// appEnv is the process-level wiring that does not come from the config
// file.
type appEnv struct {
	Out    io.Writer
	ErrOut io.Writer
	Mode   ux.Mode

	// Chooser answers interactive prompts. Nil means batch mode: pending
	// selections are printed and left for `auditctl resume`.
	Chooser Chooser

	// Trace, when set, receives spans as JSON lines.
	Trace io.Writer

	// MetricsOut, when set, is written in the Prometheus text format on
	// close.
	MetricsOut string
}

// app holds everything a command needs. One app serves one invocation.
type app struct {
	cfg        config.AuditflowConfig
	printer    *ux.Printer
	logger     *logging.Logger
	client     *reputation.Client
	store      *sessionstore.Store
	registry   *prometheus.Registry
	metrics    *observability.Metrics
	chooser    Chooser
	metricsOut string
	shutdown   observability.ShutdownFunc
}

// newApp builds the client, session store and output for one command.
//
// # Description
//
// The session store is opened on cfg.Session.Dir so separate invocations
// share the selection context, queue notice and last result. An empty
// directory keeps the session in memory.
//
// # Outputs
//
//   - *app: Must be closed.
//   - error: Logger, tracing or session store setup failed.
func newApp(cfg config.AuditflowConfig, env appEnv) (*app, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: serviceName,
		JSON:    cfg.Log.JSON,
		Console: env.ErrOut,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	a := &app{
		cfg:        cfg,
		printer:    ux.NewPrinter(env.Out, env.ErrOut, env.Mode),
		logger:     logger,
		registry:   prometheus.NewRegistry(),
		chooser:    env.Chooser,
		metricsOut: env.MetricsOut,
	}
	a.metrics = observability.NewMetrics(a.registry)

	if env.Trace != nil {
		a.shutdown, err = observability.SetupStdoutTracing(env.Trace, serviceName)
		if err != nil {
			logger.Close()
			return nil, fmt.Errorf("failed to set up tracing: %w", err)
		}
	}

	a.client = reputation.NewClient(cfg.APIBaseURL,
		reputation.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		reputation.WithLogger(logger.Slog()),
		reputation.WithMetrics(a.metrics),
	)

	a.store, err = sessionstore.Open(sessionstore.Config{
		Dir:     cfg.Session.Dir,
		TTL:     cfg.Session.TTL,
		Logger:  logger.Slog(),
		Metrics: a.metrics,
	})
	if err != nil {
		a.Close(context.Background())
		return nil, fmt.Errorf("failed to open the session store: %w", err)
	}
	return a, nil
}

// Close releases the store, flushes spans, writes metrics and closes the
// logger. Safe to call on a partially built app.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
	}
	if a.metricsOut != "" {
		if err := prometheus.WriteToTextfile(a.metricsOut, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if err := a.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// newMachine returns a submission flow bound to the app's client and store.
func (a *app) newMachine() *auditflow.Machine {
	log := a.logger.Slog()
	return auditflow.NewMachine(a.client, a.store,
		auditflow.WithLogger(log),
		auditflow.WithMetrics(a.metrics),
		auditflow.WithOnTransition(func(t auditflow.Transition) {
			log.Debug("flow transition",
				"flow_id", t.FlowID, "from", t.From, "to", t.To, "trigger", t.Trigger)
		}),
	)
}

func (a *app) newReopener() *history.Reopener {
	return history.NewReopener(a.client, a.store, a.logger.Slog())
}

// requireOwner fails with a usage error when no owner identity is set.
func (a *app) requireOwner(command string) error {
	if a.cfg.HasOwner() {
		return nil
	}
	err := errors.New("no user id or lookup email configured")
	a.printer.Error("Audit history needs a user id or lookup email. Pass --user-id or --lookup-email, or set them in the config file.")
	return &CommandError{Command: command, ExitCode: exitUsage, Wrapped: err}
}

// failed reports err to the user and returns it as a CommandError.
func (a *app) failed(command string, err error) error {
	var re *history.ReopenError
	if errors.As(err, &re) {
		a.printer.Error(re.Message)
	} else {
		a.printer.Error(reputation.UserMessage(err))
	}
	a.logger.Debug("command failed", "command", command, "error", err)
	return &CommandError{Command: command, ExitCode: exitFailure, Wrapped: err}
}
