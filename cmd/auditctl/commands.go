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
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/auditflow/cmd/auditctl/config"
	"github.com/AleutianAI/auditflow/pkg/reputation"
	"github.com/AleutianAI/auditflow/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath  string
	outputMode  string
	apiBaseURL  string
	userID      int64
	lookupEmail string
	sessionDir  string
	logLevel    string
	traceSpans  bool
	metricsOut  string
	noInput     bool

	scanReq     reputation.ScanRequest
	scanNoMatch bool

	resumePlaceID string
	resumeNoMatch bool

	historyOpts historyOptions

	// cli is built by the root PersistentPreRunE and closed by main.
	cli *app

	rootCmd = &cobra.Command{
		Use:   "auditctl",
		Short: "Run and follow business reputation audits",
		Long: `auditctl submits reputation audits, walks you through picking the right
business profile when the service finds several, and follows audits that
finish in the background.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupApp,
	}

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Start a reputation audit",
		Long: `Start a reputation audit. Provide a business name, a website, or a phone
number together with a location.`,
		Example: `  auditctl scan --business-name "Acme Corp" --location "Austin, TX"
  auditctl scan --website acme.example`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := scanReq.Clone()
			req.SkipPlaces = scanNoMatch
			return cli.runScan(cmd.Context(), req)
		},
	}

	resumeCmd = &cobra.Command{
		Use:   "resume",
		Short: "Continue an audit that is waiting for a business profile choice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.runResume(cmd.Context(), presetChoice(resumePlaceID, resumeNoMatch))
		},
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List your audits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := historyOpts
			if opts.Watch && ux.IsTerminal(os.Stdin) && !noInput {
				opts.RefreshInput = os.Stdin
				cli.printer.Muted("Watching for changes. Press Enter to refresh, Ctrl+C to stop.")
			}
			return cli.runHistory(cmd.Context(), opts)
		},
	}

	historyResolveCmd = &cobra.Command{
		Use:   "resolve <audit-id>",
		Short: "Pick the business profile for an audit that needs one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAuditID("history resolve", args[0])
			if err != nil {
				return err
			}
			return cli.runHistoryResolve(cmd.Context(), id, presetChoice(resumePlaceID, resumeNoMatch))
		},
	}

	historyOpenCmd = &cobra.Command{
		Use:   "open <audit-id>",
		Short: "Show the result of a completed audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAuditID("history open", args[0])
			if err != nil {
				return err
			}
			return cli.runHistoryOpen(cmd.Context(), id)
		},
	}

	resultsCmd = &cobra.Command{
		Use:   "results",
		Short: "Show the last audit result of this session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.runResults(cmd.Context())
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.auditflow/auditflow.yaml)")
	pf.StringVarP(&outputMode, "output", "o", "auto", "output style: auto, rich or plain")
	pf.StringVar(&apiBaseURL, "api-base-url", "", "audit service base URL")
	pf.Int64Var(&userID, "user-id", 0, "user id that owns the audits")
	pf.StringVar(&lookupEmail, "lookup-email", "", "email that owns the audits")
	pf.StringVar(&sessionDir, "session-dir", "", "session state directory")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.BoolVar(&traceSpans, "trace", false, "write trace spans to stderr")
	pf.StringVar(&metricsOut, "metrics-out", "", "write Prometheus metrics to this file on exit")
	pf.BoolVar(&noInput, "no-input", false, "never prompt, even on a terminal")

	f := scanCmd.Flags()
	f.StringVar(&scanReq.Website, "website", "", "business website")
	f.StringVar(&scanReq.BusinessName, "business-name", "", "business name")
	f.StringVar(&scanReq.Phone, "phone", "", "business phone (requires --location)")
	f.StringVar(&scanReq.Location, "location", "", "city, region or address")
	f.StringVar(&scanReq.Industry, "industry", "", "industry")
	f.StringVar(&scanReq.Country, "country", "", "country")
	f.StringVar(&scanReq.PlaceID, "place-id", "", "match this business profile directly")
	f.BoolVar(&scanNoMatch, "no-match", false, "skip business profile matching")
	scanCmd.MarkFlagsMutuallyExclusive("place-id", "no-match")
	rootCmd.AddCommand(scanCmd)

	for _, c := range []*cobra.Command{resumeCmd, historyResolveCmd} {
		c.Flags().StringVar(&resumePlaceID, "place-id", "", "choose this candidate without prompting")
		c.Flags().BoolVar(&resumeNoMatch, "no-match", false, "continue without a business profile")
		c.MarkFlagsMutuallyExclusive("place-id", "no-match")
	}
	rootCmd.AddCommand(resumeCmd)

	hf := historyCmd.Flags()
	hf.StringVar(&historyOpts.Status, "status", "all", "filter: all, queued, processing, complete, needs_selection, failed")
	hf.StringVar(&historyOpts.Search, "search", "", "filter by business name or website")
	hf.IntVar(&historyOpts.Limit, "limit", 20, "maximum audits to fetch")
	hf.BoolVarP(&historyOpts.Watch, "watch", "w", false, "keep refreshing until interrupted")
	hf.BoolVar(&historyOpts.UntilSettled, "until-settled", false, "with --watch, stop once no audit is queued or processing")
	historyCmd.AddCommand(historyResolveCmd)
	historyCmd.AddCommand(historyOpenCmd)
	rootCmd.AddCommand(historyCmd)

	rootCmd.AddCommand(resultsCmd)
}

// setupApp loads the config, applies flag overrides and builds cli.
func setupApp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("api-base-url") {
		cfg.APIBaseURL = apiBaseURL
	}
	if flags.Changed("user-id") {
		cfg.UserID = userID
	}
	if flags.Changed("lookup-email") {
		cfg.LookupEmail = lookupEmail
	}
	if flags.Changed("session-dir") {
		cfg.Session.Dir = sessionDir
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return usageError(cmd, err)
	}

	mode, err := ux.ParseMode(outputMode)
	if err != nil {
		return usageError(cmd, err)
	}
	if mode == "" {
		mode = ux.DetectMode(os.Stdout)
	}

	env := appEnv{
		Out:        cmd.OutOrStdout(),
		ErrOut:     cmd.ErrOrStderr(),
		Mode:       mode,
		MetricsOut: metricsOut,
	}
	if !noInput && ux.IsTerminal(os.Stdin) && ux.IsTerminal(os.Stdout) {
		env.Chooser = newHuhChooser(os.Stdin, os.Stderr, os.Getenv("ACCESSIBLE") != "")
	}
	if traceSpans {
		env.Trace = os.Stderr
	}

	cli, err = newApp(cfg, env)
	return err
}

// presetChoice turns --place-id / --no-match into a Choice. Neither flag
// means "ask".
func presetChoice(placeID string, noMatch bool) *Choice {
	switch {
	case noMatch:
		return &Choice{NoMatch: true}
	case placeID != "":
		return &Choice{PlaceID: placeID}
	}
	return nil
}

func parseAuditID(command, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		cli.printer.Error(fmt.Sprintf("%q is not an audit id.", raw))
		return 0, &CommandError{Command: command, ExitCode: exitUsage, Wrapped: fmt.Errorf("invalid audit id %q", raw)}
	}
	return id, nil
}

// usageError reports a flag or config problem found before cli exists.
func usageError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	return &CommandError{Command: cmd.Name(), ExitCode: exitUsage, Wrapped: err}
}
