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
	"errors"
	"fmt"
)

// Process exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// CommandError is a command failure that has already been reported to the
// user and carries the exit code to use.
//
// # Description
//
// Commands print a friendly message through the Printer and then return a
// CommandError so main does not print the raw error again.
//
// # Example
//
//	p.Error(ve.Message)
//	return &CommandError{Command: "scan", ExitCode: exitUsage, Wrapped: ve}
type CommandError struct {
	// Command is the subcommand that failed.
	Command string

	// ExitCode is the process exit code.
	ExitCode int

	// Wrapped is the underlying error.
	Wrapped error
}

func (e *CommandError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// exitCode maps an Execute error to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return exitFailure
}

// reported reports whether err was already shown to the user.
func reported(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}
