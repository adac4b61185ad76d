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
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Error Types
// -----------------------------------------------------------------------------

// ValidationError is a client-side precondition failure. It never reaches
// the network; callers resolve it locally by showing Message inline.
type ValidationError struct {
	// Field is the JSON name of the offending field, or "" for
	// cross-field rules such as the identity requirement.
	Field string

	// Message is safe to show to the user.
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NetworkError is a transport failure: DNS, connection refused, reset,
// context cancellation while the request was on the wire.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError means the response body could not be parsed as JSON or had
// an unrecognizable shape.
type ProtocolError struct {
	Op string

	// Message is the user-facing text for the operation.
	Message string

	Err error
}

func (e *ProtocolError) Error() string { return e.Message }

func (e *ProtocolError) Unwrap() error { return e.Err }

// APIError is an explicit failure reported by the backend, or an outcome tag
// the client does not recognize.
type APIError struct {
	Op         string
	StatusCode int

	// Code is the backend's machine-readable code, when supplied.
	Code string

	// Message is human-readable and surfaced verbatim.
	Message string
}

func (e *APIError) Error() string { return e.Message }

// Compile-time interface checks.
var (
	_ error = (*ValidationError)(nil)
	_ error = (*NetworkError)(nil)
	_ error = (*ProtocolError)(nil)
	_ error = (*APIError)(nil)
)

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// UserMessage extracts the message to show for err. Taxonomy errors surface
// their own message; anything else falls back to err.Error().
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		ve *ValidationError
		ae *APIError
		pe *ProtocolError
		ne *NetworkError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &ae):
		return ae.Message
	case errors.As(err, &pe):
		return pe.Message
	case errors.As(err, &ne):
		return "Unable to reach the audit service. Check your connection and try again."
	default:
		return err.Error()
	}
}
