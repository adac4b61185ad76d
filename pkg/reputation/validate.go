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
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Messages for the cross-field rules.
const (
	MsgMissingIdentity = "Provide business name, or website, or both phone and location to continue."
	MsgPhoneNeedsLoc   = "Location is required when a phone number is provided."
)

// requestValidate is the validator instance for scan requests. Field names
// in errors are reported by their JSON tag.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())
	requestValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

var schemePattern = regexp.MustCompile(`(?i)^https?://`)

// NormalizeWebsite trims url and prefixes https:// when no scheme is given.
// An empty input stays empty.
func NormalizeWebsite(url string) string {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return ""
	}
	if schemePattern.MatchString(trimmed) {
		return trimmed
	}
	return "https://" + trimmed
}

// Prepare trims and normalizes the user-entered fields of req and validates
// the result.
//
// # Description
//
// Applies the same rules the submission form enforces before any network
// call: the identity requirement, phone-requires-location, and per-field
// bounds. The returned request is the one that should be sent.
//
// # Outputs
//
//   - ScanRequest: Normalized copy of req.
//   - error: *ValidationError when a precondition fails.
func Prepare(req ScanRequest) (ScanRequest, error) {
	out := trimFields(req)
	out.Website = NormalizeWebsite(out.Website)

	if err := Validate(out); err != nil {
		return ScanRequest{}, err
	}
	return out, nil
}

// trimFields returns a copy of req with surrounding whitespace removed from
// every free-text field.
func trimFields(req ScanRequest) ScanRequest {
	out := req.Clone()
	out.Website = strings.TrimSpace(out.Website)
	out.BusinessName = strings.TrimSpace(out.BusinessName)
	out.Phone = strings.TrimSpace(out.Phone)
	out.Location = strings.TrimSpace(out.Location)
	out.Industry = strings.TrimSpace(out.Industry)
	out.Country = strings.TrimSpace(out.Country)
	out.LookupEmail = strings.TrimSpace(out.LookupEmail)
	return out
}

// Validate checks req without modifying it. Fields are judged as they
// would be sent after trimming, so whitespace never satisfies a rule.
func Validate(req ScanRequest) error {
	req = trimFields(req)
	if !req.HasIdentity() {
		return &ValidationError{Message: MsgMissingIdentity}
	}
	if req.Phone != "" && req.Location == "" {
		return &ValidationError{Field: "location", Message: MsgPhoneNeedsLoc}
	}

	err := requestValidate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := verrs[0]
	return &ValidationError{Field: fe.Field(), Message: fieldMessage(fe)}
}

func fieldMessage(fe validator.FieldError) string {
	label := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("The %s must be at least %s characters.", label, fe.Param())
	case "max":
		return fmt.Sprintf("The %s may not be greater than %s characters.", label, fe.Param())
	case "email":
		return fmt.Sprintf("The %s must be a valid email address.", label)
	case "gt":
		return fmt.Sprintf("The %s must be a positive number.", label)
	default:
		return fmt.Sprintf("The %s is invalid.", label)
	}
}
