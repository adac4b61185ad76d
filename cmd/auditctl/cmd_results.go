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

	"github.com/AleutianAI/auditflow/pkg/normalize"
	"github.com/AleutianAI/auditflow/pkg/ux"
)

// runResults shows the last result of this session and consumes it. With
// nothing stored, or a payload that does not normalize, the sample report
// is shown and labeled as such.
func (a *app) runResults(ctx context.Context) error {
	last, err := a.store.LoadAndClearLastResult(ctx)
	if err != nil {
		return a.failed("results", err)
	}

	var result *normalize.Result
	if last != nil {
		result = normalize.Normalize(last.Payload)
	}
	if result == nil {
		if a.printer.Mode() == ux.ModePlain {
			a.printer.Warning(ux.MsgSampleReport)
		}
		a.printer.RenderReport(normalize.Sample(), ux.ReportOptions{Placeholder: true})
		return nil
	}
	a.printer.RenderReport(result, ux.ReportOptions{})
	return nil
}
