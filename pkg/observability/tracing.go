// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ShutdownFunc flushes and stops a tracer provider.
type ShutdownFunc func(ctx context.Context) error

// SetupStdoutTracing installs a global tracer provider that writes spans as
// JSON to w.
//
// # Description
//
// Library packages create spans through otel.Tracer and are no-ops until a
// provider is installed. Binaries call this when tracing is requested
// (auditctl --trace) and defer the returned shutdown.
//
// # Inputs
//
//   - w: Destination for span JSON. Usually os.Stderr.
//   - service: service.name resource attribute.
//
// # Outputs
//
//   - ShutdownFunc: Flushes pending spans. Always non-nil.
//   - error: Non-nil if the exporter could not be created.
func SetupStdoutTracing(w io.Writer, service string) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return noop, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(service)))
	if err != nil {
		return noop, fmt.Errorf("create trace resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
