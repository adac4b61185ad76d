// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName is the tracing service name of the sandbox.
const ServiceName = "auditflow-sandbox"

// SetupRoutes registers the sandbox API under /api plus /health and /metrics.
func SetupRoutes(router *gin.Engine, b *Backend, gatherer prometheus.Gatherer) {
	router.Use(otelgin.Middleware(ServiceName))

	router.GET("/health", HealthCheck)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/reputation")
	{
		api.POST("/scan", HandleScan(b))
		api.GET("/history", HandleHistory(b))
		api.GET("/history/:id", HandleHistoryItem(b))
	}
}
