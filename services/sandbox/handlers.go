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
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/auditflow/pkg/reputation"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func errorBody(code, message string, details map[string][]string) gin.H {
	body := gin.H{"status": reputation.StatusError, "code": code, "message": message}
	if len(details) > 0 {
		body["details"] = details
	}
	return body
}

// HandleScan serves POST /reputation/scan.
//
// # Description
//
// Decodes the ScanRequest body, applies the client's validation rules and
// resolves the outcome with the backend. Validation failures return 422 with
// a field→[message] details object, as the production backend does.
func HandleScan(b *Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reputation.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody("invalid_json", "Request body must be a JSON scan request.", nil))
			return
		}

		res, err := b.Scan(req, strings.ToLower(c.GetHeader(ScenarioHeader)))
		if err != nil {
			var ve *reputation.ValidationError
			if errors.As(err, &ve) {
				field := ve.Field
				if field == "" {
					field = "business_name"
				}
				c.JSON(http.StatusUnprocessableEntity, errorBody("validation_error", "The given data was invalid.",
					map[string][]string{field: {ve.Message}}))
				return
			}
			c.JSON(http.StatusInternalServerError, errorBody("internal", err.Error(), nil))
			return
		}
		c.JSON(res.status, res.body)
	}
}

// ownerQuery reads the user_id and lookup_email query parameters.
func ownerQuery(c *gin.Context) (int64, string, bool) {
	var userID int64
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, "", false
		}
		userID = id
	}
	email := strings.TrimSpace(c.Query("lookup_email"))
	return userID, email, userID > 0 || email != ""
}

// HandleHistory serves GET /reputation/history.
func HandleHistory(b *Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		b.metrics.observeHistory("list")
		userID, email, ok := ownerQuery(c)
		if !ok {
			c.JSON(http.StatusBadRequest, errorBody("owner_required", MsgOwnerRequired, nil))
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

		audits, total := b.List(userID, email, limit)
		c.JSON(http.StatusOK, gin.H{
			"status": "success",
			"total":  total,
			"audits": audits,
		})
	}
}

// HandleHistoryItem serves GET /reputation/history/:id.
func HandleHistoryItem(b *Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		b.metrics.observeHistory("item")
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusNotFound, errorBody("not_found", MsgNotFound, nil))
			return
		}
		userID, email, ok := ownerQuery(c)
		if !ok {
			c.JSON(http.StatusBadRequest, errorBody("owner_required", MsgOwnerRequired, nil))
			return
		}

		detail, err := b.Get(id, userID, email)
		if err != nil {
			c.JSON(http.StatusNotFound, errorBody("not_found", MsgNotFound, nil))
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "audit": detail})
	}
}
