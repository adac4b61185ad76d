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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/auditflow/pkg/observability"
)

var tracer = otel.Tracer("auditflow.reputation")

// DefaultBaseURL is used when no API base URL is configured.
const DefaultBaseURL = "http://localhost:8000/api"

// Operation names, used for errors, spans and metrics.
const (
	OpScan        = "scan"
	OpHistory     = "history"
	OpHistoryItem = "history_item"
)

// Fallback messages when the backend gives no usable error text.
const (
	fallbackScan        = "Audit request failed. Please try again."
	fallbackHistory     = "Unable to load audit history right now."
	fallbackHistoryItem = "Unable to load audit details right now."
	msgUnexpectedStatus = "Unexpected audit response from server."
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Scanner submits scan requests. *Client implements it; the state machine
// depends on this interface so tests can script outcomes.
type Scanner interface {
	Submit(ctx context.Context, req ScanRequest) (Outcome, error)
}

// HistorySource lists and fetches server-tracked audits.
type HistorySource interface {
	ListAudits(ctx context.Context, q HistoryQuery) (HistoryPage, error)
	GetAudit(ctx context.Context, id int64, q HistoryQuery) (AuditDetail, error)
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client talks to the reputation backend over JSON/HTTP.
//
// Each method issues exactly one HTTP request. There are no retries at this
// layer; retry policy belongs to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client (timeouts, transports, tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client for the API rooted at baseURL
// (e.g. "https://api.example.com/api"). A trailing slash is ignored and an
// empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	c := &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 90 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

var (
	_ Scanner       = (*Client)(nil)
	_ HistorySource = (*Client)(nil)
)

// Submit sends one scan request and classifies the response.
//
// # Description
//
// Validates req first; a *ValidationError returns before any network I/O.
// Otherwise exactly one POST /reputation/scan is issued.
//
// # Outputs
//
//   - Outcome: *Success, *SelectionRequired or *Queued.
//   - error: *ValidationError, *NetworkError, *ProtocolError or *APIError.
func (c *Client) Submit(ctx context.Context, req ScanRequest) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "reputation.Submit",
		trace.WithAttributes(
			attribute.Bool("scan.skip_places", req.SkipPlaces),
			attribute.Bool("scan.has_place_id", req.PlaceID != ""),
		),
	)
	defer span.End()
	start := time.Now()

	if err := Validate(req); err != nil {
		c.finish(span, OpScan, start, "", err)
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		err = &ProtocolError{Op: OpScan, Message: fallbackScan, Err: err}
		c.finish(span, OpScan, start, "", err)
		return nil, err
	}

	status, data, err := c.do(ctx, OpScan, http.MethodPost, "/reputation/scan", body)
	if err != nil {
		c.finish(span, OpScan, start, "", err)
		return nil, err
	}

	outcome, err := classifyScan(status, data)
	if err != nil {
		c.finish(span, OpScan, start, "", err)
		return nil, err
	}
	c.finish(span, OpScan, start, outcome.Status(), nil)
	return outcome, nil
}

// ListAudits fetches the audit history for a user.
func (c *Client) ListAudits(ctx context.Context, q HistoryQuery) (HistoryPage, error) {
	ctx, span := tracer.Start(ctx, "reputation.ListAudits")
	defer span.End()
	start := time.Now()

	path := "/reputation/history" + encodeQuery(q, true)
	status, data, err := c.do(ctx, OpHistory, http.MethodGet, path, nil)
	if err != nil {
		c.finish(span, OpHistory, start, "", err)
		return HistoryPage{}, err
	}

	var page struct {
		HistoryPage
		Status string `json:"status"`
	}
	if err := decodeEnvelope(OpHistory, status, data, fallbackHistory, &page); err != nil {
		c.finish(span, OpHistory, start, "", err)
		return HistoryPage{}, err
	}
	if page.Audits == nil {
		page.Audits = []AuditRecord{}
	}
	span.SetAttributes(attribute.Int("history.count", len(page.Audits)))
	c.finish(span, OpHistory, start, "ok", nil)
	return page.HistoryPage, nil
}

// GetAudit fetches one audit with its request and response payloads.
func (c *Client) GetAudit(ctx context.Context, id int64, q HistoryQuery) (AuditDetail, error) {
	ctx, span := tracer.Start(ctx, "reputation.GetAudit",
		trace.WithAttributes(attribute.Int64("audit.id", id)))
	defer span.End()
	start := time.Now()

	path := "/reputation/history/" + strconv.FormatInt(id, 10) + encodeQuery(q, false)
	status, data, err := c.do(ctx, OpHistoryItem, http.MethodGet, path, nil)
	if err != nil {
		c.finish(span, OpHistoryItem, start, "", err)
		return AuditDetail{}, err
	}

	var item struct {
		Status string      `json:"status"`
		Audit  AuditDetail `json:"audit"`
	}
	if err := decodeEnvelope(OpHistoryItem, status, data, fallbackHistoryItem, &item); err != nil {
		c.finish(span, OpHistoryItem, start, "", err)
		return AuditDetail{}, err
	}
	c.finish(span, OpHistoryItem, start, "ok", nil)
	return item.Audit, nil
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

// do performs one HTTP round trip and returns the status code and body.
// Only transport failures are reported as errors here.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &NetworkError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}
	return resp.StatusCode, data, nil
}

// finish records metrics, span status and a debug log line for one call.
func (c *Client) finish(span trace.Span, op string, start time.Time, result string, err error) {
	elapsed := time.Since(start)
	if err != nil {
		result = errorClass(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("backend call failed", "op", op, "class", result, "error", err, "duration_ms", elapsed.Milliseconds())
	} else {
		span.SetStatus(codes.Ok, "")
		c.logger.Debug("backend call completed", "op", op, "result", result, "duration_ms", elapsed.Milliseconds())
	}
	span.SetAttributes(attribute.String("result", result))
	c.metrics.ObserveRequest(op, result, elapsed)
}

// -----------------------------------------------------------------------------
// Response Classification
// -----------------------------------------------------------------------------

// envelope is the part every response shares.
type envelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

// classifyScan turns a scan response into one of the three outcomes.
func classifyScan(statusCode int, body []byte) (Outcome, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ProtocolError{Op: OpScan, Message: fallbackScan, Err: err}
	}
	if !isSuccessCode(statusCode) || env.Status == StatusError {
		return nil, apiError(OpScan, statusCode, env, fallbackScan)
	}

	var (
		outcome Outcome
		err     error
	)
	switch env.Status {
	case StatusSuccess:
		s := &Success{}
		err = json.Unmarshal(body, s)
		s.Raw = append(json.RawMessage(nil), body...)
		outcome = s
	case StatusSelectionRequired:
		s := &SelectionRequired{}
		err = json.Unmarshal(body, s)
		outcome = s
	case StatusQueued:
		q := &Queued{}
		if err = json.Unmarshal(body, q); err == nil && q.AuditID <= 0 {
			return nil, &ProtocolError{Op: OpScan, Message: msgUnexpectedStatus}
		}
		outcome = q
	default:
		return nil, &APIError{Op: OpScan, StatusCode: statusCode, Message: msgUnexpectedStatus}
	}
	if err != nil {
		return nil, &ProtocolError{Op: OpScan, Message: msgUnexpectedStatus, Err: err}
	}
	return outcome, nil
}

// decodeEnvelope decodes a non-scan response into out after checking for an
// error envelope.
func decodeEnvelope(op string, statusCode int, body []byte, fallback string, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &ProtocolError{Op: op, Message: fallback, Err: err}
	}
	if !isSuccessCode(statusCode) || env.Status == StatusError {
		return apiError(op, statusCode, env, fallback)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ProtocolError{Op: op, Message: fallback, Err: err}
	}
	return nil
}

func apiError(op string, statusCode int, env envelope, fallback string) *APIError {
	msg := firstDetail(env.Details)
	if msg == "" {
		msg = env.Message
	}
	if msg == "" {
		msg = fallback
	}
	return &APIError{Op: op, StatusCode: statusCode, Code: env.Code, Message: msg}
}

// firstDetail returns the first message of a field→[messages] details object,
// honoring the key order of the document. A string value is returned as is.
func firstDetail(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ""
	}
	if !dec.More() {
		return ""
	}
	if _, err := dec.Token(); err != nil { // key
		return ""
	}
	var first any
	if err := dec.Decode(&first); err != nil {
		return ""
	}
	switch v := first.(type) {
	case []any:
		if len(v) > 0 {
			return fmt.Sprint(v[0])
		}
	case string:
		return v
	}
	return ""
}

func isSuccessCode(code int) bool { return code >= 200 && code < 300 }

func encodeQuery(q HistoryQuery, withLimit bool) string {
	params := url.Values{}
	if q.UserID > 0 {
		params.Set("user_id", strconv.FormatInt(q.UserID, 10))
	}
	if q.LookupEmail != "" {
		params.Set("lookup_email", q.LookupEmail)
	}
	if withLimit && q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

// errorClass names the taxonomy bucket of err for metrics and logs.
func errorClass(err error) string {
	var (
		ve *ValidationError
		ne *NetworkError
		pe *ProtocolError
		ae *APIError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ne):
		return "network"
	case errors.As(err, &pe):
		return "protocol"
	case errors.As(err, &ae):
		return "api"
	default:
		return "unknown"
	}
}
