package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/audit"
	ctxutil "3tcapital/ms_emision_electronica/internal/infrastructure/context"
	"3tcapital/ms_emision_electronica/internal/infrastructure/security"
)

type callInfoKey struct{}

// CallInfo tags an outgoing call with its logical operation and the document it concerns.
type CallInfo struct {
	Operation  string
	AccessCode string
}

// WithCallInfo attaches call metadata used for logs and audit entries.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

func callInfoFrom(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}

// TracedClient wraps an HTTP client to provide request/response tracing.
// It logs all requests and responses, sanitizes sensitive data, and persists audit trails.
type TracedClient struct {
	client       *http.Client
	log          *slog.Logger
	auditRepo    audit.Repository
	service      string
	auditEnabled bool
	logReqBody   bool
	logRespBody  bool
	maxBodySize  int
}

// TracedClientConfig holds configuration for the traced HTTP client.
type TracedClientConfig struct {
	Timeout         time.Duration
	AuditEnabled    bool
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodySize     int
	MaxConnsPerHost int // 0 uses the default of 20
}

// NewTracedClient creates a new traced HTTP client with connection pooling.
func NewTracedClient(cfg *TracedClientConfig, log *slog.Logger, auditRepo audit.Repository, service string) *TracedClient {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 102400
	}
	maxConnsPerHost := cfg.MaxConnsPerHost
	if maxConnsPerHost == 0 {
		maxConnsPerHost = 20
	}

	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxConnsPerHost,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &TracedClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		log:          log,
		auditRepo:    auditRepo,
		service:      service,
		auditEnabled: cfg.AuditEnabled,
		logReqBody:   cfg.LogRequestBody,
		logRespBody:  cfg.LogResponseBody,
		maxBodySize:  cfg.MaxBodySize,
	}
}

// Do executes an HTTP request with tracing and audit.
func (c *TracedClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	correlationID := ctxutil.GetCorrelationID(ctx)
	info := c.callInfo(req)
	start := time.Now()

	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	var requestBody []byte
	if req.Body != nil {
		var err error
		requestBody, err = io.ReadAll(req.Body)
		if err != nil {
			c.log.Error("Failed to read request body for tracing",
				"error", err,
				"correlation_id", correlationID,
			)
		}
		req.Body = io.NopCloser(bytes.NewBuffer(requestBody))
	}

	c.logRequest(correlationID, info, req, requestBody)

	resp, err := c.client.Do(req)
	duration := time.Since(start)

	var responseBody []byte
	if resp != nil && resp.Body != nil {
		responseBody, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewBuffer(responseBody))
	}

	c.logResponse(correlationID, info, req, resp, err, duration, responseBody)

	if !c.auditEnabled || c.auditRepo == nil {
		return resp, err
	}

	if correlationID == "" {
		correlationID = fmt.Sprintf("audit-%d", time.Now().UnixNano())
		c.log.Warn("Missing correlation ID, generated fallback",
			"fallback_id", correlationID,
			"operation", info.Operation,
		)
	}

	entry := c.buildAuditLog(correlationID, info, req, resp, err, duration, requestBody, responseBody)

	// The request context ends with the call; the audit write must outlive it.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("Panic in audit log persistence",
					"panic", r,
					"correlation_id", correlationID,
					"operation", info.Operation,
				)
			}
		}()

		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if saveErr := c.auditRepo.Save(saveCtx, entry); saveErr != nil {
			c.log.Error("Failed to persist audit log",
				"error", saveErr,
				"correlation_id", correlationID,
				"service", c.service,
				"operation", info.Operation,
				"access_code", info.AccessCode,
			)
		}
	}()

	return resp, err
}

func (c *TracedClient) logRequest(correlationID string, info CallInfo, req *http.Request, body []byte) {
	attrs := []any{
		"correlation_id", correlationID,
		"service", c.service,
		"operation", info.Operation,
		"method", req.Method,
		"url", security.SanitizeURL(req.URL.String()),
	}
	if info.AccessCode != "" {
		attrs = append(attrs, "access_code", info.AccessCode)
	}
	if c.logReqBody && len(body) > 0 {
		attrs = append(attrs, "request_body", security.SanitizeBody(body, c.maxBodySize))
	}

	c.log.Info("authority_request", attrs...)
}

func (c *TracedClient) logResponse(correlationID string, info CallInfo, req *http.Request, resp *http.Response, err error, duration time.Duration, body []byte) {
	attrs := []any{
		"correlation_id", correlationID,
		"service", c.service,
		"operation", info.Operation,
		"method", req.Method,
		"url", security.SanitizeURL(req.URL.String()),
		"duration_ms", duration.Milliseconds(),
	}
	if info.AccessCode != "" {
		attrs = append(attrs, "access_code", info.AccessCode)
	}

	if err != nil {
		attrs = append(attrs, "error", err.Error())
		c.log.Error("authority_request_failed", attrs...)
		return
	}

	attrs = append(attrs, "status", resp.StatusCode, "response_size_bytes", len(body))
	if c.logRespBody && len(body) > 0 {
		attrs = append(attrs, "response_body", security.SanitizeBody(body, c.maxBodySize))
	}

	switch {
	case resp.StatusCode >= 500:
		c.log.Error("authority_response", attrs...)
	case resp.StatusCode >= 400:
		c.log.Warn("authority_response", attrs...)
	default:
		c.log.Info("authority_response", attrs...)
	}
}

func (c *TracedClient) buildAuditLog(correlationID string, info CallInfo, req *http.Request, resp *http.Response, err error, duration time.Duration, requestBody, responseBody []byte) audit.AuthorityCallLog {
	entry := audit.AuthorityCallLog{
		CorrelationID:  correlationID,
		Service:        c.service,
		Operation:      info.Operation,
		AccessCode:     info.AccessCode,
		RequestMethod:  req.Method,
		RequestURL:     security.SanitizeURL(req.URL.String()),
		RequestHeaders: security.SanitizeHeaders(req.Header),
		RequestBody:    security.SanitizeBody(requestBody, c.maxBodySize),
		DurationMs:     duration.Milliseconds(),
	}

	if resp != nil {
		status := resp.StatusCode
		entry.ResponseStatus = &status
		entry.ResponseHeaders = security.SanitizeHeaders(resp.Header)
		entry.ResponseBody = security.SanitizeBody(responseBody, c.maxBodySize)
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}
	return entry
}

// callInfo returns the tagged call metadata, falling back to the last URL path segment.
func (c *TracedClient) callInfo(req *http.Request) CallInfo {
	if info, ok := callInfoFrom(req.Context()); ok && info.Operation != "" {
		return info
	}

	parts := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
	if last := parts[len(parts)-1]; last != "" {
		return CallInfo{Operation: last}
	}
	return CallInfo{Operation: fmt.Sprintf("%s_%s", req.Method, c.service)}
}

// Client returns the underlying HTTP client.
func (c *TracedClient) Client() *http.Client {
	return c.client
}
