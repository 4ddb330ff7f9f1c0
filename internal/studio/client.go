// Package studio talks to the Wind River Studio REST API and serves
// resource reads through the tiered cache.
package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/windriver/studio-mcp/internal/config"
	"github.com/windriver/studio-mcp/internal/metrics"
	"github.com/windriver/studio-mcp/internal/observability"
	"github.com/windriver/studio-mcp/internal/tracing"
)

// Fetcher is the transport the provider calls on a cache miss. Injected so
// tests can substitute a fake without standing up a Studio instance.
type Fetcher interface {
	Get(ctx context.Context, operation, path string) ([]byte, error)
	Post(ctx context.Context, operation, path string, body interface{}) ([]byte, error)
}

// APIError carries the HTTP status of a failed Studio call.
type APIError struct {
	StatusCode int
	Operation  string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("studio: %s failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Client is the HTTP client for the Studio REST API. It guards the
// upstream with a simple circuit breaker: after maxFailures consecutive
// failures, calls short-circuit until the backoff window passes.
type Client struct {
	baseURL     string
	apiKey      string
	environment string
	httpClient  *http.Client
	logger      observability.Logger
	metrics     *metrics.Metrics
	spanHelper  *tracing.SpanHelper

	mu            sync.RWMutex
	connected     bool
	lastError     error
	failureCount  int
	maxFailures   int
	backoffTime   time.Duration
	nextRetryTime time.Time
}

// NewClient creates a Studio API client from configuration.
func NewClient(cfg config.StudioConfig, logger observability.Logger, m *metrics.Metrics, tracerProvider *tracing.TracerProvider) *Client {
	var spanHelper *tracing.SpanHelper
	if tracerProvider != nil {
		spanHelper = tracing.NewSpanHelper(tracerProvider)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:     cfg.URL,
		apiKey:      cfg.APIKey,
		environment: cfg.Environment,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:      logger,
		metrics:     m,
		spanHelper:  spanHelper,
		connected:   cfg.URL != "",
		maxFailures: 3,
		backoffTime: 5 * time.Second,
	}
}

// Get performs a GET request against the Studio API.
func (c *Client) Get(ctx context.Context, operation, path string) ([]byte, error) {
	return c.call(ctx, http.MethodGet, operation, path, nil)
}

// Post performs a POST request against the Studio API.
func (c *Client) Post(ctx context.Context, operation, path string, body interface{}) ([]byte, error) {
	return c.call(ctx, http.MethodPost, operation, path, body)
}

// Delete performs a DELETE request against the Studio API.
func (c *Client) Delete(ctx context.Context, operation, path string) ([]byte, error) {
	return c.call(ctx, http.MethodDelete, operation, path, nil)
}

func (c *Client) call(ctx context.Context, method, operation, path string, body interface{}) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("studio: no API URL configured")
	}
	if err := c.checkBreaker(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := c.doRequest(ctx, method, operation, path, body)
	if c.metrics != nil {
		c.metrics.RecordStudioRequest(operation, time.Since(start), err)
	}

	if err != nil {
		c.recordFailure(err)
		return nil, err
	}

	c.recordSuccess()
	return data, nil
}

// checkBreaker returns an error while the circuit is open.
func (c *Client) checkBreaker() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if time.Now().Before(c.nextRetryTime) {
		return fmt.Errorf("studio: circuit breaker open, retry after %s", time.Until(c.nextRetryTime).Round(time.Millisecond))
	}
	return nil
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastError = err
	c.failureCount++
	c.connected = false

	if c.failureCount >= c.maxFailures {
		c.nextRetryTime = time.Now().Add(c.backoffTime)
		c.logger.Warn("Studio circuit breaker opened", map[string]interface{}{
			"failures":    c.failureCount,
			"retry_after": c.nextRetryTime,
			"error":       err.Error(),
		})
	}
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.lastError = nil
	c.failureCount = 0
}

// doRequest performs one authenticated HTTP round trip and reads the body.
func (c *Client) doRequest(ctx context.Context, method, operation, path string, body interface{}) ([]byte, error) {
	var span trace.Span
	url := c.baseURL + path
	if c.spanHelper != nil {
		ctx, span = c.spanHelper.StartStudioCallSpan(ctx, operation, url)
		defer span.End()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			if span != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to marshal request body")
			}
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create request")
		}
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.environment != "" {
		req.Header.Set("X-Studio-Env", c.environment)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "HTTP request failed")
		}
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	if span != nil && c.spanHelper != nil {
		c.spanHelper.RecordHTTPStatus(ctx, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Operation:  operation,
			Body:       string(data),
		}
	}

	return data, nil
}

// Status reports the connection state for the health surface.
func (c *Client) Status() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"connected":   c.connected,
		"base_url":    c.baseURL,
		"environment": c.environment,
		"last_error": func() string {
			if c.lastError != nil {
				return c.lastError.Error()
			}
			return ""
		}(),
	}
}
