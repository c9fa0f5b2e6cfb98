// Package agent provides the HTTP client used to invoke remote agent
// capabilities over their REST endpoints.
//
// Every capability exposes the same invoke shape: a JSON POST carrying the
// stage payload, answered with a JSON body that includes per-call token usage.
// The client hides transport concerns from the pipeline: endpoint resolution,
// bearer credentials, per-capability rate limiting, per-attempt timeouts, and
// retries with exponential backoff for transient failures. Transport and
// remote failures are reported through domain.AgentInvocationResult rather
// than Go errors so callers branch on a single shape.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/clearlane/trade-confirmation-service/internal/config"
	"github.com/clearlane/trade-confirmation-service/internal/domain"
	"github.com/clearlane/trade-confirmation-service/internal/observability"
)

// maxResponseBytes caps how much of a capability response body is read.
const maxResponseBytes = 10 << 20 // 10MB

// Failure codes reported on AgentInvocationError. HTTP failures use the
// "http_<status>" form instead.
const (
	CodeEndpointNotConfigured = "endpoint_not_configured"
	CodeInvalidPayload        = "invalid_payload"
	CodeInvalidResponse       = "invalid_response"
	CodeNetworkError          = "network_error"
	CodeTimeout               = "timeout"
	CodeRateLimited           = "rate_limited"
	CodeCanceled              = "canceled"
)

// Invoker invokes remote agent capabilities by name.
type Invoker interface {
	Invoke(ctx context.Context, capability string, payload interface{}, correlationID string) domain.AgentInvocationResult
}

// Client is an HTTP implementation of Invoker.
//
// Retries apply only to transient failures (network errors, timeouts, 429 and
// 5xx responses). Client errors and malformed response bodies fail the call
// immediately. Each retry waits min(base*2^n + jitter, max), where a
// Retry-After header can lengthen but never shorten the wait.
type Client struct {
	httpClient *http.Client
	cfg        config.AgentsConfig
	limiters   map[string]*RateLimiter
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

var _ Invoker = (*Client)(nil)

// NewClient creates an agent client from configuration. The metrics registry
// must be non-nil; pass the shared observability.Metrics instance.
func NewClient(cfg config.AgentsConfig, logger zerolog.Logger, metrics *observability.Metrics) *Client {
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = 30 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 1 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}

	// One limiter per capability so a throttled capability does not starve
	// the others.
	limiters := make(map[string]*RateLimiter, len(cfg.Endpoints))
	for capability := range cfg.Endpoints {
		limiters[capability] = NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.InvokeTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cfg:      cfg,
		limiters: limiters,
		logger:   logger.With().Str("component", "agent_client").Logger(),
		metrics:  metrics,
	}
}

// attemptFailure captures the outcome of one failed attempt so the retry loop
// can decide whether and how long to wait.
type attemptFailure struct {
	code       string
	message    string
	retryable  bool
	errorType  string
	retryAfter time.Duration
}

// payloadEnvelope extracts the token usage every capability reports alongside
// its stage-specific fields.
type payloadEnvelope struct {
	TokenUsage domain.TokenUsage `json:"token_usage"`
}

// Invoke calls the named capability with the given payload. The result always
// comes back as a value: remote and transport failures set Success=false and
// populate Error, they are never returned as Go errors.
func (c *Client) Invoke(ctx context.Context, capability string, payload interface{}, correlationID string) domain.AgentInvocationResult {
	start := time.Now()

	endpoint, ok := c.cfg.EndpointFor(capability)
	if !ok {
		c.logger.Error().
			Str("capability", capability).
			Str("correlation_id", correlationID).
			Msg("no endpoint configured for capability")
		return failedResult(CodeEndpointNotConfigured,
			fmt.Sprintf("no endpoint configured for capability %q", capability), false, 0, start)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return failedResult(CodeInvalidPayload,
			fmt.Sprintf("failed to encode payload for %s: %v", capability, err), false, 0, start)
	}

	var last attemptFailure
	attempts := 0
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.RecordAgentRetry(capability)
			delay := c.backoffDelay(attempt - 1)
			if last.retryAfter > delay {
				delay = last.retryAfter
			}
			if err := waitForRetry(ctx, delay); err != nil {
				return failedResult(CodeCanceled,
					fmt.Sprintf("invocation of %s canceled while waiting to retry: %v", capability, err),
					false, attempts, start)
			}
		}

		if err := c.limiters[capability].Wait(ctx); err != nil {
			return failedResult(CodeCanceled,
				fmt.Sprintf("invocation of %s canceled by rate limiter: %v", capability, err),
				false, attempts, start)
		}

		attempts++
		result, failure := c.attempt(ctx, capability, endpoint, body, correlationID, attempt)
		if failure == nil {
			result.LatencyMS = time.Since(start).Milliseconds()
			return *result
		}

		last = *failure
		if !failure.retryable {
			break
		}
	}

	c.metrics.RecordAgentRequestFailed(capability, last.errorType)
	c.logger.Error().
		Str("capability", capability).
		Str("correlation_id", correlationID).
		Str("error_code", last.code).
		Int("attempts", attempts).
		Msg("capability invocation failed")

	return failedResult(last.code, last.message, last.retryable, attempts, start)
}

// attempt performs a single HTTP round trip and classifies the outcome.
func (c *Client) attempt(ctx context.Context, capability, endpoint string, body []byte, correlationID string, attempt int) (*domain.AgentInvocationResult, *attemptFailure) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.InvokeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &attemptFailure{
			code:      CodeInvalidPayload,
			message:   fmt.Sprintf("failed to build request for %s: %v", capability, err),
			errorType: CodeInvalidPayload,
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	logger := observability.WithCapabilityContext(c.logger, capability, attempt).
		With().Str("correlation_id", correlationID).Logger()

	attemptStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(attemptStart)
	c.metrics.RecordAgentRequest(capability, latency.Seconds())

	if err != nil {
		failure := classifyTransportError(ctx, capability, err)
		logger.Warn().
			Int64("latency_ms", latency.Milliseconds()).
			Str("error_code", failure.code).
			Err(err).
			Msg("capability attempt failed")
		return nil, failure
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		failure := &attemptFailure{
			code:      CodeNetworkError,
			message:   fmt.Sprintf("failed to read response from %s: %v", capability, err),
			retryable: true,
			errorType: CodeNetworkError,
		}
		logger.Warn().
			Int64("latency_ms", latency.Milliseconds()).
			Err(err).
			Msg("capability attempt failed")
		return nil, failure
	}

	if failure := classifyStatusCode(capability, resp, respBody); failure != nil {
		if failure.code == CodeRateLimited {
			c.metrics.RecordAgentRateLimited(capability)
		}
		logger.Warn().
			Int("status_code", resp.StatusCode).
			Int64("latency_ms", latency.Milliseconds()).
			Str("error_code", failure.code).
			Msg("capability attempt failed")
		return nil, failure
	}

	var envelope payloadEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		failure := &attemptFailure{
			code:      CodeInvalidResponse,
			message:   fmt.Sprintf("capability %s returned an unparseable response: %v", capability, err),
			errorType: CodeInvalidResponse,
		}
		logger.Warn().
			Int("status_code", resp.StatusCode).
			Int64("latency_ms", latency.Milliseconds()).
			Str("error_code", failure.code).
			Msg("capability attempt failed")
		return nil, failure
	}

	logger.Debug().
		Int("status_code", resp.StatusCode).
		Int64("latency_ms", latency.Milliseconds()).
		Msg("capability attempt succeeded")

	return &domain.AgentInvocationResult{
		Success:    true,
		Payload:    respBody,
		TokenUsage: envelope.TokenUsage,
	}, nil
}

// classifyTransportError maps request errors to failure classes. A deadline on
// the attempt is transient; cancellation of the parent context is not.
func classifyTransportError(parent context.Context, capability string, err error) *attemptFailure {
	if parent.Err() != nil {
		return &attemptFailure{
			code:      CodeCanceled,
			message:   fmt.Sprintf("invocation of %s canceled: %v", capability, parent.Err()),
			errorType: CodeCanceled,
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &attemptFailure{
			code:      CodeTimeout,
			message:   fmt.Sprintf("invocation of %s timed out", capability),
			retryable: true,
			errorType: CodeTimeout,
		}
	}

	return &attemptFailure{
		code:      CodeNetworkError,
		message:   fmt.Sprintf("request to %s failed: %v", capability, err),
		retryable: true,
		errorType: CodeNetworkError,
	}
}

// classifyStatusCode maps non-2xx responses to failure classes. Returns nil
// for successful status codes.
func classifyStatusCode(capability string, resp *http.Response, body []byte) *attemptFailure {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &attemptFailure{
			code:       CodeRateLimited,
			message:    fmt.Sprintf("capability %s throttled the request: %s", capability, errorMessage(resp.StatusCode, body)),
			retryable:  true,
			errorType:  CodeRateLimited,
			retryAfter: retryAfterDelay(resp),
		}
	case resp.StatusCode >= 500:
		return &attemptFailure{
			code:      fmt.Sprintf("http_%d", resp.StatusCode),
			message:   fmt.Sprintf("capability %s returned %d: %s", capability, resp.StatusCode, errorMessage(resp.StatusCode, body)),
			retryable: true,
			errorType: "server_error",
		}
	case resp.StatusCode >= 400:
		return &attemptFailure{
			code:      fmt.Sprintf("http_%d", resp.StatusCode),
			message:   fmt.Sprintf("capability %s rejected the request with %d: %s", capability, resp.StatusCode, errorMessage(resp.StatusCode, body)),
			errorType: "client_error",
		}
	}
	return nil
}

// errorMessage extracts a failure description from an error response body,
// falling back to the raw body and then the status text.
func errorMessage(statusCode int, body []byte) string {
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	if len(body) > 0 {
		return string(body)
	}
	return http.StatusText(statusCode)
}

// backoffDelay computes the wait before the next attempt after failed attempt
// n (zero-based): min(base*2^n + jitter, max).
func (c *Client) backoffDelay(n int) time.Duration {
	maxDelay := c.cfg.RetryMaxDelay

	// Past 16 doublings the shift result no longer matters.
	if n > 16 {
		return maxDelay
	}
	delay := c.cfg.RetryBaseDelay * time.Duration(1<<n)
	if c.cfg.RetryJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(c.cfg.RetryJitter)))
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// retryAfterDelay parses a Retry-After header as delay seconds or an HTTP
// date. Returns zero when absent or unusable.
func retryAfterDelay(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// waitForRetry sleeps for the given delay, aborting early on cancellation.
func waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func failedResult(code, message string, retryable bool, attempts int, start time.Time) domain.AgentInvocationResult {
	return domain.AgentInvocationResult{
		Success: false,
		Error: &domain.AgentInvocationError{
			Code:      code,
			Message:   message,
			Retryable: retryable,
			Attempts:  attempts,
		},
		LatencyMS: time.Since(start).Milliseconds(),
	}
}
