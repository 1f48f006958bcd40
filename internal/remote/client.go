// Package remote provides a JSON HTTP client whose failures are classified
// by apperrors and retried by the retry package.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fclairamb/agentstate/internal/apperrors"
	"github.com/fclairamb/agentstate/internal/retry"
)

const (
	// HTTP client configuration.
	httpTimeout = 30 * time.Second // Timeout for HTTP requests

	// Default pacing between requests (~3 requests/second).
	defaultRateInterval = 350 * time.Millisecond

	// HTTP status codes.
	httpStatusBadRequest = 400 // First status code indicating an error

	// maxErrorBody bounds how much of an error response is kept for diagnostics.
	maxErrorBody = 512
)

// Client calls a JSON API with rate limiting and retries.
type Client struct {
	httpClient  *http.Client
	token       string
	rateLimiter *rate.Limiter
	baseURL     string
	model       string
	retry       retry.Config
	logger      *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = l
	}
}

// WithRateInterval sets the minimum interval between requests. Zero disables pacing.
func WithRateInterval(d time.Duration) ClientOption {
	return func(client *Client) {
		client.rateLimiter = newLimiter(d)
	}
}

// WithRetryConfig sets the retry policy for every request.
func WithRetryConfig(cfg retry.Config) ClientOption {
	return func(client *Client) {
		client.retry = cfg
	}
}

// WithAIModel marks the endpoint as an AI service serving model. Failures are
// then reported as AI-service errors, for which 529 (overloaded) is transient.
func WithAIModel(model string) ClientOption {
	return func(client *Client) {
		client.model = model
	}
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	client := &Client{
		httpClient:  &http.Client{Timeout: httpTimeout},
		token:       token,
		rateLimiter: newLimiter(defaultRateInterval),
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		retry:       retry.DefaultConfig(),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.retry.Logger == nil {
		client.retry.Logger = client.logger
	}

	return client
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Do sends a request and decodes the JSON response into result (if non-nil).
// Transient failures are retried according to the client's retry policy.
func (c *Client) Do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = data
	}

	return retry.Run(ctx, c.retry, func(ctx context.Context) error {
		return c.doOnce(ctx, method, path, payload, result)
	})
}

// Ping checks that the API answers successfully on path.
func (c *Client) Ping(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodGet, path, nil, nil)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, result any) error {
	// Wait for rate limiter
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return apperrors.Config(fmt.Sprintf("create request %s %s: %v", method, url, err))
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.DebugContext(ctx, "API request", "method", method, "path", path)
	startTime := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Network(url, err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil {
		c.logger.WarnContext(ctx, "failed to close response body", "error", closeErr)
	}
	if err != nil {
		return apperrors.Network(url, err)
	}

	c.logger.DebugContext(ctx, "API response",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(startTime))

	if resp.StatusCode >= httpStatusBadRequest {
		return c.statusError(resp.StatusCode, path, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// apiError is the usual shape of a JSON error body.
type apiError struct {
	Message string `json:"message"`
	Error   struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) statusError(status int, path string, body []byte) error {
	message := errorMessage(body)
	if c.model != "" {
		err := apperrors.AI(status, c.model, message, nil)
		err.Endpoint = path
		return err
	}
	return apperrors.Remote(status, path, message)
}

func errorMessage(body []byte) string {
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}

	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}
