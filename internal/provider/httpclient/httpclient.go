// Package httpclient is the JSON-over-HTTP client shared by the remote
// embedding and text-generation providers.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/crimson-sun/watchdog/internal/telemetry"
)

// Client sends JSON requests to one base URL with fixed headers.
type Client struct {
	baseURL    string
	header     http.Header
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
	retryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithBearer sends "Authorization: Bearer <token>".
func WithBearer(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Set(key, value) }
}

// WithMaxRetries sets how many times 429 and 5xx responses are retried.
// The default is 0.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff sets the first retry delay; later retries double it.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		header:     http.Header{"Content-Type": []string{"application/json"}},
		httpClient: &http.Client{Timeout: 30 * time.Second, Transport: telemetry.WrapTransport(nil)},
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON marshals body, posts it to path and unmarshals the response into
// dest. Non-2xx responses return *APIError.
func (c *Client) PostJSON(ctx context.Context, path string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, dest)
}

// GetJSON fetches path and unmarshals the response into dest.
func (c *Client) GetJSON(ctx context.Context, path string, dest any) error {
	return c.do(ctx, http.MethodGet, path, nil, dest)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, dest any) error {
	var lastErr *APIError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(c.delay(attempt, lastErr))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		for k, v := range c.header {
			req.Header[k] = v
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if dest == nil {
				return nil
			}
			if err := json.Unmarshal(data, dest); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		if len(data) > 512 {
			data = data[:512]
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if !apiErr.Temporary() {
			return apiErr
		}
		apiErr.retryAfter = resp.Header.Get("Retry-After")
		lastErr = apiErr
	}
	return lastErr
}

// delay honors Retry-After seconds on 429, else doubles the base backoff.
func (c *Client) delay(attempt int, last *APIError) time.Duration {
	if last != nil && last.StatusCode == http.StatusTooManyRequests && last.retryAfter != "" {
		if secs, err := strconv.Atoi(last.retryAfter); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.backoff << (attempt - 1)
}
