// Package httpclient is a small JSON-over-HTTP client with optional Bearer
// auth and bounded retries. It pulls telemetry from remote agents and pushes
// prediction alerts to webhooks.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const maxErrorBody = 512

// Client issues JSON requests against a base URL.
type Client struct {
	baseURL    string
	token      string
	headers    map[string]string
	retries    int
	backoff    time.Duration
	httpClient *http.Client
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string // first 512 bytes
	retryAfter string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpclient: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the per-request timeout. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHeaders sets extra headers sent on every request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) { c.headers = h }
}

// WithRetries sets how many times a 429 or 5xx response is retried and the
// base delay, which doubles per attempt. Default: 2 retries from 250ms.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.backoff = backoff
	}
}

// New creates a Client rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		retries:    2,
		backoff:    250 * time.Millisecond,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON sends a GET request and unmarshals the JSON response into dest.
// Non-2xx responses return *StatusError. 429 (honouring Retry-After) and
// 5xx responses are retried; other failures are returned immediately.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, dest any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, fullURL, nil, dest)
}

// PostJSON marshals payload and POSTs it, with the same retry policy as
// GetJSON. A nil dest discards the response body.
func (c *Client) PostJSON(ctx context.Context, path string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("httpclient: marshal: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.baseURL+path, body, dest)
}

func (c *Client) do(ctx context.Context, method, fullURL string, payload []byte, dest any) error {
	var lastErr *StatusError
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(c.delay(attempt, lastErr))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
		if err != nil {
			return fmt.Errorf("httpclient: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("httpclient: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("httpclient: read body: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if dest == nil {
				return nil
			}
			if err := json.Unmarshal(body, dest); err != nil {
				return fmt.Errorf("httpclient: decode: %w", err)
			}
			return nil
		}

		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			statusErr.retryAfter = resp.Header.Get("Retry-After")
			lastErr = statusErr
		case resp.StatusCode >= 500:
			lastErr = statusErr
		default:
			return statusErr
		}
	}
	return lastErr
}

func (c *Client) delay(attempt int, lastErr *StatusError) time.Duration {
	if lastErr != nil && lastErr.retryAfter != "" {
		if secs, err := strconv.Atoi(lastErr.retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.backoff << (attempt - 1)
}
