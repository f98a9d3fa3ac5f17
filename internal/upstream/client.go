package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apierrors "gemini-relay/internal/errors"
)

const (
	// DefaultBaseURL is the Gemini API host.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	generateOp = "generateContent"
	streamOp   = "streamGenerateContent"

	// maxErrorBody bounds how much of an upstream error body is retained.
	maxErrorBody = 8 << 10
)

// Config holds the knobs of the resilient client.
type Config struct {
	// BaseURL is the upstream host; DefaultBaseURL when empty.
	BaseURL string
	// Timeout bounds each non-streaming attempt end to end.
	Timeout time.Duration
	// MaxRetries bounds retries per counter; total attempts per counter is
	// MaxRetries+1.
	MaxRetries int
	// BackoffBase and BackoffCap shape the delay min(base<<attempt, cap).
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// RetryStatuses is the set of HTTP status codes retried with backoff.
	RetryStatuses map[int]bool
}

// Client issues Gemini generateContent calls with per-attempt timeout,
// status-code-aware retry, and exponential backoff. The API key travels in
// the x-goog-api-key header only, never in the URL.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	streamClient *http.Client
}

// New constructs a Client, filling zero config fields with defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 16 * time.Second
	}
	if cfg.RetryStatuses == nil {
		cfg.RetryStatuses = RetryStatusSet(nil)
	}

	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		// Streaming requests carry no client timeout: once the stream is
		// open it runs to upstream completion, and the request context
		// still applies.
		streamClient: &http.Client{Transport: transport},
	}
}

// RetryStatusSet builds the retryable-status set from a code list, falling
// back to the default set (forbidden, rate-limited, server errors,
// unavailable, gateway timeout) when the list is empty.
func RetryStatusSet(codes []int) map[int]bool {
	if len(codes) == 0 {
		codes = []int{
			http.StatusForbidden,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}

// Backoff returns min(base*2^attempt, cap) for attempt >= 0.
func Backoff(base time.Duration, attempt int, cap time.Duration) time.Duration {
	if attempt >= 32 {
		return cap
	}
	d := base << uint(attempt)
	if d > cap || d <= 0 {
		return cap
	}
	return d
}

// GenerateContent sends a non-streaming generation request and returns the
// raw upstream response body.
func (c *Client) GenerateContent(ctx context.Context, model, rawQuery, apiKey string, body []byte) ([]byte, error) {
	resp, err := c.do(ctx, c.endpointURL(model, rawQuery, false), apiKey, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return raw, nil
}

// StreamGenerateContent sends a streaming generation request and returns the
// open event-stream body. The caller owns closing it.
func (c *Client) StreamGenerateContent(ctx context.Context, model, rawQuery, apiKey string, body []byte) (io.ReadCloser, error) {
	resp, err := c.do(ctx, c.endpointURL(model, rawQuery, true), apiKey, body, true)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) endpointURL(model, rawQuery string, stream bool) string {
	op := generateOp
	if stream {
		op = streamOp
	}
	u := fmt.Sprintf("%s/v1beta/models/%s:%s", strings.TrimRight(c.cfg.BaseURL, "/"), model, op)
	if rawQuery != "" {
		// Caller's original query string is appended verbatim.
		u += "?" + rawQuery
	}
	return u
}

// do performs one logical upstream call as an explicit retry loop. Status
// retries and network retries keep independent attempt counters; a request
// retried for a bad status can later fail with a network error and restart
// its own counter, so callers bound total wall clock via the per-attempt
// timeout.
func (c *Client) do(ctx context.Context, url, apiKey string, body []byte, stream bool) (*http.Response, error) {
	statusAttempts := 0
	networkAttempts := 0

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", apiKey)
		if stream {
			req.Header.Set("Accept", "text/event-stream")
		}

		client := c.httpClient
		if stream {
			client = c.streamClient
		}

		resp, err := client.Do(req)
		if err != nil {
			if networkAttempts >= c.cfg.MaxRetries {
				return nil, &apierrors.UpstreamError{
					Attempts: networkAttempts + 1,
					Cause:    err,
				}
			}
			delay := Backoff(c.cfg.BackoffBase, networkAttempts, c.cfg.BackoffCap)
			slog.Debug("retrying upstream call after transport error",
				"error", err, "attempt", networkAttempts, "delay", delay.String())
			networkAttempts++
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, &apierrors.UpstreamError{Attempts: networkAttempts, Cause: err}
			}
			continue
		}

		if resp.StatusCode < 400 {
			return resp, nil
		}

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		if c.cfg.RetryStatuses[resp.StatusCode] && statusAttempts < c.cfg.MaxRetries {
			delay := Backoff(c.cfg.BackoffBase, statusAttempts, c.cfg.BackoffCap)
			slog.Debug("retrying upstream call after retryable status",
				"status", resp.StatusCode, "attempt", statusAttempts, "delay", delay.String())
			statusAttempts++
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, &apierrors.UpstreamError{Attempts: statusAttempts, Cause: err}
			}
			continue
		}

		return nil, &apierrors.UpstreamError{
			Status:   resp.StatusCode,
			Body:     string(raw),
			Attempts: statusAttempts + 1,
		}
	}
}

// sleepCtx sleeps for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
