// Package gateway holds the HTTP plumbing shared by the embedding and chat
// clients: JSON POSTs with request pacing and a bounded retry.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseRetryDelay = 200 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "upstream returned " + e.Status
	}
	return fmt.Sprintf("upstream returned %s: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth a second attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client posts JSON to an upstream API. MaxRetries bounds the extra attempts
// made after a network error, a 429 or a 5xx.
type Client struct {
	HTTP       *http.Client
	Headers    map[string]string
	MaxRetries int
	Limiter    *rate.Limiter
	Logger     *zap.Logger
}

// NewClient builds a client with the given timeout. requestsPerMinute <= 0 disables pacing.
func NewClient(timeout time.Duration, requestsPerMinute int, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		HTTP:       &http.Client{Timeout: timeout},
		Headers:    map[string]string{},
		MaxRetries: 1,
		Logger:     logger,
	}
	if requestsPerMinute > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
	}
	return c
}

// PostJSON sends body to url and returns the raw response payload.
func (c *Client) PostJSON(ctx context.Context, url string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt-1, lastErr)
			c.Logger.Debug("retrying upstream request",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		payload, err := c.post(ctx, url, data)
		if err == nil {
			return payload, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if se, ok := err.(*retryAfterError); ok {
			if !se.StatusError.Retryable() {
				return nil, se.StatusError
			}
		}
	}
	if se, ok := lastErr.(*retryAfterError); ok {
		return nil, se.StatusError
	}
	return nil, lastErr
}

type retryAfterError struct {
	*StatusError
	after time.Duration
}

func (c *Client) post(ctx context.Context, url string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		se := &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: truncate(string(payload), 512)}
		return nil, &retryAfterError{StatusError: se, after: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	return payload, nil
}

func retryDelay(attempt int, lastErr error) time.Duration {
	if ra, ok := lastErr.(*retryAfterError); ok && ra.after > 0 {
		if ra.after > maxRetryDelay {
			return maxRetryDelay
		}
		return ra.after
	}
	if attempt < 0 {
		attempt = 0
	}
	// exponential backoff capped at 5s
	d := baseRetryDelay << attempt
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
