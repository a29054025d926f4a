// Package webclient provides the rate-limited, retrying HTTP client shared by
// all fetch jobs.
//
// Every call waits on a global cooldown gate before consulting the token
// bucket, so a failing upstream pauses the whole fleet of callers instead of
// just the call that failed.
package webclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/chrismostert/schraper/internal/logger"
)

const (
	// DefaultCooldown is the fleet-wide pause applied when a request fails
	// and will be retried.
	DefaultCooldown = 5 * time.Minute

	maxErrorBodyBytes = 4096
)

// ErrRetriesExhausted is returned when a request failed on every attempt.
var ErrRetriesExhausted = errors.New("retries exhausted")

// DecodeError indicates the upstream responded successfully but the payload
// could not be parsed into the expected shape. Callers use this to tell
// "entity legitimately absent" apart from transport failures.
type DecodeError struct {
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return "decode response: " + e.Err.Error()
}

// Unwrap returns the underlying decode error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is (or wraps) a payload-decode failure.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Config configures a Client.
type Config struct {
	// RequestsPerSecond is the token-bucket quota. Zero disables rate limiting.
	RequestsPerSecond int
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// Cooldown is the fleet-wide pause applied between failed attempts.
	// Defaults to DefaultCooldown.
	Cooldown time.Duration
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

// Client wraps outbound HTTP calls with rate limiting, bounded retries and a
// global failure cooldown. The limiter and cooldown gate are shared by every
// caller of one Client, so it is safe (and intended) to use a single Client
// from many goroutines.
type Client struct {
	http       *http.Client
	limiter    *rate.Limiter
	gate       *cooldownGate
	maxRetries int
	cooldown   time.Duration
	logger     logger.Logger
}

// New creates a Client from the given configuration.
func New(cfg Config, log logger.Logger) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond)
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Client{
		http:       newHTTPClient(cfg.Timeout),
		limiter:    limiter,
		gate:       &cooldownGate{},
		maxRetries: cfg.MaxRetries,
		cooldown:   cooldown,
		logger:     log,
	}
}

// Get issues a GET request and returns the response body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil)
}

// Post issues a POST request with a JSON body and returns the response body.
func (c *Client) Post(ctx context.Context, rawURL string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, rawURL, payload)
}

// GetJSON issues a GET request and decodes the response into out.
// Decode failures are returned as *DecodeError; transport failures are not.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	payload, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// PostJSON issues a POST request with a JSON body and decodes the response
// into out. Decode failures are returned as *DecodeError.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body, out any) error {
	payload, err := c.Post(ctx, rawURL, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// do runs the attempt loop: cooldown gate, rate limiter, request. A failed
// attempt that will be retried trips the gate so every caller of this Client
// pauses until the cooldown clears.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.gate.wait(ctx); err != nil {
			return nil, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		payload, err := c.attempt(ctx, method, rawURL, body)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		if attempt < c.maxRetries {
			c.logger.Warn("request failed, pausing all traffic",
				logger.String("url", rawURL),
				logger.Int("attempt", attempt+1),
				logger.Duration("cooldown", c.cooldown),
				logger.Error(err),
			)
			c.gate.trip(c.cooldown)
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.maxRetries+1, lastErr)
}

// attempt performs a single HTTP round trip. A non-2xx status is treated the
// same as a transport failure.
func (c *Client) attempt(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return payload, nil
}
