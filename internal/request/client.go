// Package request executes HTTP requests with bounded retries on transient
// network failures. Both the Joplin and the AnkiConnect clients share it.
package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/starford/decksync/internal/apperr"
)

// DefaultMaxAttempts bounds the number of tries per call.
const DefaultMaxAttempts = 5

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Spec describes one logical request.
type Spec struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Client executes Specs under a retry Policy.
type Client struct {
	name        string
	http        Doer
	policy      Policy
	maxAttempts int
	logger      *slog.Logger
	sleep       func(context.Context, time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying transport.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithMaxAttempts sets the attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithLogger sets the logger used for attempt and failure records.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSleep replaces the pause between attempts (tests).
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// New creates a Client. name tags log records and error messages.
func New(name string, policy Policy, opts ...Option) *Client {
	c := &Client{
		name:        name,
		http:        http.DefaultClient,
		policy:      policy,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute sends spec, retrying retryable failures. It returns the response
// body, a *apperr.ProtocolError for non-2xx responses, or a
// *apperr.RequestFailure once all attempts are spent.
func (c *Client) Execute(ctx context.Context, spec Spec) ([]byte, error) {
	var last error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.logger.Debug("request: attempt",
			slog.String("client", c.name),
			slog.String("method", spec.Method),
			slog.String("url", redact(spec.URL)),
			slog.Int("attempt", attempt))

		body, err := c.try(ctx, spec, attempt)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !Retryable(err) {
			return nil, err
		}
		last = err
		c.logger.Debug("request: retryable failure",
			slog.String("client", c.name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if attempt < c.maxAttempts {
			if err := c.sleep(ctx, c.policy.Backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}

	failure := &apperr.RequestFailure{Attempts: c.maxAttempts, Last: last}
	c.logger.Error("request: giving up",
		slog.String("client", c.name),
		slog.String("method", spec.Method),
		slog.String("url", redact(spec.URL)),
		slog.String("error", failure.Error()))
	return nil, failure
}

func (c *Client) try(ctx context.Context, spec Spec, attempt int) ([]byte, error) {
	if d := c.policy.Timeout(attempt); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var body io.Reader
	if spec.Body != nil {
		body = bytes.NewReader(spec.Body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.name, err)
	}
	for k, vs := range spec.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperr.ProtocolError{
			Op:      c.name + " " + spec.Method + " " + redact(spec.URL),
			Status:  resp.StatusCode,
			Message: truncate(string(data), 200),
		}
	}
	return data, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
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
