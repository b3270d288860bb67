package inference

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 1000 * time.Millisecond
)

// Client wraps a Backend with the retry policy: up to maxAttempts
// attempts with exponential backoff (multiplier 1.5, starting at
// initialBackoff). Safe for concurrent use if the backend is.
type Client struct {
	backend        Backend
	maxAttempts    int
	initialBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMaxAttempts raises or lowers the attempt budget. Profiles with
// larger average payloads may want more than the default 3.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithInitialBackoff sets the delay before the second attempt.
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.initialBackoff = d
		}
	}
}

// NewClient creates a retrying client around backend.
func NewClient(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend:        backend,
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Infer runs the backend until it succeeds, the attempt budget runs
// out, or ctx is done. Access-denied errors short-circuit immediately;
// everything else is retried. On exhaustion the last underlying error
// is wrapped in ErrUnavailable.
func (c *Client) Infer(ctx context.Context, req Request) (*Result, error) {
	delay := c.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		res, err := c.backend.Infer(ctx, req)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrAccessDenied) {
			return nil, err
		}

		lastErr = err
		if attempt == c.maxAttempts {
			break
		}
		log.Printf("inference attempt %d/%d failed, retrying in %s: %v", attempt, c.maxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v (after %d attempts)", ErrUnavailable, ctx.Err(), attempt)
		case <-time.After(delay):
		}
		delay = delay * 3 / 2
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
