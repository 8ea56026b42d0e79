package fetch

import (
	"context"
	"log"
	"time"
)

// Options configure a retrying Client.
type Options struct {
	// Delay is applied before every attempt (rate limiting).
	Delay time.Duration
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// MaxRetries is the total attempt budget. Zero means a single
	// attempt with no retry.
	MaxRetries int
	// Backoff is the base backoff, doubled after each failed attempt.
	// Defaults to one second.
	Backoff time.Duration
}

// Client wraps a Driver with rate limiting, per-attempt timeouts and
// exponential-backoff retry of transient failures.
type Client struct {
	driver Driver
	opts   Options
}

func NewClient(driver Driver, opts Options) *Client {
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &Client{driver: driver, opts: opts}
}

func (c *Client) Driver() Driver { return c.driver }

// Navigate loads a page through the driver, retrying transient failures.
func (c *Client) Navigate(ctx context.Context, url string) (string, error) {
	var html string
	err := c.do(ctx, "navigate", url, func(ctx context.Context) error {
		var err error
		html, err = c.driver.Navigate(ctx, url)
		return err
	})
	return html, err
}

// Download fetches a binary resource through the driver, retrying
// transient failures.
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	var body []byte
	var contentType string
	err := c.do(ctx, "download", url, func(ctx context.Context) error {
		var err error
		body, contentType, err = c.driver.Download(ctx, url)
		return err
	})
	return body, contentType, err
}

func (c *Client) do(ctx context.Context, op, url string, fn func(ctx context.Context) error) error {
	attempts := c.opts.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sleepCtx(ctx, c.opts.Delay); err != nil {
			return &Error{Kind: KindPermanent, Op: op, URL: url, Attempts: attempt - 1, Err: err}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if c.opts.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return nil
		}
		lastErr = err

		kind := KindOf(err)
		if kind != KindTransient {
			log.Printf("%s %s: %s failure: %v", op, url, kind, err)
			return &Error{Kind: kind, Op: op, URL: url, Attempts: attempt, Err: unwrapped(err)}
		}

		log.Printf("%s %s: attempt %d/%d failed: %v", op, url, attempt, attempts, err)
		if attempt < attempts {
			backoff := c.opts.Backoff << (attempt - 1)
			if err := sleepCtx(ctx, backoff); err != nil {
				return &Error{Kind: KindPermanent, Op: op, URL: url, Attempts: attempt, Err: err}
			}
		}
	}

	log.Printf("%s %s: giving up after %d attempts: %v", op, url, attempts, lastErr)
	return &Error{Kind: KindTransient, Op: op, URL: url, Attempts: attempts, Err: unwrapped(lastErr)}
}

func unwrapped(err error) error {
	if fe, ok := err.(*Error); ok && fe.Err != nil {
		return fe.Err
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
