package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/metrics"
	"github.com/OFFIS-RIT/atlas/pkg/ratelimit"
)

const (
	DefaultTimeout    = 15 * time.Second
	defaultRetryDelay = 500 * time.Millisecond
	maxErrorBody      = 512

	rateLimitBackoff    = 100 * time.Millisecond
	maxRateLimitBackoff = time.Second
)

// Client performs rate-limited JSON calls for one provider. Transient
// failures are retried once. A provider 429 is waited out while it fits in
// the max-wait ceiling.
type Client struct {
	provider   string
	http       *http.Client
	limiter    *ratelimit.Limiter
	maxWait    time.Duration
	retryDelay time.Duration
}

func NewClient(provider string, cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return &Client{
		provider:   provider,
		http:       hc,
		limiter:    cfg.Limiter,
		maxWait:    cfg.MaxWait,
		retryDelay: delay,
	}
}

// Request describes one provider call. Body is JSON-encoded when non-nil.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any
}

// DoJSON sends req and decodes a 2xx response into out.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	var body []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.provider, err)
		}
		body = b
	}

	maxWait := c.maxWait
	if maxWait <= 0 {
		maxWait = ratelimit.DefaultMaxWait
	}
	deadline := time.Now().Add(maxWait)
	backoff := rateLimitBackoff

	for {
		_, err := util.RetryWithBackoff(ctx, util.Backoff{
			Attempts:  2,
			Delay:     c.retryDelay,
			Retryable: func(err error) bool { return errors.Is(err, common.ErrProviderTransient) },
		}, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.do(ctx, req, body, out)
		})

		var throttled *throttledError
		if !errors.As(err, &throttled) {
			return err
		}
		wait := throttled.RetryAfter
		if wait <= 0 {
			wait = backoff
			backoff = min(backoff*2, maxRateLimitBackoff)
		}
		if time.Until(deadline) < wait {
			metrics.Default().RateLimitedTotal.WithLabelValues(c.provider).Inc()
			return throttled.RateLimitedError
		}
		if err := util.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, req Request, body []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.WaitAndAcquire(ctx, 1, c.maxWait); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.provider, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %v", c.provider, common.ErrProviderTransient, classify(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &throttledError{&common.RateLimitedError{
			Provider:   c.provider,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &common.ProviderStatusError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       string(snippet),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: %v", c.provider, common.ErrProviderData, err)
	}
	return nil
}

// throttledError marks a 429 from the provider itself, as opposed to the
// local limiter giving up.
type throttledError struct {
	*common.RateLimitedError
}

func (e *throttledError) Unwrap() error { return e.RateLimitedError }

func classify(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("timeout: %w", err)
	}
	return err
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
