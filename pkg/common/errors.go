package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConfiguration      = errors.New("configuration error")
	ErrEmptyResult        = errors.New("empty result")
	ErrMissingDomain      = errors.New("company without domain")
	ErrRateLimited        = errors.New("rate limited")
	ErrProviderTransient  = errors.New("provider transient failure")
	ErrProviderData       = errors.New("malformed provider data")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
)

// RateLimitedError is returned when a provider or a local limiter refuses a
// call for longer than the caller is willing to wait.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// ProviderStatusError carries a non-2xx status from an external provider.
// 5xx statuses unwrap to ErrProviderTransient.
type ProviderStatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProviderStatusError) Unwrap() error {
	if e.StatusCode >= 500 {
		return ErrProviderTransient
	}
	return nil
}
