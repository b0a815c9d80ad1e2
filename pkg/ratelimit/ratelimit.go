// Package ratelimit fronts every external provider with a token bucket. A
// shared backend coordinates several processes; when it fails the limiter
// keeps working on its local bucket.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/metrics"
)

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = time.Second

	// DefaultMaxWait bounds WaitAndAcquire when the caller passes zero.
	DefaultMaxWait = 30 * time.Second
)

// Backend is a shared token store.
type Backend interface {
	Take(ctx context.Context, key string, tokens int, p Policy) (bool, error)
}

// Limiter is the token bucket of one provider.
type Limiter struct {
	name   string
	policy Policy
	local  *rate.Limiter
	shared Backend

	mu       sync.Mutex
	degraded bool
}

// New creates a limiter. shared may be nil.
func New(name string, p Policy, shared Backend) *Limiter {
	if p.Tokens <= 0 {
		p.Tokens = 1
	}
	if p.Window <= 0 {
		p.Window = time.Second
	}
	every := p.Window / time.Duration(p.Tokens)
	return &Limiter{
		name:   name,
		policy: p,
		local:  rate.NewLimiter(rate.Every(every), p.Tokens),
		shared: shared,
	}
}

func (l *Limiter) Name() string { return l.name }
func (l *Limiter) Policy() Policy { return l.policy }

// Acquire takes tokens without waiting and reports whether it succeeded.
func (l *Limiter) Acquire(ctx context.Context, tokens int) bool {
	if tokens <= 0 {
		return true
	}
	if l.shared != nil {
		ok, err := l.shared.Take(ctx, l.name, tokens, l.policy)
		if err == nil {
			l.setDegraded(false)
			return ok
		}
		if l.setDegraded(true) {
			logger.Warn("[RateLimit] Shared backend failed, using local bucket", "provider", l.name, "err", err)
		}
	}
	return l.local.AllowN(time.Now(), tokens)
}

// setDegraded records the backend state and reports whether it changed to
// degraded.
func (l *Limiter) setDegraded(v bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := v && !l.degraded
	if !v && l.degraded {
		logger.Info("[RateLimit] Shared backend recovered", "provider", l.name)
	}
	l.degraded = v
	return changed
}

// WaitAndAcquire retries Acquire with exponential backoff, starting at 100ms
// and capped at 1s, until it succeeds or maxWait elapses. On expiry it returns
// a *common.RateLimitedError.
func (l *Limiter) WaitAndAcquire(ctx context.Context, tokens int, maxWait time.Duration) error {
	if tokens > l.policy.Tokens {
		return fmt.Errorf("%w: %s: %d tokens exceed bucket size %d", common.ErrInvalidInput, l.name, tokens, l.policy.Tokens)
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	deadline := time.Now().Add(maxWait)
	backoff := initialBackoff
	for {
		if l.Acquire(ctx, tokens) {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			metrics.Default().RateLimitedTotal.WithLabelValues(l.name).Inc()
			return &common.RateLimitedError{Provider: l.name, RetryAfter: backoff}
		}
		if err := util.Sleep(ctx, min(backoff, remaining)); err != nil {
			return err
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Registry hands out one limiter per provider.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	policies map[string]Policy
	fallback Policy
	shared   Backend
	maxWait  time.Duration
}

type NewRegistryParams struct {
	Shared   Backend
	Policies map[string]Policy
	Default  Policy
	MaxWait  time.Duration
}

func NewRegistry(params NewRegistryParams) *Registry {
	def := params.Default
	if def.Tokens <= 0 {
		def = Policy{Tokens: 10, Window: time.Second}
	}
	maxWait := params.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	policies := make(map[string]Policy, len(params.Policies))
	for k, v := range params.Policies {
		policies[k] = v
	}
	return &Registry{
		limiters: make(map[string]*Limiter),
		policies: policies,
		fallback: def,
		shared:   params.Shared,
		maxWait:  maxWait,
	}
}

// Get returns the limiter for provider, creating it on first use.
func (r *Registry) Get(provider string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[provider]; ok {
		return l
	}
	p, ok := r.policies[provider]
	if !ok {
		p = r.fallback
	}
	l := New(provider, p, r.shared)
	r.limiters[provider] = l
	return l
}

// MaxWait is the ceiling passed to WaitAndAcquire by callers without their own.
func (r *Registry) MaxWait() time.Duration {
	return r.maxWait
}
