// Package cache fronts the query service with a key-value cache. Any cache
// failure degrades to a direct read.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/metrics"
)

const DefaultPrefix = "atlas"

// SharedFetchTimeout bounds a computation shared by concurrent misses. It
// runs detached from any single request.
const SharedFetchTimeout = 30 * time.Second

// Family groups endpoints that share a TTL.
type Family struct {
	Name string
	TTL  time.Duration
}

var (
	Lookup       = Family{Name: "lookup", TTL: 60 * time.Second}
	Neighborhood = Family{Name: "neighborhood", TTL: 30 * time.Second}
	Analytics    = Family{Name: "analytics", TTL: 300 * time.Second}
	Search       = Family{Name: "search", TTL: 30 * time.Second}
)

// Backend stores raw values. Get reports a miss with ok == false.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

type Cache struct {
	backend Backend
	prefix  string
	group   singleflight.Group
}

func New(backend Backend, prefix string) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Cache{backend: backend, prefix: prefix}
}

// Key is "<prefix>:<endpoint>:<fingerprint>". The fingerprint hashes the
// params sorted by name, so parameter order never matters.
func (c *Cache) Key(endpoint string, params map[string]string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, endpoint, Fingerprint(params))
}

func Fingerprint(params map[string]string) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// Flush drops every key under the cache prefix.
func (c *Cache) Flush(ctx context.Context) error {
	if c == nil {
		return nil
	}
	deleted, err := c.backend.DeletePrefix(ctx, c.prefix+":")
	if err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	logger.Info("[Cache] Flushed", "keys_deleted", deleted)
	return nil
}

// Fetch returns the cached value of endpoint+params or computes it with fn
// and stores it for family.TTL. Concurrent misses on one key share a single
// fn call; a caller whose ctx ends stops waiting without failing the others.
// A nil cache calls fn directly.
func Fetch[T any](
	ctx context.Context,
	c *Cache,
	family Family,
	endpoint string,
	params map[string]string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	if c == nil {
		return fn(ctx)
	}
	key := c.Key(endpoint, params)
	if v, ok := get[T](ctx, c, family, key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), SharedFetchTimeout)
		defer cancel()
		v, err := fn(shared)
		if err != nil {
			return v, err
		}
		c.set(shared, family, key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func get[T any](ctx context.Context, c *Cache, family Family, key string) (T, bool) {
	var v T
	results := metrics.Default().CacheResultsTotal

	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		results.WithLabelValues(family.Name, "error").Inc()
		logger.Debug("[Cache] Get failed", "key", key, "err", err)
		return v, false
	}
	if !ok {
		results.WithLabelValues(family.Name, "miss").Inc()
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		results.WithLabelValues(family.Name, "error").Inc()
		logger.Debug("[Cache] Decode failed", "key", key, "err", err)
		return v, false
	}
	results.WithLabelValues(family.Name, "hit").Inc()
	return v, true
}

func (c *Cache) set(ctx context.Context, family Family, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Debug("[Cache] Encode failed", "key", key, "err", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, family.TTL); err != nil {
		logger.Debug("[Cache] Set failed", "key", key, "err", err)
	}
}
