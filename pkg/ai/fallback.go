package ai

import (
	"context"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/metrics"
)

// FallbackEmbedder prefers a remote primary and switches to a local fallback
// for the rest of the run once the primary fails. The dimension of the first
// successful embedding is locked in; later batches with another dimension
// fail with ErrDimensionMismatch.
type FallbackEmbedder struct {
	primary  Embedder
	fallback Embedder

	mu         sync.Mutex
	onFallback bool
	dimension  int
}

// NewFallbackEmbedder selects primary when it is non-nil, otherwise fallback.
func NewFallbackEmbedder(primary, fallback Embedder) (*FallbackEmbedder, error) {
	if primary == nil && fallback == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", common.ErrConfiguration)
	}
	e := &FallbackEmbedder{primary: primary, fallback: fallback}
	e.onFallback = primary == nil
	return e, nil
}

func (e *FallbackEmbedder) Name() string {
	return e.active().Name()
}

func (e *FallbackEmbedder) active() Embedder {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.onFallback {
		return e.fallback
	}
	return e.primary
}

// Dimension is the locked dimension, 0 before the first success.
func (e *FallbackEmbedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimension
}

// UsingFallback reports whether the fallback is active.
func (e *FallbackEmbedder) UsingFallback() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onFallback
}

// Reset starts a new run: back on the primary (if any), dimension unlocked.
func (e *FallbackEmbedder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFallback = e.primary == nil
	e.dimension = 0
}

// LockDimension fixes the dimension before the first embedding, e.g. from
// an existing collection.
func (e *FallbackEmbedder) LockDimension(dim int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dimension = dim
}

func (e *FallbackEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	current := e.active()
	vecs, err := current.Embed(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !e.switchToFallback(current, err) {
			return nil, fmt.Errorf("embed with %s: %w", current.Name(), err)
		}
		current = e.fallback
		vecs, err = current.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed with fallback %s: %w", current.Name(), err)
		}
	}

	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%s returned %d embeddings for %d texts", current.Name(), len(vecs), len(texts))
	}
	if err := e.checkDimension(current.Name(), vecs); err != nil {
		return nil, err
	}
	metrics.Default().EmbeddedTextsTotal.WithLabelValues(current.Name()).Add(float64(len(texts)))
	return vecs, nil
}

// switchToFallback reports whether a retry on the fallback is possible.
func (e *FallbackEmbedder) switchToFallback(failed Embedder, cause error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fallback == nil || e.onFallback || failed != e.primary {
		return false
	}
	e.onFallback = true
	metrics.Default().EmbedderSwitches.Inc()
	logger.Warn("[Embedder] Primary failed, switching to fallback",
		"primary", e.primary.Name(), "fallback", e.fallback.Name(), "err", cause)
	return true
}

func (e *FallbackEmbedder) checkDimension(provider string, vecs [][]float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%s returned an empty embedding", provider)
		}
		if e.dimension == 0 {
			e.dimension = len(v)
			continue
		}
		if len(v) != e.dimension {
			return fmt.Errorf("%w: %s produced %d, run is fixed at %d", ErrDimensionMismatch, provider, len(v), e.dimension)
		}
	}
	return nil
}
