package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/metrics"
)

// QueryEmbedder embeds search strings. Unlike FallbackEmbedder it keeps no
// state between calls: every call tries the primary first and uses the
// fallback for that call only.
type QueryEmbedder struct {
	primary  Embedder
	fallback Embedder
}

func NewQueryEmbedder(primary, fallback Embedder) (*QueryEmbedder, error) {
	if primary == nil && fallback == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", common.ErrConfiguration)
	}
	return &QueryEmbedder{primary: primary, fallback: fallback}, nil
}

func (e *QueryEmbedder) Name() string {
	if e.primary != nil {
		return e.primary.Name()
	}
	return e.fallback.Name()
}

func (e *QueryEmbedder) candidates() []Embedder {
	out := make([]Embedder, 0, 2)
	if e.primary != nil {
		out = append(out, e.primary)
	}
	if e.fallback != nil {
		out = append(out, e.fallback)
	}
	return out
}

// Embed embeds texts without a dimension constraint.
func (e *QueryEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, texts, 0)
}

// EmbedQuery embeds one text for a collection of dimension dim. A provider
// whose vector has another dimension is skipped. dim 0 accepts any
// dimension.
func (e *QueryEmbedder) EmbedQuery(ctx context.Context, text string, dim int) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, dim)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *QueryEmbedder) embed(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var errs []error
	for i, current := range e.candidates() {
		vecs, err := current.Embed(ctx, texts)
		if err == nil {
			err = checkVectors(current.Name(), vecs, len(texts), dim)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("embed with %s: %w", current.Name(), err))
			continue
		}
		if i > 0 {
			logger.Debug("[Embedder] Query served by fallback", "fallback", current.Name(), "err", errors.Join(errs...))
		}
		metrics.Default().EmbeddedTextsTotal.WithLabelValues(current.Name()).Add(float64(len(texts)))
		return vecs, nil
	}
	return nil, errors.Join(errs...)
}

func checkVectors(provider string, vecs [][]float32, want, dim int) error {
	if len(vecs) != want {
		return fmt.Errorf("%s returned %d embeddings for %d texts", provider, len(vecs), want)
	}
	for _, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%s returned an empty embedding", provider)
		}
		if dim > 0 && len(v) != dim {
			return fmt.Errorf("%w: %s produced %d, collection is fixed at %d", ErrDimensionMismatch, provider, len(v), dim)
		}
	}
	return nil
}
