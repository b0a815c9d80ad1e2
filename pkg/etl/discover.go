package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/atlas/internal/storage"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
)

// AllOptions drives RunAll.
type AllOptions struct {
	Roots []string
	// Since keeps batches fetched on or after this UTC day. Zero keeps all.
	Since time.Time
	// Max stops after this many batches. Zero means no limit.
	Max int
	Options
}

// Discover lists the committed batches RunAll would project, oldest first.
func Discover(ctx context.Context, lake storage.Lake, opts AllOptions) ([]storage.Batch, error) {
	roots := opts.Roots
	if len(roots) == 0 {
		roots = storage.DefaultRoots
	}
	batches, err := storage.ListBatches(ctx, lake, roots)
	if err != nil {
		return nil, err
	}

	since := opts.Since.UTC().Truncate(24 * time.Hour)
	out := make([]storage.Batch, 0, len(batches))
	for _, b := range batches {
		if !opts.Since.IsZero() && b.Timestamp.Before(since) {
			continue
		}
		out = append(out, b)
		if opts.Max > 0 && len(out) == opts.Max {
			break
		}
	}
	return out, nil
}

// RunAll projects every discovered batch in order. It stops at the first
// failing batch and returns the results collected so far.
func (p *Projector) RunAll(ctx context.Context, opts AllOptions) ([]*Result, error) {
	batches, err := Discover(ctx, p.lake, opts)
	if err != nil {
		return nil, fmt.Errorf("discover batches: %w", err)
	}
	logger.Info("[ETL] Discovered batches", "count", len(batches), "roots", opts.Roots)

	results := make([]*Result, 0, len(batches))
	for _, b := range batches {
		res, err := p.Run(ctx, b.Prefix, opts.Options)
		if err != nil {
			return results, fmt.Errorf("batch %s: %w", b.Prefix, err)
		}
		results = append(results, res)
	}
	return results, nil
}
