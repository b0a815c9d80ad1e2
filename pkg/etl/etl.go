// Package etl projects committed lake batches into the graph and vector
// stores.
package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/atlas/internal/storage"
	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/ai"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/leaselock"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/metrics"
	"github.com/OFFIS-RIT/atlas/pkg/store"
)

const (
	DefaultBatchSize = 128
	DefaultLeaseTTL  = 2 * time.Minute
)

// Flusher drops every cached query result.
type Flusher interface {
	Flush(ctx context.Context) error
}

type resetter interface {
	Reset()
}

type dimensionLocker interface {
	LockDimension(dim int)
}

type Projector struct {
	lake       storage.Lake
	graph      store.GraphWriter
	vectors    store.VectorStore
	embedder   ai.Embedder
	collection string
	batchSize  int
	locker     leaselock.Locker
	leaseTTL   time.Duration
	cache      Flusher
}

type NewProjectorParams struct {
	Lake       storage.Lake
	Graph      store.GraphWriter
	Vectors    store.VectorStore
	Embedder   ai.Embedder
	Collection string
	BatchSize  int
	Locker     leaselock.Locker
	LeaseTTL   time.Duration
	Cache      Flusher
}

func NewProjector(params NewProjectorParams) (*Projector, error) {
	if params.Lake == nil {
		return nil, fmt.Errorf("%w: etl needs an object store", common.ErrConfiguration)
	}
	collection := params.Collection
	if collection == "" {
		collection = store.DefaultCollection
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	ttl := params.LeaseTTL
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Projector{
		lake:       params.Lake,
		graph:      params.Graph,
		vectors:    params.Vectors,
		embedder:   params.Embedder,
		collection: collection,
		batchSize:  batchSize,
		locker:     params.Locker,
		leaseTTL:   ttl,
		cache:      params.Cache,
	}, nil
}

// Options selects the projections of one run.
type Options struct {
	Graph   bool `json:"graph"`
	Vectors bool `json:"vectors"`
}

// Result describes one run. VectorErr is set when the graph was committed
// but the vector phase failed; the batch id is valid either way.
type Result struct {
	Prefix    string            `json:"prefix"`
	BatchID   string            `json:"batch_id"`
	Graph     store.UpsertStats `json:"graph"`
	Points    int               `json:"points"`
	VectorErr error             `json:"-"`
}

// Partial reports whether the vector phase failed.
func (r *Result) Partial() bool {
	return r.VectorErr != nil
}

// LeaseKey is the lock taken while prefix is projected.
func LeaseKey(prefix string) string {
	return "etl:" + strings.TrimSuffix(prefix, "/")
}

// Run projects the batch at prefix. Graph failures abort the run. Vector
// failures are reported in Result.VectorErr.
func (p *Projector) Run(ctx context.Context, prefix string, opts Options) (*Result, error) {
	if !opts.Graph && !opts.Vectors {
		return nil, fmt.Errorf("%w: nothing to project", common.ErrInvalidInput)
	}
	if opts.Graph && p.graph == nil {
		return nil, fmt.Errorf("%w: graph store not configured", common.ErrConfiguration)
	}
	if opts.Vectors && (p.vectors == nil || p.embedder == nil) {
		return nil, fmt.Errorf("%w: vector store or embedder not configured", common.ErrConfiguration)
	}
	prefix = strings.TrimSuffix(prefix, "/")

	start := time.Now()
	var res *Result
	run := func(ctx context.Context) error {
		var err error
		res, err = p.run(ctx, prefix, opts)
		return err
	}

	var err error
	if p.locker != nil {
		err = p.locker.WithLease(ctx, LeaseKey(prefix), leaselock.Options{TTL: p.leaseTTL}, run)
	} else {
		err = run(ctx)
	}

	m := metrics.Default()
	m.ETLDuration.Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		m.ETLRunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	case res.Partial():
		m.ETLRunsTotal.WithLabelValues("partial").Inc()
	default:
		m.ETLRunsTotal.WithLabelValues("ok").Inc()
	}
	return res, nil
}

func (p *Projector) run(ctx context.Context, prefix string, opts Options) (*Result, error) {
	payload, err := storage.ReadPayload(ctx, p.lake, prefix)
	if err != nil {
		return nil, fmt.Errorf("read batch %s: %w", prefix, err)
	}
	for i := range payload.Companies {
		payload.Companies[i].Domain = util.NormalizeDomain(payload.Companies[i].Domain)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("batch %s: %w", prefix, err)
	}

	res := &Result{Prefix: prefix, BatchID: util.NewBatchID()}
	logger.Info("[ETL] Projecting batch", "prefix", prefix, "batch_id", res.BatchID,
		"companies", len(payload.Companies), "graph", opts.Graph, "vectors", opts.Vectors)

	if opts.Graph {
		stats, err := p.graph.UpsertBatch(ctx, res.BatchID, payload.Companies)
		if err != nil {
			return nil, fmt.Errorf("graph upsert %s: %w", prefix, err)
		}
		res.Graph = stats
		logger.Info("[ETL] Graph upsert committed", "prefix", prefix,
			"companies", stats.Companies, "people", stats.People, "emails", stats.Emails)
	}

	if opts.Vectors {
		n, err := p.projectVectors(ctx, payload.Companies)
		res.Points = n
		if err != nil {
			res.VectorErr = err
			logger.Warn("[ETL] Vector upsert failed, graph is committed", "prefix", prefix, "points", n, "err", err)
		} else {
			logger.Info("[ETL] Vector upsert done", "prefix", prefix, "points", n, "collection", p.collection)
		}
	}

	p.flushCache(ctx)
	return res, nil
}

// projectVectors embeds and upserts every entity, one atomic upsert per
// embedding batch. It returns the number of points written.
func (p *Projector) projectVectors(ctx context.Context, companies []common.Company) (int, error) {
	entities := buildEntities(companies)
	if len(entities) == 0 {
		return 0, nil
	}

	if r, ok := p.embedder.(resetter); ok {
		r.Reset()
	}
	existing, err := p.vectors.Dimension(ctx, p.collection)
	if err != nil {
		return 0, fmt.Errorf("read collection %s: %w", p.collection, err)
	}
	if l, ok := p.embedder.(dimensionLocker); ok && existing > 0 {
		l.LockDimension(existing)
	}

	written := 0
	ensured := false
	err = store.ChunkRange(len(entities), p.batchSize, func(start, end int) error {
		chunk := entities[start:end]
		texts := make([]string, len(chunk))
		for i := range chunk {
			texts[i] = chunk[i].text
		}

		vecs, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed entities %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(chunk) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(chunk))
		}

		if !ensured {
			if err := p.vectors.EnsureCollection(ctx, p.collection, len(vecs[0])); err != nil {
				return err
			}
			ensured = true
		}

		points := make([]common.Point, len(chunk))
		for i := range chunk {
			points[i] = common.Point{ID: chunk[i].pointID, Vector: vecs[i], Payload: chunk[i].payload}
		}
		if err := p.vectors.Upsert(ctx, p.collection, points); err != nil {
			return fmt.Errorf("upsert points %d-%d: %w", start, end, err)
		}
		written += len(points)
		logger.Debug("[ETL] Upserted vector batch", "start", start, "end", end, "embedder", p.embedder.Name())
		return nil
	})
	return written, err
}

func (p *Projector) flushCache(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Flush(ctx); err != nil {
		logger.Warn("[ETL] Cache flush failed", "err", err)
		return
	}
	logger.Debug("[ETL] Cache flushed")
}

// IsBusy reports whether err means another process holds the batch lease.
func IsBusy(err error) bool {
	return errors.Is(err, leaselock.ErrBusy)
}
