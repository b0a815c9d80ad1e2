package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/atlas/pkg/cache"
	"github.com/OFFIS-RIT/atlas/pkg/common"
)

// HybridHit is one vector hit, expanded through the graph when it is a
// company.
type HybridHit struct {
	ID        string              `json:"id"`
	Score     float32             `json:"score"`
	Type      string              `json:"type"`
	Payload   map[string]any      `json:"payload"`
	Graph     *common.CompanyView `json:"graph,omitempty"`
	Neighbors []common.Path       `json:"neighbors,omitempty"`
}

func (s *Service) embedQuery(ctx context.Context, q string) ([]float32, error) {
	if s.embedder == nil || s.vectors == nil {
		return nil, fmt.Errorf("%w: semantic search not configured", common.ErrBackendUnavailable)
	}
	dim, err := s.collectionDimension(ctx)
	if err != nil {
		return nil, unavailable("collection dimension", err)
	}
	vec, err := s.embedder.EmbedQuery(ctx, q, dim)
	if err != nil {
		return nil, unavailable("embed query", err)
	}
	return vec, nil
}

func (s *Service) collectionDimension(ctx context.Context) (int, error) {
	if dim := s.dimension.Load(); dim > 0 {
		return int(dim), nil
	}
	dim, err := s.vectors.Dimension(ctx, s.collection)
	if err != nil {
		return 0, err
	}
	if dim > 0 {
		s.dimension.Store(int64(dim))
	}
	return dim, nil
}

// Search returns the k nearest entities to q. types restricts the payload
// type; several types are OR-ed.
func (s *Service) Search(ctx context.Context, q string, k int, types []string) ([]common.ScoredPoint, error) {
	q, err := required("q", q)
	if err != nil {
		return nil, err
	}
	if err := ValidateK(k); err != nil {
		return nil, err
	}
	types, err = ParseTypes(strings.Join(types, ","))
	if err != nil {
		return nil, err
	}

	params := map[string]string{"q": q, "k": strconv.Itoa(k), "types": strings.Join(types, ",")}
	return cache.Fetch(ctx, s.cache, cache.Search, "search", params,
		func(ctx context.Context) ([]common.ScoredPoint, error) {
			return s.search(ctx, q, k, types, nil)
		})
}

func (s *Service) search(ctx context.Context, q string, k int, types []string, tracer Tracer) ([]common.ScoredPoint, error) {
	vec, err := s.embedQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	RecordSearchTypes(tracer, types...)
	hits, err := s.vectors.Search(ctx, s.collection, vec, k, types)
	if err != nil {
		return nil, unavailable("vector search", err)
	}
	ids := make([]string, len(hits))
	for i := range hits {
		ids[i] = hits[i].ID
	}
	RecordVectorHits(tracer, ids...)
	return hits, nil
}

// Hybrid runs a search over both types, then looks every company hit up in
// the graph by domain and attaches up to depth hops of neighbours. Person
// hits keep their payload. Vector rank order is preserved. A non-nil tracer
// bypasses the cache so that every step is recorded.
func (s *Service) Hybrid(ctx context.Context, q string, k, depth int, tracer Tracer) ([]HybridHit, error) {
	q, err := required("q", q)
	if err != nil {
		return nil, err
	}
	if err := ValidateK(k); err != nil {
		return nil, err
	}
	if err := ValidateDepth(depth); err != nil {
		return nil, err
	}
	if err := s.needGraph(); err != nil {
		return nil, err
	}

	run := func(ctx context.Context) ([]HybridHit, error) {
		return s.hybrid(ctx, q, k, depth, tracer)
	}
	if tracer != nil {
		return run(ctx)
	}
	params := map[string]string{"q": q, "k": strconv.Itoa(k), "depth": strconv.Itoa(depth)}
	return cache.Fetch(ctx, s.cache, cache.Search, "search/hybrid", params, run)
}

func (s *Service) hybrid(ctx context.Context, q string, k, depth int, tracer Tracer) ([]HybridHit, error) {
	hits, err := s.search(ctx, q, k, []string{common.TypeCompany, common.TypePerson}, tracer)
	if err != nil {
		return nil, err
	}

	out := make([]HybridHit, 0, len(hits))
	for _, h := range hits {
		hit := HybridHit{ID: h.ID, Score: h.Score, Type: h.PayloadType(), Payload: h.Payload}
		if hit.Type == common.TypeCompany {
			if domain := h.PayloadString("domain"); domain != "" {
				RecordGraphLookups(tracer, domain)
				view, err := s.graph.CompanyByDomain(ctx, domain)
				if err != nil {
					return nil, unavailable("company by domain", err)
				}
				hit.Graph = view
				if view != nil && depth > 0 {
					node, err := s.graph.ResolveNode(ctx, domain)
					if err != nil {
						return nil, unavailable("resolve node", err)
					}
					if node != nil {
						paths, err := s.expand(ctx, *node, depth, tracer)
						if err != nil {
							return nil, err
						}
						hit.Neighbors = paths
					}
				}
			}
		}
		out = append(out, hit)
	}
	return out, nil
}
