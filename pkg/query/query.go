// Package query implements the read side: cached graph lookups, neighbourhood
// expansion, k-NN search and the hybrid search-then-expand composition.
package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/ai"
	"github.com/OFFIS-RIT/atlas/pkg/cache"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/store"
)

const (
	MaxDepth = 3
	MaxPaths = 50
	MinK     = 1
	MaxK     = 50

	DefaultAnalyticsSample = 5
)

// QueryEmbedder embeds one search string for a collection of dimension dim.
// dim 0 means the collection does not exist yet.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string, dim int) ([]float32, error)
}

type Service struct {
	graph      store.GraphReader
	vectors    store.VectorStore
	embedder   QueryEmbedder
	cache      *cache.Cache
	collection string
	sample     int

	// dimension caches the collection dimension once it is known.
	dimension atomic.Int64
}

type NewServiceParams struct {
	Graph   store.GraphReader
	Vectors store.VectorStore
	// Embedder is used per request. An embedder that is not a QueryEmbedder
	// is wrapped without a fallback.
	Embedder ai.Embedder
	// Cache is optional; without it every call reads the stores.
	Cache           *cache.Cache
	Collection      string
	AnalyticsSample int
}

func NewService(params NewServiceParams) *Service {
	collection := params.Collection
	if collection == "" {
		collection = store.DefaultCollection
	}
	sample := params.AnalyticsSample
	if sample <= 0 {
		sample = DefaultAnalyticsSample
	}
	var embedder QueryEmbedder
	switch e := params.Embedder.(type) {
	case nil:
	case QueryEmbedder:
		embedder = e
	default:
		embedder, _ = ai.NewQueryEmbedder(e, nil)
	}
	return &Service{
		graph:      params.Graph,
		vectors:    params.Vectors,
		embedder:   embedder,
		cache:      params.Cache,
		collection: collection,
		sample:     sample,
	}
}

// unavailable marks a store or provider failure. Context errors pass
// through unchanged.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, common.ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", common.ErrBackendUnavailable, op, err)
}

func required(name, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", common.ErrInvalidInput, name)
	}
	return v, nil
}

func (s *Service) needGraph() error {
	if s.graph == nil {
		return fmt.Errorf("%w: graph store not configured", common.ErrBackendUnavailable)
	}
	return nil
}

// Company returns nil without error when no company has domain.
func (s *Service) Company(ctx context.Context, domain string) (*common.CompanyView, error) {
	domain, err := required("domain", domain)
	if err != nil {
		return nil, err
	}
	if err := s.needGraph(); err != nil {
		return nil, err
	}
	domain = util.NormalizeDomain(domain)
	return cache.Fetch(ctx, s.cache, cache.Lookup, "companies", map[string]string{"domain": domain},
		func(ctx context.Context) (*common.CompanyView, error) {
			v, err := s.graph.CompanyByDomain(ctx, domain)
			return v, unavailable("company by domain", err)
		})
}

func (s *Service) People(ctx context.Context, q string) ([]common.PersonView, error) {
	q, err := required("q", q)
	if err != nil {
		return nil, err
	}
	if err := s.needGraph(); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, cache.Lookup, "people", map[string]string{"q": strings.ToLower(q)},
		func(ctx context.Context) ([]common.PersonView, error) {
			v, err := s.graph.PeopleByName(ctx, q)
			return v, unavailable("people by name", err)
		})
}

func (s *Service) CompaniesByIndustry(ctx context.Context, industry string) ([]common.CompanyCount, error) {
	industry, err := required("industry", industry)
	if err != nil {
		return nil, err
	}
	if err := s.needGraph(); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, cache.Lookup, "companies/by-industry", map[string]string{"industry": industry},
		func(ctx context.Context) ([]common.CompanyCount, error) {
			v, err := s.graph.CompaniesByIndustry(ctx, industry)
			return v, unavailable("companies by industry", err)
		})
}

func (s *Service) CompaniesByLocation(ctx context.Context, location string) ([]common.CompanyCount, error) {
	location, err := required("location", location)
	if err != nil {
		return nil, err
	}
	if err := s.needGraph(); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, cache.Lookup, "companies/by-location", map[string]string{"location": location},
		func(ctx context.Context) ([]common.CompanyCount, error) {
			v, err := s.graph.CompaniesByLocation(ctx, location)
			return v, unavailable("companies by location", err)
		})
}

func (s *Service) PeopleByDepartment(ctx context.Context, department string) ([]common.PersonCount, error) {
	department, err := required("department", department)
	if err != nil {
		return nil, err
	}
	if err := s.needGraph(); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, cache.Lookup, "people/by-department", map[string]string{"department": department},
		func(ctx context.Context) ([]common.PersonCount, error) {
			v, err := s.graph.PeopleByDepartment(ctx, department)
			return v, unavailable("people by department", err)
		})
}

func (s *Service) IndustryAnalytics(ctx context.Context) ([]common.IndustryStat, error) {
	if err := s.needGraph(); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, cache.Analytics, "analytics/industries", map[string]string{"sample": strconv.Itoa(s.sample)},
		func(ctx context.Context) ([]common.IndustryStat, error) {
			v, err := s.graph.IndustryAnalytics(ctx, s.sample)
			return v, unavailable("industry analytics", err)
		})
}

// ValidateDepth accepts 0..MaxDepth.
func ValidateDepth(depth int) error {
	if depth < 0 || depth > MaxDepth {
		return fmt.Errorf("%w: depth must be between 0 and %d", common.ErrInvalidInput, MaxDepth)
	}
	return nil
}

// ValidateK accepts MinK..MaxK.
func ValidateK(k int) error {
	if k < MinK || k > MaxK {
		return fmt.Errorf("%w: k must be between %d and %d", common.ErrInvalidInput, MinK, MaxK)
	}
	return nil
}

// ParseTypes turns "company,person" into a sorted, deduplicated filter. An
// empty string means no filter.
func ParseTypes(raw string) ([]string, error) {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if t != common.TypeCompany && t != common.TypePerson {
			return nil, fmt.Errorf("%w: unknown type %q", common.ErrInvalidInput, t)
		}
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out, nil
}
