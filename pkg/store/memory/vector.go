package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/store"
)

type collection struct {
	dimension int
	points    map[string]common.Point
}

// Vectors is an in-memory store.VectorStore with brute-force cosine search.
type Vectors struct {
	mu          sync.RWMutex
	collections map[string]*collection

	// FailUpsert, when set, makes every Upsert fail.
	FailUpsert error
}

func NewVectors() *Vectors {
	return &Vectors{collections: make(map[string]*collection)}
}

func (v *Vectors) EnsureCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: collection %s dimension %d", common.ErrInvalidInput, name, dim)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.collections[name]; ok {
		if c.dimension != dim {
			return fmt.Errorf("%w: collection %s has dimension %d, got %d", common.ErrDimensionMismatch, name, c.dimension, dim)
		}
		return nil
	}
	v.collections[name] = &collection{dimension: dim, points: make(map[string]common.Point)}
	return nil
}

func (v *Vectors) Dimension(ctx context.Context, name string) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if c, ok := v.collections[name]; ok {
		return c.dimension, nil
	}
	return 0, nil
}

func (v *Vectors) Upsert(ctx context.Context, name string, points []common.Point) error {
	if v.FailUpsert != nil {
		return v.FailUpsert
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.collections[name]
	if !ok {
		return fmt.Errorf("%w: collection %s", common.ErrNotFound, name)
	}
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return fmt.Errorf("%w: point %s has dimension %d, collection %d", common.ErrDimensionMismatch, p.ID, len(p.Vector), c.dimension)
		}
	}
	for _, p := range points {
		p.Vector = slices.Clone(p.Vector)
		c.points[p.ID] = p
	}
	return nil
}

func (v *Vectors) Search(ctx context.Context, name string, vector []float32, k int, types []string) ([]common.ScoredPoint, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.collections[name]
	if !ok {
		return []common.ScoredPoint{}, nil
	}
	if len(vector) != c.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, collection %d", common.ErrDimensionMismatch, len(vector), c.dimension)
	}
	hits := make([]common.ScoredPoint, 0, len(c.points))
	for id, p := range c.points {
		if len(types) > 0 {
			t, _ := p.Payload["type"].(string)
			if !slices.Contains(types, t) {
				continue
			}
		}
		hits = append(hits, common.ScoredPoint{
			ID:      id,
			Score:   store.CosineSimilarity(vector, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (v *Vectors) Count(ctx context.Context, name string) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if c, ok := v.collections[name]; ok {
		return len(c.points), nil
	}
	return 0, nil
}

// Point returns a stored point.
func (v *Vectors) Point(name, id string) (common.Point, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.collections[name]
	if !ok {
		return common.Point{}, false
	}
	p, ok := c.points[id]
	return p, ok
}

// IDs lists the point ids of a collection in sorted order.
func (v *Vectors) IDs(name string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.collections[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(c.points))
	for id := range c.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
