package query

import (
	"context"
	"fmt"
	"strconv"

	"github.com/OFFIS-RIT/atlas/pkg/cache"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/store"
)

// Neighbors expands the node with natural key id up to depth hops. It fails
// with common.ErrNotFound when id matches no node.
func (s *Service) Neighbors(ctx context.Context, id string, depth int) (*common.Neighborhood, error) {
	id, err := required("id", id)
	if err != nil {
		return nil, err
	}
	if err := ValidateDepth(depth); err != nil {
		return nil, err
	}
	if err := s.needGraph(); err != nil {
		return nil, err
	}
	params := map[string]string{"id": id, "depth": strconv.Itoa(depth)}
	return cache.Fetch(ctx, s.cache, cache.Neighborhood, "neighbors", params,
		func(ctx context.Context) (*common.Neighborhood, error) {
			node, err := s.graph.ResolveNode(ctx, id)
			if err != nil {
				return nil, unavailable("resolve node", err)
			}
			if node == nil {
				return nil, fmt.Errorf("%w: node %q", common.ErrNotFound, id)
			}
			paths, err := s.expand(ctx, *node, depth, nil)
			if err != nil {
				return nil, err
			}
			return &common.Neighborhood{Node: *node, Paths: paths}, nil
		})
}

func nodeKey(n common.Node) string {
	return n.Label + "/" + n.ID
}

// expand walks breadth first, so shorter paths always come first. A node
// never appears twice within one path. At most MaxPaths paths are returned.
func (s *Service) expand(ctx context.Context, root common.Node, depth int, tracer Tracer) ([]common.Path, error) {
	paths := []common.Path{}
	if depth <= 0 {
		return paths, nil
	}

	adjacent := map[string][]store.Hop{}
	hopsOf := func(n common.Node) ([]store.Hop, error) {
		key := nodeKey(n)
		if hops, ok := adjacent[key]; ok {
			return hops, nil
		}
		hops, err := s.graph.Adjacent(ctx, n)
		if err != nil {
			return nil, unavailable("adjacent", err)
		}
		adjacent[key] = hops
		RecordExpandedNodes(tracer, key)
		return hops, nil
	}

	frontier := []common.Path{{Nodes: []common.Node{root}, Relationships: []common.Edge{}}}
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []common.Path
		for _, p := range frontier {
			hops, err := hopsOf(p.Nodes[len(p.Nodes)-1])
			if err != nil {
				return nil, err
			}
			for _, h := range hops {
				if onPath(p, h.Node) {
					continue
				}
				np := extend(p, h)
				paths = append(paths, np)
				if len(paths) == MaxPaths {
					return paths, nil
				}
				next = append(next, np)
			}
		}
		frontier = next
	}
	return paths, nil
}

func onPath(p common.Path, n common.Node) bool {
	key := nodeKey(n)
	for _, m := range p.Nodes {
		if nodeKey(m) == key {
			return true
		}
	}
	return false
}

func extend(p common.Path, h store.Hop) common.Path {
	nodes := make([]common.Node, len(p.Nodes), len(p.Nodes)+1)
	copy(nodes, p.Nodes)
	rels := make([]common.Edge, len(p.Relationships), len(p.Relationships)+1)
	copy(rels, p.Relationships)
	return common.Path{Nodes: append(nodes, h.Node), Relationships: append(rels, h.Edge)}
}
