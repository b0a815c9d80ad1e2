package query

import (
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventSearchTypes   TraceEventKind = "search_types"
	TraceEventVectorHits    TraceEventKind = "vector_hits"
	TraceEventGraphLookups  TraceEventKind = "graph_lookups"
	TraceEventExpandedNodes TraceEventKind = "expanded_nodes"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Types    []string
	PointIDs []string
	Domains  []string
	NodeIDs  []string
}

// Tracer is a sink for query tracing events.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordSearchTypes(t Tracer, types ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSearchTypes, Types: types})
}

func RecordVectorHits(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventVectorHits, PointIDs: ids})
}

func RecordGraphLookups(t Tracer, domains ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventGraphLookups, Domains: domains})
}

func RecordExpandedNodes(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventExpandedNodes, NodeIDs: ids})
}

// QueryTrace collects what a hybrid search touched. Vector hits keep their
// rank order; the other sets are sorted.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	types    map[string]struct{}
	hits     []string
	domains  map[string]struct{}
	expanded map[string]struct{}
}

type QueryTraceSnapshot struct {
	SearchTypes   []string `json:"search_types"`
	VectorHits    []string `json:"vector_hits"`
	GraphLookups  []string `json:"graph_lookups"`
	ExpandedNodes []string `json:"expanded_nodes"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		types:    make(map[string]struct{}),
		domains:  make(map[string]struct{}),
		expanded: make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventSearchTypes:
		addAll(t.types, event.Types)
	case TraceEventVectorHits:
		t.hits = append(t.hits, event.PointIDs...)
	case TraceEventGraphLookups:
		addAll(t.domains, event.Domains)
	case TraceEventExpandedNodes:
		addAll(t.expanded, event.NodeIDs)
	default:
		return
	}
}

func addAll(set map[string]struct{}, values []string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return QueryTraceSnapshot{
		SearchTypes:   sortedKeys(t.types),
		VectorHits:    append([]string{}, t.hits...),
		GraphLookups:  sortedKeys(t.domains),
		ExpandedNodes: sortedKeys(t.expanded),
	}
}
