package etl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OFFIS-RIT/atlas/internal/storage"
	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/ai"
	"github.com/OFFIS-RIT/atlas/pkg/ai/aitest"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/ingest"
	"github.com/OFFIS-RIT/atlas/pkg/leaselock"
	"github.com/OFFIS-RIT/atlas/pkg/store"
	"github.com/OFFIS-RIT/atlas/pkg/store/memory"
)

type fixedDirectory struct{ companies []common.Company }

func (d *fixedDirectory) Name() string { return "places" }

func (d *fixedDirectory) Search(ctx context.Context, query string, limit int) ([]common.Company, error) {
	return d.companies, nil
}

type fixedPeople struct{ people []common.Person }

func (p *fixedPeople) Name() string { return "hunter" }

func (p *fixedPeople) FindByCompanyDomain(ctx context.Context, domain string) ([]common.Person, error) {
	return p.people, nil
}

type countingFlusher struct {
	calls int
	err   error
}

func (f *countingFlusher) Flush(ctx context.Context) error {
	f.calls++
	return f.err
}

type harness struct {
	lake    *storage.MemoryLake
	graph   *memory.Graph
	vectors *memory.Vectors
	cache   *countingFlusher
}

func newHarness() *harness {
	return &harness{
		lake:    storage.NewMemoryLake(""),
		graph:   memory.NewGraph(),
		vectors: memory.NewVectors(),
		cache:   &countingFlusher{},
	}
}

func (h *harness) projector(t *testing.T, emb ai.Embedder, batchSize int) *Projector {
	t.Helper()
	p, err := NewProjector(NewProjectorParams{
		Lake:      h.lake,
		Graph:     h.graph,
		Vectors:   h.vectors,
		Embedder:  emb,
		BatchSize: batchSize,
		Locker:    leaselock.New(leaselock.NewMemoryBackend()),
		Cache:     h.cache,
	})
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}
	return p
}

func writeBatch(t *testing.T, lake storage.Lake, prefix string, companies []common.Company) {
	t.Helper()
	ctx := context.Background()
	if err := lake.WriteJSON(ctx, prefix+"/"+storage.PayloadFile, common.Payload{Companies: companies}); err != nil {
		t.Fatal(err)
	}
	meta := common.Sidecar{Source: "companies", FetchedAt: time.Now().UTC(), Count: len(companies), SchemaVersion: common.SchemaVersion}
	if err := lake.WriteJSON(ctx, prefix+"/"+storage.SidecarFile, meta); err != nil {
		t.Fatal(err)
	}
}

func threeCompanies() []common.Company {
	return []common.Company{
		{ID: "places:1", Name: "Acme Labs", Domain: "acme.example", Industry: "software",
			People: []common.Person{{ID: "hunter:a@acme.example", FullName: "A. Example", Emails: []string{"a@acme.example"}}}},
		{ID: "places:2", Name: "Zeta Works", Domain: "zeta.example", Industry: "manufacturing"},
		{ID: "places:3", Name: "Omega", Domain: "omega.example"},
	}
}

func TestSingleCompanyIngestThenProject(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	ing, _ := ingest.NewIngestor(ingest.NewIngestorParams{
		Lake:      h.lake,
		Directory: &fixedDirectory{companies: []common.Company{{ID: "places:X", Name: "Acme Labs", Domain: "acme.example"}}},
	})
	batch, err := ing.Run(ctx, "Acme Labs", 1)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	res, err := h.projector(t, &aitest.HashEmbedder{Dim: 16}, 0).Run(ctx, batch.Prefix, Options{Graph: true, Vectors: true})
	if err != nil {
		t.Fatalf("etl: %v", err)
	}
	if res.BatchID == "" || res.Partial() {
		t.Fatalf("result = %+v", res)
	}
	view, _ := h.graph.CompanyByDomain(ctx, "acme.example")
	if view == nil || view.Company.Name != "Acme Labs" || len(view.People) != 0 || len(view.Emails) != 0 {
		t.Fatalf("view = %+v", view)
	}
}

func TestEnrichedIngestThenProject(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	ing, _ := ingest.NewIngestor(ingest.NewIngestorParams{
		Lake:      h.lake,
		Directory: &fixedDirectory{companies: []common.Company{{ID: "places:X", Name: "Acme Labs", Domain: "acme.example"}}},
		People: &fixedPeople{people: []common.Person{
			{ID: "hunter:a@acme.example", FullName: "A. Example", Emails: []string{"a@acme.example"}},
		}},
	})
	batch, err := ing.Run(ctx, "Acme Labs", 1)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if _, err := h.projector(t, nil, 0).Run(ctx, batch.Prefix, Options{Graph: true}); err != nil {
		t.Fatalf("etl: %v", err)
	}
	view, _ := h.graph.CompanyByDomain(ctx, "acme.example")
	if view == nil || len(view.People) != 1 || len(view.People[0].Emails) != 1 || view.People[0].Emails[0] != "a@acme.example" {
		t.Fatalf("view = %+v", view)
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	writeBatch(t, h.lake, "companies/raw/2026-01-02T03:04:05Z", threeCompanies())
	p := h.projector(t, &aitest.HashEmbedder{Dim: 16}, 2)

	first, err := p.Run(ctx, "companies/raw/2026-01-02T03:04:05Z", Options{Graph: true, Vectors: true})
	if err != nil {
		t.Fatal(err)
	}
	counts1, _ := h.graph.Counts(ctx)
	ids1 := h.vectors.IDs(store.DefaultCollection)

	second, err := p.Run(ctx, "companies/raw/2026-01-02T03:04:05Z", Options{Graph: true, Vectors: true})
	if err != nil {
		t.Fatal(err)
	}
	if first.BatchID == second.BatchID {
		t.Fatal("batch ids should differ between runs")
	}
	counts2, _ := h.graph.Counts(ctx)
	if counts1 != counts2 {
		t.Fatalf("counts changed: %+v -> %+v", counts1, counts2)
	}
	if got := h.graph.WorksAtBatch("hunter:a@acme.example", "acme.example"); got != first.BatchID {
		t.Fatalf("works_at batch = %q, want %q", got, first.BatchID)
	}
	ids2 := h.vectors.IDs(store.DefaultCollection)
	if len(ids1) != 4 || len(ids1) != len(ids2) {
		t.Fatalf("points %d -> %d", len(ids1), len(ids2))
	}
	for i := range ids1 {
		if ids1[i] != ids2[i] {
			t.Fatalf("point ids differ: %v vs %v", ids1, ids2)
		}
	}
}

func TestPointPayloadExtIDIsPreimage(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	writeBatch(t, h.lake, "companies/raw/2026-01-02T03:04:05Z", threeCompanies())
	if _, err := h.projector(t, &aitest.HashEmbedder{Dim: 16}, 0).Run(ctx, "companies/raw/2026-01-02T03:04:05Z", Options{Graph: true, Vectors: true}); err != nil {
		t.Fatal(err)
	}
	for _, id := range h.vectors.IDs(store.DefaultCollection) {
		pt, _ := h.vectors.Point(store.DefaultCollection, id)
		typ, _ := pt.Payload["type"].(string)
		ext, _ := pt.Payload["ext_id"].(string)
		if util.PointID(typ, ext) != id {
			t.Fatalf("point %s: payload %s:%s does not derive it", id, typ, ext)
		}
	}
}

func TestEmbedderFallbackSameDimension(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	writeBatch(t, h.lake, "companies/raw/2026-01-02T03:04:05Z", threeCompanies())

	primary := &aitest.HashEmbedder{Label: "primary", Dim: 16, Fail: func(call int) error {
		if call == 2 {
			return errors.New("primary down")
		}
		return nil
	}}
	fallback := &aitest.HashEmbedder{Label: "fallback", Dim: 16}
	emb, _ := ai.NewFallbackEmbedder(primary, fallback)

	res, err := h.projector(t, emb, 2).Run(ctx, "companies/raw/2026-01-02T03:04:05Z", Options{Graph: true, Vectors: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Partial() || res.Points != 4 {
		t.Fatalf("result = %+v, err = %v", res, res.VectorErr)
	}
	if !emb.UsingFallback() {
		t.Fatal("embedder did not switch")
	}
	if dim, _ := h.vectors.Dimension(ctx, store.DefaultCollection); dim != 16 {
		t.Fatalf("dimension = %d", dim)
	}
}

func TestEmbedderFallbackDimensionMismatch(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	writeBatch(t, h.lake, "companies/raw/2026-01-02T03:04:05Z", threeCompanies())

	primary := &aitest.HashEmbedder{Label: "primary", Dim: 16, Fail: func(call int) error {
		if call >= 2 {
			return errors.New("primary down")
		}
		return nil
	}}
	fallback := &aitest.HashEmbedder{Label: "fallback", Dim: 8}
	emb, _ := ai.NewFallbackEmbedder(primary, fallback)

	res, err := h.projector(t, emb, 2).Run(ctx, "companies/raw/2026-01-02T03:04:05Z", Options{Graph: true, Vectors: true})
	if err != nil {
		t.Fatalf("graph is committed, run must not fail: %v", err)
	}
	if !errors.Is(res.VectorErr, ai.ErrDimensionMismatch) {
		t.Fatalf("vector err = %v", res.VectorErr)
	}
	if res.Points != 2 {
		t.Fatalf("points = %d, want first batch only", res.Points)
	}
	if counts, _ := h.graph.Counts(ctx); counts.Companies != 3 {
		t.Fatalf("graph not committed: %+v", counts)
	}
}

func TestGraphFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.graph.FailUpsert = errors.New("connection refused")
	writeBatch(t, h.lake, "companies/raw/2026-01-02T03:04:05Z", threeCompanies())

	emb := &aitest.HashEmbedder{Dim: 16}
	_, err := h.projector(t, emb, 0).Run(context.Background(), "companies/raw/2026-01-02T03:04:05Z", Options{Graph: true, Vectors: true})
	if err == nil {
		t.Fatal("expected error")
	}
	if emb.Calls() != 0 {
		t.Fatal("vectors projected after graph failure")
	}
	if h.cache.calls != 0 {
		t.Fatal("cache flushed after failed run")
	}
}

func TestVectorFailureIsPartial(t *testing.T) {
	h := newHarness()
	h.vectors.FailUpsert = errors.New("vector store unreachable")
	writeBatch(t, h.lake, "companies/raw/2026-01-02T03:04:05Z", threeCompanies())

	res, err := h.projector(t, &aitest.HashEmbedder{Dim: 16}, 0).Run(context.Background(), "companies/raw/2026-01-02T03:04:05Z", Options{Graph: true, Vectors: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Partial() || res.BatchID == "" {
		t.Fatalf("result = %+v", res)
	}
	if h.cache.calls != 1 {
		t.Fatalf("flushes = %d", h.cache.calls)
	}
}

func TestMissingDomainIsHardError(t *testing.T) {
	h := newHarness()
	writeBatch(t, h.lake, "companies/raw/2026-01-02T03:04:05Z", []common.Company{{ID: "places:1", Name: "Nowhere"}})

	_, err := h.projector(t, nil, 0).Run(context.Background(), "companies/raw/2026-01-02T03:04:05Z", Options{Graph: true})
	if !errors.Is(err, common.ErrMissingDomain) {
		t.Fatalf("err = %v", err)
	}
	if counts, _ := h.graph.Counts(context.Background()); counts.Companies != 0 {
		t.Fatal("partial commit")
	}
}

func TestEmptyBatchIsRejected(t *testing.T) {
	h := newHarness()
	writeBatch(t, h.lake, "companies/raw/2026-01-02T03:04:05Z", []common.Company{})
	emb := &aitest.HashEmbedder{Dim: 16}

	res, err := h.projector(t, emb, 0).Run(context.Background(), "companies/raw/2026-01-02T03:04:05Z", Options{Graph: true, Vectors: true})
	if !errors.Is(err, common.ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v (result %+v)", err, res)
	}
	if emb.Calls() != 0 {
		t.Fatalf("expected no embedding calls, got %d", emb.Calls())
	}
	if h.cache.calls != 0 {
		t.Fatal("empty batch flushed the cache")
	}
	if counts, _ := h.graph.Counts(context.Background()); counts.Companies != 0 {
		t.Fatalf("unexpected graph writes %+v", counts)
	}
}

func TestCacheFlushErrorIsSwallowed(t *testing.T) {
	h := newHarness()
	h.cache.err = errors.New("redis down")
	writeBatch(t, h.lake, "companies/raw/2026-01-02T03:04:05Z", threeCompanies())

	if _, err := h.projector(t, nil, 0).Run(context.Background(), "companies/raw/2026-01-02T03:04:05Z", Options{Graph: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.cache.calls != 1 {
		t.Fatalf("flushes = %d", h.cache.calls)
	}
}

func TestBusyLease(t *testing.T) {
	h := newHarness()
	writeBatch(t, h.lake, "companies/raw/2026-01-02T03:04:05Z", threeCompanies())
	locks := leaselock.New(leaselock.NewMemoryBackend())
	held, err := locks.Acquire(context.Background(), LeaseKey("companies/raw/2026-01-02T03:04:05Z"), leaselock.Options{TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release(context.Background())

	p, _ := NewProjector(NewProjectorParams{Lake: h.lake, Graph: h.graph, Locker: locks})
	_, err = p.Run(context.Background(), "companies/raw/2026-01-02T03:04:05Z/", Options{Graph: true})
	if !IsBusy(err) {
		t.Fatalf("err = %v, want busy", err)
	}
}

func TestRunRejectsEmptyOptionsAndMissingBackends(t *testing.T) {
	h := newHarness()
	p, _ := NewProjector(NewProjectorParams{Lake: h.lake, Graph: h.graph})
	if _, err := p.Run(context.Background(), "x", Options{}); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("empty options: %v", err)
	}
	if _, err := p.Run(context.Background(), "x", Options{Vectors: true}); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("missing vectors: %v", err)
	}
}

func TestRunAllSinceAndMax(t *testing.T) {
	h := newHarness()
	writeBatch(t, h.lake, "companies/raw/2026-01-01T00:00:00Z", threeCompanies()[:1])
	writeBatch(t, h.lake, "enriched/raw/2026-02-01T00:00:00Z", threeCompanies()[1:2])
	writeBatch(t, h.lake, "apollo/raw/2026-03-01T00:00:00Z", threeCompanies()[2:])
	// uncommitted: no sidecar
	h.lake.WriteJSON(context.Background(), "companies/raw/2026-04-01T00:00:00Z/"+storage.PayloadFile, common.Payload{})

	p := h.projector(t, nil, 0)
	results, err := p.RunAll(context.Background(), AllOptions{
		Since:   time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		Max:     5,
		Options: Options{Graph: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Prefix != "enriched/raw/2026-02-01T00:00:00Z" {
		t.Fatalf("results = %+v", results)
	}

	batches, _ := Discover(context.Background(), h.lake, AllOptions{Max: 1})
	if len(batches) != 1 || batches[0].Prefix != "companies/raw/2026-01-01T00:00:00Z" {
		t.Fatalf("batches = %+v", batches)
	}
}
