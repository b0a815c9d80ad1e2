package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/atlas/internal/queue"
	"github.com/OFFIS-RIT/atlas/internal/storage"
	"github.com/OFFIS-RIT/atlas/pkg/ai/aitest"
	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/etl"
	"github.com/OFFIS-RIT/atlas/pkg/ingest"
	"github.com/OFFIS-RIT/atlas/pkg/source"
	"github.com/OFFIS-RIT/atlas/pkg/store/memory"
)

type stubDirectory struct {
	companies []common.Company
	calls     int
}

func (d *stubDirectory) Name() string { return "places" }

func (d *stubDirectory) Search(ctx context.Context, query string, limit int) ([]common.Company, error) {
	d.calls++
	if len(d.companies) > limit {
		return d.companies[:limit], nil
	}
	return d.companies, nil
}

type stubPeople struct{}

func (stubPeople) Name() string { return "hunter" }

func (stubPeople) FindByCompanyDomain(ctx context.Context, domain string) ([]common.Person, error) {
	return []common.Person{{ID: "hunter:a@" + domain, FullName: "A. Example", Emails: []string{"a@" + domain}}}, nil
}

type recordingPublisher struct {
	bodies [][]byte
}

func (p *recordingPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	p.bodies = append(p.bodies, msg.Body)
	return nil
}

type fakeBackends struct {
	lake      *storage.MemoryLake
	graph     *memory.Graph
	vectors   *memory.Vectors
	directory *stubDirectory
	publisher *recordingPublisher
	noKeys    bool
}

func newFakeBackends() *fakeBackends {
	return &fakeBackends{
		lake:    storage.NewMemoryLake(""),
		graph:   memory.NewGraph(),
		vectors: memory.NewVectors(),
		directory: &stubDirectory{companies: []common.Company{
			{ID: "places:X", Name: "Acme Labs", Domain: "acme.example"},
		}},
		publisher: &recordingPublisher{},
	}
}

func (f *fakeBackends) Lake() (storage.Lake, error) { return f.lake, nil }

func (f *fakeBackends) Directory() (source.DirectorySource, error) {
	if f.noKeys {
		return nil, errors.Join(common.ErrConfiguration, errors.New("PLACES_API_KEY is not set"))
	}
	return f.directory, nil
}

func (f *fakeBackends) People() (source.PeopleSource, error) { return stubPeople{}, nil }

func (f *fakeBackends) Projector() (*etl.Projector, error) {
	return etl.NewProjector(etl.NewProjectorParams{
		Lake:     f.lake,
		Graph:    f.graph,
		Vectors:  f.vectors,
		Embedder: &aitest.HashEmbedder{Dim: 64},
	})
}

func (f *fakeBackends) Publisher() (queue.Publisher, error) { return f.publisher, nil }

func run(t *testing.T, f *fakeBackends, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(f, &stdout, &stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func firstResult(t *testing.T, out string) ingest.Result {
	t.Helper()
	var res ingest.Result
	if err := json.NewDecoder(strings.NewReader(out)).Decode(&res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return res
}

func TestIngestAndLoad(t *testing.T) {
	f := newFakeBackends()
	out, _, err := run(t, f, "ingest", "Acme Labs", "--limit", "1", "--load")
	if err != nil {
		t.Fatal(err)
	}
	res := firstResult(t, out)
	if !strings.HasPrefix(res.Prefix, "companies/raw/") || res.Count != 1 {
		t.Fatalf("result = %+v", res)
	}
	view, err := f.graph.CompanyByDomain(context.Background(), "acme.example")
	if err != nil || view == nil || view.Company.Name != "Acme Labs" {
		t.Fatalf("view = %+v, err = %v", view, err)
	}
}

func TestIngestEnrichedWithVectors(t *testing.T) {
	f := newFakeBackends()
	out, _, err := run(t, f, "ingest", "Acme", "--limit", "1", "--enrich", "--load", "--vectors")
	if err != nil {
		t.Fatal(err)
	}
	if res := firstResult(t, out); !strings.HasPrefix(res.Prefix, "enriched/raw/") {
		t.Fatalf("prefix = %s", res.Prefix)
	}
	n, _ := f.vectors.Count(context.Background(), "atlas_entities")
	if n != 2 {
		t.Fatalf("points = %d", n)
	}
}

func TestIngestLimitZeroFails(t *testing.T) {
	f := newFakeBackends()
	_, _, err := run(t, f, "ingest", "Acme", "--limit", "0")
	if !errors.Is(err, common.ErrEmptyResult) {
		t.Fatalf("err = %v", err)
	}
	if f.directory.calls != 0 {
		t.Fatalf("directory called %d times", f.directory.calls)
	}
}

func TestIngestMissingKey(t *testing.T) {
	f := newFakeBackends()
	f.noKeys = true
	if _, _, err := run(t, f, "ingest", "Acme"); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("err = %v", err)
	}
}

func TestIngestEnqueue(t *testing.T) {
	f := newFakeBackends()
	out, _, err := run(t, f, "ingest", "Acme", "--limit", "1", "--enqueue", "--vectors")
	if err != nil {
		t.Fatal(err)
	}
	res := firstResult(t, out)
	if len(f.publisher.bodies) != 1 {
		t.Fatalf("published %d jobs", len(f.publisher.bodies))
	}
	job, err := queue.DecodeETLJob(f.publisher.bodies[0])
	if err != nil || job.Prefix != res.Prefix || !job.Graph || !job.Vectors {
		t.Fatalf("job = %+v, err = %v", job, err)
	}
	if view, _ := f.graph.CompanyByDomain(context.Background(), "acme.example"); view != nil {
		t.Fatal("enqueue must not project in process")
	}
}

func writeBatch(t *testing.T, lake *storage.MemoryLake, label string, ts time.Time, domain string) string {
	t.Helper()
	ctx := context.Background()
	prefix := storage.BatchPrefix(label, ts)
	lake.WriteJSON(ctx, prefix+"/"+storage.PayloadFile, common.Payload{Companies: []common.Company{
		{ID: "places:" + domain, Name: domain, Domain: domain},
	}})
	lake.WriteJSON(ctx, prefix+"/"+storage.SidecarFile, common.Sidecar{Source: label, FetchedAt: ts, Count: 1})
	return prefix
}

func TestETLCommand(t *testing.T) {
	f := newFakeBackends()
	prefix := writeBatch(t, f.lake, "companies", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "acme.example")

	if _, _, err := run(t, f, "etl", prefix+"/"); err != nil {
		t.Fatal(err)
	}
	if view, _ := f.graph.CompanyByDomain(context.Background(), "acme.example"); view == nil {
		t.Fatal("company not projected")
	}

	if _, _, err := run(t, f, "etl", "companies/raw/2030-01-01T00:00:00Z"); err == nil {
		t.Fatal("expected an error for a missing batch")
	}
}

func TestETLAll(t *testing.T) {
	t.Setenv("ETL_ROOTS", "")
	f := newFakeBackends()
	writeBatch(t, f.lake, "companies", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "old.example")
	writeBatch(t, f.lake, "enriched", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), "mid.example")
	writeBatch(t, f.lake, "apollo", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), "new.example")

	out, _, err := run(t, f, "etl-all", "--since", "2026-02-01", "--graph-only")
	if err != nil {
		t.Fatal(err)
	}
	var results []etl.Result
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Prefix != "enriched/raw/2026-02-01T00:00:00.000Z" {
		t.Fatalf("results = %+v", results)
	}
	if view, _ := f.graph.CompanyByDomain(context.Background(), "old.example"); view != nil {
		t.Fatal("batch before --since projected")
	}

	if _, _, err := run(t, f, "etl-all", "--graph-only", "--vectors-only"); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("exclusive flags: %v", err)
	}
	if _, _, err := run(t, f, "etl-all", "--since", "yesterday"); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("bad since: %v", err)
	}
}

func TestLakeLs(t *testing.T) {
	t.Setenv("ETL_ROOTS", "")
	f := newFakeBackends()
	writeBatch(t, f.lake, "companies", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "old.example")
	writeBatch(t, f.lake, "enriched", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), "new.example")

	out, _, err := run(t, f, "lake-ls", "--limit", "1")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "enriched/raw/2026-02-01T00:00:00.000Z") {
		t.Fatalf("output = %q", out)
	}

	out, _, err = run(t, f, "lake-ls", "--prefix", "companies/raw/")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "companies/raw/2026-01-01T00:00:00.000Z") || strings.Contains(out, "enriched/") {
		t.Fatalf("output = %q", out)
	}
}

func TestSchema(t *testing.T) {
	out, _, err := run(t, newFakeBackends(), "schema")
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc["companies.json"]; !ok {
		t.Fatalf("schema keys = %v", doc)
	}
	if _, ok := doc["_meta.json"]; !ok {
		t.Fatalf("schema keys = %v", doc)
	}
}
