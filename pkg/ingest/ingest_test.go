package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/atlas/internal/storage"
	"github.com/OFFIS-RIT/atlas/pkg/common"
)

type fakeDirectory struct {
	companies []common.Company
	calls     int32
}

func (d *fakeDirectory) Name() string { return "places" }

func (d *fakeDirectory) Search(ctx context.Context, query string, limit int) ([]common.Company, error) {
	atomic.AddInt32(&d.calls, 1)
	if limit < len(d.companies) {
		return d.companies[:limit], nil
	}
	return d.companies, nil
}

type fakePeople struct {
	byDomain map[string][]common.Person
	delay    func(domain string) time.Duration
}

func (p *fakePeople) Name() string { return "hunter" }

func (p *fakePeople) FindByCompanyDomain(ctx context.Context, domain string) ([]common.Person, error) {
	if p.delay != nil {
		time.Sleep(p.delay(domain))
	}
	if domain == "broken.example" {
		return nil, errors.New("boom")
	}
	return p.byDomain[domain], nil
}

var fixedClock = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }

func TestRun_SingleCompanyNoEnrichment(t *testing.T) {
	lake := storage.NewMemoryLake("")
	dir := &fakeDirectory{companies: []common.Company{{ID: "places:X", Name: "Acme Labs", Domain: "acme.example"}}}
	ing, err := NewIngestor(NewIngestorParams{Lake: lake, Directory: dir, Clock: fixedClock})
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}

	res, err := ing.Run(context.Background(), "Acme Labs", 1)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Prefix != "companies/raw/2026-05-06T07:08:09.000Z" {
		t.Fatalf("unexpected prefix %q", res.Prefix)
	}
	if !lake.BucketCreated() {
		t.Fatal("expected bucket to be ensured")
	}

	payload, err := storage.ReadPayload(context.Background(), lake, res.Prefix)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if len(payload.Companies) != 1 || payload.Companies[0].Domain != "acme.example" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	meta, err := storage.ReadSidecar(context.Background(), lake, res.Prefix)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if meta.Count != 1 || meta.Source != storage.LabelCompanies || meta.SchemaVersion != common.SchemaVersion {
		t.Fatalf("unexpected sidecar %+v", meta)
	}
	if meta.IngestID == "" || meta.BatchID == "" {
		t.Fatalf("expected ids in sidecar %+v", meta)
	}
}

func TestRun_EnrichedKeepsDirectoryOrder(t *testing.T) {
	lake := storage.NewMemoryLake("")
	var companies []common.Company
	people := &fakePeople{byDomain: map[string][]common.Person{}}
	for i := 0; i < 8; i++ {
		domain := fmt.Sprintf("c%d.example", i)
		companies = append(companies, common.Company{ID: fmt.Sprintf("places:%d", i), Name: domain, Domain: domain})
		people.byDomain[domain] = []common.Person{{ID: "hunter:a@" + domain, FullName: "A", Emails: []string{"A@" + domain}}}
	}
	companies = append(companies, common.Company{ID: "places:broken", Name: "Broken", Domain: "broken.example"})
	// earlier companies answer later
	people.delay = func(domain string) time.Duration {
		if strings.HasPrefix(domain, "c0") || strings.HasPrefix(domain, "c1") {
			return 20 * time.Millisecond
		}
		return 0
	}

	ing, err := NewIngestor(NewIngestorParams{
		Lake:      lake,
		Directory: &fakeDirectory{companies: companies},
		People:    people,
		Workers:   4,
		Clock:     fixedClock,
	})
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}
	res, err := ing.Run(context.Background(), "q", 20)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(res.Prefix, "enriched/raw/") || !res.Enriched {
		t.Fatalf("unexpected result %+v", res)
	}

	payload, err := storage.ReadPayload(context.Background(), lake, res.Prefix)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if len(payload.Companies) != 9 {
		t.Fatalf("expected 9 companies, got %d", len(payload.Companies))
	}
	for i := 0; i < 8; i++ {
		c := payload.Companies[i]
		if c.ID != fmt.Sprintf("places:%d", i) {
			t.Fatalf("order changed at %d: %s", i, c.ID)
		}
		if len(c.People) != 1 || c.People[0].Emails[0] != "a@"+c.Domain {
			t.Fatalf("unexpected people for %s: %+v", c.Domain, c.People)
		}
	}
	if len(payload.Companies[8].People) != 0 {
		t.Fatalf("failed enrichment should yield no people, got %+v", payload.Companies[8].People)
	}
}

func TestRun_LimitZeroSkipsProvider(t *testing.T) {
	dir := &fakeDirectory{companies: []common.Company{{ID: "places:X", Name: "Acme", Domain: "acme.example"}}}
	ing, _ := NewIngestor(NewIngestorParams{Lake: storage.NewMemoryLake(""), Directory: dir})
	_, err := ing.Run(context.Background(), "Acme", 0)
	if !errors.Is(err, common.ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
	if atomic.LoadInt32(&dir.calls) != 0 {
		t.Fatalf("expected no provider calls, got %d", dir.calls)
	}
}

func TestRun_DropsCompaniesWithoutDomain(t *testing.T) {
	dir := &fakeDirectory{companies: []common.Company{
		{ID: "places:A", Name: "A", Domain: "https://WWW.A.Example/"},
		{ID: "places:B", Name: "B"},
	}}
	lake := storage.NewMemoryLake("")
	ing, _ := NewIngestor(NewIngestorParams{Lake: lake, Directory: dir, Clock: fixedClock})
	res, err := ing.Run(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	payload, _ := storage.ReadPayload(context.Background(), lake, res.Prefix)
	if len(payload.Companies) != 1 || payload.Companies[0].Domain != "a.example" {
		t.Fatalf("unexpected companies %+v", payload.Companies)
	}
}

func TestRun_EmptyDirectory(t *testing.T) {
	ing, _ := NewIngestor(NewIngestorParams{Lake: storage.NewMemoryLake(""), Directory: &fakeDirectory{}})
	if _, err := ing.Run(context.Background(), "q", 5); !errors.Is(err, common.ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestRun_SidecarFailureLeavesNoPayload(t *testing.T) {
	lake := storage.NewMemoryLake("")
	lake.WriteHook = func(key string) error {
		if strings.HasSuffix(key, storage.SidecarFile) {
			return errors.New("disk full")
		}
		return nil
	}
	dir := &fakeDirectory{companies: []common.Company{{ID: "places:X", Name: "Acme", Domain: "acme.example"}}}
	ing, _ := NewIngestor(NewIngestorParams{Lake: lake, Directory: dir, Clock: fixedClock})
	if _, err := ing.Run(context.Background(), "q", 1); err == nil {
		t.Fatal("expected sidecar failure to abort the run")
	}
	if lake.Has("companies/raw/2026-05-06T07:08:09.000Z/" + storage.PayloadFile) {
		t.Fatal("expected payload to be removed")
	}
}

func TestRun_SameSecondRunsGetDistinctBatches(t *testing.T) {
	ctx := context.Background()
	lake := storage.NewMemoryLake("")
	base := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	run := func(offset time.Duration, domain string) *Result {
		dir := &fakeDirectory{companies: []common.Company{{ID: "places:" + domain, Name: domain, Domain: domain}}}
		ing, err := NewIngestor(NewIngestorParams{Lake: lake, Directory: dir, Clock: func() time.Time { return base.Add(offset) }})
		if err != nil {
			t.Fatalf("new ingestor: %v", err)
		}
		res, err := ing.Run(ctx, domain, 1)
		if err != nil {
			t.Fatalf("run %s: %v", domain, err)
		}
		return res
	}

	first := run(0, "alpha.example")
	second := run(300*time.Millisecond, "zeta.example")
	third := run(0, "omega.example")

	seen := map[string]string{first.Prefix: "alpha.example", second.Prefix: "zeta.example", third.Prefix: "omega.example"}
	if len(seen) != 3 {
		t.Fatalf("expected three distinct prefixes, got %q %q %q", first.Prefix, second.Prefix, third.Prefix)
	}
	if third.Prefix != "companies/raw/2026-05-06T07:08:09.001Z" {
		t.Fatalf("expected colliding run to move to the next millisecond, got %q", third.Prefix)
	}
	for prefix, domain := range seen {
		payload, err := storage.ReadPayload(ctx, lake, prefix)
		if err != nil {
			t.Fatalf("read %s: %v", prefix, err)
		}
		if payload.Companies[0].Domain != domain {
			t.Fatalf("batch %s holds %s, expected %s", prefix, payload.Companies[0].Domain, domain)
		}
		meta, err := storage.ReadSidecar(ctx, lake, prefix)
		if err != nil {
			t.Fatalf("read sidecar %s: %v", prefix, err)
		}
		if storage.BatchPrefix(storage.LabelCompanies, meta.FetchedAt) != prefix {
			t.Fatalf("sidecar fetched_at %v does not match %s", meta.FetchedAt, prefix)
		}
	}
}
