package pgx

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OFFIS-RIT/atlas/pkg/common"
)

// testPool connects to TEST_DATABASE_URL. The tests write uniquely named
// rows and tables, so a shared development database is fine.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := NewPool(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	for range 2 {
		if err := EnsureSchema(ctx, pool); err != nil {
			t.Fatalf("ensure schema: %v", err)
		}
	}
	return pool
}

func TestGraphStore_UpsertBatchIdempotent(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	g := NewGraphStore(pool)

	run := uuid.NewString()[:8]
	domain := "it-" + run + ".example"
	email := "ann@" + domain
	personID := "hunter:" + email
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DELETE FROM companies WHERE domain = $1`, domain)
		pool.Exec(context.Background(), `DELETE FROM persons WHERE id = $1`, personID)
		pool.Exec(context.Background(), `DELETE FROM emails WHERE address = $1`, email)
	})

	companies := []common.Company{{
		ID: "places:" + run, Name: "Acme " + run, Domain: domain, Industry: "software",
		People: []common.Person{{ID: personID, FullName: "Ann Lee", Department: "engineering", Emails: []string{email}}},
	}}

	before, err := g.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	for _, batch := range []string{"batch-1", "batch-2"} {
		stats, err := g.UpsertBatch(ctx, batch, companies)
		if err != nil {
			t.Fatalf("upsert %s: %v", batch, err)
		}
		if stats.Companies != 1 || stats.People != 1 || stats.Emails != 1 {
			t.Fatalf("upsert %s: stats %+v", batch, stats)
		}
	}
	after, err := g.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if after.Companies-before.Companies != 1 || after.WorksAt-before.WorksAt != 1 || after.HasEmail-before.HasEmail != 1 {
		t.Fatalf("rerun duplicated rows: before %+v after %+v", before, after)
	}

	view, err := g.CompanyByDomain(ctx, domain)
	if err != nil || view == nil {
		t.Fatalf("lookup: %v %v", view, err)
	}
	if len(view.People) != 1 || len(view.Emails) != 1 || view.Emails[0] != email {
		t.Fatalf("unexpected view %+v", view)
	}

	node, err := g.ResolveNode(ctx, domain)
	if err != nil || node == nil {
		t.Fatalf("resolve: %v %v", node, err)
	}
	hops, err := g.Adjacent(ctx, *node)
	if err != nil {
		t.Fatalf("adjacent: %v", err)
	}
	if len(hops) != 1 || hops[0].Edge.Properties["batch_id"] != "batch-1" {
		t.Fatalf("expected works_at to keep the first batch id, got %+v", hops)
	}
}

func TestVectorStore_SearchFiltersByType(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	v := NewVectorStore(pool)

	name := fmt.Sprintf("atlas_it_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DROP TABLE IF EXISTS `+tableName(name))
		pool.Exec(context.Background(), `DELETE FROM vector_collections WHERE name = $1`, name)
	})

	if err := v.EnsureCollection(ctx, name, 4); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}
	if dim, err := v.Dimension(ctx, name); err != nil || dim != 4 {
		t.Fatalf("dimension = %d, %v", dim, err)
	}

	points := []common.Point{
		{ID: uuid.NewString(), Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"type": common.TypeCompany, "ext_id": "places:1"}},
		{ID: uuid.NewString(), Vector: []float32{0.9, 0.1, 0, 0}, Payload: map[string]any{"type": common.TypePerson, "ext_id": "hunter:a"}},
	}
	for range 2 {
		if err := v.Upsert(ctx, name, points); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if n, err := v.Count(ctx, name); err != nil || n != 2 {
		t.Fatalf("count = %d, %v", n, err)
	}

	all, err := v.Search(ctx, name, []float32{1, 0, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(all) != 2 || all[0].ID != points[0].ID {
		t.Fatalf("unexpected unfiltered hits %+v", all)
	}

	people, err := v.Search(ctx, name, []float32{1, 0, 0, 0}, 10, []string{common.TypePerson})
	if err != nil {
		t.Fatalf("search people: %v", err)
	}
	if len(people) != 1 || people[0].PayloadType() != common.TypePerson {
		t.Fatalf("unexpected filtered hits %+v", people)
	}

	if err := v.EnsureCollection(ctx, name, 8); err == nil {
		t.Fatal("expected a dimension mismatch for an existing collection")
	}
}
