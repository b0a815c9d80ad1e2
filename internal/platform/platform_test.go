package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OFFIS-RIT/atlas/pkg/common"
	"github.com/OFFIS-RIT/atlas/pkg/source/apollo"
	"github.com/OFFIS-RIT/atlas/pkg/source/places"
	"github.com/OFFIS-RIT/atlas/pkg/store"
)

func TestGraphRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	p := New(context.Background())
	defer p.Close()

	if _, err := p.Graph(); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("Graph() err = %v", err)
	}
	// the failure is remembered
	if _, err := p.Vectors(); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("Vectors() err = %v", err)
	}
}

func TestCacheDisabledWithoutRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	p := New(context.Background())
	defer p.Close()

	if c := p.Cache(); c != nil {
		t.Fatalf("cache = %v, want nil", c)
	}
}

func TestEmbedderFallsBackWithoutKey(t *testing.T) {
	t.Setenv("AI_EMBED_KEY", "")
	t.Setenv("AI_FALLBACK_URL", "http://127.0.0.1:11434")
	p := New(context.Background())
	defer p.Close()

	e, err := p.Embedder()
	if err != nil {
		t.Fatal(err)
	}
	if !e.UsingFallback() {
		t.Fatal("expected the fallback embedder")
	}
	again, _ := p.Embedder()
	if again != e {
		t.Fatal("embedder rebuilt")
	}
}

func TestSourcesFromEnv(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("PLACES_API_KEY", "")
	t.Setenv("APOLLO_API_KEY", "key")
	t.Setenv("PEOPLE_SOURCE", apollo.Name)
	p := New(context.Background())
	defer p.Close()

	if _, err := p.Directory(); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("Directory() err = %v", err)
	}
	people, err := p.People()
	if err != nil {
		t.Fatal(err)
	}
	if people.Name() != apollo.Name {
		t.Fatalf("people source = %s", people.Name())
	}

	t.Setenv("PEOPLE_SOURCE", "nobody")
	if _, err := p.People(); !errors.Is(err, common.ErrConfiguration) {
		t.Fatalf("unknown source err = %v", err)
	}
}

func TestLimitsReadPolicies(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("RATE_LIMIT_PLACES", "3/2s")
	t.Setenv("RATE_LIMIT_MAX_WAIT", "5s")
	p := New(context.Background())
	defer p.Close()

	l := p.Limits().Get(places.Name)
	if got := l.Policy(); got.Tokens != 3 || got.Window != 2*time.Second {
		t.Fatalf("policy = %v", got)
	}
	if p.Limits().MaxWait() != 5*time.Second {
		t.Fatalf("max wait = %s", p.Limits().MaxWait())
	}
}

func TestCollectionDefault(t *testing.T) {
	t.Setenv("VECTOR_COLLECTION", "")
	if Collection() != store.DefaultCollection {
		t.Fatalf("collection = %s", Collection())
	}
}

func TestCloseRunsNewestFirst(t *testing.T) {
	p := New(context.Background())
	var order []int
	p.onClose(func() { order = append(order, 1) })
	p.onClose(func() { order = append(order, 2) })
	p.Close()
	p.Close()
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("order = %v", order)
	}
}
