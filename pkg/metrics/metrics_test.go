package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_RegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ETLRunsTotal.WithLabelValues("ok").Inc()
	m.CacheResultsTotal.WithLabelValues("lookup", "hit").Inc()
	m.EmbedderSwitches.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		"atlas_etl_runs_total",
		"atlas_cache_results_total",
		"atlas_embedder_fallback_switches_total",
	} {
		if !found[name] {
			t.Fatalf("expected %s to be gathered", name)
		}
	}
}

func TestDefault_IsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatal("expected the same collectors")
	}
}
