package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegisterOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSync("rubygems", "all", "incremental", 120*time.Millisecond)
	m.RecordFetch("rubygems", nil)
	m.RecordFetch("rubygems", errors.New("boom"))
	m.CacheWriteFailed("rubygems", "all")
	m.SetIndexed("rubygems", "all", 42)
	m.SizeProbe("rubygems", "all", "hit")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	found := make(map[string]bool)
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"gemsync_sync_total",
		"gemsync_sync_duration_seconds",
		"gemsync_record_fetches_total",
		"gemsync_cache_write_failures_total",
		"gemsync_indexed_records",
		"gemsync_size_probes_total",
	} {
		if !found[name] {
			t.Fatalf("metric %s not registered", name)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSync("a", "all", "fresh", time.Second)
	m.RecordFetch("a", nil)
	m.CacheWriteFailed("a", "all")
	m.SetIndexed("a", "all", 1)
	m.SizeProbe("a", "all", "miss")
}
