package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHandlerServesCollectorsFromCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.MemoriesIndexedTotal.Inc()
	m.SearchesTotal.WithLabelValues("hit").Inc()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scraping: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading scrape body: %v", err)
	}
	body := string(raw)

	if !strings.Contains(body, "recall_memories_indexed_total 1") {
		t.Errorf("scrape missing incremented counter:\n%s", body)
	}
	if !strings.Contains(body, `recall_searches_total{result_type="hit"} 1`) {
		t.Errorf("scrape missing labelled counter:\n%s", body)
	}
}

func TestNewRegistersEveryCollectorExactlyOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	// Vectors and histograms surface only after their first observation,
	// so gauges and plain counters are what a fresh registry exposes.
	want := []string{
		"recall_memories_indexed_total",
		"recall_memories_removed_total",
		"recall_index_recoveries_total",
		"recall_index_rebuilds_total",
		"recall_indexed_documents",
		"recall_vocabulary_size",
		"recall_cache_hits_total",
		"recall_cache_misses_total",
	}
	got := make(map[string]bool, len(families))
	for _, fam := range families {
		got[fam.GetName()] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("collector %s not registered", name)
		}
	}
}
