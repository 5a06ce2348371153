package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/recallhq/recall/internal/index"
	"github.com/recallhq/recall/internal/memory"
	"github.com/recallhq/recall/pkg/config"
	pkgerrors "github.com/recallhq/recall/pkg/errors"
)

func newTestManager(t *testing.T, opts Options) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.json")
	cfg := config.IndexConfig{Path: path, FlushEvery: 10}
	searchCfg := config.SearchConfig{K1: 1.2, B: 0.75, DefaultLimit: 20, Threshold: 0.1}
	return New(cfg, searchCfg, opts), path
}

func mustSearch(t *testing.T, m *Manager, query string) []index.ScoredDoc {
	t.Helper()
	results, err := m.Search(context.Background(), query, index.SearchOptions{})
	if err != nil {
		t.Fatalf("Search(%q): %v", query, err)
	}
	return results
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	if results := mustSearch(t, m, "anything"); len(results) != 0 {
		t.Errorf("fresh manager returned %v", results)
	}
	if st := m.Stats(context.Background()); st.TotalDocs != 0 || st.Dirty {
		t.Errorf("unexpected stats on fresh manager: %+v", st)
	}
}

func TestLoadCorruptFileStartsEmpty(t *testing.T) {
	m, path := newTestManager(t, Options{})
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if results := mustSearch(t, m, "anything"); len(results) != 0 {
		t.Errorf("corrupt file should yield empty index, got %v", results)
	}
	st := m.Stats(context.Background())
	if st.TotalDocs != 0 || st.VocabularySize != 0 {
		t.Errorf("corrupt file should yield empty index, got %+v", st)
	}

	// The self-healed index is fully usable and can overwrite the
	// corrupt file.
	ctx := context.Background()
	if err := m.IndexMemory(ctx, memory.Memory{ID: "a", Content: "project alpha"}); err != nil {
		t.Fatalf("IndexMemory: %v", err)
	}
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	m2 := New(config.IndexConfig{Path: path, FlushEvery: 10}, config.SearchConfig{}, Options{})
	if results := mustSearch(t, m2, "alpha"); len(results) != 1 || results[0].ID != "a" {
		t.Errorf("healed index did not persist: %v", results)
	}
}

func TestIndexSearchRemoveLifecycle(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()

	mems := []memory.Memory{
		{ID: "a", Content: "daily standup notes about project alpha", Type: "note", Tags: []string{"work"}},
		{ID: "b", Content: "grocery list: milk eggs bread", Type: "note", Tags: []string{"errand"}},
	}
	for _, mem := range mems {
		if err := m.IndexMemory(ctx, mem); err != nil {
			t.Fatalf("IndexMemory(%s): %v", mem.ID, err)
		}
	}

	results := mustSearch(t, m, "project alpha")
	if len(results) != 1 || results[0].ID != "a" || results[0].Score <= 0 {
		t.Fatalf("Search(project alpha) = %v, want [a]", results)
	}
	// Type and tags are part of the indexable text.
	if results := mustSearch(t, m, "errand"); len(results) != 1 || results[0].ID != "b" {
		t.Errorf("tag search = %v, want [b]", results)
	}

	if err := m.RemoveMemory(ctx, "a"); err != nil {
		t.Fatalf("RemoveMemory: %v", err)
	}
	if results := mustSearch(t, m, "project alpha"); len(results) != 0 {
		t.Errorf("after removal Search = %v, want empty", results)
	}
	if st := m.Stats(ctx); st.TotalDocs != 1 {
		t.Errorf("TotalDocs = %d, want 1", st.TotalDocs)
	}
}

func TestIndexMemoryRejectsEmptyID(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	err := m.IndexMemory(context.Background(), memory.Memory{Content: "no id"})
	if !errors.Is(err, pkgerrors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	m, path := newTestManager(t, Options{})
	ctx := context.Background()
	if err := m.RemoveMemory(ctx, "ghost"); err != nil {
		t.Fatalf("RemoveMemory: %v", err)
	}
	if st := m.Stats(ctx); st.Dirty {
		t.Error("removing an unindexed id should not mark the index dirty")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no-op removal should not create the backing file")
	}
}

func TestSaveIsNoopWhenClean(t *testing.T) {
	m, path := newTestManager(t, Options{})
	ctx := context.Background()
	if err := m.IndexMemory(ctx, memory.Memory{ID: "a", Content: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("backing file missing after save: %v", err)
	}
	modTime := info.ModTime()

	if err := m.Save(ctx); err != nil {
		t.Fatalf("clean Save: %v", err)
	}
	info, err = os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(modTime) {
		t.Error("clean save rewrote the backing file")
	}
}

func TestOpportunisticSaveEveryK(t *testing.T) {
	m, path := newTestManager(t, Options{Policy: EveryPolicy{Mutations: 3}})
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := m.IndexMemory(ctx, memory.Memory{ID: id, Content: "note " + id}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file written before the policy was due")
	}
	if err := m.IndexMemory(ctx, memory.Memory{ID: "c", Content: "note c"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("third mutation should have triggered a save: %v", err)
	}
	if st := m.Stats(ctx); st.Dirty {
		t.Error("index still dirty after opportunistic save")
	}
}

func TestRebuild(t *testing.T) {
	m, path := newTestManager(t, Options{})
	ctx := context.Background()

	// Pre-existing state is discarded wholesale.
	if err := m.IndexMemory(ctx, memory.Memory{ID: "stale", Content: "obsolete zanzibar"}); err != nil {
		t.Fatal(err)
	}

	stats, err := m.Rebuild(ctx, []memory.Memory{
		{ID: "a", Content: "daily standup notes about project alpha"},
		{ID: "", Content: "unindexable, no id"},
		{ID: "b", Content: "grocery list: milk eggs bread"},
	})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if stats.Indexed != 2 || stats.Skipped != 1 || stats.TotalDocs != 2 {
		t.Errorf("stats = %+v, want 2 indexed, 1 skipped", stats)
	}
	if results := mustSearch(t, m, "zanzibar"); len(results) != 0 {
		t.Errorf("stale document survived the rebuild: %v", results)
	}
	if results := mustSearch(t, m, "project alpha"); len(results) != 1 || results[0].ID != "a" {
		t.Errorf("rebuild lost a document: %v", results)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("rebuild did not persist the index: %v", err)
	}
}

func TestRebuildEmptyCorpus(t *testing.T) {
	m, path := newTestManager(t, Options{})
	ctx := context.Background()

	stats, err := m.Rebuild(ctx, nil)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if stats.TotalDocs != 0 || stats.VocabularySize != 0 {
		t.Errorf("stats = %+v, want empty", stats)
	}

	// The persisted file must be empty but valid.
	m2 := New(config.IndexConfig{Path: path, FlushEvery: 10}, config.SearchConfig{}, Options{})
	if st := m2.Stats(ctx); st.TotalDocs != 0 {
		t.Errorf("reloaded stats = %+v, want empty", st)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("backing file missing: %v", err)
	}
}

func TestPersistenceAcrossManagers(t *testing.T) {
	m, path := newTestManager(t, Options{})
	ctx := context.Background()
	if err := m.IndexMemory(ctx, memory.Memory{ID: "a", Content: "project alpha notes"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	m2 := New(config.IndexConfig{Path: path, FlushEvery: 10}, config.SearchConfig{}, Options{})
	results := mustSearch(t, m2, "alpha")
	if len(results) != 1 || results[0].ID != "a" {
		t.Errorf("restart lost the index: %v", results)
	}
}

func TestSaveFailureKeepsIndexUsable(t *testing.T) {
	dir := t.TempDir()
	// Point the backing file at an existing directory so the final
	// rename must fail.
	path := filepath.Join(dir, "index.json")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	m := New(config.IndexConfig{Path: path, FlushEvery: 10}, config.SearchConfig{}, Options{})
	ctx := context.Background()

	if err := m.IndexMemory(ctx, memory.Memory{ID: "a", Content: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Flush(ctx); err == nil {
		t.Fatal("expected Flush to fail")
	}
	// Durability failure must not corrupt the live index.
	if results := mustSearch(t, m, "alpha"); len(results) != 1 {
		t.Errorf("live index unusable after failed save: %v", results)
	}
	if st := m.Stats(ctx); !st.Dirty {
		t.Error("failed save should leave the index dirty")
	}
}

func TestConcurrentFirstLoad(t *testing.T) {
	// Seed a valid backing file through a throwaway manager.
	seed, path := newTestManager(t, Options{})
	ctx := context.Background()
	if err := seed.IndexMemory(ctx, memory.Memory{ID: "a", Content: "project alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := seed.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	m := New(config.IndexConfig{Path: path, FlushEvery: 10}, config.SearchConfig{}, Options{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := m.Search(ctx, "alpha", index.SearchOptions{})
			if err != nil {
				t.Errorf("Search: %v", err)
				return
			}
			if len(results) != 1 || results[0].ID != "a" {
				t.Errorf("concurrent first load returned %v", results)
			}
		}()
	}
	wg.Wait()
}

// Mutations and searches racing against rebuilds must always land on the
// live index, never on a discarded one swapped out mid-operation.
func TestMutationsSurviveConcurrentRebuilds(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	ctx := context.Background()
	corpus := []memory.Memory{{ID: "base", Content: "baseline corpus document"}}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			if _, err := m.Rebuild(ctx, corpus); err != nil {
				t.Errorf("Rebuild: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			mem := memory.Memory{ID: fmt.Sprintf("extra-%d", i), Content: "transient note"}
			if err := m.IndexMemory(ctx, mem); err != nil {
				t.Errorf("IndexMemory: %v", err)
				return
			}
			if _, err := m.Search(ctx, "baseline", index.SearchOptions{}); err != nil {
				t.Errorf("Search: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	// Once the rebuilds have settled, a fresh mutation must be visible to
	// searches and counted in the stats.
	if err := m.IndexMemory(ctx, memory.Memory{ID: "final", Content: "definitive xylograph entry"}); err != nil {
		t.Fatalf("IndexMemory after rebuilds: %v", err)
	}
	results := mustSearch(t, m, "xylograph")
	if len(results) != 1 || results[0].ID != "final" {
		t.Errorf("mutation after rebuilds not searchable: %v", results)
	}
	if st := m.Stats(ctx); st.TotalDocs < 2 {
		t.Errorf("TotalDocs = %d, want at least base and final docs", st.TotalDocs)
	}
}

func TestEveryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		policy    EveryPolicy
		mutations int
		since     time.Duration
		want      bool
	}{
		{"below count", EveryPolicy{Mutations: 10}, 9, time.Hour, false},
		{"at count", EveryPolicy{Mutations: 10}, 10, 0, true},
		{"interval elapsed", EveryPolicy{Interval: time.Minute}, 1, 2 * time.Minute, true},
		{"interval pending", EveryPolicy{Interval: time.Minute}, 1, time.Second, false},
		{"count wins over pending interval", EveryPolicy{Mutations: 2, Interval: time.Hour}, 2, time.Second, true},
		{"zero policy never due", EveryPolicy{}, 1000, time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Due(tt.mutations, tt.since); got != tt.want {
				t.Errorf("Due(%d, %v) = %v, want %v", tt.mutations, tt.since, got, tt.want)
			}
		})
	}
}
