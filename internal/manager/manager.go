// Package manager owns the single live index of the process: lazy
// memoized load from the backing file, dirty tracking with opportunistic
// saves, full rebuilds from a corpus snapshot, and defensive recovery from
// corrupt persisted state. The index file is a derived cache, never the
// source of truth, so every load failure self-heals to an empty index.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/recallhq/recall/internal/cache"
	"github.com/recallhq/recall/internal/index"
	"github.com/recallhq/recall/internal/memory"
	"github.com/recallhq/recall/internal/tokenizer"
	"github.com/recallhq/recall/pkg/config"
	pkgerrors "github.com/recallhq/recall/pkg/errors"
	"github.com/recallhq/recall/pkg/metrics"
)

// Options carries the optional collaborators of a Manager. All fields may
// be nil/zero.
type Options struct {
	Cache   *cache.QueryCache
	Metrics *metrics.Metrics
	Policy  FlushPolicy
}

// Manager is the process-wide cache of one loaded index.
type Manager struct {
	cfg       config.IndexConfig
	searchCfg config.SearchConfig
	tok       tokenizer.Tokenizer
	qcache    *cache.QueryCache
	metrics   *metrics.Metrics
	policy    FlushPolicy
	logger    *slog.Logger

	loadGroup singleflight.Group

	mu        sync.RWMutex
	idx       *index.Index
	dirty     bool
	mutations int
	lastSave  time.Time
}

// New creates a Manager. Nothing is read from disk until the first
// operation needs the index.
func New(cfg config.IndexConfig, searchCfg config.SearchConfig, opts Options) *Manager {
	policy := opts.Policy
	if policy == nil {
		policy = EveryPolicy{Mutations: cfg.FlushEvery, Interval: cfg.FlushInterval}
	}
	return &Manager{
		cfg:       cfg,
		searchCfg: searchCfg,
		tok:       tokenizer.Tokenizer{FilterStopWords: cfg.FilterStopWords},
		qcache:    opts.Cache,
		metrics:   opts.Metrics,
		policy:    policy,
		logger:    slog.Default().With("component", "index-manager"),
		lastSave:  time.Now(),
	}
}

// Stats describes the manager's view of the index.
type Stats struct {
	TotalDocs      int    `json:"total_docs"`
	VocabularySize int    `json:"vocabulary_size"`
	Dirty          bool   `json:"dirty"`
	Path           string `json:"path"`
}

// RebuildStats summarises a full rebuild.
type RebuildStats struct {
	Indexed        int `json:"indexed"`
	Skipped        int `json:"skipped"`
	TotalDocs      int `json:"total_docs"`
	VocabularySize int `json:"vocabulary_size"`
}

// ensureLoaded populates m.idx from the backing file, reading and parsing
// it at most once per process lifetime (or per rebuild). Concurrent first
// callers share a single in-flight load through the singleflight group.
// Callers must read m.idx under m.mu afterwards: a concurrent Rebuild can
// swap the pointer, and a value captured outside the lock would be the
// discarded index.
func (m *Manager) ensureLoaded() {
	m.mu.RLock()
	loaded := m.idx != nil
	m.mu.RUnlock()
	if loaded {
		return
	}
	m.loadGroup.Do("load", func() (interface{}, error) {
		m.mu.RLock()
		loaded := m.idx != nil
		m.mu.RUnlock()
		if loaded {
			return nil, nil
		}
		idx := m.loadFromDisk()
		m.mu.Lock()
		m.idx = idx
		m.mu.Unlock()
		m.setGauges(idx.Stats())
		return nil, nil
	})
}

// loadFromDisk reads the backing file, falling back to an empty index on
// any failure. Malformed persisted state is logged as a warning and never
// surfaced to the caller.
func (m *Manager) loadFromDisk() *index.Index {
	data, err := os.ReadFile(m.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Info("no index file, starting empty", "path", m.cfg.Path)
			return index.New(m.tok)
		}
		m.logger.Warn("index file unreadable, starting empty", "path", m.cfg.Path, "error", err)
		m.countRecovery()
		return index.New(m.tok)
	}
	idx, err := index.Deserialize(data, m.tok)
	if err != nil {
		m.logger.Warn("index file invalid, starting empty", "path", m.cfg.Path, "error", err)
		m.countRecovery()
		return index.New(m.tok)
	}
	st := idx.Stats()
	m.logger.Info("index loaded",
		"path", m.cfg.Path,
		"total_docs", st.TotalDocs,
		"vocabulary_size", st.VocabularySize,
	)
	return idx
}

// IndexMemory adds or re-indexes one memory. The mutation always lands in
// the live index; the error reports only a failed opportunistic save.
func (m *Manager) IndexMemory(ctx context.Context, mem memory.Memory) error {
	if mem.ID == "" {
		return fmt.Errorf("%w: empty memory id", pkgerrors.ErrInvalidInput)
	}
	m.ensureLoaded()

	m.mu.Lock()
	m.idx.Add(mem.ID, mem.IndexableText())
	m.dirty = true
	m.mutations++
	due := m.policy.Due(m.mutations, time.Since(m.lastSave))
	st := m.idx.Stats()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.MemoriesIndexedTotal.Inc()
	}
	m.setGauges(st)
	m.invalidateCache(ctx)
	if due {
		if err := m.save(false); err != nil {
			return fmt.Errorf("opportunistic save after indexing %s: %w", mem.ID, err)
		}
	}
	return nil
}

// RemoveMemory removes a memory from the index. Removing an id that was
// never indexed is a no-op.
func (m *Manager) RemoveMemory(ctx context.Context, id string) error {
	m.ensureLoaded()

	m.mu.Lock()
	existed := m.idx.Has(id)
	if existed {
		m.idx.Remove(id)
		m.dirty = true
		m.mutations++
	}
	due := existed && m.policy.Due(m.mutations, time.Since(m.lastSave))
	st := m.idx.Stats()
	m.mu.Unlock()

	if !existed {
		return nil
	}
	if m.metrics != nil {
		m.metrics.MemoriesRemovedTotal.Inc()
	}
	m.setGauges(st)
	m.invalidateCache(ctx)
	if due {
		if err := m.save(false); err != nil {
			return fmt.Errorf("opportunistic save after removing %s: %w", id, err)
		}
	}
	return nil
}

// Search ranks memories against the free-text query. Options left at
// their zero value fall back to the configured defaults.
func (m *Manager) Search(ctx context.Context, query string, opts index.SearchOptions) ([]index.ScoredDoc, error) {
	opts = m.applySearchDefaults(opts)
	m.ensureLoaded()

	start := time.Now()
	compute := func() ([]index.ScoredDoc, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.idx.Search(query, opts), nil
	}

	var (
		results []index.ScoredDoc
		cached  bool
		err     error
	)
	if m.qcache != nil {
		results, cached, err = m.qcache.GetOrCompute(ctx, query, opts, compute)
		if err != nil {
			return nil, fmt.Errorf("searching %q: %w", query, err)
		}
	} else {
		results, _ = compute()
	}

	if m.metrics != nil {
		cacheStatus := "none"
		switch {
		case cached:
			cacheStatus = "hit"
			m.metrics.CacheHitsTotal.Inc()
		case m.qcache != nil:
			cacheStatus = "miss"
			m.metrics.CacheMissesTotal.Inc()
		}
		m.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
		resultType := "hit"
		if len(results) == 0 {
			resultType = "zero_result"
		}
		m.metrics.SearchesTotal.WithLabelValues(resultType).Inc()
	}
	return results, nil
}

// Rebuild discards the cached index and builds a fresh one from the full
// corpus snapshot. Memories that cannot be indexed are skipped and
// counted, never aborting the rebuild. The new index is persisted before
// returning; a save failure is reported alongside valid stats and the
// in-memory index stays live.
func (m *Manager) Rebuild(ctx context.Context, mems []memory.Memory) (RebuildStats, error) {
	idx := index.New(m.tok)
	var skipped int
	for _, mem := range mems {
		if mem.ID == "" {
			m.logger.Warn("skipping memory with empty id during rebuild")
			skipped++
			continue
		}
		idx.Add(mem.ID, mem.IndexableText())
	}

	m.mu.Lock()
	m.idx = idx
	m.dirty = true
	m.mutations = 0
	st := idx.Stats()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RebuildsTotal.Inc()
	}
	m.setGauges(st)
	m.invalidateCache(ctx)

	stats := RebuildStats{
		Indexed:        len(mems) - skipped,
		Skipped:        skipped,
		TotalDocs:      st.TotalDocs,
		VocabularySize: st.VocabularySize,
	}
	m.logger.Info("index rebuilt",
		"indexed", stats.Indexed,
		"skipped", stats.Skipped,
		"total_docs", stats.TotalDocs,
		"vocabulary_size", stats.VocabularySize,
	)
	if err := m.save(true); err != nil {
		return stats, fmt.Errorf("persisting rebuilt index: %w", err)
	}
	return stats, nil
}

// Save writes the index to the backing file if it has diverged from disk.
func (m *Manager) Save(ctx context.Context) error {
	return m.save(false)
}

// Flush writes the index out unconditionally. Used before shutdown and at
// explicit consistency points.
func (m *Manager) Flush(ctx context.Context) error {
	return m.save(true)
}

// save serialises and atomically replaces the backing file. With force
// unset it is a no-op while the index is clean. A failure leaves the
// in-memory index valid and dirty, so the next save retries the write.
func (m *Manager) save(force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idx == nil {
		return nil
	}
	if !m.dirty && !force {
		if m.metrics != nil {
			m.metrics.IndexFlushesTotal.WithLabelValues("clean").Inc()
		}
		return nil
	}
	data, err := index.Serialize(m.idx)
	if err != nil {
		m.countFlush("error")
		return fmt.Errorf("serializing index: %w", err)
	}
	if err := m.writeAtomic(data); err != nil {
		m.countFlush("error")
		return err
	}
	m.dirty = false
	m.mutations = 0
	m.lastSave = time.Now()
	m.countFlush("ok")
	m.logger.Debug("index saved", "path", m.cfg.Path, "bytes", len(data))
	return nil
}

// writeAtomic writes to a temp file in the same directory, syncs, and
// renames over the backing file so a crash mid-write cannot leave a
// partially written index behind.
func (m *Manager) writeAtomic(data []byte) error {
	dir := filepath.Dir(m.cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	tmpPath := m.cfg.Path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing index file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing index file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing index file: %w", err)
	}
	if err := os.Rename(tmpPath, m.cfg.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming index file: %w", err)
	}
	return nil
}

// Stats reports the manager's counters, loading the index if needed.
func (m *Manager) Stats(ctx context.Context) Stats {
	m.ensureLoaded()
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.idx.Stats()
	return Stats{
		TotalDocs:      st.TotalDocs,
		VocabularySize: st.VocabularySize,
		Dirty:          m.dirty,
		Path:           m.cfg.Path,
	}
}

func (m *Manager) applySearchDefaults(opts index.SearchOptions) index.SearchOptions {
	if opts.Limit <= 0 && m.searchCfg.DefaultLimit > 0 {
		opts.Limit = m.searchCfg.DefaultLimit
	}
	if opts.Threshold <= 0 && m.searchCfg.Threshold > 0 {
		opts.Threshold = m.searchCfg.Threshold
	}
	if opts.K1 <= 0 && m.searchCfg.K1 > 0 {
		opts.K1 = m.searchCfg.K1
	}
	if opts.B <= 0 && m.searchCfg.B > 0 {
		opts.B = m.searchCfg.B
	}
	return opts
}

// invalidateCache drops cached search results after a mutation. Best
// effort: a cache failure never fails the mutation.
func (m *Manager) invalidateCache(ctx context.Context) {
	if m.qcache == nil {
		return
	}
	if err := m.qcache.Invalidate(ctx); err != nil {
		m.logger.Warn("query cache invalidation failed", "error", err)
	}
}

func (m *Manager) setGauges(st index.Stats) {
	if m.metrics == nil {
		return
	}
	m.metrics.IndexedDocuments.Set(float64(st.TotalDocs))
	m.metrics.VocabularySize.Set(float64(st.VocabularySize))
}

func (m *Manager) countFlush(status string) {
	if m.metrics != nil {
		m.metrics.IndexFlushesTotal.WithLabelValues(status).Inc()
	}
}

func (m *Manager) countRecovery() {
	if m.metrics != nil {
		m.metrics.IndexRecoveriesTotal.Inc()
	}
}
