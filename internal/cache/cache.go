// Package cache provides an optional Redis-backed cache for search
// results. The manager invalidates it on every index mutation, so a hit
// is always consistent with the live index.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/recallhq/recall/internal/index"
	"github.com/recallhq/recall/pkg/config"
	pkgredis "github.com/recallhq/recall/pkg/redis"
)

const keyPrefix = "recall:search:"

// QueryCache caches ranked search results keyed by the normalised query
// and its shaping options.
type QueryCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New wraps the given Redis client as a query cache.
func New(client *pkgredis.Client, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "query-cache"),
	}
}

// Get returns the cached results for the query, if present.
func (c *QueryCache) Get(ctx context.Context, query string, opts index.SearchOptions) ([]index.ScoredDoc, bool) {
	key := c.buildKey(query, opts)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var results []index.ScoredDoc
	if err := json.Unmarshal([]byte(data), &results); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "query", query, "key", key)
	return results, true
}

// Set stores results for the query with the configured TTL.
func (c *QueryCache) Set(ctx context.Context, query string, opts index.SearchOptions, results []index.ScoredDoc) {
	key := c.buildKey(query, opts)
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns cached results or computes, caches, and returns
// them. Concurrent callers with the same key share one computation.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	opts index.SearchOptions,
	computeFn func() ([]index.ScoredDoc, error),
) ([]index.ScoredDoc, bool, error) {
	if results, ok := c.Get(ctx, query, opts); ok {
		return results, true, nil
	}
	key := c.buildKey(query, opts)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if results, ok := c.Get(ctx, query, opts); ok {
			return results, nil
		}
		results, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, query, opts, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]index.ScoredDoc), false, nil
}

// Invalidate deletes every cached search result. Called after any index
// mutation or rebuild.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	pattern := keyPrefix + "*"
	deleted, err := c.client.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Debug("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns the hit and miss counters.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey covers every field of SearchOptions: the BM25 tuning changes
// the ranking, so results cached under one parameterization must never be
// served for another.
func (c *QueryCache) buildKey(query string, opts index.SearchOptions) string {
	raw := fmt.Sprintf("%s:limit=%d:threshold=%g:k1=%g:b=%g",
		NormalizeQuery(query), opts.Limit, opts.Threshold, opts.K1, opts.B)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// NormalizeQuery folds queries that differ only in case, word order, or
// whitespace onto one cache key.
func NormalizeQuery(query string) string {
	words := strings.Fields(strings.ToLower(query))
	sort.Strings(words)
	return strings.Join(words, ",")
}
