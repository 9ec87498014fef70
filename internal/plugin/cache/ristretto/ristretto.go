package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/memory-policy/internal/metrics"
	"github.com/chirino/memory-policy/internal/model"
	"github.com/chirino/memory-policy/internal/registry/cache"
	ristretto "github.com/dgraph-io/ristretto/v2"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "ristretto",
		Loader: func(ctx context.Context) (cache.MergeCache, error) {
			inner, err := ristretto.NewCache(&ristretto.Config[string, []model.ScoredRecord]{
				NumCounters: 100_000,
				MaxCost:     64 << 20,
				BufferItems: 64,
			})
			if err != nil {
				return nil, fmt.Errorf("create ristretto cache: %w", err)
			}
			return &mergeCache{inner: inner}, nil
		},
	})
}

type mergeCache struct {
	inner *ristretto.Cache[string, []model.ScoredRecord]
}

func (c *mergeCache) Available() bool { return true }

func (c *mergeCache) Get(_ context.Context, key string) ([]model.ScoredRecord, bool) {
	results, ok := c.inner.Get(key)
	if ok {
		if metrics.CacheHitsTotal != nil {
			metrics.CacheHitsTotal.Inc()
		}
		return results, true
	}
	if metrics.CacheMissesTotal != nil {
		metrics.CacheMissesTotal.Inc()
	}
	return nil, false
}

func (c *mergeCache) Set(_ context.Context, key string, results []model.ScoredRecord, ttl time.Duration) {
	// Cost is approximated by result count; merge results are small.
	c.inner.SetWithTTL(key, results, int64(len(results)+1), ttl)
}

func (c *mergeCache) Remove(_ context.Context, key string) {
	c.inner.Del(key)
}

var _ cache.MergeCache = (*mergeCache)(nil)
