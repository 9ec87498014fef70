package noop

import (
	"context"
	"time"

	"github.com/chirino/memory-policy/internal/model"
	"github.com/chirino/memory-policy/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.MergeCache, error) {
			return &noopMergeCache{}, nil
		},
	})
}

type noopMergeCache struct{}

func (n *noopMergeCache) Available() bool { return false }
func (n *noopMergeCache) Get(_ context.Context, _ string) ([]model.ScoredRecord, bool) {
	return nil, false
}
func (n *noopMergeCache) Set(_ context.Context, _ string, _ []model.ScoredRecord, _ time.Duration) {}
func (n *noopMergeCache) Remove(_ context.Context, _ string)                                      {}

var _ cache.MergeCache = (*noopMergeCache)(nil)
