package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/memory-policy/internal/model"
)

// MergeCache caches merged context results keyed by query fingerprint.
type MergeCache interface {
	Available() bool
	Get(ctx context.Context, key string) ([]model.ScoredRecord, bool)
	Set(ctx context.Context, key string, results []model.ScoredRecord, ttl time.Duration)
	Remove(ctx context.Context, key string)
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (MergeCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
