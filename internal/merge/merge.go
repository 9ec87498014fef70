// Package merge fans a query out across memory scopes and merges the
// results into a single weighted ranking.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-policy/internal/metrics"
	"github.com/chirino/memory-policy/internal/model"
	registrycache "github.com/chirino/memory-policy/internal/registry/cache"
	registrystore "github.com/chirino/memory-policy/internal/registry/store"
	"golang.org/x/sync/errgroup"
)

// Weights are the per-scope merge multipliers. They are configuration, not
// implementation constants; the defaults match the documented formula.
type Weights struct {
	Session float64 `json:"session" yaml:"session"`
	User    float64 `json:"user" yaml:"user"`
	Agent   float64 `json:"agent" yaml:"agent"`
}

// DefaultWeights is the documented default weighting:
// combined = 0.4*session + 0.35*user + 0.25*agent.
var DefaultWeights = Weights{Session: 0.4, User: 0.35, Agent: 0.25}

// For returns the weight for one scope.
func (w Weights) For(scope model.Scope) float64 {
	switch scope {
	case model.ScopeSession:
		return w.Session
	case model.ScopeAgent:
		return w.Agent
	default:
		return w.User
	}
}

// Request describes one multi-scope context retrieval.
type Request struct {
	// Query is the retrieval text, passed through to each scope's store query.
	Query string

	// OwnerKeys maps each scope to the owner key queried in it. Scopes
	// without an entry are skipped and contribute zero.
	OwnerKeys map[model.Scope]string

	// LimitPerScope caps candidates fetched from each scope.
	LimitPerScope int

	// GlobalLimit caps the merged output length.
	GlobalLimit int
}

// Merger performs concurrent per-scope retrieval and weighted merging.
type Merger struct {
	store        registrystore.RecordStore
	cache        registrycache.MergeCache
	weights      Weights
	scopeTimeout time.Duration
	cacheTTL     time.Duration
}

// NewMerger creates a Merger. A nil cache disables result caching.
func NewMerger(store registrystore.RecordStore, cache registrycache.MergeCache, weights Weights, scopeTimeout, cacheTTL time.Duration) *Merger {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	if scopeTimeout <= 0 {
		scopeTimeout = 2 * time.Second
	}
	return &Merger{
		store:        store,
		cache:        cache,
		weights:      weights,
		scopeTimeout: scopeTimeout,
		cacheTTL:     cacheTTL,
	}
}

// MergeContext retrieves candidates from every requested scope concurrently
// and merges them. A scope that times out contributes an empty result set;
// it never fails the whole merge.
func (m *Merger) MergeContext(ctx context.Context, req Request) ([]model.ScoredRecord, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, &model.InvalidInputError{Field: "query", Message: "must not be empty"}
	}
	if req.GlobalLimit <= 0 {
		req.GlobalLimit = 20
	}
	if req.LimitPerScope <= 0 {
		req.LimitPerScope = req.GlobalLimit
	}

	start := time.Now()
	defer func() {
		if metrics.MergeDuration != nil {
			metrics.MergeDuration.Observe(time.Since(start).Seconds())
		}
	}()

	key := m.cacheKey(req)
	if m.cache != nil && m.cache.Available() {
		if cached, ok := m.cache.Get(ctx, key); ok {
			return cached, nil
		}
	}

	perScope := make(map[model.Scope][]model.ScoredRecord, len(req.OwnerKeys))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, scope := range model.Scopes {
		ownerKey, ok := req.OwnerKeys[scope]
		if !ok || ownerKey == "" {
			continue
		}
		g.Go(func() error {
			scopeCtx, cancel := context.WithTimeout(gctx, m.scopeTimeout)
			defer cancel()

			results, err := m.store.Query(scopeCtx, ownerKey, registrystore.QueryFilter{
				Scope: scope,
				Text:  req.Query,
			}, req.LimitPerScope)
			if err != nil {
				// Partial-result tolerance: a slow or failing scope
				// contributes nothing instead of cascading.
				if errors.Is(err, context.DeadlineExceeded) {
					if metrics.MergeScopeTimeoutsTotal != nil {
						metrics.MergeScopeTimeoutsTotal.Inc()
					}
					log.Warn("Merge: scope timed out", "scope", scope, "owner", ownerKey)
					return nil
				}
				log.Error("Merge: scope query failed", "scope", scope, "owner", ownerKey, "err", err)
				return nil
			}
			mu.Lock()
			perScope[scope] = results
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("merge fan-out: %w", err)
	}

	merged := Merge(perScope, m.weights, req.GlobalLimit)
	if m.cache != nil && m.cache.Available() {
		m.cache.Set(ctx, key, merged, m.cacheTTL)
	}
	return merged, nil
}

func (m *Merger) cacheKey(req Request) string {
	var b strings.Builder
	b.WriteString(req.Query)
	for _, scope := range model.Scopes {
		fmt.Fprintf(&b, "|%s=%s", scope, req.OwnerKeys[scope])
	}
	fmt.Fprintf(&b, "|%d|%d", req.LimitPerScope, req.GlobalLimit)
	return b.String()
}

// Merge combines pre-ranked per-scope candidates into one descending
// ranking: combined = Σ scope_score × scope_weight over the scopes a record
// appears in. A missing scope contributes zero; the remaining weights are
// not renormalized. Ties on combined score break toward the most recently
// created record.
func Merge(perScope map[model.Scope][]model.ScoredRecord, weights Weights, globalLimit int) []model.ScoredRecord {
	var merged []model.ScoredRecord
	seen := make(map[string]int)
	for _, scope := range model.Scopes {
		weight := weights.For(scope)
		for _, r := range perScope[scope] {
			id := r.Record.ID.String()
			if idx, ok := seen[id]; ok {
				merged[idx].CombinedScore += r.Score * weight
				continue
			}
			r.CombinedScore = r.Score * weight
			seen[id] = len(merged)
			merged = append(merged, r)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].CombinedScore != merged[j].CombinedScore {
			return merged[i].CombinedScore > merged[j].CombinedScore
		}
		return merged[i].Record.CreatedAt.After(merged[j].Record.CreatedAt)
	})

	if globalLimit > 0 && len(merged) > globalLimit {
		merged = merged[:globalLimit]
	}
	return merged
}
