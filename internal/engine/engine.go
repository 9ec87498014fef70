// Package engine wires the policy components behind one facade so the HTTP
// server and the CLI commands share a single construction path.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/memory-policy/internal/architect"
	"github.com/chirino/memory-policy/internal/classify"
	"github.com/chirino/memory-policy/internal/config"
	"github.com/chirino/memory-policy/internal/cost"
	"github.com/chirino/memory-policy/internal/dedup"
	"github.com/chirino/memory-policy/internal/merge"
	"github.com/chirino/memory-policy/internal/model"
	storemetrics "github.com/chirino/memory-policy/internal/plugin/store/metrics"
	"github.com/chirino/memory-policy/internal/retention"
	registrycache "github.com/chirino/memory-policy/internal/registry/cache"
	registrystore "github.com/chirino/memory-policy/internal/registry/store"
	"github.com/google/uuid"
)

// Engine exposes every policy operation against one record store.
type Engine struct {
	store      registrystore.RecordStore
	classifier *classify.Classifier
	selector   *architect.Selector
	sweeper    *retention.Sweeper
	dedup      *dedup.Engine
	merger     *merge.Merger
	policies   model.PolicySet
	pricing    cost.PricingTable

	mergeLimitPerScope int
	mergeGlobalLimit   int
}

// New builds an Engine from the resolved configuration. The store and merge
// cache are selected through their registries, so plugin packages must be
// imported for side effects by the caller.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	storeLoader, err := registrystore.Select(cfg.StoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	cacheLoader, err := registrycache.Select(cfg.CacheType)
	if err != nil {
		return nil, err
	}
	cache, err := cacheLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize merge cache: %w", err)
	}

	if err := cfg.LoadPolicies(); err != nil {
		return nil, err
	}
	policies := cfg.Policies

	return &Engine{
		store:      store,
		classifier: classify.New(classify.DefaultKeywords),
		selector:   architect.New(architect.DefaultAffinities),
		sweeper:    retention.NewSweeper(store, policies, cfg.SweepMaxRetries),
		dedup: dedup.NewEngine(store, dedup.Thresholds{
			High:   cfg.DedupHighThreshold,
			Medium: cfg.DedupLowThreshold,
		}),
		merger:             merge.NewMerger(store, cache, merge.DefaultWeights, cfg.MergeScopeTimeout, cfg.MergeCacheTTL),
		mergeLimitPerScope: cfg.MergeLimitPerScope,
		mergeGlobalLimit:   cfg.MergeGlobalLimit,
		policies:           policies,
		pricing: cost.PricingTable{
			StoragePerGBMonth:     cfg.StoragePricePerGBMonth,
			PerThousandEmbeddings: cfg.PricePerThousandEmbeds,
			PerThousandQueries:    cfg.PricePerThousandQuery,
		},
	}, nil
}

// Store exposes the record store for CRUD handlers.
func (e *Engine) Store() registrystore.RecordStore { return e.store }

// Sweeper exposes the retention sweeper for the background sweep service.
func (e *Engine) Sweeper() *retention.Sweeper { return e.sweeper }

// Dedup exposes the dedup engine for the background dedup service.
func (e *Engine) Dedup() *dedup.Engine { return e.dedup }

// Policies returns the retention policy set the engine was built with.
func (e *Engine) Policies() model.PolicySet { return e.policies }

// ClassifyScope assigns a memory scope to a free-text description.
func (e *Engine) ClassifyScope(description string) (classify.Result, error) {
	return e.classifier.Classify(description)
}

// SelectArchitecture recommends a storage architecture for a workload
// description, optionally constrained by the expected record count.
func (e *Engine) SelectArchitecture(description string, expectedRecordCount *int64) (model.ArchitectureDecision, error) {
	return e.selector.Select(description, expectedRecordCount)
}

// EvaluateRetention runs the retention rules for one record without applying
// the resulting transition.
func (e *Engine) EvaluateRetention(ctx context.Context, id uuid.UUID, req retention.Request) (retention.Decision, error) {
	record, err := e.store.Get(ctx, id)
	if err != nil {
		return retention.Decision{}, err
	}
	return retention.Evaluate(record, e.policies.ForScope(record.Scope), time.Now(), req), nil
}

// SweepOwner applies retention transitions for every record of one owner.
func (e *Engine) SweepOwner(ctx context.Context, ownerKey string) (*retention.Summary, error) {
	return e.sweeper.SweepOwner(ctx, ownerKey, time.Now())
}

// SweepAll applies retention transitions across every known owner.
func (e *Engine) SweepAll(ctx context.Context) ([]*retention.Summary, error) {
	return e.sweeper.SweepAll(ctx, time.Now())
}

// RunDedup groups near-duplicate records for one owner and auto-deletes the
// non-canonical members of high-confidence groups.
func (e *Engine) RunDedup(ctx context.Context, ownerKey string) ([]model.DeduplicationGroup, error) {
	return e.dedup.Run(ctx, ownerKey)
}

// ConfirmDedup applies the deletions of a previously reported
// medium-confidence group.
func (e *Engine) ConfirmDedup(ctx context.Context, groupID uuid.UUID) error {
	return e.dedup.ConfirmDeletion(ctx, groupID)
}

// PendingDedupGroups lists medium-confidence groups awaiting confirmation.
func (e *Engine) PendingDedupGroups() []model.DeduplicationGroup {
	return e.dedup.PendingGroups()
}

// MergeContext runs the weighted multi-scope retrieval merge. Requests that
// leave limits unset inherit the configured defaults.
func (e *Engine) MergeContext(ctx context.Context, req merge.Request) ([]model.ScoredRecord, error) {
	if req.LimitPerScope <= 0 {
		req.LimitPerScope = e.mergeLimitPerScope
	}
	if req.GlobalLimit <= 0 {
		req.GlobalLimit = e.mergeGlobalLimit
	}
	return e.merger.MergeContext(ctx, req)
}

// AnalyzeCost prices a usage profile and projects post-optimization spend.
func (e *Engine) AnalyzeCost(usage cost.UsageStats) (cost.Report, error) {
	return cost.Analyze(usage, e.pricing)
}
