package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-policy/internal/dedup"
	"github.com/chirino/memory-policy/internal/model"
	registrystore "github.com/chirino/memory-policy/internal/registry/store"
)

// DedupService periodically runs deduplication for every owner. Only
// high-confidence groups are auto-resolved; medium-confidence groups are
// left pending for explicit confirmation.
type DedupService struct {
	store    registrystore.RecordStore
	engine   *dedup.Engine
	interval time.Duration
}

// NewDedupService creates a new dedup service.
func NewDedupService(store registrystore.RecordStore, engine *dedup.Engine, interval time.Duration) *DedupService {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &DedupService{store: store, engine: engine, interval: interval}
}

// Start begins the periodic dedup loop. Returns when ctx is cancelled.
func (d *DedupService) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runDedup(ctx)
		}
	}
}

func (d *DedupService) runDedup(ctx context.Context) {
	owners, err := d.store.ListOwners(ctx)
	if err != nil {
		log.Error("Dedup: list owners failed", "err", err)
		return
	}
	if len(owners) == 0 {
		return
	}

	high, pending := 0, 0
	for _, owner := range owners {
		groups, err := d.engine.Run(ctx, owner)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Dedup: owner failed", "owner", owner, "err", err)
			continue
		}
		for _, g := range groups {
			if g.ConfidenceTier == model.TierHigh {
				high++
			} else {
				pending++
			}
		}
	}
	if high > 0 || pending > 0 {
		log.Info("Dedup: completed", "resolvedGroups", high, "pendingGroups", pending)
	}
}
