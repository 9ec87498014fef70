package service

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-policy/internal/retention"
	registrystore "github.com/chirino/memory-policy/internal/registry/store"
	"github.com/robfig/cron/v3"
)

// SweepService periodically applies retention transitions across all owners.
// It runs on a fixed interval, or on a cron expression when one is configured.
type SweepService struct {
	store    registrystore.RecordStore
	sweeper  *retention.Sweeper
	interval time.Duration
	cronSpec string
	delay    time.Duration
}

// NewSweepService creates a new sweep service. delay is the pause inserted
// between owners to keep sweep load off the foreground query path.
func NewSweepService(store registrystore.RecordStore, sweeper *retention.Sweeper, interval time.Duration, cronSpec string, delay time.Duration) *SweepService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	return &SweepService{
		store:    store,
		sweeper:  sweeper,
		interval: interval,
		cronSpec: cronSpec,
		delay:    delay,
	}
}

// Start begins the periodic sweep loop. Returns when ctx is cancelled.
func (s *SweepService) Start(ctx context.Context) {
	if s.cronSpec != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.cronSpec, func() { s.runSweep(ctx) }); err != nil {
			log.Error("Sweep: invalid cron expression, falling back to interval", "cron", s.cronSpec, "err", err)
		} else {
			c.Start()
			<-ctx.Done()
			c.Stop()
			return
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *SweepService) runSweep(ctx context.Context) {
	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		log.Error("Sweep: list owners failed", "err", err)
		return
	}
	if len(owners) == 0 {
		return
	}

	log.Info("Sweep: starting", "owners", len(owners))
	archived, deleted, failed := 0, 0, 0
	for _, owner := range owners {
		summary, err := s.sweeper.SweepOwner(ctx, owner, time.Now())
		if err != nil {
			if errors.Is(err, retention.ErrSweepInProgress) {
				log.Debug("Sweep: owner already being swept", "owner", owner)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("Sweep: owner failed", "owner", owner, "err", err)
			continue
		}
		archived += summary.Archived
		deleted += summary.Deleted
		failed += len(summary.Failed)

		if s.delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.delay):
			}
		}
	}
	log.Info("Sweep: completed", "archived", archived, "deleted", deleted, "failed", failed)
}
