package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/chirino/memory-policy/internal/metrics"
	"github.com/chirino/memory-policy/internal/model"
	registrystore "github.com/chirino/memory-policy/internal/registry/store"
	"github.com/google/uuid"
)

// ErrSweepInProgress is returned when a sweep for the same owner key is
// already running.
var ErrSweepInProgress = errors.New("sweep already in progress for owner")

// RecordFailure identifies one record that could not be transitioned after
// retries were exhausted.
type RecordFailure struct {
	RecordID uuid.UUID `json:"recordId"`
	Error    string    `json:"error"`
}

// Summary reports the outcome of one sweep. Already-applied transitions stay
// committed even when later records fail; success is only reported per
// record, never for the batch as a whole.
type Summary struct {
	OwnerKey   string                     `json:"ownerKey"`
	Evaluated  int                        `json:"evaluated"`
	Archived   int                        `json:"archived"`
	Deleted    int                        `json:"deleted"`
	Unchanged  int                        `json:"unchanged"`
	Failed     []RecordFailure            `json:"failed,omitempty"`
	Applied    []registrystore.Transition `json:"applied,omitempty"`
	StartedAt  time.Time                  `json:"startedAt"`
	FinishedAt time.Time                  `json:"finishedAt"`
}

// Sweeper applies retention transitions across a record set with optimistic
// concurrency and per-owner mutual exclusion. Sweeps are idempotent:
// re-running over an unchanged set yields the same final states.
type Sweeper struct {
	store      registrystore.RecordStore
	policies   model.PolicySet
	leases     *ownerLeases
	maxRetries int

	// SessionEnded reports whether the session identified by an owner key
	// has completed. Nil means sessions are assumed live.
	SessionEnded func(ownerKey string) bool
}

// NewSweeper creates a Sweeper. The policy set must already be validated.
func NewSweeper(store registrystore.RecordStore, policies model.PolicySet, maxRetries int) *Sweeper {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Sweeper{
		store:      store,
		policies:   policies,
		leases:     newOwnerLeases(),
		maxRetries: maxRetries,
	}
}

// SweepOwner evaluates and applies retention transitions for every record
// under one owner key. Cancellation is cooperative and checked only between
// records, so a cancelled sweep never leaves a half-applied transition.
func (s *Sweeper) SweepOwner(ctx context.Context, ownerKey string, now time.Time) (*Summary, error) {
	if ownerKey == "" {
		return nil, &registrystore.ValidationError{Field: "ownerKey", Message: "must not be empty"}
	}
	if !s.leases.acquire(ownerKey) {
		return nil, fmt.Errorf("owner %s: %w", ownerKey, ErrSweepInProgress)
	}
	defer s.leases.release(ownerKey)

	records, err := s.listWithRetry(ctx, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("list records for owner %s: %w", ownerKey, err)
	}

	summary := &Summary{OwnerKey: ownerKey, StartedAt: now}
	sessionEnded := s.SessionEnded != nil && s.SessionEnded(ownerKey)

	for i := range records {
		select {
		case <-ctx.Done():
			summary.FinishedAt = time.Now()
			return summary, ctx.Err()
		default:
		}
		s.sweepRecord(ctx, &records[i], now, sessionEnded, summary)
	}

	summary.FinishedAt = time.Now()
	log.Info("Sweep: completed",
		"owner", ownerKey,
		"evaluated", summary.Evaluated,
		"archived", summary.Archived,
		"deleted", summary.Deleted,
		"failed", len(summary.Failed))
	return summary, nil
}

// SweepAll sweeps every owner currently present in the store, sequentially.
// Callers that want per-owner parallelism fan out over ListOwners themselves.
func (s *Sweeper) SweepAll(ctx context.Context, now time.Time) ([]*Summary, error) {
	owners, err := s.store.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	summaries := make([]*Summary, 0, len(owners))
	for _, owner := range owners {
		summary, err := s.SweepOwner(ctx, owner, now)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return summaries, err
			}
			log.Error("Sweep: owner failed", "owner", owner, "err", err)
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *Sweeper) sweepRecord(ctx context.Context, record *model.MemoryRecord, now time.Time, sessionEnded bool, summary *Summary) {
	summary.Evaluated++
	policy := s.policies.ForScope(record.Scope)

	current := record
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		decision := Evaluate(current, policy, now, Request{SessionEnded: sessionEnded})
		if decision.None() {
			summary.Unchanged++
			return
		}

		t := registrystore.Transition{
			RecordID:        current.ID,
			From:            current.State,
			To:              decision.Transition,
			ExpectedVersion: current.Version,
			Reason:          decision.Reason,
			At:              now,
		}
		err := s.applyWithRetry(ctx, t)
		if err == nil {
			summary.Applied = append(summary.Applied, t)
			metrics.ObserveTransition(string(record.Scope), string(decision.Transition))
			switch decision.Transition {
			case model.StateArchived:
				summary.Archived++
			case model.StateDeleted:
				summary.Deleted++
			}
			return
		}

		// Stale version: the record changed under us. Re-fetch and
		// re-evaluate rather than applying the cached decision.
		var conflict *registrystore.ConflictError
		if errors.As(err, &conflict) && attempt < s.maxRetries {
			fresh, getErr := s.store.Get(ctx, current.ID)
			if getErr != nil {
				s.recordFailure(summary, current.ID, getErr)
				return
			}
			current = fresh
			continue
		}

		s.recordFailure(summary, current.ID, err)
		return
	}
}

func (s *Sweeper) recordFailure(summary *Summary, id uuid.UUID, err error) {
	summary.Failed = append(summary.Failed, RecordFailure{RecordID: id, Error: err.Error()})
	if metrics.SweepFailuresTotal != nil {
		metrics.SweepFailuresTotal.Inc()
	}
}

// applyWithRetry retries transient store failures with bounded exponential
// backoff. Conflict errors surface immediately so the caller can re-fetch.
func (s *Sweeper) applyWithRetry(ctx context.Context, t registrystore.Transition) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.maxRetries)), ctx)
	return backoff.Retry(func() error {
		err := s.store.ApplyTransition(ctx, t)
		if err == nil {
			return nil
		}
		var unavailable *registrystore.UnavailableError
		if errors.As(err, &unavailable) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, policy)
}

func (s *Sweeper) listWithRetry(ctx context.Context, ownerKey string) ([]model.MemoryRecord, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.maxRetries)), ctx)
	var records []model.MemoryRecord
	err := backoff.Retry(func() error {
		var err error
		records, err = s.store.ListByOwner(ctx, ownerKey)
		if err == nil {
			return nil
		}
		var unavailable *registrystore.UnavailableError
		if errors.As(err, &unavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
	return records, err
}
