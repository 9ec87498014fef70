package metrics

import (
	"context"
	"time"

	"github.com/chirino/memory-policy/internal/metrics"
	"github.com/chirino/memory-policy/internal/model"
	"github.com/chirino/memory-policy/internal/registry/store"
	"github.com/google/uuid"
)

// Wrap returns a RecordStore that records StoreLatency for every operation.
func Wrap(inner store.RecordStore) store.RecordStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.RecordStore
}

func observe(op string, start time.Time) {
	if metrics.StoreLatency != nil {
		metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (m *metricsStore) Upsert(ctx context.Context, record *model.MemoryRecord) error {
	defer observe("upsert", time.Now())
	return m.inner.Upsert(ctx, record)
}

func (m *metricsStore) Get(ctx context.Context, id uuid.UUID) (*model.MemoryRecord, error) {
	defer observe("get", time.Now())
	return m.inner.Get(ctx, id)
}

func (m *metricsStore) Touch(ctx context.Context, id uuid.UUID, now time.Time) error {
	defer observe("touch", time.Now())
	return m.inner.Touch(ctx, id, now)
}

func (m *metricsStore) Query(ctx context.Context, ownerKey string, filter store.QueryFilter, limit int) ([]model.ScoredRecord, error) {
	defer observe("query", time.Now())
	return m.inner.Query(ctx, ownerKey, filter, limit)
}

func (m *metricsStore) ListByOwner(ctx context.Context, ownerKey string) ([]model.MemoryRecord, error) {
	defer observe("list_by_owner", time.Now())
	return m.inner.ListByOwner(ctx, ownerKey)
}

func (m *metricsStore) ListOwners(ctx context.Context) ([]string, error) {
	defer observe("list_owners", time.Now())
	return m.inner.ListOwners(ctx)
}

func (m *metricsStore) ApplyTransition(ctx context.Context, t store.Transition) error {
	defer observe("apply_transition", time.Now())
	return m.inner.ApplyTransition(ctx, t)
}

func (m *metricsStore) Delete(ctx context.Context, id uuid.UUID) error {
	defer observe("delete", time.Now())
	return m.inner.Delete(ctx, id)
}
