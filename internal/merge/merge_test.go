package merge

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/memory-policy/internal/model"
	"github.com/chirino/memory-policy/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mergeNow = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func scored(id uuid.UUID, scope model.Scope, score float64, createdAt time.Time) model.ScoredRecord {
	return model.ScoredRecord{
		Record: model.MemoryRecord{
			ID:        id,
			Scope:     scope,
			CreatedAt: createdAt,
		},
		Score: score,
	}
}

func TestMergeWeightedFormula(t *testing.T) {
	sessionID := uuid.New()
	userID := uuid.New()
	agentID := uuid.New()
	perScope := map[model.Scope][]model.ScoredRecord{
		model.ScopeSession: {scored(sessionID, model.ScopeSession, 0.8, mergeNow)},
		model.ScopeUser:    {scored(userID, model.ScopeUser, 0.9, mergeNow)},
		model.ScopeAgent:   {scored(agentID, model.ScopeAgent, 1.0, mergeNow)},
	}

	merged := Merge(perScope, DefaultWeights, 0)
	require.Len(t, merged, 3)

	byID := map[uuid.UUID]float64{}
	for _, r := range merged {
		byID[r.Record.ID] = r.CombinedScore
	}
	assert.InDelta(t, 0.4*0.8, byID[sessionID], 1e-6)
	assert.InDelta(t, 0.35*0.9, byID[userID], 1e-6)
	assert.InDelta(t, 0.25*1.0, byID[agentID], 1e-6)

	// 0.32 > 0.315 > 0.25
	assert.Equal(t, sessionID, merged[0].Record.ID)
	assert.Equal(t, userID, merged[1].Record.ID)
	assert.Equal(t, agentID, merged[2].Record.ID)
}

func TestMergeAggregatesSharedRecords(t *testing.T) {
	shared := uuid.New()
	perScope := map[model.Scope][]model.ScoredRecord{
		model.ScopeSession: {scored(shared, model.ScopeSession, 0.5, mergeNow)},
		model.ScopeUser:    {scored(shared, model.ScopeUser, 0.6, mergeNow)},
	}

	merged := Merge(perScope, DefaultWeights, 0)
	require.Len(t, merged, 1)
	assert.InDelta(t, 0.4*0.5+0.35*0.6, merged[0].CombinedScore, 1e-6)
}

func TestMergeMissingScopeContributesZero(t *testing.T) {
	// A record found only in the user scope keeps its 0.35-weighted score;
	// the absent scopes' weights are not redistributed.
	only := uuid.New()
	perScope := map[model.Scope][]model.ScoredRecord{
		model.ScopeUser: {scored(only, model.ScopeUser, 1.0, mergeNow)},
	}

	merged := Merge(perScope, DefaultWeights, 0)
	require.Len(t, merged, 1)
	assert.InDelta(t, 0.35, merged[0].CombinedScore, 1e-6)
}

func TestMergeTieBreaksOnCreatedAt(t *testing.T) {
	older := scored(uuid.New(), model.ScopeUser, 0.5, mergeNow.Add(-48*time.Hour))
	newer := scored(uuid.New(), model.ScopeUser, 0.5, mergeNow.Add(-time.Hour))
	perScope := map[model.Scope][]model.ScoredRecord{
		model.ScopeUser: {older, newer},
	}

	merged := Merge(perScope, DefaultWeights, 0)
	require.Len(t, merged, 2)
	assert.Equal(t, newer.Record.ID, merged[0].Record.ID)
	assert.Equal(t, older.Record.ID, merged[1].Record.ID)
}

func TestMergeGlobalLimit(t *testing.T) {
	perScope := map[model.Scope][]model.ScoredRecord{
		model.ScopeSession: {
			scored(uuid.New(), model.ScopeSession, 0.9, mergeNow),
			scored(uuid.New(), model.ScopeSession, 0.8, mergeNow),
			scored(uuid.New(), model.ScopeSession, 0.7, mergeNow),
		},
	}

	merged := Merge(perScope, DefaultWeights, 2)
	require.Len(t, merged, 2)
	assert.InDelta(t, 0.4*0.9, merged[0].CombinedScore, 1e-6)
	assert.InDelta(t, 0.4*0.8, merged[1].CombinedScore, 1e-6)
}

func seedScoped(store *memstore.Store, scope model.Scope, owner, content string, relevance float64) uuid.UUID {
	id := uuid.New()
	store.Seed(model.MemoryRecord{
		ID:             id,
		Scope:          scope,
		OwnerKey:       owner,
		Content:        content,
		CreatedAt:      mergeNow.Add(-time.Hour),
		LastAccessedAt: mergeNow.Add(-time.Hour),
		RelevanceScore: relevance,
	})
	return id
}

func TestMergeContextFansOutAcrossScopes(t *testing.T) {
	store := memstore.New()
	sessionID := seedScoped(store, model.ScopeSession, "session-1", "dietary preferences for dinner", 0.8)
	userID := seedScoped(store, model.ScopeUser, "user-1", "dietary preferences noted", 0.9)
	seedScoped(store, model.ScopeAgent, "agent-1", "unrelated tool output", 0.9)

	m := NewMerger(store, nil, DefaultWeights, time.Second, 0)
	results, err := m.MergeContext(context.Background(), Request{
		Query: "dietary preferences",
		OwnerKeys: map[model.Scope]string{
			model.ScopeSession: "session-1",
			model.ScopeUser:    "user-1",
			model.ScopeAgent:   "agent-1",
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, sessionID, results[0].Record.ID)
	assert.InDelta(t, 0.4*0.8, results[0].CombinedScore, 1e-6)
	assert.Equal(t, userID, results[1].Record.ID)
	assert.InDelta(t, 0.35*0.9, results[1].CombinedScore, 1e-6)
}

func TestMergeContextRejectsEmptyQuery(t *testing.T) {
	m := NewMerger(memstore.New(), nil, DefaultWeights, time.Second, 0)
	_, err := m.MergeContext(context.Background(), Request{Query: "   "})
	var inv *model.InvalidInputError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "query", inv.Field)
}

func TestMergeContextToleratesFailingScope(t *testing.T) {
	store := memstore.New()
	seedScoped(store, model.ScopeUser, "user-1", "dietary preferences noted", 0.9)
	store.FailNext(1)

	m := NewMerger(store, nil, DefaultWeights, time.Second, 0)
	results, err := m.MergeContext(context.Background(), Request{
		Query:     "dietary",
		OwnerKeys: map[model.Scope]string{model.ScopeUser: "user-1"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

type fakeCache struct {
	entries map[string][]model.ScoredRecord
	hits    int
}

func (c *fakeCache) Available() bool { return true }

func (c *fakeCache) Get(_ context.Context, key string) ([]model.ScoredRecord, bool) {
	results, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return results, ok
}

func (c *fakeCache) Set(_ context.Context, key string, results []model.ScoredRecord, _ time.Duration) {
	c.entries[key] = results
}

func (c *fakeCache) Remove(_ context.Context, key string) {
	delete(c.entries, key)
}

func TestMergeContextUsesCache(t *testing.T) {
	store := memstore.New()
	seedScoped(store, model.ScopeUser, "user-1", "dietary preferences noted", 0.9)
	cache := &fakeCache{entries: map[string][]model.ScoredRecord{}}

	m := NewMerger(store, cache, DefaultWeights, time.Second, time.Minute)
	req := Request{
		Query:     "dietary",
		OwnerKeys: map[model.Scope]string{model.ScopeUser: "user-1"},
	}

	first, err := m.MergeContext(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Zero(t, cache.hits)

	second, err := m.MergeContext(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.hits)
}
