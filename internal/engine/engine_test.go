package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/chirino/memory-policy/internal/config"
	"github.com/chirino/memory-policy/internal/model"
	"github.com/chirino/memory-policy/internal/retention"
	registrystore "github.com/chirino/memory-policy/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/chirino/memory-policy/internal/plugin/cache/noop"
	_ "github.com/chirino/memory-policy/internal/plugin/store/gormstore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DBURL = fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	cfg.CacheType = "none"

	ctx := config.WithContext(context.Background(), &cfg)
	eng, err := New(ctx, &cfg)
	require.NoError(t, err)
	return eng
}

func TestEvaluateRetentionUnknownRecord(t *testing.T) {
	eng := newTestEngine(t)

	decision, err := eng.EvaluateRetention(context.Background(), uuid.New(), retention.Request{})
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.True(t, decision.None())
	assert.Empty(t, decision.Reason)
}

func TestEvaluateRetentionDeletionRequest(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	r := &model.MemoryRecord{
		Scope:          model.ScopeUser,
		OwnerKey:       "user-1",
		Content:        "remember the user's dietary preferences",
		RelevanceScore: 0.8,
	}
	require.NoError(t, eng.Store().Upsert(ctx, r))

	decision, err := eng.EvaluateRetention(ctx, r.ID, retention.Request{DeletionRequested: true})
	require.NoError(t, err)
	assert.Equal(t, model.StateDeleted, decision.Transition)
	assert.Equal(t, "explicit deletion request", decision.Reason)
}

func TestEvaluateRetentionFreshRecordUnchanged(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	r := &model.MemoryRecord{
		Scope:          model.ScopeUser,
		OwnerKey:       "user-1",
		Content:        "prefers morning meetings",
		RelevanceScore: 0.9,
	}
	require.NoError(t, eng.Store().Upsert(ctx, r))

	decision, err := eng.EvaluateRetention(ctx, r.ID, retention.Request{})
	require.NoError(t, err)
	assert.True(t, decision.None())
}
