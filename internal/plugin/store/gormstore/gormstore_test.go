package gormstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chirino/memory-policy/internal/model"
	registrystore "github.com/chirino/memory-policy/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	// A named shared in-memory database keeps every pooled connection on
	// the same data.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store, err := NewWithDB(db)
	require.NoError(t, err)
	return store
}

func newRecord(owner, content string, relevance float64) *model.MemoryRecord {
	return &model.MemoryRecord{
		Scope:          model.ScopeUser,
		OwnerKey:       owner,
		Content:        content,
		RelevanceScore: relevance,
	}
}

func TestUpsertCreatesAndGets(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r := newRecord("user-1", "remember the user's dietary preferences", 0.8)
	require.NoError(t, store.Upsert(ctx, r))
	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.Equal(t, int64(1), r.Version)
	assert.Equal(t, model.StateActive, r.State)
	assert.False(t, r.CreatedAt.IsZero())

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Content, got.Content)
	assert.Equal(t, model.StateActive, got.State)
}

func TestGetUnknownRecord(t *testing.T) {
	store := openStore(t)
	_, err := store.Get(context.Background(), uuid.New())
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestUpsertUpdateBumpsVersion(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r := newRecord("user-1", "original content", 0.5)
	require.NoError(t, store.Upsert(ctx, r))

	r.Content = "updated content"
	require.NoError(t, store.Upsert(ctx, r))
	assert.Equal(t, int64(2), r.Version)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated content", got.Content)
	assert.Equal(t, int64(2), got.Version)
}

func TestUpsertUpdatesSerializedFields(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r := newRecord("user-1", "original content", 0.5)
	require.NoError(t, store.Upsert(ctx, r))

	r.Embedding = []float64{0.1, 0.2, 0.3}
	r.Categories = []string{"food", "health"}
	r.Metadata = map[string]string{"source": "chat"}
	require.NoError(t, store.Upsert(ctx, r))

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got.Embedding)
	assert.Equal(t, []string{"food", "health"}, got.Categories)
	assert.Equal(t, map[string]string{"source": "chat"}, got.Metadata)
	assert.Equal(t, int64(2), got.Version)

	// Clearing a serialized field persists too.
	r.Metadata = nil
	require.NoError(t, store.Upsert(ctx, r))
	got, err = store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Metadata)
	assert.Equal(t, int64(3), got.Version)
}

func TestUpsertStaleVersionConflicts(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r := newRecord("user-1", "original content", 0.5)
	require.NoError(t, store.Upsert(ctx, r))

	// A second client read version 1 and writes first.
	stale := *r
	r.Content = "winner"
	require.NoError(t, store.Upsert(ctx, r))

	stale.Content = "loser"
	err := store.Upsert(ctx, &stale)
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.ExpectedVersion)
	// The in-memory copy is restored so the caller can re-read and retry.
	assert.Equal(t, int64(1), stale.Version)

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "winner", got.Content)
}

func TestUpsertUnknownIDNotFound(t *testing.T) {
	store := openStore(t)
	r := newRecord("user-1", "content", 0.5)
	r.ID = uuid.New()
	r.Version = 1
	err := store.Upsert(context.Background(), r)
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestTouch(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r := newRecord("user-1", "content", 0.5)
	require.NoError(t, store.Upsert(ctx, r))

	now := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, store.Touch(ctx, r.ID, now))

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.AccessCount)
	assert.Equal(t, int64(2), got.Version)
	assert.WithinDuration(t, now, got.LastAccessedAt, time.Second)

	t.Run("deleted records are not touchable", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, r.ID))
		err := store.Touch(ctx, r.ID, now)
		var notFound *registrystore.NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestQueryScoresByTextOverlap(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	full := newRecord("user-1", "dietary preferences for dinner", 0.8)
	partial := newRecord("user-1", "preferences about notifications", 0.8)
	miss := newRecord("user-1", "unrelated note", 0.9)
	require.NoError(t, store.Upsert(ctx, full))
	require.NoError(t, store.Upsert(ctx, partial))
	require.NoError(t, store.Upsert(ctx, miss))

	results, err := store.Query(ctx, "user-1", registrystore.QueryFilter{Text: "dietary preferences"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Both terms match: 0.5*1.0 + 0.5*0.8. One of two: 0.5*0.5 + 0.5*0.8.
	assert.Equal(t, full.ID, results[0].Record.ID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)
	assert.Equal(t, partial.ID, results[1].Record.ID)
	assert.InDelta(t, 0.65, results[1].Score, 1e-6)
}

func TestQueryWithoutTextUsesStoredRelevance(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	low := newRecord("user-1", "first", 0.2)
	high := newRecord("user-1", "second", 0.9)
	require.NoError(t, store.Upsert(ctx, low))
	require.NoError(t, store.Upsert(ctx, high))

	results, err := store.Query(ctx, "user-1", registrystore.QueryFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, high.ID, results[0].Record.ID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)
}

func TestQueryExcludesDeletedByDefault(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	kept := newRecord("user-1", "kept", 0.5)
	gone := newRecord("user-1", "gone", 0.5)
	require.NoError(t, store.Upsert(ctx, kept))
	require.NoError(t, store.Upsert(ctx, gone))
	require.NoError(t, store.Delete(ctx, gone.ID))

	results, err := store.Query(ctx, "user-1", registrystore.QueryFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, kept.ID, results[0].Record.ID)

	// An explicit state filter can still reach tombstones.
	results, err = store.Query(ctx, "user-1", registrystore.QueryFilter{
		States: []model.RecordState{model.StateDeleted},
	}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, gone.ID, results[0].Record.ID)
}

func TestQueryFiltersByCategory(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	tagged := newRecord("user-1", "tagged", 0.5)
	tagged.Categories = []string{"Food", "health"}
	plain := newRecord("user-1", "plain", 0.5)
	require.NoError(t, store.Upsert(ctx, tagged))
	require.NoError(t, store.Upsert(ctx, plain))

	results, err := store.Query(ctx, "user-1", registrystore.QueryFilter{Categories: []string{"food"}}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, tagged.ID, results[0].Record.ID)
}

func TestApplyTransition(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r := newRecord("user-1", "content", 0.5)
	require.NoError(t, store.Upsert(ctx, r))

	t.Run("active to archived", func(t *testing.T) {
		err := store.ApplyTransition(ctx, registrystore.Transition{
			RecordID:        r.ID,
			From:            model.StateActive,
			To:              model.StateArchived,
			ExpectedVersion: 1,
		})
		require.NoError(t, err)
		got, err := store.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StateArchived, got.State)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		err := store.ApplyTransition(ctx, registrystore.Transition{
			RecordID:        r.ID,
			From:            model.StateArchived,
			To:              model.StateDeleted,
			ExpectedVersion: 1,
		})
		var conflict *registrystore.ConflictError
		require.ErrorAs(t, err, &conflict)
	})

	t.Run("archived cannot reactivate", func(t *testing.T) {
		err := store.ApplyTransition(ctx, registrystore.Transition{
			RecordID:        r.ID,
			From:            model.StateArchived,
			To:              model.StateActive,
			ExpectedVersion: 2,
		})
		var verr *registrystore.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("deleted is terminal", func(t *testing.T) {
		require.NoError(t, store.ApplyTransition(ctx, registrystore.Transition{
			RecordID:        r.ID,
			From:            model.StateArchived,
			To:              model.StateDeleted,
			ExpectedVersion: 2,
		}))
		err := store.ApplyTransition(ctx, registrystore.Transition{
			RecordID:        r.ID,
			From:            model.StateDeleted,
			To:              model.StateActive,
			ExpectedVersion: 3,
		})
		var verr *registrystore.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("unknown record", func(t *testing.T) {
		err := store.ApplyTransition(ctx, registrystore.Transition{
			RecordID:        uuid.New(),
			From:            model.StateActive,
			To:              model.StateArchived,
			ExpectedVersion: 1,
		})
		var notFound *registrystore.NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestDeleteIsIdempotentTombstone(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	r := newRecord("user-1", "content", 0.5)
	require.NoError(t, store.Upsert(ctx, r))

	require.NoError(t, store.Delete(ctx, r.ID))
	require.NoError(t, store.Delete(ctx, r.ID))

	got, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDeleted, got.State)
	assert.Equal(t, int64(2), got.Version)

	err = store.Delete(ctx, uuid.New())
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestListOwners(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, newRecord("user-b", "one", 0.5)))
	require.NoError(t, store.Upsert(ctx, newRecord("user-a", "two", 0.5)))
	require.NoError(t, store.Upsert(ctx, newRecord("user-a", "three", 0.5)))

	owners, err := store.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-a", "user-b"}, owners)

	records, err := store.ListByOwner(ctx, "user-a")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
