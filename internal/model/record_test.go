package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRecordStateTransitions(t *testing.T) {
	t.Run("active can archive or delete", func(t *testing.T) {
		require.True(t, StateActive.CanTransitionTo(StateArchived))
		require.True(t, StateActive.CanTransitionTo(StateDeleted))
	})

	t.Run("archived can only delete", func(t *testing.T) {
		require.True(t, StateArchived.CanTransitionTo(StateDeleted))
		require.False(t, StateArchived.CanTransitionTo(StateActive))
		require.False(t, StateArchived.CanTransitionTo(StateArchived))
	})

	t.Run("deleted is terminal", func(t *testing.T) {
		require.False(t, StateDeleted.CanTransitionTo(StateActive))
		require.False(t, StateDeleted.CanTransitionTo(StateArchived))
		require.False(t, StateDeleted.CanTransitionTo(StateDeleted))
	})
}

func TestMemoryRecordValidate(t *testing.T) {
	valid := MemoryRecord{
		ID:       uuid.New(),
		Scope:    ScopeUser,
		OwnerKey: "user-1",
		Content:  "prefers vegetarian meals",
	}
	require.NoError(t, valid.Validate())

	t.Run("invalid scope", func(t *testing.T) {
		r := valid
		r.Scope = "global"
		require.Error(t, r.Validate())
	})

	t.Run("missing owner key", func(t *testing.T) {
		r := valid
		r.OwnerKey = ""
		require.Error(t, r.Validate())
	})

	t.Run("missing content", func(t *testing.T) {
		r := valid
		r.Content = ""
		require.Error(t, r.Validate())
	})

	t.Run("relevance out of range", func(t *testing.T) {
		r := valid
		r.RelevanceScore = 1.5
		require.Error(t, r.Validate())
		r.RelevanceScore = -0.1
		require.Error(t, r.Validate())
	})
}

func TestMemoryRecordTouch(t *testing.T) {
	r := MemoryRecord{Version: 1}
	now := time.Now()
	r.Touch(now)
	require.Equal(t, now, r.LastAccessedAt)
	require.Equal(t, int64(1), r.AccessCount)
	require.Equal(t, int64(2), r.Version)
}

func TestMemoryRecordAge(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := MemoryRecord{CreatedAt: created}
	require.Equal(t, 48*time.Hour, r.Age(created.Add(48*time.Hour)))
}

func TestScopeValid(t *testing.T) {
	require.True(t, ScopeUser.Valid())
	require.True(t, ScopeAgent.Valid())
	require.True(t, ScopeSession.Valid())
	require.False(t, Scope("global").Valid())
	require.False(t, Scope("").Valid())
}
