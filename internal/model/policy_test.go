package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetentionPolicyValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		p := RetentionPolicy{ActiveDays: 30, ArchivalDays: 60, MinRelevanceScore: 0.5}
		require.NoError(t, p.Validate())
	})

	t.Run("activeDays must be positive", func(t *testing.T) {
		p := RetentionPolicy{ActiveDays: 0, ArchivalDays: 60}
		err := p.Validate()
		require.Error(t, err)
		var violation *PolicyViolationError
		require.ErrorAs(t, err, &violation)
	})

	t.Run("archival shorter than active is rejected", func(t *testing.T) {
		p := RetentionPolicy{ActiveDays: 90, ArchivalDays: 30}
		require.Error(t, p.Validate())
	})

	t.Run("archival equal to active is allowed", func(t *testing.T) {
		p := RetentionPolicy{ActiveDays: 30, ArchivalDays: 30}
		require.NoError(t, p.Validate())
	})

	t.Run("minRelevanceScore outside unit interval", func(t *testing.T) {
		p := RetentionPolicy{ActiveDays: 30, ArchivalDays: 60, MinRelevanceScore: 1.2}
		require.Error(t, p.Validate())
	})

	t.Run("unknown cleanup strategy", func(t *testing.T) {
		p := RetentionPolicy{ActiveDays: 30, ArchivalDays: 60, CleanupStrategy: "aggressive"}
		require.Error(t, p.Validate())
	})
}

func TestPolicyWindows(t *testing.T) {
	p := RetentionPolicy{ActiveDays: 1, ArchivalDays: 7}
	assert.Equal(t, 24*time.Hour, p.ActiveWindow())
	assert.Equal(t, 7*24*time.Hour, p.ArchivalWindow())
}

func TestDefaultPolicySet(t *testing.T) {
	set := DefaultPolicySet()
	require.NoError(t, set.Validate())

	assert.Equal(t, 365, set.User.ActiveDays)
	assert.Equal(t, 730, set.User.ArchivalDays)
	assert.Equal(t, CleanupUserInitiated, set.User.CleanupStrategy)

	assert.Equal(t, 90, set.Agent.ActiveDays)
	assert.Equal(t, 120, set.Agent.ArchivalDays)
	assert.Equal(t, 0.3, set.Agent.MinRelevanceScore)
	assert.Equal(t, CleanupScoreBased, set.Agent.CleanupStrategy)

	assert.Equal(t, 1, set.Session.ActiveDays)
	assert.Equal(t, 7, set.Session.ArchivalDays)
	assert.Equal(t, CleanupImmediate, set.Session.CleanupStrategy)
}

func TestPolicySetForScope(t *testing.T) {
	set := DefaultPolicySet()
	assert.Equal(t, set.Agent, set.ForScope(ScopeAgent))
	assert.Equal(t, set.Session, set.ForScope(ScopeSession))
	assert.Equal(t, set.User, set.ForScope(ScopeUser))
}

func TestParsePolicySet(t *testing.T) {
	doc := []byte(`
user:
  activeDays: 180
  archivalDays: 360
  minRelevanceScore: 0.1
  cleanupStrategy: user_initiated
agent:
  activeDays: 30
  archivalDays: 60
  minRelevanceScore: 0.4
  cleanupStrategy: automatic_score_based
session:
  activeDays: 1
  archivalDays: 2
  cleanupStrategy: automatic_immediate
`)
	set, err := ParsePolicySet(doc)
	require.NoError(t, err)
	assert.Equal(t, 180, set.User.ActiveDays)
	assert.Equal(t, 0.4, set.Agent.MinRelevanceScore)
	assert.Equal(t, 2, set.Session.ArchivalDays)

	out, err := set.Marshal()
	require.NoError(t, err)
	roundTripped, err := ParsePolicySet(out)
	require.NoError(t, err)
	assert.Equal(t, set, roundTripped)
}

func TestParsePolicySetRejectsInvalidDocument(t *testing.T) {
	t.Run("violating policy", func(t *testing.T) {
		doc := []byte(`
user: {activeDays: 90, archivalDays: 30}
agent: {activeDays: 30, archivalDays: 60}
session: {activeDays: 1, archivalDays: 7}
`)
		_, err := ParsePolicySet(doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "archivalDays")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := ParsePolicySet([]byte("user: ["))
		require.Error(t, err)
	})
}
