package model

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CleanupStrategy controls how deletions decided by a sweep are applied.
type CleanupStrategy string

const (
	// CleanupUserInitiated defers every deletion to an explicit user request.
	CleanupUserInitiated CleanupStrategy = "user_initiated"
	// CleanupScoreBased deletes low-relevance records automatically.
	CleanupScoreBased CleanupStrategy = "automatic_score_based"
	// CleanupImmediate deletes eligible records as soon as a sweep finds them.
	CleanupImmediate CleanupStrategy = "automatic_immediate"
)

// RetentionPolicy is the per-scope retention configuration.
type RetentionPolicy struct {
	// ActiveDays is how long a record stays Active before archival.
	ActiveDays int `yaml:"activeDays" json:"activeDays"`

	// ArchivalDays is how long a record may exist in total before deletion.
	// Must be ≥ ActiveDays; validated eagerly at load.
	ArchivalDays int `yaml:"archivalDays" json:"archivalDays"`

	// MinRelevanceScore deletes records scoring below it once they pass
	// half their active window.
	MinRelevanceScore float64 `yaml:"minRelevanceScore" json:"minRelevanceScore"`

	// CleanupStrategy controls automatic vs. user-initiated deletion.
	CleanupStrategy CleanupStrategy `yaml:"cleanupStrategy" json:"cleanupStrategy"`
}

// Validate rejects inconsistent policies before any of them are applied.
func (p RetentionPolicy) Validate() error {
	if p.ActiveDays <= 0 {
		return &PolicyViolationError{Message: fmt.Sprintf("activeDays must be positive, got %d", p.ActiveDays)}
	}
	if p.ArchivalDays < p.ActiveDays {
		return &PolicyViolationError{Message: fmt.Sprintf("archivalDays %d < activeDays %d", p.ArchivalDays, p.ActiveDays)}
	}
	if p.MinRelevanceScore < 0 || p.MinRelevanceScore > 1 {
		return &PolicyViolationError{Message: fmt.Sprintf("minRelevanceScore %v outside [0,1]", p.MinRelevanceScore)}
	}
	switch p.CleanupStrategy {
	case CleanupUserInitiated, CleanupScoreBased, CleanupImmediate, "":
	default:
		return &PolicyViolationError{Message: fmt.Sprintf("unknown cleanupStrategy %q", p.CleanupStrategy)}
	}
	return nil
}

// ActiveWindow returns the active period as a duration.
func (p RetentionPolicy) ActiveWindow() time.Duration {
	return time.Duration(p.ActiveDays) * 24 * time.Hour
}

// ArchivalWindow returns the total lifetime as a duration.
func (p RetentionPolicy) ArchivalWindow() time.Duration {
	return time.Duration(p.ArchivalDays) * 24 * time.Hour
}

// PolicySet maps each scope to its retention policy. It is the persisted
// policy configuration document; YAML round-trips are lossless.
type PolicySet struct {
	User    RetentionPolicy `yaml:"user" json:"user"`
	Agent   RetentionPolicy `yaml:"agent" json:"agent"`
	Session RetentionPolicy `yaml:"session" json:"session"`
}

// DefaultPolicySet returns the default per-scope policy table.
func DefaultPolicySet() PolicySet {
	return PolicySet{
		User: RetentionPolicy{
			ActiveDays:        365,
			ArchivalDays:      730,
			MinRelevanceScore: 0.0,
			CleanupStrategy:   CleanupUserInitiated,
		},
		Agent: RetentionPolicy{
			ActiveDays:        90,
			ArchivalDays:      120,
			MinRelevanceScore: 0.3,
			CleanupStrategy:   CleanupScoreBased,
		},
		Session: RetentionPolicy{
			ActiveDays:        1,
			ArchivalDays:      7,
			MinRelevanceScore: 0.0,
			CleanupStrategy:   CleanupImmediate,
		},
	}
}

// ForScope returns the policy for the given scope.
func (s PolicySet) ForScope(scope Scope) RetentionPolicy {
	switch scope {
	case ScopeAgent:
		return s.Agent
	case ScopeSession:
		return s.Session
	default:
		return s.User
	}
}

// Validate checks every per-scope policy; the whole set is rejected on the
// first violation so no partial configuration is ever applied.
func (s PolicySet) Validate() error {
	for _, sc := range []struct {
		scope  Scope
		policy RetentionPolicy
	}{
		{ScopeUser, s.User},
		{ScopeAgent, s.Agent},
		{ScopeSession, s.Session},
	} {
		if err := sc.policy.Validate(); err != nil {
			return fmt.Errorf("policy for scope %s: %w", sc.scope, err)
		}
	}
	return nil
}

// LoadPolicySet reads and validates a PolicySet from a YAML file.
func LoadPolicySet(path string) (PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicySet{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicySet(data)
}

// ParsePolicySet decodes and validates a YAML policy document.
func ParsePolicySet(data []byte) (PolicySet, error) {
	var set PolicySet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return PolicySet{}, fmt.Errorf("parse policy document: %w", err)
	}
	if err := set.Validate(); err != nil {
		return PolicySet{}, err
	}
	return set, nil
}

// Marshal serializes the set back to its YAML document form.
func (s PolicySet) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// PolicyViolationError indicates an inconsistent retention policy. Policies
// are validated eagerly at load time; the whole operation is rejected.
type PolicyViolationError struct {
	Message string
}

func (e *PolicyViolationError) Error() string {
	return "policy violation: " + e.Message
}
