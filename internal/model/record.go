package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scope defines a memory record's sharing boundary and default lifetime.
type Scope string

const (
	// ScopeUser holds durable per-user facts and preferences.
	ScopeUser Scope = "user"
	// ScopeAgent holds learned agent behavior shared across that agent's runs.
	ScopeAgent Scope = "agent"
	// ScopeSession holds short-lived context tied to a single run.
	ScopeSession Scope = "session"
)

// Scopes lists every valid scope in merge-weight order.
var Scopes = []Scope{ScopeSession, ScopeUser, ScopeAgent}

// Valid reports whether s is one of the three known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeUser, ScopeAgent, ScopeSession:
		return true
	}
	return false
}

// RecordState is the retention lifecycle state of a record.
type RecordState string

const (
	StateActive   RecordState = "active"
	StateArchived RecordState = "archived"
	// StateDeleted is terminal. A deleted record is never transitioned again;
	// the row is kept as a soft-delete tombstone for audit purposes.
	StateDeleted RecordState = "deleted"
)

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Transitions are monotonic: Active → Archived → Deleted, with
// Active → Deleted allowed (Session records skip Archived).
func (s RecordState) CanTransitionTo(next RecordState) bool {
	switch s {
	case StateActive:
		return next == StateArchived || next == StateDeleted
	case StateArchived:
		return next == StateDeleted
	default:
		return false
	}
}

// MemoryRecord is a single unit of recorded information.
// One row per record; deletion is a soft state change, never row removal.
type MemoryRecord struct {
	// ID is the primary key (UUID).
	ID uuid.UUID `json:"id" yaml:"id" gorm:"primaryKey;type:uuid"`

	// Scope is the record's sharing boundary: user, agent, or session.
	Scope Scope `json:"scope" yaml:"scope" gorm:"not null;index:idx_owner,priority:1"`

	// OwnerKey is the user/agent/run identifier consistent with Scope.
	// It bounds deduplication and sweep operations.
	OwnerKey string `json:"ownerKey" yaml:"ownerKey" gorm:"not null;index:idx_owner,priority:2"`

	// Content is the recorded text.
	Content string `json:"content" yaml:"content" gorm:"not null"`

	// Embedding is the optional content vector, produced by the caller.
	// The engine never invokes an embedding service itself.
	Embedding []float64 `json:"embedding,omitempty" yaml:"embedding,omitempty" gorm:"serializer:json"`

	// CreatedAt is when the record was first written.
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt" gorm:"not null"`

	// LastAccessedAt is bumped on every read access.
	LastAccessedAt time.Time `json:"lastAccessedAt" yaml:"lastAccessedAt" gorm:"not null"`

	// AccessCount counts read accesses; used as a dedup canonical tie-break.
	AccessCount int64 `json:"accessCount" yaml:"accessCount" gorm:"not null;default:0"`

	// RelevanceScore estimates future usefulness in [0,1]; low scores make
	// a record eligible for early deletion during sweeps.
	RelevanceScore float64 `json:"relevanceScore" yaml:"relevanceScore" gorm:"not null;default:0"`

	// Categories are free-form labels attached by the caller.
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty" gorm:"serializer:json"`

	// Metadata holds caller-supplied key/value pairs.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty" gorm:"serializer:json"`

	// State is the retention lifecycle state.
	State RecordState `json:"state" yaml:"state" gorm:"not null;default:'active';index"`

	// Version is a monotonic counter for optimistic concurrency. Every
	// mutation increments it; a sweep observing a stale version re-fetches.
	Version int64 `json:"version" yaml:"version" gorm:"not null;default:1"`
}

// TableName implements gorm.Tabler.
func (MemoryRecord) TableName() string { return "memory_records" }

// Validate checks the record invariants enforced before any mutation.
func (r *MemoryRecord) Validate() error {
	if !r.Scope.Valid() {
		return fmt.Errorf("invalid scope %q", r.Scope)
	}
	if r.OwnerKey == "" {
		return fmt.Errorf("ownerKey is required")
	}
	if r.Content == "" {
		return fmt.Errorf("content is required")
	}
	if r.RelevanceScore < 0 || r.RelevanceScore > 1 {
		return fmt.Errorf("relevanceScore %v outside [0,1]", r.RelevanceScore)
	}
	return nil
}

// Age returns how long the record has existed as of now.
func (r *MemoryRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// Touch records a read access: bumps LastAccessedAt, AccessCount and Version.
func (r *MemoryRecord) Touch(now time.Time) {
	r.LastAccessedAt = now
	r.AccessCount++
	r.Version++
}

// ScoredRecord is a record paired with a retrieval score from one scope.
type ScoredRecord struct {
	Record MemoryRecord `json:"record"`

	// Score is the per-scope retrieval score, before merge weighting.
	Score float64 `json:"score"`

	// CombinedScore is filled in by the context merger.
	CombinedScore float64 `json:"combinedScore,omitempty"`
}

// Confidence grades a classification or architecture decision.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Architecture is the storage backend family recommended for a workload.
type Architecture string

const (
	ArchitectureVector Architecture = "vector"
	ArchitectureGraph  Architecture = "graph"
	ArchitectureHybrid Architecture = "hybrid"
)

// ArchitectureDecision is the selector's output. The raw scores are
// diagnostic only and are never persisted.
type ArchitectureDecision struct {
	Architecture Architecture `json:"architecture"`
	Confidence   Confidence   `json:"confidence"`
	VectorScore  int          `json:"vectorScore"`
	GraphScore   int          `json:"graphScore"`
}

// ConfidenceTier grades a dedup group.
type ConfidenceTier string

const (
	// TierHigh groups (similarity ≥ 0.95) are eligible for automatic
	// deletion of non-canonical members.
	TierHigh ConfidenceTier = "high"
	// TierMedium groups (similarity in [0.85, 0.95)) are reported only;
	// deletion requires an explicit confirmation call.
	TierMedium ConfidenceTier = "medium"
)

// DeduplicationGroup is a transitively-closed set of records judged to
// encode the same fact, with one canonical survivor.
type DeduplicationGroup struct {
	// ID identifies the group for later confirmation calls.
	ID uuid.UUID `json:"id"`

	// CanonicalID is the member chosen to survive a merge.
	CanonicalID uuid.UUID `json:"canonicalId"`

	// MemberIDs lists all members including the canonical one. Always ≥ 2.
	MemberIDs []uuid.UUID `json:"memberIds"`

	// SimilarityScore is the minimum pairwise similarity that linked the group.
	SimilarityScore float64 `json:"similarityScore"`

	ConfidenceTier ConfidenceTier `json:"confidenceTier"`
}
