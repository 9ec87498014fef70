package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/memory-policy/internal/model"
	"github.com/google/uuid"
)

// QueryFilter narrows a Query call. Zero values match everything.
type QueryFilter struct {
	// Scope restricts results to one scope. Empty matches all scopes.
	Scope model.Scope

	// States restricts results by lifecycle state. Empty means Active only.
	States []model.RecordState

	// Categories requires at least one matching category when non-empty.
	Categories []string

	// Text is the retrieval query; scoring is up to the store implementation.
	Text string
}

// Transition is a retention state change decided for one record.
type Transition struct {
	RecordID uuid.UUID         `json:"recordId"`
	From     model.RecordState `json:"from"`
	To       model.RecordState `json:"to"`

	// ExpectedVersion is the version the decision was based on. The store
	// must reject the transition with a ConflictError when it no longer
	// matches the stored row.
	ExpectedVersion int64 `json:"expectedVersion"`

	// Reason records why the transition was decided (age, relevance, GDPR,
	// session end, dedup).
	Reason string `json:"reason"`

	// At is when the transition was decided.
	At time.Time `json:"at"`
}

// RecordStore is the persistence interface the policy engine runs against.
// Implementations must treat Deleted as terminal: ApplyTransition on a
// Deleted record fails with a ValidationError.
type RecordStore interface {
	// Upsert writes a record. New records get Version 1; updates must carry
	// the current version and increment it, or fail with ConflictError.
	Upsert(ctx context.Context, record *model.MemoryRecord) error

	// Get returns the record by id, or a NotFoundError.
	Get(ctx context.Context, id uuid.UUID) (*model.MemoryRecord, error)

	// Touch records a read access (lastAccessedAt, accessCount, version).
	Touch(ctx context.Context, id uuid.UUID, now time.Time) error

	// Query returns up to limit scored records for one owner key.
	Query(ctx context.Context, ownerKey string, filter QueryFilter, limit int) ([]model.ScoredRecord, error)

	// ListByOwner returns every record for an owner key, tombstones
	// included, for sweep and dedup batches.
	ListByOwner(ctx context.Context, ownerKey string) ([]model.MemoryRecord, error)

	// ListOwners returns the distinct owner keys currently present.
	ListOwners(ctx context.Context) ([]string, error)

	// ApplyTransition applies a retention state change with optimistic
	// concurrency. Deleted records are soft-deleted, never removed.
	ApplyTransition(ctx context.Context, t Transition) error

	// Delete soft-deletes a record directly (explicit GDPR request).
	Delete(ctx context.Context, id uuid.UUID) error
}

// Loader creates a RecordStore from config carried in ctx.
type Loader func(ctx context.Context) (RecordStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
