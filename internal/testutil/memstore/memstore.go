// Package memstore provides an in-memory RecordStore for tests. It mirrors
// the sqlite store's semantics, including optimistic concurrency, and can
// inject failures to exercise retry paths.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chirino/memory-policy/internal/model"
	registrystore "github.com/chirino/memory-policy/internal/registry/store"
	"github.com/google/uuid"
)

// Store is a map-backed RecordStore. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	records map[uuid.UUID]model.MemoryRecord

	// FailNext makes the next n store calls fail with UnavailableError.
	failNext int

	// OnApplyTransition, when set, runs before each ApplyTransition with the
	// lock released. Tests use it to mutate records mid-sweep.
	OnApplyTransition func(t registrystore.Transition)
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[uuid.UUID]model.MemoryRecord)}
}

// FailNext arms the store to fail the next n calls with UnavailableError.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// Seed inserts a record bypassing validation and versioning rules.
func (s *Store) Seed(r model.MemoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	if r.State == "" {
		r.State = model.StateActive
	}
	s.records[r.ID] = r
}

func (s *Store) takeFailure() error {
	if s.failNext > 0 {
		s.failNext--
		return &registrystore.UnavailableError{Cause: context.DeadlineExceeded}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	now := time.Now()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
		record.CreatedAt = now
		record.LastAccessedAt = now
		record.State = model.StateActive
		record.Version = 1
		s.records[record.ID] = *record
		return nil
	}
	existing, ok := s.records[record.ID]
	if !ok {
		return &registrystore.NotFoundError{Resource: "record", ID: record.ID.String()}
	}
	if existing.Version != record.Version {
		return &registrystore.ConflictError{ID: record.ID.String(), ExpectedVersion: record.Version}
	}
	record.Version++
	record.LastAccessedAt = now
	s.records[record.ID] = *record
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	r, ok := s.records[id]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "record", ID: id.String()}
	}
	out := r
	return &out, nil
}

func (s *Store) Touch(ctx context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	r, ok := s.records[id]
	if !ok || r.State == model.StateDeleted {
		return &registrystore.NotFoundError{Resource: "record", ID: id.String()}
	}
	r.Touch(now)
	s.records[id] = r
	return nil
}

func (s *Store) Query(ctx context.Context, ownerKey string, filter registrystore.QueryFilter, limit int) ([]model.ScoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	var out []model.ScoredRecord
	for _, r := range s.records {
		if r.OwnerKey != ownerKey {
			continue
		}
		if filter.Scope != "" && r.Scope != filter.Scope {
			continue
		}
		if len(filter.States) > 0 {
			match := false
			for _, st := range filter.States {
				if r.State == st {
					match = true
				}
			}
			if !match {
				continue
			}
		} else if r.State == model.StateDeleted {
			continue
		}
		score := r.RelevanceScore
		if filter.Text != "" && !strings.Contains(strings.ToLower(r.Content), strings.ToLower(filter.Text)) {
			continue
		}
		out = append(out, model.ScoredRecord{Record: r, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerKey string) ([]model.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	var out []model.MemoryRecord
	for _, r := range s.records {
		if r.OwnerKey == ownerKey {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, r := range s.records {
		set[r.OwnerKey] = struct{}{}
	}
	owners := make([]string, 0, len(set))
	for o := range set {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners, nil
}

func (s *Store) ApplyTransition(ctx context.Context, t registrystore.Transition) error {
	if s.OnApplyTransition != nil {
		s.OnApplyTransition(t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if !t.From.CanTransitionTo(t.To) {
		return &registrystore.ValidationError{Field: "state", Message: "invalid transition"}
	}
	r, ok := s.records[t.RecordID]
	if !ok {
		return &registrystore.NotFoundError{Resource: "record", ID: t.RecordID.String()}
	}
	if r.State != t.From || r.Version != t.ExpectedVersion {
		return &registrystore.ConflictError{ID: t.RecordID.String(), ExpectedVersion: t.ExpectedVersion}
	}
	r.State = t.To
	r.Version++
	s.records[t.RecordID] = r
	return nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	r, ok := s.records[id]
	if !ok {
		return &registrystore.NotFoundError{Resource: "record", ID: id.String()}
	}
	if r.State != model.StateDeleted {
		r.State = model.StateDeleted
		r.Version++
		s.records[id] = r
	}
	return nil
}

// Bump increments a record's version out of band, simulating a concurrent
// writer between a sweep's read and its transition.
func (s *Store) Bump(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		r.Version++
		s.records[id] = r
	}
}

// State returns the current state and version of a record.
func (s *Store) State(id uuid.UUID) (model.RecordState, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[id]
	return r.State, r.Version
}
