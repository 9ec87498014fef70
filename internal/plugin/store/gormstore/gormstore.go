// Package gormstore implements the record store on SQLite through GORM.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chirino/memory-policy/internal/config"
	"github.com/chirino/memory-policy/internal/metrics"
	"github.com/chirino/memory-policy/internal/model"
	registrystore "github.com/chirino/memory-policy/internal/registry/store"
	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.RecordStore, error) {
			cfg := config.FromContext(ctx)
			dsn := cfg.DBURL
			if dsn == "" {
				dsn = "file::memory:?cache=shared"
			}
			db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if metrics.DBPoolMaxConnections != nil {
				metrics.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			if err := db.WithContext(ctx).AutoMigrate(&model.MemoryRecord{}); err != nil {
				return nil, fmt.Errorf("failed to migrate schema: %w", err)
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if metrics.DBPoolOpenConnections != nil {
							metrics.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return &Store{db: db}, nil
		},
	})
}

// Store implements RecordStore using GORM + SQLite.
type Store struct {
	db *gorm.DB
}

// NewWithDB wraps an already opened GORM handle. Used by tests.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&model.MemoryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Upsert(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	now := time.Now()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
		record.CreatedAt = now
		record.LastAccessedAt = now
		record.State = model.StateActive
		record.Version = 1
		if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
			return mapError(err, record.ID.String())
		}
		return nil
	}

	// Version-checked update: the write only lands when nobody else bumped
	// the version since this copy was read. The update goes through the
	// struct so the json serializers on embedding, categories, and metadata
	// apply.
	expected := record.Version
	prevAccess := record.LastAccessedAt
	record.Version = expected + 1
	record.LastAccessedAt = now
	result := s.db.WithContext(ctx).
		Model(&model.MemoryRecord{}).
		Where("id = ? AND version = ?", record.ID, expected).
		Select("content", "embedding", "relevance_score", "categories", "metadata", "last_accessed_at", "version").
		Updates(record)
	if result.Error != nil {
		record.Version = expected
		record.LastAccessedAt = prevAccess
		return mapError(result.Error, record.ID.String())
	}
	if result.RowsAffected == 0 {
		record.Version = expected
		record.LastAccessedAt = prevAccess
		var exists int64
		s.db.WithContext(ctx).Model(&model.MemoryRecord{}).Where("id = ?", record.ID).Count(&exists)
		if exists == 0 {
			return &registrystore.NotFoundError{Resource: "record", ID: record.ID.String()}
		}
		return &registrystore.ConflictError{ID: record.ID.String(), ExpectedVersion: expected}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.MemoryRecord, error) {
	var record model.MemoryRecord
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&record)
	if result.Error != nil {
		return nil, mapError(result.Error, id.String())
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "record", ID: id.String()}
	}
	return &record, nil
}

func (s *Store) Touch(ctx context.Context, id uuid.UUID, now time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&model.MemoryRecord{}).
		Where("id = ? AND state <> ?", id, model.StateDeleted).
		Updates(map[string]interface{}{
			"last_accessed_at": now,
			"access_count":     gorm.Expr("access_count + 1"),
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return mapError(result.Error, id.String())
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "record", ID: id.String()}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, ownerKey string, filter registrystore.QueryFilter, limit int) ([]model.ScoredRecord, error) {
	tx := s.db.WithContext(ctx).Where("owner_key = ?", ownerKey)
	if filter.Scope != "" {
		tx = tx.Where("scope = ?", filter.Scope)
	}
	if len(filter.States) > 0 {
		tx = tx.Where("state IN ?", filter.States)
	} else {
		tx = tx.Where("state <> ?", model.StateDeleted)
	}

	var records []model.MemoryRecord
	if err := tx.Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, mapError(err, ownerKey)
	}

	if len(filter.Categories) > 0 {
		records = filterByCategories(records, filter.Categories)
	}

	scored := make([]model.ScoredRecord, 0, len(records))
	terms := queryTerms(filter.Text)
	for _, r := range records {
		score := relevance(r, terms)
		if filter.Text != "" && score == 0 {
			continue
		}
		scored = append(scored, model.ScoredRecord{Record: r, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerKey string) ([]model.MemoryRecord, error) {
	var records []model.MemoryRecord
	err := s.db.WithContext(ctx).
		Where("owner_key = ?", ownerKey).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, mapError(err, ownerKey)
	}
	return records, nil
}

func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	var owners []string
	err := s.db.WithContext(ctx).
		Model(&model.MemoryRecord{}).
		Distinct("owner_key").
		Order("owner_key ASC").
		Pluck("owner_key", &owners).Error
	if err != nil {
		return nil, mapError(err, "")
	}
	return owners, nil
}

func (s *Store) ApplyTransition(ctx context.Context, t registrystore.Transition) error {
	if !t.From.CanTransitionTo(t.To) {
		return &registrystore.ValidationError{
			Field:   "state",
			Message: fmt.Sprintf("cannot transition from %s to %s", t.From, t.To),
		}
	}
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	result := s.db.WithContext(ctx).
		Model(&model.MemoryRecord{}).
		Where("id = ? AND state = ? AND version = ?", t.RecordID, t.From, t.ExpectedVersion).
		Updates(map[string]interface{}{
			"state":            t.To,
			"version":          t.ExpectedVersion + 1,
			"last_accessed_at": at,
		})
	if result.Error != nil {
		return mapError(result.Error, t.RecordID.String())
	}
	if result.RowsAffected == 0 {
		var exists int64
		s.db.WithContext(ctx).Model(&model.MemoryRecord{}).Where("id = ?", t.RecordID).Count(&exists)
		if exists == 0 {
			return &registrystore.NotFoundError{Resource: "record", ID: t.RecordID.String()}
		}
		return &registrystore.ConflictError{ID: t.RecordID.String(), ExpectedVersion: t.ExpectedVersion}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	// Records are tombstoned, never removed from the table.
	result := s.db.WithContext(ctx).
		Model(&model.MemoryRecord{}).
		Where("id = ? AND state <> ?", id, model.StateDeleted).
		Updates(map[string]interface{}{
			"state":   model.StateDeleted,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return mapError(result.Error, id.String())
	}
	if result.RowsAffected == 0 {
		var exists int64
		s.db.WithContext(ctx).Model(&model.MemoryRecord{}).Where("id = ?", id).Count(&exists)
		if exists == 0 {
			return &registrystore.NotFoundError{Resource: "record", ID: id.String()}
		}
		// Already deleted. Tombstoning is idempotent.
	}
	return nil
}

func filterByCategories(records []model.MemoryRecord, categories []string) []model.MemoryRecord {
	want := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		want[strings.ToLower(c)] = struct{}{}
	}
	out := records[:0]
	for _, r := range records {
		for _, c := range r.Categories {
			if _, ok := want[strings.ToLower(c)]; ok {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func queryTerms(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// relevance blends lexical query overlap with the record's stored relevance
// score. With no query text the stored score stands on its own.
func relevance(r model.MemoryRecord, terms []string) float64 {
	if len(terms) == 0 {
		return r.RelevanceScore
	}
	content := strings.ToLower(r.Content)
	matched := 0
	for _, term := range terms {
		if strings.Contains(content, term) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	overlap := float64(matched) / float64(len(terms))
	return 0.5*overlap + 0.5*r.RelevanceScore
}

func mapError(err error, id string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return &registrystore.UnavailableError{Cause: err}
		case sqlite3.ErrConstraint:
			return &registrystore.ConflictError{ID: id}
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &registrystore.NotFoundError{Resource: "record", ID: id}
	}
	return fmt.Errorf("store operation failed: %w", err)
}
