package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/persistence/models"
	"github.com/juju/clock"
	"gorm.io/gorm"
)

// GormStore is a Store backed by the documents table
type GormStore struct {
	db    *gorm.DB
	clock clock.Clock
}

// GormStoreOption configures a GormStore
type GormStoreOption func(*GormStore)

// WithGormClock sets the clock used for row timestamps
func WithGormClock(c clock.Clock) GormStoreOption {
	return func(s *GormStore) {
		s.clock = c
	}
}

// NewGormStore creates a store over db. The documents table must exist.
func NewGormStore(db *gorm.DB, opts ...GormStoreOption) *GormStore {
	s := &GormStore{db: db, clock: clock.WallClock}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements Store
func (s *GormStore) Get(ctx context.Context, path string) (*Snapshot, error) {
	if _, _, err := splitDocumentPath(path); err != nil {
		return nil, err
	}

	var m models.DocumentModel
	err := s.db.WithContext(ctx).Where("path = ?", path).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", path, shared.ErrNotFound)
	}
	if err != nil {
		return nil, shared.NewStoreError("get", path, err)
	}
	return toSnapshot(&m)
}

// Set implements Store
func (s *GormStore) Set(ctx context.Context, path string, data Document, opts ...SetOption) error {
	return s.write(ctx, path, data, -1, applySetOptions(opts))
}

// SetIfVersion implements Store
func (s *GormStore) SetIfVersion(ctx context.Context, path string, data Document, version int64, opts ...SetOption) error {
	if version < 0 {
		return fmt.Errorf("%w: negative version", shared.ErrInvalidInput)
	}
	return s.write(ctx, path, data, version, applySetOptions(opts))
}

func (s *GormStore) write(ctx context.Context, path string, data Document, expected int64, o setOptions) error {
	parent, id, err := splitDocumentPath(path)
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DocumentModel
		found := true
		if err := tx.Where("path = ?", path).Take(&existing).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			found = false
		}

		var current int64
		if found {
			current = existing.Version
		}
		if expected >= 0 && current != expected {
			return fmt.Errorf("%s at version %d, expected %d: %w", path, current, expected, shared.ErrConcurrencyConflict)
		}

		next := data
		if found && o.merge {
			prev, err := decodeDocument(existing.Data)
			if err != nil {
				return err
			}
			next = mergeDocument(prev, data)
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}

		if !found {
			return tx.Create(&models.DocumentModel{
				Path:      path,
				Parent:    parent,
				DocID:     id,
				Data:      string(payload),
				Version:   1,
				CreatedAt: now,
				UpdatedAt: now,
			}).Error
		}

		result := tx.Model(&models.DocumentModel{}).
			Where("path = ? AND version = ?", path, current).
			Updates(map[string]any{
				"data":       string(payload),
				"version":    current + 1,
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%s changed during write: %w", path, shared.ErrConcurrencyConflict)
		}
		return nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, shared.ErrConcurrencyConflict), errors.Is(err, shared.ErrInvalidInput):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s created concurrently: %w", path, shared.ErrConcurrencyConflict)
	default:
		return shared.NewStoreError("set", path, err)
	}
}

// Delete implements Store
func (s *GormStore) Delete(ctx context.Context, path string) error {
	if _, _, err := splitDocumentPath(path); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("path = ?", path).Delete(&models.DocumentModel{}).Error; err != nil {
		return shared.NewStoreError("delete", path, err)
	}
	return nil
}

// Query implements Store. Filters and ordering are evaluated in process so
// both SQL dialects share document comparison semantics.
func (s *GormStore) Query(ctx context.Context, collectionPath string, q Query) ([]Snapshot, error) {
	if err := validateCollectionPath(collectionPath); err != nil {
		return nil, err
	}

	var rows []models.DocumentModel
	if err := s.db.WithContext(ctx).Where("parent = ?", collectionPath).Order("path").Find(&rows).Error; err != nil {
		return nil, shared.NewStoreError("query", collectionPath, err)
	}

	snaps := make([]Snapshot, 0, len(rows))
	for i := range rows {
		snap, err := toSnapshot(&rows[i])
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return applyQuery(snaps, q), nil
}

func toSnapshot(m *models.DocumentModel) (*Snapshot, error) {
	data, err := decodeDocument(m.Data)
	if err != nil {
		return nil, shared.NewStoreError("decode", m.Path, err)
	}
	return &Snapshot{
		Path:      m.Path,
		ID:        m.DocID,
		Data:      data,
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func decodeDocument(raw string) (Document, error) {
	doc := Document{}
	if raw == "" {
		return doc, nil
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
