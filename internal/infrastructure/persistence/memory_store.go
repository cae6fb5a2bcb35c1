package persistence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/juju/clock"
)

type memoryRecord struct {
	parent string
	id     string
	data   Document
	snap   Snapshot
}

// StoreStats counts operations served by a MemoryStore
type StoreStats struct {
	Reads   int64
	Writes  int64
	Queries int64
}

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]*memoryRecord
	clock clock.Clock

	reads   atomic.Int64
	writes  atomic.Int64
	queries atomic.Int64
}

// MemoryStoreOption configures a MemoryStore
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock sets the clock used for update timestamps
func WithMemoryClock(c clock.Clock) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.clock = c
	}
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		docs:  make(map[string]*memoryRecord),
		clock: clock.WallClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns operation counters
func (s *MemoryStore) Stats() StoreStats {
	return StoreStats{
		Reads:   s.reads.Load(),
		Writes:  s.writes.Load(),
		Queries: s.queries.Load(),
	}
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, path string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.NewStoreError("get", path, err)
	}
	if _, _, err := splitDocumentPath(path); err != nil {
		return nil, err
	}
	s.reads.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.docs[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, shared.ErrNotFound)
	}
	snap := rec.snap
	snap.Data = cloneDocument(rec.data)
	return &snap, nil
}

// Set implements Store
func (s *MemoryStore) Set(ctx context.Context, path string, data Document, opts ...SetOption) error {
	return s.write(ctx, "set", path, data, -1, applySetOptions(opts))
}

// SetIfVersion implements Store
func (s *MemoryStore) SetIfVersion(ctx context.Context, path string, data Document, version int64, opts ...SetOption) error {
	if version < 0 {
		return fmt.Errorf("%w: negative version", shared.ErrInvalidInput)
	}
	return s.write(ctx, "set", path, data, version, applySetOptions(opts))
}

// write stores data at path. expected < 0 skips the version check.
func (s *MemoryStore) write(ctx context.Context, op, path string, data Document, expected int64, o setOptions) error {
	if err := ctx.Err(); err != nil {
		return shared.NewStoreError(op, path, err)
	}
	parent, id, err := splitDocumentPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.docs[path]
	if expected >= 0 {
		var current int64
		if exists {
			current = rec.snap.Version
		}
		if current != expected {
			return fmt.Errorf("%s at version %d, expected %d: %w", path, current, expected, shared.ErrConcurrencyConflict)
		}
	}
	s.writes.Add(1)

	next := cloneDocument(data)
	var version int64 = 1
	if exists {
		if o.merge {
			next = mergeDocument(rec.data, data)
		}
		version = rec.snap.Version + 1
	}

	s.docs[path] = &memoryRecord{
		parent: parent,
		id:     id,
		data:   next,
		snap: Snapshot{
			Path:      path,
			ID:        id,
			Version:   version,
			UpdatedAt: s.clock.Now(),
		},
	}
	return nil
}

// Delete implements Store
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return shared.NewStoreError("delete", path, err)
	}
	if _, _, err := splitDocumentPath(path); err != nil {
		return err
	}
	s.writes.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, path)
	return nil
}

// Query implements Store
func (s *MemoryStore) Query(ctx context.Context, collectionPath string, q Query) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.NewStoreError("query", collectionPath, err)
	}
	if err := validateCollectionPath(collectionPath); err != nil {
		return nil, err
	}
	s.queries.Add(1)

	s.mu.RLock()
	snaps := make([]Snapshot, 0)
	for _, rec := range s.docs {
		if rec.parent != collectionPath {
			continue
		}
		snap := rec.snap
		snap.Data = cloneDocument(rec.data)
		snaps = append(snaps, snap)
	}
	s.mu.RUnlock()

	return applyQuery(snaps, q), nil
}
