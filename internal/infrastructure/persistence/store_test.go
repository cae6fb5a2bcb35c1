package persistence

import (
	"context"
	"strings"
	"testing"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteDatabase(t *testing.T) *Database {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := NewDatabase(&config.DatabaseConfig{
		Driver:      config.DriverSQLite,
		SQLitePath:  "file:" + name + "?mode=memory&cache=shared",
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// eachStore runs fn against every Store implementation
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("gorm", func(t *testing.T) {
		fn(t, NewGormStore(newSQLiteDatabase(t).DB))
	})
}

func TestStore_GetMissing(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.Get(context.Background(), "businesses/missing")
		assert.ErrorIs(t, err, shared.ErrNotFound)
		assert.True(t, shared.IsNotFound(err))
	})
}

func TestStore_SetAndGet(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		path := "businesses/b1/budgets/x"

		require.NoError(t, s.Set(ctx, path, Document{"category": "Office", "year": 2024, "amount": 1000.0}))
		snap, err := s.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "x", snap.ID)
		assert.Equal(t, path, snap.Path)
		assert.Equal(t, int64(1), snap.Version)
		assert.Equal(t, "Office", snap.Data.String("category"))
		assert.Equal(t, 2024, snap.Data.Int("year"))

		require.NoError(t, s.Set(ctx, path, Document{"category": "Travel"}))
		snap, err = s.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, int64(2), snap.Version)
		assert.Equal(t, "Travel", snap.Data.String("category"))
		assert.False(t, snap.Data.Has("year"), "plain set replaces the document")
	})
}

func TestStore_Merge(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		path := "users/u1"

		require.NoError(t, s.Set(ctx, path, Document{
			"email": "a@example.com",
			"prefs": map[string]any{"theme": "dark", "lang": "en"},
		}))
		require.NoError(t, s.Set(ctx, path, Document{
			"businessId": "b1",
			"prefs":      map[string]any{"lang": "fr"},
		}, WithMerge()))

		snap, err := s.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", snap.Data.String("email"))
		assert.Equal(t, "b1", snap.Data.String("businessId"))
		prefs := snap.Data.Map("prefs")
		assert.Equal(t, "dark", prefs.String("theme"))
		assert.Equal(t, "fr", prefs.String("lang"))
	})
}

func TestStore_MergeCreatesMissingDocument(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "businesses/b1/invoices/i1", Document{"status": "paid"}, WithMerge()))

		snap, err := s.Get(ctx, "businesses/b1/invoices/i1")
		require.NoError(t, err)
		assert.Equal(t, "paid", snap.Data.String("status"))
	})
}

func TestStore_SetIfVersion(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		path := "businesses/b1/budgets/x"

		require.NoError(t, s.SetIfVersion(ctx, path, Document{"spent": 0.0}, 0))
		err := s.SetIfVersion(ctx, path, Document{"spent": 1.0}, 0)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict, "version 0 is create-only")

		require.NoError(t, s.SetIfVersion(ctx, path, Document{"spent": 50.0}, 1, WithMerge()))
		err = s.SetIfVersion(ctx, path, Document{"spent": 75.0}, 1, WithMerge())
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict, "stale version is rejected")

		snap, err := s.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, int64(2), snap.Version)
		assert.Equal(t, 50, snap.Data.Int("spent"))

		err = s.SetIfVersion(ctx, "businesses/b1/budgets/none", Document{}, 3)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	})
}

func TestStore_Delete(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Delete(ctx, "businesses/b1/dashboard/stats"), "deleting an absent document is a no-op")

		require.NoError(t, s.Set(ctx, "businesses/b1/dashboard/stats", Document{"n": 1}))
		require.NoError(t, s.Delete(ctx, "businesses/b1/dashboard/stats"))
		_, err := s.Get(ctx, "businesses/b1/dashboard/stats")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestStore_Query(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		coll := "businesses/b1/budgets"
		require.NoError(t, s.Set(ctx, coll+"/a", Document{"category": "Office", "amount": 300.0, "year": 2024}))
		require.NoError(t, s.Set(ctx, coll+"/b", Document{"category": "Travel", "amount": 100.0, "year": 2024}))
		require.NoError(t, s.Set(ctx, coll+"/c", Document{"category": "Events", "amount": 200.0, "year": 2023}))
		require.NoError(t, s.Set(ctx, coll+"/d", Document{"category": "Misc", "year": 2024}))
		require.NoError(t, s.Set(ctx, "businesses/b2/budgets/z", Document{"amount": 1.0}))
		require.NoError(t, s.Set(ctx, coll+"/a/notes/n1", Document{"amount": 5.0}))

		all, err := s.Query(ctx, coll, Query{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, snapshotIDs(all), "only direct children are returned")

		asc, err := s.Query(ctx, coll, Query{OrderBy: "amount"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c", "a", "d"}, snapshotIDs(asc), "missing order field sorts last")

		desc, err := s.Query(ctx, coll, Query{OrderBy: "amount", Direction: Descending, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, snapshotIDs(desc))

		filtered, err := s.Query(ctx, coll, Query{Filters: []Filter{
			Where("year", OpEqual, 2024),
			Where("amount", OpGreaterEqual, 150),
		}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, snapshotIDs(filtered))

		empty, err := s.Query(ctx, "businesses/b9/budgets", Query{})
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestStore_InvalidPaths(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Get(ctx, "businesses")
		assert.ErrorIs(t, err, shared.ErrInvalidInput)

		err = s.Set(ctx, "businesses//budgets/x", Document{})
		assert.ErrorIs(t, err, shared.ErrInvalidInput)

		_, err = s.Query(ctx, "businesses/b1", Query{})
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	input := Document{"nested": map[string]any{"k": "v"}}
	require.NoError(t, s.Set(ctx, "users/u1", input))
	input["nested"].(map[string]any)["k"] = "changed"

	snap, err := s.Get(ctx, "users/u1")
	require.NoError(t, err)
	assert.Equal(t, "v", snap.Data.Map("nested").String("k"))

	snap.Data["extra"] = true
	again, err := s.Get(ctx, "users/u1")
	require.NoError(t, err)
	assert.False(t, again.Data.Has("extra"))
}

func TestMemoryStore_Stats(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "users/u1", Document{}))
	_, _ = s.Get(ctx, "users/u1")
	_, _ = s.Get(ctx, "users/u2")
	_, _ = s.Query(ctx, "users", Query{})

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Writes)
	assert.Equal(t, int64(2), stats.Reads)
	assert.Equal(t, int64(1), stats.Queries)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "users/u1")
	assert.ErrorIs(t, err, shared.ErrTransientStore)
}

func snapshotIDs(snaps []Snapshot) []string {
	ids := make([]string, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.ID)
	}
	return ids
}
