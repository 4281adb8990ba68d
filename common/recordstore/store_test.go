package recordstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanlab/specimen-stack/common/config"
	"github.com/oceanlab/specimen-stack/common/models"
)

func ptr[T any](v T) *T { return &v }

func morph(area float64, w, h int) models.MorphometricUpdate {
	return models.MorphometricUpdate{
		Morphometrics: models.Morphometrics{
			Area:        area,
			Perimeter:   area / 2,
			Width:       w,
			Height:      h,
			AspectRatio: float64(w) / float64(h),
		},
	}
}

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func setClock(t *testing.T, s Store, now func() time.Time) {
	t.Helper()
	switch st := s.(type) {
	case *SQLiteStore:
		st.now = now
	case *PostgresStore:
		st.now = now
	default:
		t.Fatalf("unexpected store type %T", s)
	}
}

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "specimens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// runStoreSuite exercises the behaviour every backend must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "spec-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("morphometric upsert creates partial record", func(t *testing.T) {
		s := newStore(t)
		u := morph(42, 7, 6)
		u.Latitude, u.Longitude = ptr(12.5), ptr(80.25)
		require.NoError(t, s.UpsertMorphometrics(ctx, "spec-1", u))

		r, err := s.Get(ctx, "spec-1")
		require.NoError(t, err)
		assert.True(t, r.HasMorphometrics())
		assert.False(t, r.HasClassification())
		assert.Equal(t, 42.0, *r.Area)
		assert.Equal(t, 21.0, *r.Perimeter)
		assert.Equal(t, 7, *r.Width)
		assert.Equal(t, 6, *r.Height)
		assert.Equal(t, 12.5, *r.Latitude)
		assert.Equal(t, 80.25, *r.Longitude)
	})

	t.Run("redelivered upserts converge to one row", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.UpsertMorphometrics(ctx, "spec-dup", morph(10, 2, 5)))
			require.NoError(t, s.UpsertClassification(ctx, "spec-dup", "Sardinella"))
		}

		records, err := s.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "spec-dup", records[0].SpecimenID)
		assert.Equal(t, 10.0, *records[0].Area)
		assert.Equal(t, "Sardinella", *records[0].PredictedLabel)
	})

	t.Run("classification never touches morphometrics", func(t *testing.T) {
		s := newStore(t)
		u := morph(30, 3, 10)
		u.Latitude, u.Longitude = ptr(9.0), ptr(70.0)
		require.NoError(t, s.UpsertMorphometrics(ctx, "spec-own", u))
		require.NoError(t, s.UpsertClassification(ctx, "spec-own", "Rastrelliger"))

		r, err := s.Get(ctx, "spec-own")
		require.NoError(t, err)
		assert.Equal(t, 30.0, *r.Area)
		assert.Equal(t, 3, *r.Width)
		assert.Equal(t, 9.0, *r.Latitude)
		assert.Equal(t, "Rastrelliger", *r.PredictedLabel)
	})

	t.Run("morphometrics never touches classification", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpsertMorphometrics(ctx, "spec-own2", morph(30, 3, 10)))
		require.NoError(t, s.UpsertClassification(ctx, "spec-own2", "Rastrelliger"))
		require.NoError(t, s.UpsertMorphometrics(ctx, "spec-own2", morph(31, 4, 10)))

		r, err := s.Get(ctx, "spec-own2")
		require.NoError(t, err)
		assert.Equal(t, 31.0, *r.Area)
		assert.Equal(t, "Rastrelliger", *r.PredictedLabel)
	})

	t.Run("classification without prior row inserts", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpsertClassification(ctx, "spec-replay", "Thunnus"))

		r, err := s.Get(ctx, "spec-replay")
		require.NoError(t, err)
		assert.False(t, r.HasMorphometrics())
		assert.Nil(t, r.Area)
		assert.Equal(t, "Thunnus", *r.PredictedLabel)

		require.NoError(t, s.UpsertMorphometrics(ctx, "spec-replay", morph(5, 1, 1)))
		r, err = s.Get(ctx, "spec-replay")
		require.NoError(t, err)
		assert.True(t, r.HasMorphometrics())
		assert.Equal(t, "Thunnus", *r.PredictedLabel)
	})

	t.Run("missing location keeps stored location", func(t *testing.T) {
		s := newStore(t)
		u := morph(8, 2, 2)
		u.Latitude, u.Longitude = ptr(20.0), ptr(90.0)
		require.NoError(t, s.UpsertMorphometrics(ctx, "spec-loc", u))
		require.NoError(t, s.UpsertMorphometrics(ctx, "spec-loc", morph(9, 2, 2)))

		r, err := s.Get(ctx, "spec-loc")
		require.NoError(t, err)
		assert.Equal(t, 9.0, *r.Area)
		assert.Equal(t, 20.0, *r.Latitude)
		assert.Equal(t, 90.0, *r.Longitude)

		u = morph(9, 2, 2)
		u.Latitude, u.Longitude = ptr(-5.0), ptr(100.0)
		require.NoError(t, s.UpsertMorphometrics(ctx, "spec-loc", u))
		r, err = s.Get(ctx, "spec-loc")
		require.NoError(t, err)
		assert.Equal(t, -5.0, *r.Latitude)
		assert.Equal(t, 100.0, *r.Longitude)
	})

	t.Run("list orders by updatedAt descending", func(t *testing.T) {
		s := newStore(t)
		setClock(t, s, stepClock())

		require.NoError(t, s.UpsertMorphometrics(ctx, "spec-a", morph(1, 1, 1)))
		require.NoError(t, s.UpsertMorphometrics(ctx, "spec-b", morph(1, 1, 1)))
		require.NoError(t, s.UpsertMorphometrics(ctx, "spec-c", morph(1, 1, 1)))
		require.NoError(t, s.UpsertClassification(ctx, "spec-a", "Sardinella"))

		records, err := s.List(ctx, 10)
		require.NoError(t, err)
		ids := make([]string, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.SpecimenID)
		}
		assert.Equal(t, []string{"spec-a", "spec-c", "spec-b"}, ids)
		assert.True(t, records[0].UpdatedAt.After(records[0].CreatedAt))

		limited, err := s.List(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("concurrent writers converge", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		errs := make(chan error, 40)
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				errs <- s.UpsertMorphometrics(ctx, "spec-race", morph(12, 3, 4))
			}()
			go func(i int) {
				defer wg.Done()
				errs <- s.UpsertClassification(ctx, fmt.Sprintf("spec-other-%d", i%4), "Sardinella")
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		records, err := s.List(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, records, 5)
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, newSQLiteStore)
}

func TestSQLiteStore_ReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "specimens.db")

	s, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertMorphometrics(ctx, "spec-1", morph(4, 2, 2)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	r, err := s.Get(ctx, "spec-1")
	require.NoError(t, err)
	assert.Equal(t, 4.0, *r.Area)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(ctx, config.DatabaseConfig{
			Type:   "sqlite",
			SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "s.db")},
		})
		require.NoError(t, err)
		defer s.Close()
		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Open(ctx, config.DatabaseConfig{Type: "mysql"})
		assert.ErrorIs(t, err, ErrUnknownType)
	})
}

func TestLocation(t *testing.T) {
	u := morph(1, 1, 1)
	u.Latitude = ptr(10.0)
	lat, lon := location(u)
	assert.Nil(t, lat)
	assert.Nil(t, lon)
}
