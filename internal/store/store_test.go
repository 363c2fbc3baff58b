package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutline/agent/internal/models"
	"github.com/cutline/agent/internal/repository"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStore(repository.NewRecordRepository(db), repository.NewSyncStateRepository(db))
	go s.Run()
	t.Cleanup(s.Close)

	return s
}

func TestStoreCreate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	t.Run("new records are dirty and local-only", func(t *testing.T) {
		record, err := s.Create(ctx, "rec-1", "Harbor at dawn", time.Now())
		require.NoError(t, err)
		assert.True(t, record.Dirty)
		assert.Nil(t, record.RemoteRef)

		got, err := s.FetchByID(ctx, "rec-1")
		require.NoError(t, err)
		assert.Equal(t, "Harbor at dawn", got.Caption)
	})

	t.Run("rejects duplicate ids", func(t *testing.T) {
		_, err := s.Create(ctx, "rec-1", "again", time.Now())
		assert.ErrorIs(t, err, models.ErrDuplicateID)
	})

	t.Run("rejects empty ids", func(t *testing.T) {
		_, err := s.Create(ctx, "", "caption", time.Now())
		assert.ErrorIs(t, err, models.ErrEmptyID)
	})
}

func TestStoreUpdate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	record, err := s.Create(ctx, "rec-1", "original", time.Now())
	require.NoError(t, err)

	t.Run("edit bumps lastUpdated and marks dirty", func(t *testing.T) {
		updated, err := s.Update(ctx, "rec-1", "edited")
		require.NoError(t, err)
		assert.Equal(t, "edited", updated.Caption)
		assert.True(t, updated.Dirty)
		assert.True(t, updated.LastUpdated.After(record.LastUpdated))
	})

	t.Run("unchanged caption is a no-op", func(t *testing.T) {
		first, err := s.Update(ctx, "rec-1", "edited")
		require.NoError(t, err)

		second, err := s.Update(ctx, "rec-1", "edited")
		require.NoError(t, err)
		assert.True(t, second.LastUpdated.Equal(first.LastUpdated))
	})

	t.Run("unknown id fails", func(t *testing.T) {
		_, err := s.Update(ctx, "missing", "caption")
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
	})

	t.Run("tombstoned record cannot be edited", func(t *testing.T) {
		_, err := s.Create(ctx, "rec-2", "doomed", time.Now())
		require.NoError(t, err)
		require.NoError(t, s.SoftDelete(ctx, "rec-2"))

		_, err = s.Update(ctx, "rec-2", "too late")
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
	})
}

func TestStoreSoftDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "rec-1", "caption", time.Now())
	require.NoError(t, err)

	t.Run("removes from list but keeps the tombstone", func(t *testing.T) {
		require.NoError(t, s.SoftDelete(ctx, "rec-1"))

		records, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)

		tombstones, err := s.FetchTombstoned(ctx, 0)
		require.NoError(t, err)
		require.Len(t, tombstones, 1)
		assert.Equal(t, "rec-1", tombstones[0].ID)
	})

	t.Run("deleting twice is a no-op", func(t *testing.T) {
		assert.NoError(t, s.SoftDelete(ctx, "rec-1"))
	})

	t.Run("unknown id fails", func(t *testing.T) {
		assert.ErrorIs(t, s.SoftDelete(ctx, "missing"), models.ErrRecordNotFound)
	})
}

func TestStoreSearch(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "rec-1", "Sunset over the bay", time.Now())
	require.NoError(t, err)
	_, err = s.Create(ctx, "rec-2", "Morning fog", time.Now())
	require.NoError(t, err)

	records, err := s.Search(ctx, "sunset")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-1", records[0].ID)
}

func TestStoreConfirmPushed(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	t.Run("clears dirty and stores the remote ref", func(t *testing.T) {
		record, err := s.Create(ctx, "rec-1", "caption", time.Now())
		require.NoError(t, err)

		record.RemoteRef = &models.RemoteRef{Ref: "ck-1", Version: 1}
		cleared, err := s.ConfirmPushed(ctx, record)
		require.NoError(t, err)
		assert.True(t, cleared)

		got, err := s.FetchByID(ctx, "rec-1")
		require.NoError(t, err)
		assert.False(t, got.Dirty)
		assert.True(t, got.Pushed())
	})

	t.Run("concurrent edit keeps the record dirty", func(t *testing.T) {
		record, err := s.Create(ctx, "rec-2", "caption", time.Now())
		require.NoError(t, err)
		snapshot := *record

		_, err = s.Update(ctx, "rec-2", "edited while pushing")
		require.NoError(t, err)

		snapshot.RemoteRef = &models.RemoteRef{Ref: "ck-2", Version: 1}
		cleared, err := s.ConfirmPushed(ctx, &snapshot)
		require.NoError(t, err)
		assert.False(t, cleared)

		got, err := s.FetchByID(ctx, "rec-2")
		require.NoError(t, err)
		assert.True(t, got.Dirty)
	})
}

func TestStoreSyncState(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	t.Run("change token starts empty", func(t *testing.T) {
		token, err := s.ChangeToken(ctx)
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("change token round-trips", func(t *testing.T) {
		require.NoError(t, s.SetChangeToken(ctx, "cursor-42"))

		token, err := s.ChangeToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "cursor-42", token)
	})

	t.Run("subscription id round-trips", func(t *testing.T) {
		require.NoError(t, s.SetSubscriptionID(ctx, "sub-1"))

		id, err := s.SubscriptionID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "sub-1", id)
	})

	t.Run("last sync time round-trips", func(t *testing.T) {
		at, err := s.LastSyncAt(ctx)
		require.NoError(t, err)
		assert.Nil(t, at)

		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.SetLastSyncAt(ctx, now))

		at, err = s.LastSyncAt(ctx)
		require.NoError(t, err)
		require.NotNil(t, at)
		assert.True(t, at.Equal(now))
	})
}

func TestStoreOnChange(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	changes := make(chan struct{}, 16)
	s.OnChange(func() { changes <- struct{}{} })

	_, err := s.Create(ctx, "rec-1", "caption", time.Now())
	require.NoError(t, err)

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change notification after create")
	}
}

func TestStoreClosed(t *testing.T) {
	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(repository.NewRecordRepository(db), repository.NewSyncStateRepository(db))
	go s.Run()
	s.Close()

	// Give the worker a moment to observe the close
	time.Sleep(50 * time.Millisecond)

	_, err = s.Create(context.Background(), "rec-1", "caption", time.Now())
	assert.ErrorIs(t, err, models.ErrStoreClosed)
}
