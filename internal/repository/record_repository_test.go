package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutline/agent/internal/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func newTestRecord(t *testing.T, id, caption string) *models.Record {
	t.Helper()

	record, err := models.NewRecord(id, caption, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return record
}

func TestRecordRepository_InsertAndGetByID(t *testing.T) {
	repo := NewRecordRepository(setupTestDB(t))
	ctx := context.Background()

	t.Run("round-trips a record", func(t *testing.T) {
		record := newTestRecord(t, "rec-1", "First light")
		require.NoError(t, repo.Insert(ctx, record))

		got, err := repo.GetByID(ctx, "rec-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "rec-1", got.ID)
		assert.Equal(t, "First light", got.Caption)
		assert.True(t, got.Dirty)
		assert.False(t, got.MarkedDeleted)
		assert.Nil(t, got.RemoteRef)
	})

	t.Run("returns nil for unknown id", func(t *testing.T) {
		got, err := repo.GetByID(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("preserves remote ref", func(t *testing.T) {
		record := newTestRecord(t, "rec-2", "Pushed already")
		record.Dirty = false
		record.RemoteRef = &models.RemoteRef{Ref: "ck-2", Version: 3}
		require.NoError(t, repo.Insert(ctx, record))

		got, err := repo.GetByID(ctx, "rec-2")
		require.NoError(t, err)
		require.NotNil(t, got.RemoteRef)
		assert.Equal(t, "ck-2", got.RemoteRef.Ref)
		assert.Equal(t, int64(3), got.RemoteRef.Version)
	})
}

func TestRecordRepository_Queries(t *testing.T) {
	repo := NewRecordRepository(setupTestDB(t))
	ctx := context.Background()

	local := newTestRecord(t, "local-1", "Never pushed")
	require.NoError(t, repo.Insert(ctx, local))

	pushed := newTestRecord(t, "pushed-1", "Clean record")
	pushed.Dirty = false
	pushed.RemoteRef = &models.RemoteRef{Ref: "ck-p1", Version: 1}
	require.NoError(t, repo.Insert(ctx, pushed))

	edited := newTestRecord(t, "edited-1", "Dirty edit")
	edited.RemoteRef = &models.RemoteRef{Ref: "ck-e1", Version: 2}
	require.NoError(t, repo.Insert(ctx, edited))

	deleted := newTestRecord(t, "deleted-1", "Tombstoned")
	deleted.MarkedDeleted = true
	deleted.RemoteRef = &models.RemoteRef{Ref: "ck-d1", Version: 1}
	require.NoError(t, repo.Insert(ctx, deleted))

	t.Run("GetAll excludes tombstones", func(t *testing.T) {
		records, err := repo.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 3)
		for _, r := range records {
			assert.False(t, r.MarkedDeleted)
		}
	})

	t.Run("GetLocalOnly returns never-pushed live records", func(t *testing.T) {
		records, err := repo.GetLocalOnly(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "local-1", records[0].ID)
	})

	t.Run("GetDirty returns live records with pending edits", func(t *testing.T) {
		records, err := repo.GetDirty(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("GetTombstoned returns only tombstones", func(t *testing.T) {
		records, err := repo.GetTombstoned(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "deleted-1", records[0].ID)
	})

	t.Run("limit caps results", func(t *testing.T) {
		records, err := repo.GetDirty(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("search matches case-insensitively", func(t *testing.T) {
		records, err := repo.Search(ctx, "DIRTY")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "edited-1", records[0].ID)
	})

	t.Run("search skips tombstones", func(t *testing.T) {
		records, err := repo.Search(ctx, "tombstoned")
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("counts reflect record states", func(t *testing.T) {
		counts, err := repo.GetCounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, counts.Total)
		assert.Equal(t, 2, counts.Dirty)
		assert.Equal(t, 1, counts.LocalOnly)
		assert.Equal(t, 1, counts.Deleted)
	})
}

func TestRecordRepository_ClearDirty(t *testing.T) {
	repo := NewRecordRepository(setupTestDB(t))
	ctx := context.Background()

	t.Run("clears when last_updated matches", func(t *testing.T) {
		record := newTestRecord(t, "rec-1", "caption")
		require.NoError(t, repo.Insert(ctx, record))

		record.RemoteRef = &models.RemoteRef{Ref: "ck-1", Version: 1}
		cleared, err := repo.ClearDirty(ctx, record)
		require.NoError(t, err)
		assert.True(t, cleared)

		got, err := repo.GetByID(ctx, "rec-1")
		require.NoError(t, err)
		assert.False(t, got.Dirty)
		require.NotNil(t, got.RemoteRef)
		assert.Equal(t, "ck-1", got.RemoteRef.Ref)
	})

	t.Run("keeps dirty when the record was edited after the push started", func(t *testing.T) {
		record := newTestRecord(t, "rec-2", "caption")
		require.NoError(t, repo.Insert(ctx, record))

		pushed := *record
		record.Caption = "edited meanwhile"
		record.LastUpdated = record.LastUpdated.Add(time.Second)
		require.NoError(t, repo.UpdateCaption(ctx, record))

		pushed.RemoteRef = &models.RemoteRef{Ref: "ck-2", Version: 1}
		cleared, err := repo.ClearDirty(ctx, &pushed)
		require.NoError(t, err)
		assert.False(t, cleared)

		got, err := repo.GetByID(ctx, "rec-2")
		require.NoError(t, err)
		assert.True(t, got.Dirty)
		assert.Equal(t, "edited meanwhile", got.Caption)
	})
}

func TestRecordRepository_Mutations(t *testing.T) {
	repo := NewRecordRepository(setupTestDB(t))
	ctx := context.Background()

	t.Run("UpdateCaption marks dirty", func(t *testing.T) {
		record := newTestRecord(t, "rec-1", "before")
		record.Dirty = false
		record.RemoteRef = &models.RemoteRef{Ref: "ck-1", Version: 1}
		require.NoError(t, repo.Insert(ctx, record))

		record.Caption = "after"
		record.LastUpdated = record.LastUpdated.Add(time.Second)
		require.NoError(t, repo.UpdateCaption(ctx, record))

		got, err := repo.GetByID(ctx, "rec-1")
		require.NoError(t, err)
		assert.Equal(t, "after", got.Caption)
		assert.True(t, got.Dirty)
	})

	t.Run("UpdateCaption on missing record fails", func(t *testing.T) {
		record := newTestRecord(t, "ghost", "caption")
		err := repo.UpdateCaption(ctx, record)
		assert.ErrorIs(t, err, models.ErrRecordNotFound)
	})

	t.Run("MarkDeleted tombstones the record", func(t *testing.T) {
		record := newTestRecord(t, "rec-2", "to delete")
		require.NoError(t, repo.Insert(ctx, record))

		record.LastUpdated = record.LastUpdated.Add(time.Second)
		require.NoError(t, repo.MarkDeleted(ctx, record))

		got, err := repo.GetByID(ctx, "rec-2")
		require.NoError(t, err)
		assert.True(t, got.MarkedDeleted)
	})

	t.Run("ApplyRemote upserts and clears dirty", func(t *testing.T) {
		record := newTestRecord(t, "rec-3", "local caption")
		require.NoError(t, repo.Insert(ctx, record))

		incoming := *record
		incoming.Caption = "remote caption"
		incoming.LastUpdated = record.LastUpdated.Add(time.Minute)
		incoming.RemoteRef = &models.RemoteRef{Ref: "ck-3", Version: 7}
		require.NoError(t, repo.ApplyRemote(ctx, &incoming))

		got, err := repo.GetByID(ctx, "rec-3")
		require.NoError(t, err)
		assert.Equal(t, "remote caption", got.Caption)
		assert.False(t, got.Dirty)
		require.NotNil(t, got.RemoteRef)
		assert.Equal(t, int64(7), got.RemoteRef.Version)
	})

	t.Run("ApplyRemote inserts unknown records", func(t *testing.T) {
		incoming := newTestRecord(t, "rec-4", "brand new from remote")
		incoming.RemoteRef = &models.RemoteRef{Ref: "ck-4", Version: 1}
		require.NoError(t, repo.ApplyRemote(ctx, incoming))

		got, err := repo.GetByID(ctx, "rec-4")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.False(t, got.Dirty)
	})

	t.Run("Purge removes records permanently", func(t *testing.T) {
		a := newTestRecord(t, "purge-a", "a")
		b := newTestRecord(t, "purge-b", "b")
		require.NoError(t, repo.Insert(ctx, a))
		require.NoError(t, repo.Insert(ctx, b))

		require.NoError(t, repo.Purge(ctx, []string{"purge-a", "purge-b"}))

		got, err := repo.GetByID(ctx, "purge-a")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Purge with no ids is a no-op", func(t *testing.T) {
		assert.NoError(t, repo.Purge(ctx, nil))
	})
}

func TestSyncStateRepository(t *testing.T) {
	repo := NewSyncStateRepository(setupTestDB(t))
	ctx := context.Background()

	t.Run("missing key reads as empty", func(t *testing.T) {
		value, err := repo.Get(ctx, SyncStateChangeToken)
		require.NoError(t, err)
		assert.Empty(t, value)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, SyncStateChangeToken, "token-1"))

		value, err := repo.Get(ctx, SyncStateChangeToken)
		require.NoError(t, err)
		assert.Equal(t, "token-1", value)
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, SyncStateChangeToken, "token-2"))

		value, err := repo.Get(ctx, SyncStateChangeToken)
		require.NoError(t, err)
		assert.Equal(t, "token-2", value)
	})
}
