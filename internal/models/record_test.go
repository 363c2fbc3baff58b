package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	t.Run("creates record with valid parameters", func(t *testing.T) {
		dateTaken := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)

		record, err := NewRecord("photo-1", "Sunset over the bay", dateTaken)

		require.NoError(t, err)
		assert.Equal(t, "photo-1", record.ID)
		assert.Equal(t, "Sunset over the bay", record.Caption)
		assert.Equal(t, dateTaken, record.DateTaken)
		assert.WithinDuration(t, time.Now().UTC(), record.DateAdded, time.Second*5)
		assert.Equal(t, record.DateAdded, record.LastUpdated)
	})

	t.Run("new records start dirty and local-only", func(t *testing.T) {
		record, err := NewRecord("photo-2", "", time.Now())

		require.NoError(t, err)
		assert.True(t, record.Dirty)
		assert.False(t, record.MarkedDeleted)
		assert.False(t, record.Pushed())
		assert.Nil(t, record.RemoteRef)
	})

	t.Run("rejects empty id", func(t *testing.T) {
		_, err := NewRecord("", "caption", time.Now())
		assert.ErrorIs(t, err, ErrEmptyID)
	})

	t.Run("rejects whitespace-only id", func(t *testing.T) {
		_, err := NewRecord("   ", "caption", time.Now())
		assert.ErrorIs(t, err, ErrEmptyID)
	})

	t.Run("normalizes date taken to UTC", func(t *testing.T) {
		loc := time.FixedZone("PST", -8*3600)
		dateTaken := time.Date(2024, 3, 15, 4, 0, 0, 0, loc)

		record, err := NewRecord("photo-3", "caption", dateTaken)

		require.NoError(t, err)
		assert.Equal(t, time.UTC, record.DateTaken.Location())
		assert.True(t, record.DateTaken.Equal(dateTaken))
	})
}

func TestRecordPushed(t *testing.T) {
	t.Run("true once a remote ref is assigned", func(t *testing.T) {
		record, err := NewRecord("photo-4", "caption", time.Now())
		require.NoError(t, err)

		record.RemoteRef = &RemoteRef{Ref: "ck-rec-4", Version: 1}
		assert.True(t, record.Pushed())
	})
}
