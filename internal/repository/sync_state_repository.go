package repository

import (
	"context"
	"database/sql"
	"time"
)

// SyncStateRepository persists the sync cursor and subscription state on SQLite
type SyncStateRepository struct {
	db *sql.DB
}

// NewSyncStateRepository creates a new SyncStateRepository
func NewSyncStateRepository(db *sql.DB) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// Get retrieves a sync state value; empty string means never set
func (r *SyncStateRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		"SELECT value FROM sync_state WHERE key = ?", key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores a sync state value
func (r *SyncStateRepository) Set(ctx context.Context, key, value string) error {
	query := `INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC())
	return err
}

// SyncStateRepositoryPostgres persists the sync cursor on PostgreSQL
type SyncStateRepositoryPostgres struct {
	db *sql.DB
}

// NewSyncStateRepositoryPostgres creates a new SyncStateRepositoryPostgres
func NewSyncStateRepositoryPostgres(db *sql.DB) *SyncStateRepositoryPostgres {
	return &SyncStateRepositoryPostgres{db: db}
}

// Get retrieves a sync state value; empty string means never set
func (r *SyncStateRepositoryPostgres) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		"SELECT value FROM sync_state WHERE key = $1", key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores a sync state value
func (r *SyncStateRepositoryPostgres) Set(ctx context.Context, key, value string) error {
	query := `INSERT INTO sync_state (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC())
	return err
}
