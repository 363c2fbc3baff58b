package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		caption TEXT NOT NULL DEFAULT '',
		date_taken TIMESTAMP NOT NULL,
		date_added TIMESTAMP NOT NULL,
		last_updated TIMESTAMP NOT NULL,
		dirty BOOLEAN NOT NULL DEFAULT FALSE,
		marked_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		remote_ref TEXT,
		remote_version BIGINT
	);

	CREATE INDEX IF NOT EXISTS idx_records_date_added ON records(date_added);
	CREATE INDEX IF NOT EXISTS idx_records_dirty ON records(dirty);
	CREATE INDEX IF NOT EXISTS idx_records_deleted ON records(marked_deleted);

	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	`

	_, err := db.Exec(schema)
	return err
}
