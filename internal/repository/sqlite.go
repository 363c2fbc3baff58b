package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Caption records table
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		caption TEXT NOT NULL DEFAULT '',
		date_taken DATETIME NOT NULL,
		date_added DATETIME NOT NULL,
		last_updated DATETIME NOT NULL,
		dirty INTEGER NOT NULL DEFAULT 0,
		marked_deleted INTEGER NOT NULL DEFAULT 0,
		remote_ref TEXT,
		remote_version INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_records_date_added ON records(date_added);
	CREATE INDEX IF NOT EXISTS idx_records_dirty ON records(dirty);
	CREATE INDEX IF NOT EXISTS idx_records_deleted ON records(marked_deleted);

	-- Sync cursor and subscription state
	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.Exec(schema)
	return err
}
