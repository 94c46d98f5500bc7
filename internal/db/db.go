// Package db provides the SQLite connection and schema for glowd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Known devices - identities eligible for auto-reconnect. The set grows
	// via explicit save and shrinks only via explicit clear.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS known_devices (
			identity TEXT PRIMARY KEY,
			model_code TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			added_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create known_devices table: %w", err)
	}

	// Event journal - append-only history of lifecycle events for inspection
	// and debugging. Pruned by retention, never updated in place.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS event_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			device TEXT NOT NULL DEFAULT '',
			detail TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_event_journal_timestamp ON event_journal(timestamp);
		CREATE INDEX IF NOT EXISTS idx_event_journal_device ON event_journal(device);
	`)
	if err != nil {
		return fmt.Errorf("failed to create event_journal table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
