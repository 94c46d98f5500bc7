// Package knowndev persists the set of device identities eligible for
// auto-reconnect.
package knowndev

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dmoravec/glowd/internal/device"
)

// Known is one persisted device record.
type Known struct {
	Identity  device.Identity
	ModelCode string
	Name      string
}

// Store is the SQLite-backed known-device registry.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save records a device as known, refreshing the model code and name of an
// existing record. The device name arrives from a query response after the
// first save, so an empty name never overwrites a learned one.
func (s *Store) Save(id device.Identity, modelCode, name string) error {
	_, err := s.db.Exec(`
		INSERT INTO known_devices (identity, model_code, name, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			model_code = excluded.model_code,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE known_devices.name END
	`, string(id), modelCode, name, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to save known device: %w", err)
	}
	return nil
}

// Has reports whether an identity is known.
func (s *Store) Has(id device.Identity) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM known_devices WHERE identity = ?
	`, string(id)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query known device: %w", err)
	}
	return true, nil
}

// All returns every known device.
func (s *Store) All() ([]Known, error) {
	rows, err := s.db.Query(`
		SELECT identity, model_code, name FROM known_devices ORDER BY added_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list known devices: %w", err)
	}
	defer rows.Close()

	var out []Known
	for rows.Next() {
		var k Known
		var id string
		if err := rows.Scan(&id, &k.ModelCode, &k.Name); err != nil {
			return nil, fmt.Errorf("failed to scan known device: %w", err)
		}
		k.Identity = device.Identity(id)
		out = append(out, k)
	}
	return out, rows.Err()
}

// Clear removes every known device.
func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM known_devices`)
	if err != nil {
		return fmt.Errorf("failed to clear known devices: %w", err)
	}
	return nil
}
