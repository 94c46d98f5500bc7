// Package journal provides an append-only history of device lifecycle
// events. It feeds off the event bus and is meant for inspection and
// debugging, not for control flow.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dmoravec/glowd/internal/eventbus"
)

// Entry represents a single recorded event
type Entry struct {
	ID        int64
	EventType string
	Timestamp time.Time
	Device    string
	Detail    map[string]any
}

// Journal provides append-only event recording
type Journal struct {
	db *sql.DB
}

// New creates a new Journal using the provided database connection
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Attach subscribes the journal to the lifecycle event types on the bus.
// Recording failures are logged and dropped so a database hiccup never
// interferes with event delivery.
func (j *Journal) Attach(bus *eventbus.Bus) {
	record := func(ev eventbus.Event) {
		device, _ := ev.Data["device"].(string)
		if err := j.Record(string(ev.Type), device, ev.Data); err != nil {
			log.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("Failed to journal event")
		}
	}
	bus.Subscribe(eventbus.EventTypeDeviceConnected, record)
	bus.Subscribe(eventbus.EventTypeDeviceDisconnected, record)
	bus.Subscribe(eventbus.EventTypeSelectionChanged, record)
	bus.Subscribe(eventbus.EventTypeStatus, record)
}

// Record adds a new event to the journal
func (j *Journal) Record(eventType, device string, detail map[string]any) error {
	var detailJSON []byte
	var err error

	if detail != nil {
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("failed to marshal detail: %w", err)
		}
	}

	now := time.Now().UTC().Unix()

	_, err = j.db.Exec(`
		INSERT INTO event_journal (event_type, timestamp, device, detail) VALUES (?, ?, ?, ?)
	`, eventType, now, device, string(detailJSON))

	return err
}

// Recent returns the most recent entries, newest first
func (j *Journal) Recent(limit int) ([]*Entry, error) {
	rows, err := j.db.Query(`
		SELECT id, event_type, timestamp, device, detail
		FROM event_journal
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return j.scanEntries(rows)
}

// ByDevice returns the most recent entries for one device, newest first
func (j *Journal) ByDevice(device string, limit int) ([]*Entry, error) {
	rows, err := j.db.Query(`
		SELECT id, event_type, timestamp, device, detail
		FROM event_journal
		WHERE device = ?
		ORDER BY id DESC
		LIMIT ?
	`, device, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return j.scanEntries(rows)
}

// Prune removes entries older than the specified duration (retention policy)
func (j *Journal) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := j.db.Exec(`
		DELETE FROM event_journal WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (j *Journal) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var detailStr sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &entry.Device, &detailStr)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()

		if detailStr.Valid && detailStr.String != "" {
			entry.Detail = make(map[string]any)
			if err := json.Unmarshal([]byte(detailStr.String), &entry.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal detail: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
