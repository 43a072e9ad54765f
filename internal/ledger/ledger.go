// Package ledger provides an append-only history of commands sent to the
// appliance and of refreshes that failed. It is for auditing only; nothing
// reads it back to drive behavior.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCommandCompleted EventType = "command_completed"
	EventCommandFailed    EventType = "command_failed"
	EventRefreshFailed    EventType = "refresh_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	EventType EventType
	Timestamp time.Time
	Payload   map[string]any
	Source    string
	CommandID string
	Device    string
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, commandID string, payload map[string]any) error {
	return l.AppendWithSource(eventType, commandID, "", "", payload)
}

// AppendWithSource adds a new event with the originating adapter and device name.
func (l *Ledger) AppendWithSource(eventType EventType, commandID, source, device string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source, command_id, device) VALUES (?, ?, ?, ?, ?, ?)`,
		string(eventType), l.now().UTC().Unix(), string(payloadJSON), source, commandID, device,
	)
	return err
}

// GetByCommand returns all entries recorded for a command, oldest first.
func (l *Ledger) GetByCommand(commandID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, command_id, device
		FROM event_ledger
		WHERE command_id = ?
		ORDER BY id ASC
	`, commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type, newest first.
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, command_id, device
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByTimeRange returns entries within a time range
func (l *Ledger) GetByTimeRange(start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, command_id, device
		FROM event_ledger
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source, commandID, device sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &commandID, &device,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Source = source.String
		entry.CommandID = commandID.String
		entry.Device = device.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
