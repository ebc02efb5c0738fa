// Package ledger keeps an append-only history of connectivity and indicator events.
// Rows belonging to one reconnect attempt share a correlation id.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the kind of a ledger row
type EventType string

const (
	EventNodeStarted       EventType = "node_started"
	EventLinkLost          EventType = "link_lost"
	EventAddressAcquired   EventType = "address_acquired"
	EventConnectAttempt    EventType = "connect_attempt"
	EventConnectTimeout    EventType = "connect_timeout"
	EventConnectError      EventType = "connect_error"
	EventAnimationFinished EventType = "animation_finished"
)

// Entry is a single ledger row
type Entry struct {
	ID            int64
	EventType     EventType
	Timestamp     time.Time
	Payload       map[string]any
	Source        string
	CorrelationID string
}

// Ledger appends and queries event_ledger rows
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a ledger on an open database
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append records an event without source or correlation id
func (l *Ledger) Append(eventType EventType, payload map[string]any) error {
	return l.AppendWithSource(eventType, "", "", payload)
}

// AppendWithSource records an event with its origin and correlation id
func (l *Ledger) AppendWithSource(eventType EventType, source, correlationID string, payload map[string]any) error {
	var payloadJSON []byte
	if payload != nil {
		var err error
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err := l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source, correlation_id) VALUES (?, ?, ?, ?, ?)`,
		string(eventType), l.now().UTC().Unix(), string(payloadJSON), source, correlationID,
	)
	return err
}

// GetByType returns the newest entries of a type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, correlation_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByCorrelation returns every entry of one attempt in insertion order
func (l *Ledger) GetByCorrelation(correlationID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, correlation_id
		FROM event_ledger
		WHERE correlation_id = ?
		ORDER BY id ASC
	`, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Recent returns the newest entries of any type
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, correlation_id
		FROM event_ledger
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// CountSince counts entries of a type at or after since
func (l *Ledger) CountSince(eventType EventType, since time.Time) (int, error) {
	var n int
	err := l.db.QueryRow(
		`SELECT COUNT(*) FROM event_ledger WHERE event_type = ? AND timestamp >= ?`,
		string(eventType), since.UTC().Unix(),
	).Scan(&n)
	return n, err
}

// DeleteOlderThan removes entries older than retention
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UTC().Unix()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payload, source, correlationID sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payload, &source, &correlationID); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Source = source.String
		entry.CorrelationID = correlationID.String

		if payload.Valid && payload.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payload.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
