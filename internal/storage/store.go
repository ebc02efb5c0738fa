// Package storage persists small JSON documents keyed by (kind, id).
// The daemon keeps the indicator's static colour here so it survives restarts.
package storage

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is a versioned document store on top of the resource_state table.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a store using an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the payload and version of a document.
// A missing document yields a nil payload and version 0.
func (s *Store) Get(kind, id string) ([]byte, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	var version int64
	err := s.db.QueryRow(
		`SELECT payload, version FROM resource_state WHERE kind = ? AND id = ?`,
		kind, id,
	).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return []byte(payload), version, nil
}

// Put writes a document and bumps its version.
func (s *Store) Put(kind, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, kind, id, string(payload), time.Now().UTC().Unix())
	if err != nil {
		return err
	}

	log.Debug().
		Str("kind", kind).
		Str("id", id).
		Str("payload", string(payload)).
		Msg("State stored")
	return nil
}

// Delete removes one document. Deleting a missing document is not an error.
func (s *Store) Delete(kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM resource_state WHERE kind = ? AND id = ?`, kind, id)
	return err
}

// Clear removes every document of a kind, or everything when kind is empty.
func (s *Store) Clear(kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res sql.Result
	var err error
	if kind == "" {
		res, err = s.db.Exec(`DELETE FROM resource_state`)
	} else {
		res, err = s.db.Exec(`DELETE FROM resource_state WHERE kind = ?`, kind)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// List returns the payloads of every document of a kind keyed by id.
func (s *Store) List(kind string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, payload FROM resource_state WHERE kind = ?`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		out[id] = []byte(payload)
	}
	return out, rows.Err()
}
