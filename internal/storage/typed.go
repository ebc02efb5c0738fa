package storage

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Typed binds a Store to one kind and one JSON-encoded document type.
type Typed[T any] struct {
	store *Store
	kind  string
}

// NewTyped creates a typed view over store for kind.
func NewTyped[T any](store *Store, kind string) *Typed[T] {
	return &Typed[T]{store: store, kind: kind}
}

// Kind returns the document kind.
func (t *Typed[T]) Kind() string {
	return t.kind
}

// Load decodes the document for id. The bool is false when none is stored.
func (t *Typed[T]) Load(id string) (T, bool, error) {
	var value T
	payload, _, err := t.store.Get(t.kind, id)
	if err != nil {
		return value, false, err
	}
	if payload == nil {
		return value, false, nil
	}
	if err := json.Unmarshal(payload, &value); err != nil {
		return value, false, fmt.Errorf("failed to decode %s/%s: %w", t.kind, id, err)
	}
	return value, true, nil
}

// Save encodes and stores value under id.
func (t *Typed[T]) Save(id string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", t.kind, id, err)
	}
	return t.store.Put(t.kind, id, payload)
}

// Delete removes the document for id.
func (t *Typed[T]) Delete(id string) error {
	return t.store.Delete(t.kind, id)
}

// Reset removes every document of this kind.
func (t *Typed[T]) Reset() (int64, error) {
	return t.store.Clear(t.kind)
}

// IDs returns the sorted ids of every document of this kind.
func (t *Typed[T]) IDs() ([]string, error) {
	docs, err := t.store.List(t.kind)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
