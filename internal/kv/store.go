// Package kv is a small persistent key/value store for automation scripts.
// Values are JSON encoded; every store is scoped to one namespace.
package kv

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyKey is returned when a key is empty.
var ErrEmptyKey = errors.New("kv: empty key")

// Store is a namespaced key/value store backed by the script_store table.
type Store struct {
	db        *sql.DB
	namespace string
	now       func() time.Time
}

// New creates a store for namespace.
func New(db *sql.DB, namespace string) *Store {
	return &Store{db: db, namespace: namespace, now: time.Now}
}

// Namespace returns the store namespace.
func (s *Store) Namespace() string {
	return s.namespace
}

// Set saves value under key. A positive ttl makes the entry expire.
func (s *Store) Set(key string, value any, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	now := s.now().UTC()
	var expiresAt *int64
	if ttl > 0 {
		exp := now.Add(ttl).Unix()
		expiresAt = &exp
	}

	_, err = s.db.Exec(`
		INSERT INTO script_store (namespace, key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, s.namespace, key, string(data), expiresAt, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to store value: %w", err)
	}
	return nil
}

// Get returns the value under key, or nil when it is missing or expired.
func (s *Store) Get(key string) (any, error) {
	var raw string
	var expiresAt sql.NullInt64

	err := s.db.QueryRow(`
		SELECT value, expires_at FROM script_store
		WHERE namespace = ? AND key = ?
	`, s.namespace, key).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get value: %w", err)
	}

	if s.expired(expiresAt) {
		_, _ = s.db.Exec(`DELETE FROM script_store WHERE namespace = ? AND key = ?`, s.namespace, key)
		return nil, nil
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return value, nil
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(key string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM script_store WHERE namespace = ? AND key = ?`, s.namespace, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete key: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Keys returns the live keys in the namespace, sorted.
func (s *Store) Keys() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT key FROM script_store
		WHERE namespace = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key
	`, s.namespace, s.now().UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteExpired removes expired entries across all namespaces.
func (s *Store) DeleteExpired() (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM script_store WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, s.now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) expired(expiresAt sql.NullInt64) bool {
	return expiresAt.Valid && s.now().UTC().Unix() >= expiresAt.Int64
}
