package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Scopes partition the kv table by lifetime. Session-scoped values belong to
// one pipeline session and are cleared on session reset; durable values
// survive across sessions until explicitly removed.
const (
	ScopeSession = "session"
	ScopeDurable = "durable"
)

// KVStore is a scoped key-value store. The session package degrades to an
// in-memory map when no store is available, so implementations may fail
// freely without breaking identifier generation.
type KVStore interface {
	Get(scope, key string) (string, error)
	Set(scope, key, value string) error
	Delete(scope, key string) error
	ClearScope(scope string) error
}

var ErrNotFound = fmt.Errorf("kv: not found")

type SQLiteKVStore struct {
	db *sql.DB
}

func NewSQLiteKVStore(db *sql.DB) *SQLiteKVStore {
	return &SQLiteKVStore{db: db}
}

func (s *SQLiteKVStore) Get(scope, key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE scope = ? AND key = ?`, scope, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv get: %w", err)
	}
	return value, nil
}

func (s *SQLiteKVStore) Set(scope, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (scope, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, scope, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (s *SQLiteKVStore) Delete(scope, key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE scope = ? AND key = ?`, scope, key)
	if err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

func (s *SQLiteKVStore) ClearScope(scope string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE scope = ?`, scope)
	if err != nil {
		return fmt.Errorf("kv clear scope: %w", err)
	}
	return nil
}
