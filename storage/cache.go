package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CachedResponse mirrors one response-cache entry to disk so a restart can
// rehydrate a warm cache. Persistence here is best effort; the in-memory
// cache in the resilience package is authoritative.
type CachedResponse struct {
	Key        string
	Method     string
	URL        string
	StatusCode int
	Headers    map[string]string
	Body       []byte
	CachedAt   int64
	ExpiresAt  int64
}

type CacheRepo interface {
	Put(entry *CachedResponse) error
	LoadAll() ([]*CachedResponse, error)
	Delete(key string) error
	Prune(now time.Time, staleCeiling time.Duration) (int64, error)
}

type SQLiteCacheRepo struct {
	db *sql.DB
}

func NewSQLiteCacheRepo(db *sql.DB) *SQLiteCacheRepo {
	return &SQLiteCacheRepo{db: db}
}

func (r *SQLiteCacheRepo) Put(entry *CachedResponse) error {
	headers, err := json.Marshal(entry.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO response_cache (key, method, url, status_code, headers, body, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status_code = excluded.status_code,
			headers     = excluded.headers,
			body        = excluded.body,
			cached_at   = excluded.cached_at,
			expires_at  = excluded.expires_at
	`, entry.Key, entry.Method, entry.URL, entry.StatusCode, headers, entry.Body, entry.CachedAt, entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (r *SQLiteCacheRepo) Get(key string) (*CachedResponse, error) {
	row := r.db.QueryRow(`
		SELECT key, method, url, status_code, headers, body, cached_at, expires_at
		FROM response_cache WHERE key = ?
	`, key)
	return scanCached(row)
}

func (r *SQLiteCacheRepo) LoadAll() ([]*CachedResponse, error) {
	rows, err := r.db.Query(`
		SELECT key, method, url, status_code, headers, body, cached_at, expires_at
		FROM response_cache ORDER BY cached_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}
	defer rows.Close()

	var entries []*CachedResponse
	for rows.Next() {
		entry, err := scanCached(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *SQLiteCacheRepo) Delete(key string) error {
	_, err := r.db.Exec(`DELETE FROM response_cache WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Prune removes entries whose staleness grace has fully elapsed; entries
// merely past expires_at are kept because stale fallback may still use them.
func (r *SQLiteCacheRepo) Prune(now time.Time, staleCeiling time.Duration) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM response_cache WHERE expires_at < ?`,
		now.Add(-staleCeiling).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCached(row rowScanner) (*CachedResponse, error) {
	entry := &CachedResponse{}
	var headers []byte
	err := row.Scan(&entry.Key, &entry.Method, &entry.URL, &entry.StatusCode,
		&headers, &entry.Body, &entry.CachedAt, &entry.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cache entry: %w", err)
	}
	if err := json.Unmarshal(headers, &entry.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	return entry, nil
}
