package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// QueuedRequest is one non-GET request captured while offline, awaiting
// replay.
type QueuedRequest struct {
	ID         string
	Method     string
	URL        string
	Headers    map[string]string
	Body       []byte
	QueuedAt   int64
	RetryCount int
}

type OfflineRepo interface {
	Save(req *QueuedRequest) error
	ListFIFO() ([]*QueuedRequest, error)
	UpdateRetryCount(id string, count int) error
	Delete(id string) error
	Count() (int, error)
	DeleteOldest() error
}

type SQLiteOfflineRepo struct {
	db *sql.DB
}

func NewSQLiteOfflineRepo(db *sql.DB) *SQLiteOfflineRepo {
	return &SQLiteOfflineRepo{db: db}
}

func (r *SQLiteOfflineRepo) Save(req *QueuedRequest) error {
	if req.ID == "" {
		req.ID = ulid.Make().String()
	}
	if req.QueuedAt == 0 {
		req.QueuedAt = time.Now().UnixMilli()
	}

	headers, err := json.Marshal(req.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO offline_queue (id, method, url, headers, body, queued_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.Method, req.URL, headers, req.Body, req.QueuedAt, req.RetryCount)
	if err != nil {
		return fmt.Errorf("insert queued request: %w", err)
	}
	return nil
}

func (r *SQLiteOfflineRepo) ListFIFO() ([]*QueuedRequest, error) {
	rows, err := r.db.Query(`
		SELECT id, method, url, headers, body, queued_at, retry_count
		FROM offline_queue ORDER BY queued_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list offline queue: %w", err)
	}
	defer rows.Close()

	var items []*QueuedRequest
	for rows.Next() {
		item := &QueuedRequest{}
		var headers []byte
		if err := rows.Scan(&item.ID, &item.Method, &item.URL, &headers,
			&item.Body, &item.QueuedAt, &item.RetryCount); err != nil {
			return nil, fmt.Errorf("scan queued request: %w", err)
		}
		if err := json.Unmarshal(headers, &item.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *SQLiteOfflineRepo) UpdateRetryCount(id string, count int) error {
	_, err := r.db.Exec(`UPDATE offline_queue SET retry_count = ? WHERE id = ?`, count, id)
	if err != nil {
		return fmt.Errorf("update retry count: %w", err)
	}
	return nil
}

func (r *SQLiteOfflineRepo) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM offline_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete queued request: %w", err)
	}
	return nil
}

func (r *SQLiteOfflineRepo) Count() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM offline_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count offline queue: %w", err)
	}
	return n, nil
}

// DeleteOldest evicts the front of the queue; used for bounded-size
// backpressure when the queue is full.
func (r *SQLiteOfflineRepo) DeleteOldest() error {
	_, err := r.db.Exec(`
		DELETE FROM offline_queue WHERE id = (
			SELECT id FROM offline_queue ORDER BY queued_at ASC, id ASC LIMIT 1
		)
	`)
	if err != nil {
		return fmt.Errorf("delete oldest queued request: %w", err)
	}
	return nil
}
