package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/opsmith/beacon/logging"
	"github.com/opsmith/beacon/metrics"
	"github.com/opsmith/beacon/storage"
)

const (
	DefaultOfflineMaxSize     = 50
	DefaultOfflineStaleness   = 24 * time.Hour
	DefaultOfflineMaxReplays  = 3
	DefaultOfflineReplayDelay = 100 * time.Millisecond
)

type offlineItem struct {
	id         string
	req        *Request
	queuedAt   time.Time
	retryCount int
}

// OfflineQueue captures non-GET requests made while offline and replays them
// FIFO when connectivity returns. Bounded: past MaxSize the oldest item is
// dropped. Items older than the staleness ceiling are skipped on replay;
// items that fail MaxReplays times are dropped permanently.
type OfflineQueue struct {
	mu    sync.Mutex
	items []*offlineItem

	maxSize     int
	staleness   time.Duration
	maxReplays  int
	replayDelay time.Duration

	repo    storage.OfflineRepo
	log     logging.EventLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

type OfflineConfig struct {
	MaxSize     int
	Staleness   time.Duration
	MaxReplays  int
	ReplayDelay time.Duration
	Repo        storage.OfflineRepo
	Logger      logging.EventLogger
	Metrics     *metrics.Metrics
}

func NewOfflineQueue(cfg OfflineConfig) *OfflineQueue {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultOfflineMaxSize
	}
	staleness := cfg.Staleness
	if staleness <= 0 {
		staleness = DefaultOfflineStaleness
	}
	maxReplays := cfg.MaxReplays
	if maxReplays <= 0 {
		maxReplays = DefaultOfflineMaxReplays
	}
	delay := cfg.ReplayDelay
	if delay <= 0 {
		delay = DefaultOfflineReplayDelay
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NopLogger{}
	}

	q := &OfflineQueue{
		maxSize:     maxSize,
		staleness:   staleness,
		maxReplays:  maxReplays,
		replayDelay: delay,
		repo:        cfg.Repo,
		log:         log,
		metrics:     cfg.Metrics,
		now:         time.Now,
	}
	q.rehydrate()
	return q
}

func (q *OfflineQueue) rehydrate() {
	if q.repo == nil {
		return
	}
	saved, err := q.repo.ListFIFO()
	if err != nil {
		return
	}
	for _, item := range saved {
		q.items = append(q.items, &offlineItem{
			id: item.ID,
			req: &Request{
				Method:  item.Method,
				URL:     item.URL,
				Headers: item.Headers,
				Body:    item.Body,
			},
			queuedAt:   time.UnixMilli(item.QueuedAt),
			retryCount: item.RetryCount,
		})
	}
}

// Enqueue captures req. When the queue is full the oldest item is evicted
// first.
func (q *OfflineQueue) Enqueue(req *Request) {
	now := q.now()
	item := &offlineItem{req: req.clone(), queuedAt: now}

	var persisted *storage.QueuedRequest
	if q.repo != nil {
		// Bound the table too: the persisted backlog can be larger than
		// the in-memory view when a previous run left more rows behind.
		if n, err := q.repo.Count(); err == nil {
			for ; n >= q.maxSize; n-- {
				if err := q.repo.DeleteOldest(); err != nil {
					break
				}
			}
		}
		persisted = &storage.QueuedRequest{
			Method:   req.Method,
			URL:      req.URL,
			Headers:  req.Headers,
			Body:     req.Body,
			QueuedAt: now.UnixMilli(),
		}
		if err := q.repo.Save(persisted); err == nil {
			item.id = persisted.ID
		}
	}

	q.mu.Lock()
	// Loop, not a single evict: a rehydrated backlog can start oversized.
	for len(q.items) >= q.maxSize {
		evicted := q.items[0]
		q.items = q.items[1:]
		q.deleteStored(evicted)
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.OfflineQueued.Inc()
	}
}

func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Replay sends every queued item in FIFO order through send, pausing
// between items. Items that succeed or exhaust their retries leave the
// queue; transient failures stay for the next replay.
func (q *OfflineQueue) Replay(ctx context.Context, send func(ctx context.Context, req *Request) error) {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	now := q.now()
	var kept []*offlineItem

loop:
	for i, item := range pending {
		if i > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(q.replayDelay):
			}
		}
		if ctx.Err() != nil {
			kept = append(kept, pending[i:]...)
			break loop
		}

		if now.Sub(item.queuedAt) > q.staleness {
			q.dropItem(item, "stale")
			continue
		}

		err := send(ctx, item.req)
		if err == nil {
			q.deleteStored(item)
			if q.metrics != nil {
				q.metrics.OfflineReplayed.Inc()
			}
			continue
		}

		item.retryCount++
		if item.retryCount >= q.maxReplays {
			q.dropItem(item, "retries_exhausted")
			continue
		}
		if q.repo != nil && item.id != "" {
			_ = q.repo.UpdateRetryCount(item.id, item.retryCount)
		}
		kept = append(kept, item)
	}

	if len(kept) > 0 {
		q.mu.Lock()
		// Anything enqueued mid-replay goes behind the survivors.
		q.items = append(kept, q.items...)
		q.mu.Unlock()
	}
}

func (q *OfflineQueue) dropItem(item *offlineItem, reason string) {
	q.deleteStored(item)
	if q.metrics != nil {
		q.metrics.OfflineReplayDropped.Inc()
	}
	q.log.Warn(logging.LayerService, "offline request dropped during replay", logging.Fields{
		"method": item.req.Method,
		"url":    item.req.URL,
		"reason": reason,
	})
}

func (q *OfflineQueue) deleteStored(item *offlineItem) {
	if q.repo != nil && item.id != "" {
		_ = q.repo.Delete(item.id)
	}
}
