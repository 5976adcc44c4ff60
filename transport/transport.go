// Package transport accumulates log entries and delivers them to the
// ingestion endpoint in batches, with bounded retry. Delivery is
// fire-and-forget from the caller's point of view: a batch that cannot be
// delivered after the full backoff schedule is dropped and counted, never
// surfaced.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/opsmith/beacon/logging"
	"github.com/opsmith/beacon/metrics"
)

const (
	DefaultMaxQueue       = 1000
	DefaultBatchSize      = 50
	DefaultFlushInterval  = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// DefaultBackoff is the delay schedule between retry attempts; its length is
// the maximum retry count.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

type pendingBatch struct {
	entries    []logging.Entry
	retryCount int
	lastError  error
}

type Transport struct {
	endpoint string
	excluded map[string]bool
	client   *http.Client

	maxQueue  int
	batchSize int
	backoff   []time.Duration
	timeout   time.Duration

	mu       sync.Mutex
	queue    []logging.Entry
	retrying int
	dropped  int64
	failed   int64
	sent     int64

	metrics *metrics.Metrics
	onSend  func([]logging.Entry)

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Config struct {
	// Endpoint receives batched entries as JSON POSTs.
	Endpoint string
	// ExcludedURLs never produce log traffic. The ingestion endpoints
	// themselves are always excluded to prevent feedback loops.
	ExcludedURLs []string
	Client       *http.Client
	MaxQueue     int
	BatchSize    int
	// FlushInterval cuts a batch even when the queue is below BatchSize.
	FlushInterval  time.Duration
	RequestTimeout time.Duration
	Backoff        []time.Duration
	Metrics        *metrics.Metrics
	// OnSend observes each batch just before delivery; the dashboard tail
	// hangs off this.
	OnSend func([]logging.Entry)
}

func New(cfg Config) *Transport {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	maxQueue := cfg.MaxQueue
	if maxQueue <= 0 {
		maxQueue = DefaultMaxQueue
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	backoff := cfg.Backoff
	if len(backoff) == 0 {
		backoff = DefaultBackoff
	}

	excluded := map[string]bool{cfg.Endpoint: true}
	for _, u := range cfg.ExcludedURLs {
		excluded[u] = true
	}

	t := &Transport{
		endpoint:  cfg.Endpoint,
		excluded:  excluded,
		client:    client,
		maxQueue:  maxQueue,
		batchSize: batchSize,
		backoff:   backoff,
		timeout:   timeout,
		metrics:   cfg.Metrics,
		onSend:    cfg.OnSend,
		stop:      make(chan struct{}),
	}

	t.wg.Add(1)
	go t.intervalLoop(interval)
	return t
}

// Enqueue accepts one entry. If the queue is full the oldest entry is evicted
// so recent events win. Entries that describe traffic to an excluded endpoint
// are discarded before they enter the queue.
func (t *Transport) Enqueue(entry logging.Entry) {
	if t.describesExcluded(entry) {
		return
	}

	var batch []logging.Entry

	t.mu.Lock()
	if len(t.queue) >= t.maxQueue {
		t.queue = t.queue[1:]
		t.dropped++
		if t.metrics != nil {
			t.metrics.EntriesDropped.Inc()
		}
	}
	t.queue = append(t.queue, entry)
	if t.metrics != nil {
		t.metrics.EntriesEnqueued.Inc()
	}
	if len(t.queue) >= t.batchSize {
		batch = t.cutLocked()
	}
	t.mu.Unlock()

	if batch != nil {
		t.dispatch(batch)
	}
}

func (t *Transport) describesExcluded(entry logging.Entry) bool {
	if len(entry.Extra) == 0 {
		return false
	}
	if u, ok := entry.Extra["url"].(string); ok && t.excluded[u] {
		return true
	}
	return false
}

// cutLocked slices the current queue off as a batch. Caller holds t.mu.
func (t *Transport) cutLocked() []logging.Entry {
	if len(t.queue) == 0 {
		return nil
	}
	batch := t.queue
	t.queue = nil
	return batch
}

func (t *Transport) intervalLoop(interval time.Duration) {
	defer t.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			batch := t.cutLocked()
			t.mu.Unlock()
			if batch != nil {
				t.dispatch(batch)
			}
		}
	}
}

// dispatch sends a batch in the background, walking the backoff schedule on
// failure. Each batch retries independently; a batch mid-retry never blocks
// newer batches.
func (t *Transport) dispatch(batch []logging.Entry) {
	t.mu.Lock()
	t.retrying++
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			t.retrying--
			t.mu.Unlock()
		}()

		pending := &pendingBatch{entries: batch}
		for {
			err := t.sendBatch(pending.entries)
			if err == nil {
				t.mu.Lock()
				t.sent += int64(len(pending.entries))
				t.mu.Unlock()
				if t.metrics != nil {
					t.metrics.BatchesSent.Inc()
				}
				if t.onSend != nil {
					t.onSend(pending.entries)
				}
				return
			}

			pending.lastError = err
			if pending.retryCount >= len(t.backoff) {
				t.mu.Lock()
				t.failed++
				t.mu.Unlock()
				if t.metrics != nil {
					t.metrics.BatchesFailed.Inc()
				}
				return
			}

			delay := t.backoff[pending.retryCount]
			pending.retryCount++
			if t.metrics != nil {
				t.metrics.BatchesRetried.Inc()
			}

			select {
			case <-t.stop:
				return
			case <-time.After(delay):
			}
		}
	}()
}

func (t *Transport) sendBatch(batch []logging.Entry) error {
	body, err := json.Marshal(toWire(batch))
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("send batch: status %d", resp.StatusCode)
	}
	return nil
}

// Flush forces an immediate send of the current queue and waits until every
// in-flight batch has drained or ctx expires. Used before shutdown and in
// test teardown.
func (t *Transport) Flush(ctx context.Context) error {
	t.mu.Lock()
	batch := t.cutLocked()
	t.mu.Unlock()
	if batch != nil {
		t.dispatch(batch)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		t.mu.Lock()
		inflight := t.retrying
		t.mu.Unlock()
		if inflight == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop halts the interval loop and abandons any batches still backing off.
func (t *Transport) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.wg.Wait()
}

// Stats is a point-in-time snapshot of delivery counters.
type Stats struct {
	Queued    int   `json:"queued"`
	InFlight  int   `json:"in_flight"`
	Sent      int64 `json:"sent"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed_permanently"`
	BatchSize int   `json:"batch_size"`
}

func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Queued:    len(t.queue),
		InFlight:  t.retrying,
		Sent:      t.sent,
		Dropped:   t.dropped,
		Failed:    t.failed,
		BatchSize: t.batchSize,
	}
}
