package exceptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/opsmith/beacon/metrics"
	"github.com/opsmith/beacon/transport"
)

const (
	DefaultReporterBatchSize = 10
	DefaultReportInterval    = 30 * time.Second
	DefaultReportTimeout     = 10 * time.Second
)

type wirePayload struct {
	Exceptions []*Record              `json:"exceptions"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// Reporter batches sanitized records and posts them to the exception
// ingestion endpoint with the same size/interval/backoff discipline as the
// log transport.
type Reporter struct {
	endpoint string
	client   *http.Client
	metadata map[string]interface{}

	batchSize int
	backoff   []time.Duration
	timeout   time.Duration

	mu       sync.Mutex
	queue    []*Record
	inflight int
	failed   int64
	sent     int64

	metrics *metrics.Metrics

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type ReporterConfig struct {
	Endpoint       string
	Client         *http.Client
	Metadata       map[string]interface{}
	BatchSize      int
	FlushInterval  time.Duration
	RequestTimeout time.Duration
	Backoff        []time.Duration
	Metrics        *metrics.Metrics
}

func NewReporter(cfg ReporterConfig) *Reporter {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultReporterBatchSize
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultReportTimeout
	}
	backoff := cfg.Backoff
	if len(backoff) == 0 {
		backoff = transport.DefaultBackoff
	}

	r := &Reporter{
		endpoint:  cfg.Endpoint,
		client:    client,
		metadata:  cfg.Metadata,
		batchSize: batchSize,
		backoff:   backoff,
		timeout:   timeout,
		metrics:   cfg.Metrics,
		stop:      make(chan struct{}),
	}

	r.wg.Add(1)
	go r.intervalLoop(interval)
	return r
}

func (r *Reporter) Enqueue(record *Record) {
	var batch []*Record

	r.mu.Lock()
	r.queue = append(r.queue, record)
	if len(r.queue) >= r.batchSize {
		batch = r.queue
		r.queue = nil
	}
	r.mu.Unlock()

	if batch != nil {
		r.dispatch(batch)
	}
}

func (r *Reporter) intervalLoop(interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			batch := r.queue
			r.queue = nil
			r.mu.Unlock()
			if batch != nil {
				r.dispatch(batch)
			}
		}
	}
}

func (r *Reporter) dispatch(batch []*Record) {
	r.mu.Lock()
	r.inflight++
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.inflight--
			r.mu.Unlock()
		}()

		for attempt := 0; ; attempt++ {
			err := r.send(batch)
			if err == nil {
				r.mu.Lock()
				r.sent += int64(len(batch))
				r.mu.Unlock()
				if r.metrics != nil {
					r.metrics.ExceptionsDelivered.Inc()
				}
				return
			}
			if attempt >= len(r.backoff) {
				r.mu.Lock()
				r.failed += int64(len(batch))
				r.mu.Unlock()
				if r.metrics != nil {
					r.metrics.ExceptionsDropped.WithLabelValues("delivery_failed").Add(float64(len(batch)))
				}
				return
			}
			select {
			case <-r.stop:
				return
			case <-time.After(r.backoff[attempt]):
			}
		}
	}()
}

func (r *Reporter) send(batch []*Record) error {
	body, err := json.Marshal(wirePayload{Exceptions: batch, Metadata: r.metadata})
	if err != nil {
		return fmt.Errorf("marshal exceptions: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send exceptions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("send exceptions: status %d", resp.StatusCode)
	}
	return nil
}

// Flush drains the queue and waits for in-flight sends, bounded by ctx.
func (r *Reporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()
	if batch != nil {
		r.dispatch(batch)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		r.mu.Lock()
		inflight := r.inflight
		r.mu.Unlock()
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

func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}
