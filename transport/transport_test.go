package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsmith/beacon/logging"
)

func testEntry(message string) logging.Entry {
	return logging.Entry{
		Source:    logging.Source,
		Level:     logging.INFO,
		Layer:     logging.LayerService,
		Message:   message,
		File:      "service.go",
		Line:      7,
		Function:  "doWork",
		TraceID:   "trace-1",
		CreatedAt: "2026-01-02 10:00:00.000",
	}
}

type batchCollector struct {
	mu      sync.Mutex
	batches []wireBatch
	fail    int
	calls   int
}

func (c *batchCollector) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.calls++
		if c.calls <= c.fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var batch wireBatch
		if err := json.Unmarshal(body, &batch); err == nil {
			c.batches = append(c.batches, batch)
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (c *batchCollector) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *batchCollector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestTransport(endpoint string, batchSize int, backoff []time.Duration) *Transport {
	return New(Config{
		Endpoint:      endpoint,
		BatchSize:     batchSize,
		MaxQueue:      100,
		FlushInterval: time.Hour, // interval flushes disabled; tests drive sends
		Backoff:       backoff,
	})
}

func TestTransport_BatchSizeTrigger(t *testing.T) {
	collector := &batchCollector{}
	srv := httptest.NewServer(collector.handler())
	defer srv.Close()

	tr := newTestTransport(srv.URL, 5, []time.Duration{time.Millisecond})
	defer tr.Stop()

	for i := 0; i < 5; i++ {
		tr.Enqueue(testEntry("batched"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))

	require.Equal(t, 1, collector.batchCount())
	batch := collector.batches[0]
	assert.Len(t, batch.Logs, 5)
	assert.Equal(t, 5, batch.BatchSize)
}

func TestTransport_WireFieldMapping(t *testing.T) {
	collector := &batchCollector{}
	srv := httptest.NewServer(collector.handler())
	defer srv.Close()

	tr := newTestTransport(srv.URL, 1, nil)
	defer tr.Stop()

	tr.Enqueue(testEntry("mapped"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))

	require.Equal(t, 1, collector.batchCount())
	entry := collector.batches[0].Logs[0]
	assert.Equal(t, "service.go", entry.Module)
	assert.Equal(t, 7, entry.LineNumber)
	assert.Equal(t, 20, entry.Level)
	assert.Equal(t, "info", entry.LevelName)
	assert.Equal(t, "frontend", entry.Source)
}

func TestTransport_RetriesThenSucceeds(t *testing.T) {
	collector := &batchCollector{fail: 2}
	srv := httptest.NewServer(collector.handler())
	defer srv.Close()

	tr := newTestTransport(srv.URL, 1, []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond})
	defer tr.Stop()

	tr.Enqueue(testEntry("retried"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))

	assert.Equal(t, 1, collector.batchCount())
	assert.Equal(t, 3, collector.callCount())
	assert.EqualValues(t, 0, tr.Stats().Failed)
}

func TestTransport_BackoffBounding(t *testing.T) {
	collector := &batchCollector{fail: 100}
	srv := httptest.NewServer(collector.handler())
	defer srv.Close()

	backoff := []time.Duration{time.Millisecond, time.Millisecond}
	tr := newTestTransport(srv.URL, 1, backoff)
	defer tr.Stop()

	tr.Enqueue(testEntry("doomed"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))

	// initial attempt plus one per backoff slot, never more
	assert.Equal(t, len(backoff)+1, collector.callCount())
	assert.EqualValues(t, 1, tr.Stats().Failed)

	// give any stray retry a chance to prove the bound wrong
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, len(backoff)+1, collector.callCount())
}

func TestTransport_DropOldestBackpressure(t *testing.T) {
	tr := New(Config{
		Endpoint:      "http://localhost:0/logs",
		BatchSize:     100,
		MaxQueue:      3,
		FlushInterval: time.Hour,
	})
	defer tr.Stop()

	for i := 0; i < 5; i++ {
		tr.Enqueue(testEntry("pressure"))
	}

	stats := tr.Stats()
	assert.Equal(t, 3, stats.Queued)
	assert.EqualValues(t, 2, stats.Dropped)
}

func TestTransport_ExcludesIngestionTraffic(t *testing.T) {
	tr := New(Config{
		Endpoint:      "http://backend/api/logs",
		ExcludedURLs:  []string{"http://backend/api/errors"},
		BatchSize:     100,
		FlushInterval: time.Hour,
	})
	defer tr.Stop()

	self := testEntry("POST succeeded")
	self.Extra = logging.Fields{"url": "http://backend/api/logs"}
	tr.Enqueue(self)

	errs := testEntry("POST succeeded")
	errs.Extra = logging.Fields{"url": "http://backend/api/errors"}
	tr.Enqueue(errs)

	normal := testEntry("POST succeeded")
	normal.Extra = logging.Fields{"url": "http://backend/api/users"}
	tr.Enqueue(normal)

	assert.Equal(t, 1, tr.Stats().Queued)
}

func TestTransport_IntervalFlush(t *testing.T) {
	collector := &batchCollector{}
	srv := httptest.NewServer(collector.handler())
	defer srv.Close()

	tr := New(Config{
		Endpoint:      srv.URL,
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	})
	defer tr.Stop()

	tr.Enqueue(testEntry("interval"))

	assert.Eventually(t, func() bool {
		return collector.batchCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
