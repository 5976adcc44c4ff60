package exceptions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keepAll disables sampling so dedup and cap behavior can be observed alone.
func keepAll() *Filter {
	f := NewFilter(FilterConfig{NetworkSampleRate: 1, LowImpactSampleRate: 1})
	f.rand = func() float64 { return 0 }
	return f
}

type recordCollector struct {
	mu      sync.Mutex
	records []*Record
}

func (c *recordCollector) Enqueue(r *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
}

func (c *recordCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func newTestPipeline(collector *recordCollector, sessionCap int) *Pipeline {
	p := NewPipeline(PipelineConfig{
		Filter:     keepAll(),
		SessionCap: sessionCap,
	})
	p.enqueue = collector.Enqueue
	return p
}

func TestPipeline_DedupWithinWindow(t *testing.T) {
	collector := &recordCollector{}
	p := newTestPipeline(collector, 100)

	ctx := map[string]interface{}{"url": "http://api/users"}
	err := errors.New("boom")
	p.Report(err, ctx)
	p.Report(err, ctx)
	p.Report(err, ctx)

	assert.Equal(t, 1, collector.count())
}

func TestPipeline_DedupWindowExpires(t *testing.T) {
	collector := &recordCollector{}
	p := newTestPipeline(collector, 100)

	current := time.Now()
	p.now = func() time.Time { return current }

	p.Report(errors.New("boom"), nil)
	current = current.Add(DefaultDedupWindow + time.Second)
	p.Report(errors.New("boom"), nil)

	assert.Equal(t, 2, collector.count())
}

func TestPipeline_SessionCap(t *testing.T) {
	collector := &recordCollector{}
	p := newTestPipeline(collector, 5)

	for i := 0; i < 20; i++ {
		p.Report(fmt.Errorf("distinct error %d", i), nil)
	}

	assert.Equal(t, 5, collector.count())
	assert.Equal(t, 5, p.Reported())
}

func TestPipeline_NilError(t *testing.T) {
	collector := &recordCollector{}
	p := newTestPipeline(collector, 100)

	p.Report(nil, nil)
	assert.Zero(t, collector.count())
}

func TestPipeline_CapturePanic(t *testing.T) {
	collector := &recordCollector{}
	p := newTestPipeline(collector, 100)

	func() {
		defer func() {
			p.CapturePanic(recover(), map[string]interface{}{"url": "http://app/page"})
		}()
		panic("unexpected state")
	}()

	require.Equal(t, 1, collector.count())
	record := collector.records[0]
	assert.Contains(t, record.Error.Message, "unexpected state")
	assert.Equal(t, true, record.Context["panic"])
	assert.NotEmpty(t, record.Error.Stack)
}

func TestPipeline_SanitizesBeforeEnqueue(t *testing.T) {
	collector := &recordCollector{}
	p := newTestPipeline(collector, 100)

	p.Report(errors.New("boom"), map[string]interface{}{
		"url":   "http://api/users",
		"token": "secret",
	})

	require.Equal(t, 1, collector.count())
	assert.NotContains(t, collector.records[0].Context, "token")
}

func TestReporter_DeliversBatch(t *testing.T) {
	var mu sync.Mutex
	var payloads []wirePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p wirePayload
		require.NoError(t, json.Unmarshal(body, &p))
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reporter := NewReporter(ReporterConfig{
		Endpoint:      srv.URL,
		BatchSize:     2,
		FlushInterval: time.Hour,
		Metadata:      map[string]interface{}{"source": "frontend"},
	})
	defer reporter.Stop()

	reporter.Enqueue(NewRecord(errors.New("first"), "l1", nil))
	reporter.Enqueue(NewRecord(errors.New("second"), "l1", nil))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(payloads) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, payloads[0].Exceptions, 2)
	assert.Equal(t, "frontend", payloads[0].Metadata["source"])
}

func TestReporter_RetryBounded(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	backoff := []time.Duration{time.Millisecond, time.Millisecond}
	reporter := NewReporter(ReporterConfig{
		Endpoint:      srv.URL,
		BatchSize:     1,
		FlushInterval: time.Hour,
		Backoff:       backoff,
	})
	defer reporter.Stop()

	reporter.Enqueue(NewRecord(errors.New("doomed"), "l1", nil))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == len(backoff)+1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, len(backoff)+1, calls)
}
