package exceptions

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/opsmith/beacon/metrics"
)

const (
	DefaultDedupWindow = 60 * time.Second
	// DefaultSessionCap bounds total reported errors per session so an
	// error storm cannot flood the backend.
	DefaultSessionCap = 100
)

// Pipeline is the public entry point for error reporting: classify, dedup,
// filter, sanitize, enqueue. Report never blocks and never panics outward.
type Pipeline struct {
	filter  *Filter
	enqueue func(*Record)
	metrics *metrics.Metrics

	mu         sync.Mutex
	lastSeen   map[string]time.Time
	window     time.Duration
	reported   int
	sessionCap int
	now        func() time.Time
}

type PipelineConfig struct {
	Filter      *Filter
	Reporter    *Reporter
	Metrics     *metrics.Metrics
	DedupWindow time.Duration
	SessionCap  int
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	filter := cfg.Filter
	if filter == nil {
		filter = NewFilter(FilterConfig{})
	}
	window := cfg.DedupWindow
	if window <= 0 {
		window = DefaultDedupWindow
	}
	sessionCap := cfg.SessionCap
	if sessionCap <= 0 {
		sessionCap = DefaultSessionCap
	}

	p := &Pipeline{
		filter:     filter,
		metrics:    cfg.Metrics,
		lastSeen:   make(map[string]time.Time),
		window:     window,
		sessionCap: sessionCap,
		now:        time.Now,
	}
	if cfg.Reporter != nil {
		p.enqueue = cfg.Reporter.Enqueue
	}
	return p
}

// Report feeds one error into the pipeline. The context map is arbitrary
// request/UI context; a "url" key participates in the dedup fingerprint.
func (p *Pipeline) Report(err error, ctx map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "exceptions: internal failure: %v\n", r)
		}
	}()

	if err == nil {
		return
	}

	record := NewRecord(err, captureStack(), ctx)
	p.process(record)
}

// CapturePanic reports a recovered panic value through the pipeline. Wire it
// into last-resort recover sites (goroutine entry points, top-level
// handlers).
func (p *Pipeline) CapturePanic(recovered interface{}, ctx map[string]interface{}) {
	if recovered == nil {
		return
	}
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", recovered)
	}
	if ctx == nil {
		ctx = map[string]interface{}{}
	}
	ctx["panic"] = true
	p.Report(err, ctx)
}

func (p *Pipeline) process(record *Record) {
	fp := record.Fingerprint()
	now := p.now()

	p.mu.Lock()
	if seen, ok := p.lastSeen[fp]; ok && now.Sub(seen) < p.window {
		p.mu.Unlock()
		p.drop("duplicate")
		return
	}
	p.lastSeen[fp] = now
	p.pruneLocked(now)

	if p.reported >= p.sessionCap {
		p.mu.Unlock()
		p.drop("session_cap")
		return
	}
	p.mu.Unlock()

	// Filtering runs after dedup so a high-frequency duplicate cannot
	// burn through the throttle budget.
	if keep, reason := p.filter.Keep(record); !keep {
		p.drop(reason)
		return
	}

	record.Sanitize()

	p.mu.Lock()
	p.reported++
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.ExceptionsReported.Inc()
	}
	if p.enqueue != nil {
		p.enqueue(record)
	}
}

func (p *Pipeline) drop(reason string) {
	if p.metrics != nil {
		p.metrics.ExceptionsDropped.WithLabelValues(reason).Inc()
	}
}

// pruneLocked evicts fingerprints older than the window. Caller holds p.mu.
func (p *Pipeline) pruneLocked(now time.Time) {
	for fp, seen := range p.lastSeen {
		if now.Sub(seen) >= p.window {
			delete(p.lastSeen, fp)
		}
	}
}

// Reported returns the number of records accepted this session.
func (p *Pipeline) Reported() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reported
}

func captureStack() string {
	return string(debug.Stack())
}
