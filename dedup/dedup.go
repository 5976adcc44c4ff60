// Package dedup suppresses repeated log entries inside a sliding time
// window, bounding both backend volume and console noise.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opsmith/beacon/logging"
	"github.com/opsmith/beacon/metrics"
)

const (
	DefaultWindow        = 10 * time.Second
	DefaultSweepInterval = 30 * time.Second
)

type Deduplicator struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
	now      func() time.Time
	metrics  *metrics.Metrics

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

type Config struct {
	Window        time.Duration
	SweepInterval time.Duration
	Metrics       *metrics.Metrics
}

func New(cfg Config) *Deduplicator {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}

	d := &Deduplicator{
		window:        window,
		lastSeen:      make(map[string]time.Time),
		now:           time.Now,
		metrics:       cfg.Metrics,
		sweepInterval: sweep,
		stop:          make(chan struct{}),
	}
	go d.sweepLoop()
	return d
}

// ShouldLog reports whether entry should proceed. An acceptance resets the
// window for that content key, so a steady stream of identical entries
// collapses to one per quiet period, not one per fixed bucket.
func (d *Deduplicator) ShouldLog(entry logging.Entry) bool {
	key := contentKey(entry)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if seen, ok := d.lastSeen[key]; ok && now.Sub(seen) < d.window {
		if d.metrics != nil {
			d.metrics.EntriesSuppressed.Inc()
		}
		return false
	}
	d.lastSeen[key] = now
	return true
}

// Size returns the number of tracked content keys.
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lastSeen)
}

func (d *Deduplicator) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *Deduplicator) sweepLoop() {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Deduplicator) sweep() {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, seen := range d.lastSeen {
		if now.Sub(seen) >= d.window {
			delete(d.lastSeen, key)
		}
	}
}

// contentKey deliberately excludes created_at and request_id so that truly
// repeated events collapse regardless of when or under which request they
// occurred.
func contentKey(entry logging.Entry) string {
	extra := ""
	if len(entry.Extra) > 0 {
		if data, err := json.Marshal(entry.Extra); err == nil {
			extra = string(data)
		}
	}
	raw := fmt.Sprintf("%d|%s|%s|%s|%s|%s",
		entry.Level, entry.Layer, entry.Message, entry.File, entry.Function, extra)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}
