package resilience

import (
	"sync"
	"time"

	"github.com/opsmith/beacon/metrics"
	"github.com/opsmith/beacon/storage"
)

const (
	DefaultCacheTTL     = 5 * time.Minute
	DefaultStaleCeiling = 24 * time.Hour
	DefaultCacheSweep   = time.Minute
)

type cacheEntry struct {
	statusCode int
	headers    map[string]string
	body       []byte
	method     string
	url        string
	cachedAt   time.Time
	expiresAt  time.Time
}

// ResponseCache holds the last successful GET response per request key. The
// in-memory map is authoritative; a repo, when configured, mirrors entries
// to disk best-effort so a restart starts warm.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	ceiling time.Duration
	repo    storage.CacheRepo
	metrics *metrics.Metrics
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type CacheConfig struct {
	TTL time.Duration
	// StaleCeiling bounds how long past expiry an entry may still be
	// served as a last-resort stale fallback.
	StaleCeiling  time.Duration
	SweepInterval time.Duration
	Repo          storage.CacheRepo
	Metrics       *metrics.Metrics
}

func NewResponseCache(cfg CacheConfig) *ResponseCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	ceiling := cfg.StaleCeiling
	if ceiling <= 0 {
		ceiling = DefaultStaleCeiling
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = DefaultCacheSweep
	}

	c := &ResponseCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		ceiling: ceiling,
		repo:    cfg.Repo,
		metrics: cfg.Metrics,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	c.rehydrate()
	go c.sweepLoop(sweep)
	return c
}

// rehydrate loads mirrored entries from disk. Errors are swallowed; a cold
// cache is correct, just slower.
func (c *ResponseCache) rehydrate() {
	if c.repo == nil {
		return
	}
	saved, err := c.repo.LoadAll()
	if err != nil {
		return
	}
	now := c.now()
	for _, entry := range saved {
		expires := time.UnixMilli(entry.ExpiresAt)
		if now.Sub(expires) >= c.ceiling {
			continue
		}
		c.entries[entry.Key] = &cacheEntry{
			statusCode: entry.StatusCode,
			headers:    entry.Headers,
			body:       entry.Body,
			method:     entry.Method,
			url:        entry.URL,
			cachedAt:   time.UnixMilli(entry.CachedAt),
			expiresAt:  expires,
		}
	}
}

// Put stores a successful GET response under key.
func (c *ResponseCache) Put(key string, req *Request, resp *Response) {
	now := c.now()
	entry := &cacheEntry{
		statusCode: resp.StatusCode,
		headers:    cloneMap(resp.Headers),
		body:       append([]byte(nil), resp.Body...),
		method:     req.Method,
		url:        req.URL,
		cachedAt:   now,
		expiresAt:  now.Add(c.ttl),
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	if c.repo != nil {
		_ = c.repo.Put(&storage.CachedResponse{
			Key:        key,
			Method:     req.Method,
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Headers:    resp.Headers,
			Body:       resp.Body,
			CachedAt:   now.UnixMilli(),
			ExpiresAt:  entry.expiresAt.UnixMilli(),
		})
	}
}

// Lookup returns a fresh (unexpired) response for key, or nil. Entries past
// the stale ceiling are evicted lazily here.
func (c *ResponseCache) Lookup(key string) *Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.miss()
		return nil
	}

	now := c.now()
	if now.Sub(entry.expiresAt) >= c.ceiling {
		c.evictLocked(key)
		c.miss()
		return nil
	}
	if now.After(entry.expiresAt) {
		c.miss()
		return nil
	}

	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
	return entry.response(false)
}

// LookupStale returns any entry for key still inside the stale ceiling,
// expired or not, marked stale. Last-resort fallback only.
func (c *ResponseCache) LookupStale(key string) *Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}

	now := c.now()
	if now.Sub(entry.expiresAt) >= c.ceiling {
		c.evictLocked(key)
		return nil
	}

	if c.metrics != nil {
		c.metrics.CacheStaleHits.Inc()
	}
	return entry.response(true)
}

func (c *ResponseCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResponseCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *ResponseCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *ResponseCache) sweep() {
	now := c.now()

	c.mu.Lock()
	for key, entry := range c.entries {
		if now.Sub(entry.expiresAt) >= c.ceiling {
			c.evictLocked(key)
		}
	}
	c.mu.Unlock()

	if c.repo != nil {
		_, _ = c.repo.Prune(now, c.ceiling)
	}
}

// evictLocked removes key from memory and, best-effort, from the mirror.
// Caller holds c.mu.
func (c *ResponseCache) evictLocked(key string) {
	delete(c.entries, key)
	if c.repo != nil {
		_ = c.repo.Delete(key)
	}
}

func (c *ResponseCache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

func (e *cacheEntry) response(stale bool) *Response {
	return &Response{
		StatusCode: e.statusCode,
		Headers:    cloneMap(e.headers),
		Body:       append([]byte(nil), e.body...),
		FromCache:  true,
		IsStale:    stale,
	}
}
