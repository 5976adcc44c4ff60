// Package beacon assembles the telemetry and resilience pipeline: a context
// manager for correlation identifiers, a deduplicating batching log
// transport, an exception reporting pipeline and an API resilience engine,
// all explicitly constructed and torn down together. Create one Pipeline at
// application start, call its entry points for the process lifetime, and
// Close it (which flushes) at shutdown.
package beacon

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opsmith/beacon/config"
	"github.com/opsmith/beacon/dedup"
	"github.com/opsmith/beacon/exceptions"
	"github.com/opsmith/beacon/logging"
	"github.com/opsmith/beacon/metrics"
	"github.com/opsmith/beacon/resilience"
	"github.com/opsmith/beacon/session"
	"github.com/opsmith/beacon/storage"
	"github.com/opsmith/beacon/transport"
)

type Pipeline struct {
	Session    *session.Manager
	Logger     *logging.Logger
	Exceptions *exceptions.Pipeline
	Engine     *resilience.Engine
	Transport  *transport.Transport
	Reporter   *exceptions.Reporter
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry

	dedup *dedup.Deduplicator
	cache *resilience.ResponseCache
	db    *sql.DB
}

type Options struct {
	Config config.Config
	// Client is the underlying HTTP client for both ingestion traffic and
	// wrapped API calls.
	Client *http.Client
	// Auth is the optional auth-recovery collaborator for 401s.
	Auth resilience.AuthRecoverer
	// OnSend observes delivered log batches (the dashboard tail).
	OnSend func([]logging.Entry)
	// NewSession forces a fresh trace id instead of reusing a persisted one.
	NewSession bool
}

// New wires the full pipeline. A db open failure is not fatal: the pipeline
// degrades to memory-only persistence, per the storage failure semantics.
func New(opts Options) (*Pipeline, error) {
	cfg := opts.Config

	m := metrics.New()
	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	var (
		db          *sql.DB
		kv          storage.KVStore
		cacheRepo   storage.CacheRepo
		offlineRepo storage.OfflineRepo
	)
	if cfg.DBPath != "" {
		if opened, err := storage.OpenDB(cfg.DBPath); err == nil {
			db = opened
			kv = storage.NewSQLiteKVStore(db)
			cacheRepo = storage.NewSQLiteCacheRepo(db)
			offlineRepo = storage.NewSQLiteOfflineRepo(db)
		}
	}

	if opts.NewSession && kv != nil {
		_ = kv.ClearScope(storage.ScopeSession)
	}

	sess := session.New(kv)

	dd := dedup.New(dedup.Config{Window: cfg.DedupWindow, Metrics: m})

	tr := transport.New(transport.Config{
		Endpoint:      cfg.LogEndpoint,
		ExcludedURLs:  []string{cfg.ExceptionEndpoint},
		Client:        opts.Client,
		MaxQueue:      cfg.MaxQueue,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		Metrics:       m,
		OnSend:        opts.OnSend,
	})

	logger := logging.NewLogger(logging.Config{
		Context:          sess,
		Dedup:            dd,
		Sink:             tr,
		ConsoleThreshold: logging.ParseLevel(cfg.ConsoleLevel),
		SinkThreshold:    logging.ParseLevel(cfg.SinkLevel),
	})

	reporter := exceptions.NewReporter(exceptions.ReporterConfig{
		Endpoint: cfg.ExceptionEndpoint,
		Client:   opts.Client,
		Metadata: map[string]interface{}{
			"source":   logging.Source,
			"trace_id": sess.TraceID(),
		},
		Metrics: m,
	})

	exc := exceptions.NewPipeline(exceptions.PipelineConfig{
		Reporter: reporter,
		Metrics:  m,
	})

	cache := resilience.NewResponseCache(resilience.CacheConfig{
		TTL:     cfg.CacheTTL,
		Repo:    cacheRepo,
		Metrics: m,
	})

	offline := resilience.NewOfflineQueue(resilience.OfflineConfig{
		Repo:    offlineRepo,
		Logger:  logger,
		Metrics: m,
	})

	// A nil *http.Client must not be assigned into the Doer interface
	// directly: the typed-nil interface would defeat the engine's own
	// default and panic on first dispatch.
	var doer resilience.Doer
	if opts.Client != nil {
		doer = opts.Client
	}

	engine := resilience.NewEngine(resilience.EngineConfig{
		Client:          doer,
		IDs:             sess,
		Logger:          logger,
		Reporter:        exc,
		Auth:            opts.Auth,
		Cache:           cache,
		Offline:         offline,
		Metrics:         m,
		RecoveryEnabled: cfg.RecoveryEnabled,
		ExcludedURLs:    []string{cfg.LogEndpoint, cfg.ExceptionEndpoint},
	})

	return &Pipeline{
		Session:    sess,
		Logger:     logger,
		Exceptions: exc,
		Engine:     engine,
		Transport:  tr,
		Reporter:   reporter,
		Metrics:    m,
		Registry:   registry,
		dedup:      dd,
		cache:      cache,
		db:         db,
	}, nil
}

// Flush forces delivery of everything queued, bounded by ctx.
func (p *Pipeline) Flush(ctx context.Context) error {
	if err := p.Transport.Flush(ctx); err != nil {
		return err
	}
	return p.Reporter.Flush(ctx)
}

// Close flushes with a short grace period and stops every background loop.
func (p *Pipeline) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	flushErr := p.Flush(ctx)

	p.Transport.Stop()
	p.Reporter.Stop()
	p.dedup.Stop()
	p.cache.Stop()

	if p.db != nil {
		if err := p.db.Close(); err != nil && flushErr == nil {
			flushErr = err
		}
	}
	return flushErr
}
