// Package metrics exposes pipeline counters for the ops dashboard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. Construct one per
// pipeline instance and register it on that instance's registry; nothing here
// touches the default registry, so tests can build as many as they like.
type Metrics struct {
	EntriesEnqueued   prometheus.Counter
	EntriesDropped    prometheus.Counter
	EntriesSuppressed prometheus.Counter
	BatchesSent       prometheus.Counter
	BatchesRetried    prometheus.Counter
	BatchesFailed     prometheus.Counter

	ExceptionsReported  prometheus.Counter
	ExceptionsDropped   *prometheus.CounterVec
	ExceptionsDelivered prometheus.Counter

	CacheHits      prometheus.Counter
	CacheStaleHits prometheus.Counter
	CacheMisses    prometheus.Counter

	OfflineQueued        prometheus.Counter
	OfflineReplayed      prometheus.Counter
	OfflineReplayDropped prometheus.Counter
	RecoveryAttempts     *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		EntriesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_entries_enqueued_total",
			Help: "Log entries accepted into the transport queue",
		}),
		EntriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_entries_dropped_total",
			Help: "Log entries evicted by drop-oldest backpressure",
		}),
		EntriesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_entries_suppressed_total",
			Help: "Log entries suppressed by deduplication",
		}),
		BatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_batches_sent_total",
			Help: "Log batches delivered to the ingestion endpoint",
		}),
		BatchesRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_batches_retried_total",
			Help: "Log batch retry attempts",
		}),
		BatchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_batches_failed_total",
			Help: "Log batches dropped after exhausting retries",
		}),
		ExceptionsReported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_exceptions_reported_total",
			Help: "Exception records accepted for delivery",
		}),
		ExceptionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_exceptions_dropped_total",
			Help: "Exception records dropped before delivery",
		}, []string{"reason"}),
		ExceptionsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_exceptions_delivered_total",
			Help: "Exception batches delivered to the ingestion endpoint",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_cache_hits_total",
			Help: "Fresh response cache hits",
		}),
		CacheStaleHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_cache_stale_hits_total",
			Help: "Stale response cache hits served as last resort",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_cache_misses_total",
			Help: "Response cache misses",
		}),
		OfflineQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_offline_queued_total",
			Help: "Requests captured into the offline queue",
		}),
		OfflineReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_offline_replayed_total",
			Help: "Offline queue items replayed successfully",
		}),
		OfflineReplayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_offline_replay_dropped_total",
			Help: "Offline queue items dropped during replay",
		}),
		RecoveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_recovery_attempts_total",
			Help: "API failure recovery attempts by strategy",
		}, []string{"strategy"}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.EntriesEnqueued, m.EntriesDropped, m.EntriesSuppressed,
		m.BatchesSent, m.BatchesRetried, m.BatchesFailed,
		m.ExceptionsReported, m.ExceptionsDropped, m.ExceptionsDelivered,
		m.CacheHits, m.CacheStaleHits, m.CacheMisses,
		m.OfflineQueued, m.OfflineReplayed, m.OfflineReplayDropped,
		m.RecoveryAttempts,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
