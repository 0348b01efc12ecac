package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fleetgate"

// IngestMetrics holds all Prometheus metrics for the ingest and notifier services.
type IngestMetrics struct {
	RequestsTotal        *prometheus.CounterVec
	RecordsTotal         *prometheus.CounterVec
	BytesTotal           prometheus.Counter
	UploadsTotal         *prometheus.CounterVec
	MatchesTotal         *prometheus.CounterVec
	DispatchFailures     prometheus.Counter
	NotificationsTotal   *prometheus.CounterVec
	WALActive            prometheus.Gauge
	NodeTouchCacheHits   prometheus.Counter
	NodeTouchCacheMisses prometheus.Counter
}

// NewIngestMetrics initializes the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in main and a fresh registry in tests.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	factory := promauto.With(reg)
	return &IngestMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of agent requests by endpoint and outcome.",
		}, []string{"endpoint", "status"}), // status: ok, unauthorized, bad_request, too_large, rate_limited, error
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Total number of result records by partitioning outcome.",
		}, []string{"status"}), // status: accepted, rejected
		BytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bytes_total",
			Help:      "Total number of decompressed request bytes received.",
		}),
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "uploads_total",
			Help:      "Total number of partition uploads by outcome.",
		}, []string{"status"}), // status: success, failed
		MatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "matches_total",
			Help:      "Total number of rule matches by entity-type.",
		}, []string{"entity_type"}),
		DispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "dispatch_failures_total",
			Help:      "Total number of matches that could not be handed to a sink.",
		}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "notifications_total",
			Help:      "Total number of notifications by outcome.",
		}, []string{"status"}), // status: sent, failed
		WALActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "wal_active_gauge",
			Help:      "Indicates if the match queue is writing to its Write-Ahead Log (1 for active, 0 for inactive).",
		}),
		NodeTouchCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nodes",
			Name:      "touch_cache_hits_total",
			Help:      "Total number of last-seen updates skipped by the node cache.",
		}),
		NodeTouchCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nodes",
			Name:      "touch_cache_misses_total",
			Help:      "Total number of last-seen updates written to the node registry.",
		}),
	}
}
