package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mp_notifier"

// Metrics holds all Prometheus metrics for the notifier.
type Metrics struct {
	PollCycles         prometheus.Counter
	PollCycleDuration  prometheus.Histogram
	TenantPollFailures *prometheus.CounterVec
	ProviderRequests   *prometheus.CounterVec
	TransactionsTotal  *prometheus.CounterVec
	RefreshCacheHits   prometheus.Counter
	RefreshCacheMisses prometheus.Counter
	TenantCacheHits    prometheus.Counter
	TenantCacheMisses  prometheus.Counter
	SpoolActive        prometheus.Gauge
	Notifications      *prometheus.CounterVec
}

// New initializes the metrics and registers them on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PollCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "poll_cycles_total",
			Help:      "Total number of completed polling cycles.",
		}),
		PollCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of a polling cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		TenantPollFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tenant_poll_failures_total",
			Help:      "Per-tenant polling failures by reason.",
		}, []string{"reason"}), // reason: credential, ingest, storage, panic, tenant_list
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Provider fetches by outcome.",
		}, []string{"outcome"}), // outcome: ok, no_credential, rate_limited, circuit_open, transport, http_status, decode
		TransactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "transactions_total",
			Help:      "Observed transactions by store result.",
		}, []string{"result"}), // result: inserted, duplicate, spooled
		RefreshCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh_cache",
			Name:      "hits_total",
			Help:      "Total number of refresh cache hits.",
		}),
		RefreshCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh_cache",
			Name:      "misses_total",
			Help:      "Total number of refresh cache misses.",
		}),
		TenantCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenant_cache",
			Name:      "hits_total",
			Help:      "Total number of device token lookups served from cache.",
		}),
		TenantCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenant_cache",
			Name:      "misses_total",
			Help:      "Total number of device token lookups that hit the database.",
		}),
		SpoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "spool_active_gauge",
			Help:      "1 while batches are waiting in the on-disk spool, 0 otherwise.",
		}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "notifications_total",
			Help:      "Notifications by sink and result.",
		}, []string{"sink", "result"}),
	}
}
