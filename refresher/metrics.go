package refresher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the refresher's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	fetches         *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
	persistFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ethticker",
				Subsystem: "refresher",
				Name:      "fetches_total",
				Help:      "Total number of upstream price fetches.",
			},
			[]string{"result"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ethticker",
				Subsystem: "refresher",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of upstream price fetches.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ethticker",
				Subsystem: "refresher",
				Name:      "cache_lookups_total",
				Help:      "Startup cache lookups by outcome.",
			},
			[]string{"result"},
		),
		persistFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ethticker",
				Subsystem: "refresher",
				Name:      "persist_failures_total",
				Help:      "Snapshots that could not be written to the cache slot.",
			},
		),
	}

	reg.MustRegister(m.fetches, m.fetchDuration, m.cacheLookups, m.persistFailures)
	return m
}

func (m *Metrics) observeFetch(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

func (m *Metrics) cacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) persistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}
