// Package metrics holds the Prometheus collectors shared across WatchDog.
// They register with the default registry, which the server exposes on
// /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EntriesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "entries_ingested_total",
			Help:      "Log entries normalized and embedded, by source.",
		},
		[]string{"source"},
	)

	EmbedFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "embed_failures_total",
			Help:      "Failed embed-and-store batches, by reason.",
		},
		[]string{"reason"},
	)

	QueryHits = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "watchdog",
			Name:      "query_hits",
			Help:      "Number of hits returned per similarity query.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	Syntheses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "syntheses_total",
			Help:      "Synthesis outcomes: recommended, degraded, no_matches, failed.",
		},
		[]string{"outcome"},
	)

	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "alerts_total",
			Help:      "Alert decisions: delivered, suppressed, failed.",
		},
		[]string{"result"},
	)

	OutputErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "output_errors_total",
			Help:      "Failed finding writes, by output.",
		},
		[]string{"output"},
	)

	CapabilityLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchdog",
			Name:      "capability_seconds",
			Help:      "Latency of external capability calls.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"capability"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchdog",
			Name:      "http_requests_total",
			Help:      "API requests served, by route and status code.",
		},
		[]string{"route", "code"},
	)
)

func init() {
	_ = prometheus.Register(EntriesIngested)
	_ = prometheus.Register(EmbedFailures)
	_ = prometheus.Register(QueryHits)
	_ = prometheus.Register(Syntheses)
	_ = prometheus.Register(Alerts)
	_ = prometheus.Register(OutputErrors)
	_ = prometheus.Register(CapabilityLatency)
	_ = prometheus.Register(HTTPRequests)
}

// Observe records the time since start under capability.
func Observe(capability string, start time.Time) {
	CapabilityLatency.WithLabelValues(capability).Observe(time.Since(start).Seconds())
}
