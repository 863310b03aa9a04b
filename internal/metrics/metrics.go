// Package metrics holds the Prometheus collectors for the price pipeline.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mandi"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream HTTP attempts by provider and status code.",
		},
		[]string{"provider", "status"},
	)

	upstreamRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Upstream retries by provider and reason.",
		},
		[]string{"provider", "reason"},
	)

	tierOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fallback",
			Name:      "tier_outcomes_total",
			Help:      "Fallback tier results: sufficient, insufficient, failed.",
		},
		[]string{"provider", "outcome"},
	)

	normalizedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalizer",
			Name:      "records_total",
			Help:      "Raw records processed by the normalizer, by result.",
		},
		[]string{"result"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Query cache lookups by kind and result.",
		},
		[]string{"kind", "result"},
	)

	refreshStates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "states_total",
			Help:      "Per-state refresh outcomes.",
		},
		[]string{"outcome"},
	)

	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Duration of full refresh cycles.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34m
		},
	)
)

func init() {
	Registry.MustRegister(
		upstreamRequests,
		upstreamRetries,
		tierOutcomes,
		normalizedRecords,
		cacheLookups,
		refreshStates,
		refreshDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordUpstream counts one upstream attempt. status 0 means no response.
func RecordUpstream(provider string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	upstreamRequests.WithLabelValues(provider, label).Inc()
}

func RecordRetry(provider, reason string) {
	upstreamRetries.WithLabelValues(provider, reason).Inc()
}

func RecordTier(provider, outcome string) {
	tierOutcomes.WithLabelValues(provider, outcome).Inc()
}

func RecordNormalized(accepted, dropped int) {
	normalizedRecords.WithLabelValues("accepted").Add(float64(accepted))
	normalizedRecords.WithLabelValues("dropped").Add(float64(dropped))
}

func RecordCacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(kind, result).Inc()
}

func RecordRefreshState(outcome string) {
	refreshStates.WithLabelValues(outcome).Inc()
}

func ObserveRefresh(seconds float64) {
	refreshDuration.Observe(seconds)
}
