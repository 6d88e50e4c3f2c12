// Package metrics exposes the engine's Prometheus instrumentation.
// Collectors are registered on the default registry at init so every
// entrypoint shares one set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// VerificationsTotal counts score verifications by outcome status.
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ngn",
		Subsystem: "integrity",
		Name:      "verifications_total",
		Help:      "Score verifications by outcome status.",
	}, []string{"status"})

	// BulkRunSeconds observes wall time of bulk verification runs.
	BulkRunSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ngn",
		Subsystem: "integrity",
		Name:      "bulk_run_seconds",
		Help:      "Duration of bulk verification runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	// LineageIssuesTotal counts lineage check findings by status.
	LineageIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ngn",
		Subsystem: "integrity",
		Name:      "lineage_issues_total",
		Help:      "Lineage issues detected, by status.",
	}, []string{"status"})

	// ReceiptChecksTotal counts receipt verification calls by outcome.
	ReceiptChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ngn",
		Subsystem: "integrity",
		Name:      "receipt_checks_total",
		Help:      "Fairness receipt verification calls by outcome.",
	}, []string{"outcome"})

	// DisputeTransitionsTotal counts dispute lifecycle transitions.
	DisputeTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ngn",
		Subsystem: "integrity",
		Name:      "dispute_transitions_total",
		Help:      "Dispute status transitions applied.",
	}, []string{"to"})

	// HTTPRequestsTotal counts API requests by route and code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ngn",
		Subsystem: "integrity",
		Name:      "http_requests_total",
		Help:      "API requests by route and status code.",
	}, []string{"route", "code"})
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
