// Package metrics exposes Prometheus collectors for the forum crawler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch status labels.
const (
	FetchStatusOK    = "ok"
	FetchStatusError = "error"
)

// Topic outcome labels.
const (
	TopicInWindow    = "in_window"
	TopicOutOfWindow = "out_of_window"
	TopicInvalid     = "invalid"
)

// Detail outcome labels.
const (
	DetailOK          = "ok"
	DetailFetchError  = "fetch_error"
	DetailSchemaError = "schema_error"
)

var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forum_crawler_fetch_total",
			Help: "Total number of HTTP fetches, labeled by status.",
		},
		[]string{"status"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forum_crawler_fetch_duration_seconds",
			Help:    "Histogram of HTTP fetch latencies, labeled by status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"status"},
	)

	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forum_crawler_pages_total",
		Help: "Total number of listing pages processed.",
	})

	topicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forum_crawler_topics_total",
			Help: "Topic stubs seen on listing pages, labeled by window outcome.",
		},
		[]string{"outcome"},
	)

	detailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forum_crawler_details_total",
			Help: "Topic detail fetches, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	recordsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forum_crawler_records_written_total",
			Help: "Records durably handed to a sink, labeled by sink.",
		},
		[]string{"sink"},
	)

	recordsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forum_crawler_records_dropped_total",
			Help: "Records lost to sink failures, labeled by sink.",
		},
		[]string{"sink"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forum_crawler_http_requests_total",
			Help: "Requests served by the metrics endpoint, labeled by route and code.",
		},
		[]string{"route", "code"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a single HTTP fetch.
func ObserveFetch(status string, duration time.Duration) {
	fetchTotal.WithLabelValues(status).Inc()
	fetchDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObservePage counts a processed listing page.
func ObservePage() {
	pagesTotal.Inc()
}

// ObserveTopic counts a listing stub by window outcome.
func ObserveTopic(outcome string) {
	topicsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDetail counts a detail fetch by outcome.
func ObserveDetail(outcome string) {
	detailsTotal.WithLabelValues(outcome).Inc()
}

// AddRecordsWritten adds n persisted records for the sink.
func AddRecordsWritten(sink string, n int) {
	recordsWrittenTotal.WithLabelValues(sink).Add(float64(n))
}

// AddRecordsDropped adds n lost records for the sink.
func AddRecordsDropped(sink string, n int) {
	recordsDroppedTotal.WithLabelValues(sink).Add(float64(n))
}
