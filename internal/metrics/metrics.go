package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "tenantlens"
)

var (
	reportDurationBuckets = []float64{1, 2, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600}

	// Remote API metrics
	GraphRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "graph_requests_total",
		Help:      "Count of Microsoft Graph requests by outcome.",
	}, []string{"outcome"})

	GraphRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "graph_retries_total",
		Help:      "Count of throttled Graph requests that were retried.",
	})

	ExoRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "exo_requests_total",
		Help:      "Count of Exchange Online admin API requests by outcome.",
	}, []string{"outcome"})

	// Report metrics
	LookupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lookup_failures_total",
		Help:      "Count of per-record lookups that fell back to a default value.",
	}, []string{"kind"})

	ReportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "report_duration_seconds",
		Help:      "Time taken to build and render a report.",
		Buckets:   reportDurationBuckets,
	}, []string{"report"})

	ReportRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "report_records",
		Help:      "Number of records emitted by the last report run.",
	}, []string{"report"})
)
