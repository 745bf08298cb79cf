package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrmd",
			Name:      "documents_processed_total",
			Help:      "Documents processed by result (success, failed)",
		},
		[]string{"result"},
	)

	imagesMaterialized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrmd",
			Name:      "images_materialized_total",
			Help:      "Image records handled, by variant and result (ok, failed)",
		},
		[]string{"variant", "result"},
	)

	normalizeStrategy = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrmd",
			Name:      "normalize_strategy_total",
			Help:      "Responses normalized, by the strategy that matched",
		},
		[]string{"strategy"},
	)

	backendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocrmd",
			Name:      "backend_request_duration_seconds",
			Help:      "Duration of OCR backend calls by engine, stage and result",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"engine", "stage", "result"},
	)

	fetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocrmd",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of remote image fetches by result",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	unresolvedPlaceholders = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ocrmd",
			Name:      "unresolved_placeholders_total",
			Help:      "Image placeholders left in final Markdown",
		},
	)

	backendRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocrmd",
			Name:      "backend_retries_total",
			Help:      "Retried OCR backend calls by engine and stage",
		},
		[]string{"engine", "stage"},
	)
)

var registerOnce sync.Once

// Init registers collectors with the default registry.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(documentsProcessed, imagesMaterialized, normalizeStrategy, backendLatency, fetchLatency, unresolvedPlaceholders, backendRetries)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncDocument(result string)       { documentsProcessed.WithLabelValues(result).Inc() }
func IncImage(variant, result string) { imagesMaterialized.WithLabelValues(variant, result).Inc() }
func IncStrategy(strategy string)     { normalizeStrategy.WithLabelValues(strategy).Inc() }
func AddUnresolved(n int)             { unresolvedPlaceholders.Add(float64(n)) }

func IncBackendRetry(engine, stage string) { backendRetries.WithLabelValues(engine, stage).Inc() }

func ObserveFetch(result string, dur time.Duration) {
	fetchLatency.WithLabelValues(result).Observe(dur.Seconds())
}

func ObserveBackend(engine, stage, result string, dur time.Duration) {
	backendLatency.WithLabelValues(engine, stage, result).Observe(dur.Seconds())
}
