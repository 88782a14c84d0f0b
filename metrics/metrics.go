// Package metrics defines the Prometheus collectors used across fundrag and
// exposes an HTTP handler for scraping.
//
// Every recording method is safe on a nil *Metrics, so components can take
// an optional metrics dependency without nil checks.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fundrag"

// Metrics holds all Prometheus collectors.
type Metrics struct {
	EmbeddingCalls     prometheus.Counter
	EmbeddingRetries   prometheus.Counter
	EmbeddingBatches   prometheus.Counter
	EmbeddingFailures  *prometheus.CounterVec
	PipelineRuns       *prometheus.CounterVec
	URLsScraped        *prometheus.CounterVec
	ChunksUpserted     prometheus.Counter
	QueryLatency       *prometheus.HistogramVec
	RetrievedChunks    prometheus.Histogram
	SchedulerCycles    *prometheus.CounterVec
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPRequestLatency *prometheus.HistogramVec
}

// New creates all collectors and registers them on reg. A nil registerer
// leaves them unregistered, which is what most tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EmbeddingCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_calls_total",
			Help:      "Embedding provider calls, retries included.",
		}),
		EmbeddingRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_retries_total",
			Help:      "Embedding calls retried after a transient quota error.",
		}),
		EmbeddingBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_batches_total",
			Help:      "Embedding batches completed successfully.",
		}),
		EmbeddingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_failures_total",
			Help:      "Embedding batches that failed, by kind.",
		}, []string{"kind"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Ingestion pipeline runs by final state.",
		}, []string{"state"}),
		URLsScraped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "urls_scraped_total",
			Help:      "Scraped URLs by outcome (success, failed, error).",
		}, []string{"status"}),
		ChunksUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_upserted_total",
			Help:      "Chunks written or refreshed by the ingestion pipeline.",
		}),
		QueryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_seconds",
			Help:      "Answer latency in seconds by retrieval mode.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"mode"}),
		RetrievedChunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_chunks",
			Help:      "Chunks retrieved per answered question.",
			Buckets:   []float64{0, 1, 3, 5, 10, 25, 50, 100},
		}),
		SchedulerCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_cycles_total",
			Help:      "Scheduler wake-ups by decision (new_urls, stale, skipped, error).",
		}, []string{"decision"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EmbeddingCalls,
			m.EmbeddingRetries,
			m.EmbeddingBatches,
			m.EmbeddingFailures,
			m.PipelineRuns,
			m.URLsScraped,
			m.ChunksUpserted,
			m.QueryLatency,
			m.RetrievedChunks,
			m.SchedulerCycles,
			m.HTTPRequestsTotal,
			m.HTTPRequestLatency,
		)
	}
	return m
}

// Handler returns an HTTP handler serving the metrics in reg.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) EmbeddingCall() {
	if m != nil {
		m.EmbeddingCalls.Inc()
	}
}

func (m *Metrics) EmbeddingRetry() {
	if m != nil {
		m.EmbeddingRetries.Inc()
	}
}

func (m *Metrics) EmbeddingBatch() {
	if m != nil {
		m.EmbeddingBatches.Inc()
	}
}

func (m *Metrics) EmbeddingFailure(kind string) {
	if m != nil {
		m.EmbeddingFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) PipelineRun(state string) {
	if m != nil {
		m.PipelineRuns.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) URLScraped(status string) {
	if m != nil {
		m.URLsScraped.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) ChunksWritten(n int) {
	if m != nil {
		m.ChunksUpserted.Add(float64(n))
	}
}

// QueryAnswered records one answered question.
func (m *Metrics) QueryAnswered(mode string, retrieved int, elapsed time.Duration) {
	if m != nil {
		m.QueryLatency.WithLabelValues(mode).Observe(elapsed.Seconds())
		m.RetrievedChunks.Observe(float64(retrieved))
	}
}

func (m *Metrics) SchedulerCycle(decision string) {
	if m != nil {
		m.SchedulerCycles.WithLabelValues(decision).Inc()
	}
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route, status string, elapsed time.Duration) {
	if m != nil {
		m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
		m.HTTPRequestLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
	}
}
