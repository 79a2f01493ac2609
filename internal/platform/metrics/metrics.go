// Package metrics はエンジン全体のPrometheusメトリクスを集約します。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbrag_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbrag_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	indexRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbrag_index_runs_total",
			Help: "Total number of schema index runs by outcome.",
		},
		[]string{"status"},
	)

	indexChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbrag_index_chunks_total",
			Help: "Total number of schema chunks embedded and stored.",
		},
	)

	indexDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbrag_index_duration_seconds",
			Help:    "Schema index run duration in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbrag_questions_total",
			Help: "Total number of answered questions by dialect.",
		},
		[]string{"dialect"},
	)

	generationAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbrag_generation_attempts",
			Help:    "Query generation attempts consumed per question.",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	unsafeQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbrag_unsafe_queries_total",
			Help: "Total number of generated queries rejected by the safety validator.",
		},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbrag_query_executions_total",
			Help: "Total number of query executions against target databases by outcome.",
		},
		[]string{"status"},
	)

	executionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbrag_query_execution_duration_seconds",
			Help:    "Query execution latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		indexRunsTotal,
		indexChunksTotal,
		indexDurationSeconds,
		questionsTotal,
		generationAttempts,
		unsafeQueriesTotal,
		executionsTotal,
		executionDurationSeconds,
	)
}

// ObserveHTTPRequest はHTTPリクエスト1件の結果を記録します
func ObserveHTTPRequest(method, path, status string, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, path, status).Observe(elapsed.Seconds())
}

// ObserveIndexRun はインデックス実行1回の結果を記録します
func ObserveIndexRun(status string, chunks int, elapsed time.Duration) {
	indexRunsTotal.WithLabelValues(status).Inc()
	if chunks > 0 {
		indexChunksTotal.Add(float64(chunks))
	}
	indexDurationSeconds.Observe(elapsed.Seconds())
}

// ObserveQuestion は質問応答1件の結果を記録します
func ObserveQuestion(dialect string, attempts int) {
	questionsTotal.WithLabelValues(dialect).Inc()
	if attempts > 0 {
		generationAttempts.Observe(float64(attempts))
	}
}

// IncrementUnsafeQuery は安全性検証で拒否されたクエリを記録します
func IncrementUnsafeQuery() {
	unsafeQueriesTotal.Inc()
}

// ObserveExecution はターゲットDBへのクエリ実行1回を記録します
func ObserveExecution(status string, elapsed time.Duration) {
	executionsTotal.WithLabelValues(status).Inc()
	executionDurationSeconds.Observe(elapsed.Seconds())
}
