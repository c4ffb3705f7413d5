package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 队列处理延迟（毫秒），按批次
	DrainLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_drain_latency_ms",
			Help:    "Work queue drain batch latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
	)

	// AI 分析调用延迟（毫秒）
	AnalyzerCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyzer_call_latency_ms",
			Help:    "AI content analyzer call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"status"},
	)

	// 邮件提供方调用延迟（毫秒）
	ProviderCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "Mail provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(50, 2, 10),
		},
		[]string{"operation", "status"},
	)

	// 工作项处理计数
	WorkItemProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_work_item_processed_count",
			Help: "Total number of work items processed",
		},
		[]string{"status"}, // status: completed, failed, skipped
	)

	// 任务创建计数
	TaskCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_task_created_count",
			Help: "Total number of tasks created from extractions",
		},
		[]string{"mode"}, // mode: auto, suggestion
	)

	// 提供方重试计数
	ProviderRetry = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_retry_count",
			Help: "Total number of retried mail provider calls",
		},
		[]string{"operation", "error_type"},
	)

	// 慢查询计数
	SlowQuery = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
	)
)

// RecordDrainLatency 记录一次批处理延迟
func RecordDrainLatency(duration time.Duration) {
	DrainLatency.Observe(float64(duration.Milliseconds()))
}

// RecordAnalyzerCallLatency 记录 AI 分析调用延迟
func RecordAnalyzerCallLatency(status string, duration time.Duration) {
	AnalyzerCallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// RecordProviderCallLatency 记录邮件提供方调用延迟
func RecordProviderCallLatency(operation, status string, duration time.Duration) {
	ProviderCallLatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

// IncrementWorkItemProcessed 增加工作项处理计数
func IncrementWorkItemProcessed(status string) {
	WorkItemProcessed.WithLabelValues(status).Inc()
}

// IncrementTaskCreated 增加任务创建计数
func IncrementTaskCreated(mode string) {
	TaskCreated.WithLabelValues(mode).Inc()
}

// IncrementProviderRetry 增加提供方重试计数
func IncrementProviderRetry(operation, errorType string) {
	ProviderRetry.WithLabelValues(operation, errorType).Inc()
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery() {
	SlowQuery.Inc()
}
