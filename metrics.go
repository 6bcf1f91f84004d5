package memqueue

import (
	"github.com/prometheus/client_golang/prometheus"
)

const MetricPrefix = "memqueue_"

var (
	queuedJobsDesc = prometheus.NewDesc(
		MetricPrefix+"queued_jobs",
		"Number of jobs waiting to be scheduled",
		[]string{"queueName"},
		nil,
	)
	activeJobsDesc = prometheus.NewDesc(
		MetricPrefix+"active_jobs",
		"Number of jobs currently processing",
		[]string{"queueName"},
		nil,
	)
	completedJobsDesc = prometheus.NewDesc(
		MetricPrefix+"completed_jobs",
		"Number of completed jobs retained in history",
		[]string{"queueName"},
		nil,
	)
	failedJobsDesc = prometheus.NewDesc(
		MetricPrefix+"failed_jobs",
		"Number of permanently failed jobs retained in history",
		[]string{"queueName"},
		nil,
	)
	maxConcurrencyDesc = prometheus.NewDesc(
		MetricPrefix+"max_concurrency",
		"Current concurrency ceiling",
		[]string{"queueName"},
		nil,
	)
	currentConcurrencyDesc = prometheus.NewDesc(
		MetricPrefix+"current_concurrency",
		"Number of in-flight job executions",
		[]string{"queueName"},
		nil,
	)
	memoryUsedDesc = prometheus.NewDesc(
		MetricPrefix+"memory_used_fraction",
		"Process memory usage as a fraction of the configured budget",
		[]string{"queueName"},
		nil,
	)
	processedTotalDesc = prometheus.NewDesc(
		MetricPrefix+"processed_total",
		"Total jobs that reached a terminal state",
		[]string{"queueName"},
		nil,
	)
	succeededTotalDesc = prometheus.NewDesc(
		MetricPrefix+"succeeded_total",
		"Total jobs that completed successfully",
		[]string{"queueName"},
		nil,
	)
	failedTotalDesc = prometheus.NewDesc(
		MetricPrefix+"failed_total",
		"Total jobs that failed permanently",
		[]string{"queueName"},
		nil,
	)
)

// QueueCollector exposes queue statistics as Prometheus metrics. Metrics
// are read from GetStats at scrape time; nothing is cached.
type QueueCollector struct {
	queue *ProcessingQueue
}

// ExposeQueueMetrics registers a collector for the queue with the default
// Prometheus registry and returns it.
func ExposeQueueMetrics(queue *ProcessingQueue) *QueueCollector {
	collector := NewQueueCollector(queue)
	prometheus.MustRegister(collector)
	return collector
}

// NewQueueCollector creates a collector without registering it.
func NewQueueCollector(queue *ProcessingQueue) *QueueCollector {
	return &QueueCollector{queue: queue}
}

func (c *QueueCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- queuedJobsDesc
	desc <- activeJobsDesc
	desc <- completedJobsDesc
	desc <- failedJobsDesc
	desc <- maxConcurrencyDesc
	desc <- currentConcurrencyDesc
	desc <- memoryUsedDesc
	desc <- processedTotalDesc
	desc <- succeededTotalDesc
	desc <- failedTotalDesc
}

func (c *QueueCollector) Collect(metrics chan<- prometheus.Metric) {
	stats := c.queue.GetStats()
	name := stats.QueueName

	metrics <- prometheus.MustNewConstMetric(queuedJobsDesc, prometheus.GaugeValue, float64(stats.QueuedJobs), name)
	metrics <- prometheus.MustNewConstMetric(activeJobsDesc, prometheus.GaugeValue, float64(stats.ActiveJobs), name)
	metrics <- prometheus.MustNewConstMetric(completedJobsDesc, prometheus.GaugeValue, float64(stats.CompletedJobs), name)
	metrics <- prometheus.MustNewConstMetric(failedJobsDesc, prometheus.GaugeValue, float64(stats.FailedJobs), name)
	metrics <- prometheus.MustNewConstMetric(maxConcurrencyDesc, prometheus.GaugeValue, float64(stats.MaxConcurrency), name)
	metrics <- prometheus.MustNewConstMetric(currentConcurrencyDesc, prometheus.GaugeValue, float64(stats.CurrentConcurrency), name)
	metrics <- prometheus.MustNewConstMetric(memoryUsedDesc, prometheus.GaugeValue, stats.Memory.UsedPercentage, name)
	metrics <- prometheus.MustNewConstMetric(processedTotalDesc, prometheus.CounterValue, float64(stats.TotalProcessed), name)
	metrics <- prometheus.MustNewConstMetric(succeededTotalDesc, prometheus.CounterValue, float64(stats.TotalSucceeded), name)
	metrics <- prometheus.MustNewConstMetric(failedTotalDesc, prometheus.CounterValue, float64(stats.TotalFailed), name)
}
