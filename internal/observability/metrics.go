// Package observability exposes the kernel's Prometheus metrics. Grounded
// on the pack's internal/metrics.Collector (ChuLiYu-raft-recovery repo): a
// struct of pre-registered counters/histograms/gauges with narrow
// increment/observe methods, registered against the default registry and
// served from /metrics via promhttp.Handler. Renamed to the kernel's own
// metric names (kernel_jobs_*, kernel_tasks_*, kernel_stage_*,
// kernel_task_*, kernel_http_*) since this process is an
// orchestration kernel, not a raft store.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"time"
)

// Metrics collects the kernel's job/task/API counters. A nil *Metrics is
// valid everywhere it's accepted (every method no-ops), so callers never
// need to branch on whether metrics are enabled.
type Metrics struct {
	jobsSubmitted  prometheus.Counter
	jobsCompleted  prometheus.Counter
	jobsFailed     prometheus.Counter
	tasksClaimed   prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	tasksRetried   prometheus.Counter

	stageLatency prometheus.Histogram
	taskLatency  prometheus.Histogram

	apiInflight prometheus.Gauge
	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
}

// NewMetrics builds and registers the kernel's metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid the global default registry's
// "duplicate registration" panic across repeated test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_jobs_submitted_total", Help: "Total jobs submitted.",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_jobs_completed_total", Help: "Total jobs that reached a terminal completed state.",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_jobs_failed_total", Help: "Total jobs that reached a terminal failed state.",
		}),
		tasksClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_tasks_claimed_total", Help: "Total tasks claimed for execution.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_tasks_completed_total", Help: "Total tasks that completed successfully.",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_tasks_failed_total", Help: "Total tasks that failed without further retry.",
		}),
		tasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_tasks_retried_total", Help: "Total task retry attempts scheduled.",
		}),
		stageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "kernel_stage_duration_seconds", Help: "Wall time from stage dispatch to stage completion.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		taskLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "kernel_task_duration_seconds", Help: "Wall time from task claim to task completion.",
			Buckets: prometheus.DefBuckets,
		}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kernel_http_inflight_requests", Help: "In-flight HTTP requests.",
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_http_requests_total", Help: "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "kernel_http_request_duration_seconds", Help: "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.jobsSubmitted, m.jobsCompleted, m.jobsFailed,
		m.tasksClaimed, m.tasksCompleted, m.tasksFailed, m.tasksRetried,
		m.stageLatency, m.taskLatency,
		m.apiInflight, m.apiRequests, m.apiLatency,
	)
	return m
}

func (m *Metrics) JobSubmitted() {
	if m != nil {
		m.jobsSubmitted.Inc()
	}
}
func (m *Metrics) JobCompleted() {
	if m != nil {
		m.jobsCompleted.Inc()
	}
}
func (m *Metrics) JobFailed() {
	if m != nil {
		m.jobsFailed.Inc()
	}
}
func (m *Metrics) TaskClaimed() {
	if m != nil {
		m.tasksClaimed.Inc()
	}
}
func (m *Metrics) TaskCompleted(d time.Duration) {
	if m != nil {
		m.tasksCompleted.Inc()
		m.taskLatency.Observe(d.Seconds())
	}
}
func (m *Metrics) TaskFailed() {
	if m != nil {
		m.tasksFailed.Inc()
	}
}
func (m *Metrics) TaskRetried() {
	if m != nil {
		m.tasksRetried.Inc()
	}
}
func (m *Metrics) StageCompleted(d time.Duration) {
	if m != nil {
		m.stageLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ApiInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}
func (m *Metrics) ApiInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}
func (m *Metrics) ObserveAPI(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler { return promhttp.Handler() }
