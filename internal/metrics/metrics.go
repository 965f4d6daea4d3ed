// Package metrics provides Prometheus metrics for the maintenance scheduler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickler_tasks_created_total",
			Help: "Total number of maintenance tasks created",
		},
		[]string{"priority", "unit"},
	)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickler_tasks_completed_total",
			Help: "Total number of recorded task completions",
		},
		[]string{"unit"},
	)
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickler_operation_errors_total",
			Help: "Total number of rejected or failed engine operations by error code",
		},
		[]string{"operation", "code"},
	)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tickler_operation_duration_seconds",
			Help:    "Engine operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation", "outcome"},
	)
	CompletionOffsetDays = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tickler_completion_offset_days",
			Help:    "Days between a task's due date and its recorded completion; negative when early",
			Buckets: []float64{-30, -7, -1, 0, 1, 7, 30, 90, 365},
		},
	)
	CalendarTasksReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tickler_calendar_tasks_returned",
			Help:    "Number of scheduled tasks returned per calendar query",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"view"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickler_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tickler_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	RequestsRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickler_requests_rate_limited_total",
			Help: "Total number of write requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)
)

func RecordTaskCreated(priority, unit string) {
	TasksCreated.WithLabelValues(priority, unit).Inc()
}

func RecordTaskCompleted(unit string, offsetDays int, hasPrevious bool) {
	TasksCompleted.WithLabelValues(unit).Inc()
	if hasPrevious {
		CompletionOffsetDays.Observe(float64(offsetDays))
	}
}

func RecordOperation(operation string, duration time.Duration, code string) {
	outcome := "ok"
	if code != "" {
		outcome = "error"
		OperationErrors.WithLabelValues(operation, code).Inc()
	}

	OperationDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

func RecordCalendarQuery(view string, count int) {
	CalendarTasksReturned.WithLabelValues(view).Observe(float64(count))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func RecordRateLimited(endpoint string) {
	RequestsRateLimited.WithLabelValues(endpoint).Inc()
}
