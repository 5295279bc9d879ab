// Package telemetry exposes Prometheus metrics for the service.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlhook_tasks_total",
			Help: "Total number of tasks processed, labeled by type and status.",
		},
		[]string{"type", "status"},
	)

	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlhook_failures_total",
			Help: "Total number of classified failures, labeled by kind.",
		},
		[]string{"kind"},
	)

	webhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlhook_webhook_deliveries_total",
			Help: "Total number of finished webhook deliveries, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	webhookAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawlhook_webhook_attempts_total",
			Help: "Total number of individual webhook delivery attempts.",
		},
	)

	webhookDeliveryDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawlhook_webhook_delivery_duration_seconds",
			Help:    "Histogram of end-to-end webhook delivery durations including backoff.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 60, 120},
		},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveTask records a task status change.
func ObserveTask(taskType, status string) {
	tasksTotal.WithLabelValues(taskType, status).Inc()
}

// ObserveFailure records a classified failure.
func ObserveFailure(kind string) {
	failuresTotal.WithLabelValues(kind).Inc()
}

// ObserveWebhookAttempt records one delivery attempt.
func ObserveWebhookAttempt() {
	webhookAttemptsTotal.Inc()
}

// ObserveWebhookDelivery records a finished delivery with its outcome
// ("success", "terminal", "exhausted") and total duration.
func ObserveWebhookDelivery(outcome string, duration time.Duration) {
	webhookDeliveriesTotal.WithLabelValues(outcome).Inc()
	webhookDeliveryDurationSeconds.Observe(duration.Seconds())
}
