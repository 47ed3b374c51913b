package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moonlight"

type moduleMetrics struct {
	protocolRequestsTotal   *prometheus.CounterVec
	protocolRequestDuration *prometheus.HistogramVec
	protocolEventsTotal     *prometheus.CounterVec
	connectionsActive       prometheus.Gauge

	poolBrowsers         *prometheus.GaugeVec
	poolOperationsTotal  *prometheus.CounterVec
	poolCreationDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			protocolRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "protocol_requests_total",
					Help:      "Total protocol requests by method and status.",
				},
				[]string{"method", "status"},
			),
			protocolRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "protocol_request_duration_seconds",
					Help:      "Protocol request round-trip duration in seconds by method.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"method"},
			),
			protocolEventsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "protocol_events_total",
					Help:      "Total protocol events received by method.",
				},
				[]string{"method"},
			),
			connectionsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "protocol_connections_active",
					Help:      "Current open protocol connections.",
				},
			),
			poolBrowsers: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "pool_browsers",
					Help:      "Current pooled browsers by pool and status.",
				},
				[]string{"pool", "status"},
			),
			poolOperationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "pool_operations_total",
					Help:      "Total pool operations (claim, return, create, recycle) by status.",
				},
				[]string{"pool", "operation", "status"},
			),
			poolCreationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "pool_browser_creation_duration_seconds",
					Help:      "Browser launch and connect duration in seconds, retries included.",
					Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
				},
				[]string{"pool"},
			),
		}

		prometheus.MustRegister(
			m.protocolRequestsTotal,
			m.protocolRequestDuration,
			m.protocolEventsTotal,
			m.connectionsActive,
			m.poolBrowsers,
			m.poolOperationsTotal,
			m.poolCreationDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordProtocolRequest(method string, duration time.Duration, status string) {
	m := getMetrics()
	m.protocolRequestsTotal.WithLabelValues(method, status).Inc()
	m.protocolRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordProtocolEvent(method string) {
	getMetrics().protocolEventsTotal.WithLabelValues(method).Inc()
}

func ConnectionOpened() {
	getMetrics().connectionsActive.Inc()
}

func ConnectionClosed() {
	getMetrics().connectionsActive.Dec()
}

// SetPoolBrowsers publishes the per-status browser counts of a pool.
// Statuses missing from counts are reset to zero.
func SetPoolBrowsers(pool string, statuses []string, counts map[string]int) {
	m := getMetrics()
	for _, status := range statuses {
		m.poolBrowsers.WithLabelValues(pool, status).Set(float64(counts[status]))
	}
}

func RecordPoolOperation(pool, operation string, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.poolOperationsTotal.WithLabelValues(pool, operation, status).Inc()
}

func RecordBrowserCreation(pool string, duration time.Duration, success bool) {
	RecordPoolOperation(pool, "create", success)
	getMetrics().poolCreationDuration.WithLabelValues(pool).Observe(duration.Seconds())
}
