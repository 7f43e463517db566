// Package metrics provides Prometheus metrics for lexstore
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for lexstore
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Index-admin metrics
	AdminRequestsTotal *prometheus.CounterVec

	// History engine metrics
	EngineOperationsTotal   *prometheus.CounterVec
	EngineOperationDuration *prometheus.HistogramVec
	PartsTotal              *prometheus.CounterVec
	RollbacksTotal          prometheus.Counter
	FeedFailuresTotal       prometheus.Counter

	// KV store metrics
	StorePages     prometheus.Gauge
	StoreFreePages prometheus.Gauge
	StoreSizeBytes prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates the metrics and registers them with reg.
// A nil reg uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexstore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexstore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexstore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.AdminRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexstore_admin_requests_total",
			Help: "Total number of index-admin HTTP requests",
		},
		[]string{"route", "code"},
	)

	m.EngineOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexstore_engine_operations_total",
			Help: "Total number of history engine operations",
		},
		[]string{"operation", "status"},
	)

	m.EngineOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexstore_engine_operation_duration_seconds",
			Help:    "Duration of history engine operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.PartsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexstore_parts_total",
			Help: "Parts touched by incorporations, by outcome",
		},
		[]string{"outcome"},
	)

	m.RollbacksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "lexstore_rollbacks_total",
			Help: "Incorporations undone after a failure",
		},
	)

	m.FeedFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "lexstore_feed_publish_failures_total",
			Help: "Change records that could not be published",
		},
	)

	m.StorePages = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexstore_store_pages",
			Help: "Pages in use by the KV store",
		},
	)

	m.StoreFreePages = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexstore_store_free_pages",
			Help: "Pages waiting for reuse in the KV free list",
		},
	)

	m.StoreSizeBytes = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexstore_store_size_bytes",
			Help: "Size of the KV store file in bytes",
		},
	)

	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// RunUptime updates the uptime gauge until done is closed
func (m *Metrics) RunUptime(done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordAdminRequest records an index-admin request
func (m *Metrics) RecordAdminRequest(route string, code int) {
	m.AdminRequestsTotal.WithLabelValues(route, statusClass(code)).Inc()
}

// RecordOperation records a history engine operation
func (m *Metrics) RecordOperation(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.EngineOperationsTotal.WithLabelValues(operation, status).Inc()
	m.EngineOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordParts adds the outcome counts of one incorporation
func (m *Metrics) RecordParts(added, relabeled, retired, obsoleted int) {
	m.PartsTotal.WithLabelValues("new").Add(float64(added))
	m.PartsTotal.WithLabelValues("relabeled").Add(float64(relabeled))
	m.PartsTotal.WithLabelValues("retired").Add(float64(retired))
	m.PartsTotal.WithLabelValues("obsoleted").Add(float64(obsoleted))
}

// UpdateStoreStats updates the KV store gauges
func (m *Metrics) UpdateStoreStats(pages uint64, freePages int, sizeBytes int64) {
	m.StorePages.Set(float64(pages))
	m.StoreFreePages.Set(float64(freePages))
	m.StoreSizeBytes.Set(float64(sizeBytes))
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
