// Package metrics exposes Prometheus collectors for the analysis pipeline.
package metrics

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreschagin/device-lifecycle/internal/application/gateway"
	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// Metrics bundles prometheus collectors used by the API.
// It implements the gateway, analysis and ledger sync observers.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDurationSec *prometheus.HistogramVec
	CapabilityCalls    *prometheus.CounterVec
	CapabilityLatency  *prometheus.HistogramVec
	AnalysesTotal      *prometheus.CounterVec
	AnalysisDuration   prometheus.Histogram
	DedupTotal         *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	LedgerSyncTotal    *prometheus.CounterVec

	registry  *prometheus.Registry
	publisher port.MetricsPublisher
	now       func() time.Time
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_lifecycle_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		RequestDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "device_lifecycle_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		CapabilityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_lifecycle_capability_calls_total",
			Help: "Prediction capability calls by outcome.",
		}, []string{"capability", "outcome"}),
		CapabilityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "device_lifecycle_capability_latency_seconds",
			Help:    "Prediction capability call latency in seconds.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		}, []string{"capability"}),
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_lifecycle_analyses_total",
			Help: "Device analyses by outcome.",
		}, []string{"outcome"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "device_lifecycle_analysis_duration_seconds",
			Help:    "End-to-end analysis duration in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		}),
		DedupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_lifecycle_analysis_dedup_total",
			Help: "Concurrent analysis requests by dedup outcome.",
		}, []string{"outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_lifecycle_analysis_cache_total",
			Help: "Analysis cache lookups.",
		}, []string{"result"}),
		LedgerSyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_lifecycle_ledger_sync_total",
			Help: "Passport ledger sync attempts by outcome.",
		}, []string{"outcome"}),
		registry: registry,
		now:      time.Now,
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDurationSec,
		m.CapabilityCalls,
		m.CapabilityLatency,
		m.AnalysesTotal,
		m.AnalysisDuration,
		m.DedupTotal,
		m.CacheLookups,
		m.LedgerSyncTotal,
	)

	return m
}

// ForwardTo mirrors capability and analysis observations to an external
// metrics backend (CloudWatch).
func (m *Metrics) ForwardTo(publisher port.MetricsPublisher) {
	m.publisher = publisher
}

// TrackBreakers exports circuit breaker states: 0 closed, 1 half-open, 2 open.
func (m *Metrics) TrackBreakers(states func() map[valueobject.Capability]gateway.BreakerState) {
	for _, c := range valueobject.AllCapabilities() {
		capability := c
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "device_lifecycle_breaker_state",
			Help:        "Circuit breaker state per capability.",
			ConstLabels: prometheus.Labels{"capability": capability.String()},
		}, func() float64 {
			return breakerValue(states()[capability])
		}))
	}
}

func breakerValue(state gateway.BreakerState) float64 {
	switch state {
	case gateway.BreakerHalfOpen:
		return 1
	case gateway.BreakerOpen:
		return 2
	default:
		return 0
	}
}

func (m *Metrics) ObserveCapabilityCall(capability valueobject.Capability, outcome string, latency time.Duration) {
	m.CapabilityCalls.WithLabelValues(capability.String(), outcome).Inc()
	if outcome == "not_configured" || outcome == "circuit_open" {
		return
	}
	m.CapabilityLatency.WithLabelValues(capability.String()).Observe(latency.Seconds())
	m.forward(
		port.MetricDatum{
			Name:       "CapabilityLatency",
			Value:      float64(latency.Milliseconds()),
			Unit:       "Milliseconds",
			Dimensions: map[string]string{"Capability": capability.String(), "Outcome": outcome},
		},
	)
}

func (m *Metrics) ObserveAnalysis(outcome string, duration time.Duration) {
	m.AnalysesTotal.WithLabelValues(outcome).Inc()
	m.AnalysisDuration.Observe(duration.Seconds())
	// AnalysisDuration is published by the orchestrator itself
	m.forward(
		port.MetricDatum{
			Name:       "Analyses",
			Value:      1,
			Unit:       "Count",
			Dimensions: map[string]string{"Outcome": outcome},
		},
	)
}

func (m *Metrics) ObserveDedup(outcome string) {
	m.DedupTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveLedgerSync(outcome string) {
	m.LedgerSyncTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) forward(data ...port.MetricDatum) {
	if m.publisher == nil {
		return
	}
	now := m.now()
	for i := range data {
		data[i].Timestamp = now
	}
	// the publisher buffers; errors resurface on its own flush loop
	_ = m.publisher.PublishBatch(context.Background(), data)
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)
		route := normalizeRoute(r.URL.Path)
		m.RequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		m.RequestDurationSec.WithLabelValues(route, r.Method, status).Observe(time.Since(startedAt).Seconds())
	})
}

// normalizeRoute replaces device ids so label cardinality stays bounded.
func normalizeRoute(path string) string {
	switch {
	case path == "/ws" || path == "/health" || path == "/metrics":
		return path
	case strings.HasPrefix(path, "/api/v1/devices/"):
		rest := strings.TrimPrefix(path, "/api/v1/devices/")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/api/v1/devices/{id}" + rest[i:]
		}
		return "/api/v1/devices/{id}"
	case path == "/api/v1/devices":
		return path
	case strings.HasPrefix(path, "/api/v1/"):
		return "/api/v1/*"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Hijack passes websocket upgrades through wrapped ResponseWriter.
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
