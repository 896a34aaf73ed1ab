package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors this core exposes at /metrics,
// following the same "one struct of pre-registered collectors plus a gin
// middleware" shape as the teacher's pkg/api/metrics.go, retargeted from
// TSL pipeline execution to trust-chain resolution.
type Metrics struct {
	ResolveRequestsTotal   *prometheus.CounterVec
	ResolveDuration        *prometheus.HistogramVec
	ChainsDiscoveredTotal  prometheus.Counter
	ChainVerificationFails prometheus.Counter
	TrustMarkVerifications *prometheus.CounterVec
	APIRequestsTotal       *prometheus.CounterVec
	APIRequestDuration     *prometheus.HistogramVec
	APIRequestsInFlight    prometheus.Gauge
	ErrorsTotal            *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics constructs and registers every collector on a fresh
// prometheus.Registry, so multiple FederationContexts in one process (or
// in tests) never collide on global registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ResolveRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fed_trust_resolve_requests_total",
			Help: "Total resolve requests, labeled by outcome.",
		}, []string{"outcome"}),
		ResolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "fed_trust_resolve_duration_seconds",
			Help: "Resolve request latency in seconds.",
		}, []string{"outcome"}),
		ChainsDiscoveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fed_trust_chains_discovered_total",
			Help: "Total candidate trust chains discovered by the collector.",
		}),
		ChainVerificationFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fed_trust_chain_verification_failures_total",
			Help: "Total trust chains rejected during verification.",
		}),
		TrustMarkVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fed_trust_trust_mark_verifications_total",
			Help: "Total trust mark verifications, labeled by outcome.",
		}, []string{"outcome"}),
		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fed_trust_api_requests_total",
			Help: "Total API requests, labeled by method, endpoint, and status.",
		}, []string{"method", "endpoint", "status"}),
		APIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "fed_trust_api_request_duration_seconds",
			Help: "API request latency in seconds, labeled by method and endpoint.",
		}, []string{"method", "endpoint"}),
		APIRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fed_trust_api_requests_in_flight",
			Help: "Number of API requests currently being served.",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fed_trust_errors_total",
			Help: "Total errors, labeled by error type and operation.",
		}, []string{"error_type", "operation"}),
		registry: reg,
	}

	reg.MustRegister(
		m.ResolveRequestsTotal,
		m.ResolveDuration,
		m.ChainsDiscoveredTotal,
		m.ChainVerificationFails,
		m.TrustMarkVerifications,
		m.APIRequestsTotal,
		m.APIRequestDuration,
		m.APIRequestsInFlight,
		m.ErrorsTotal,
	)

	return m
}

// RecordResolve records one resolve request's outcome and latency.
func (m *Metrics) RecordResolve(d time.Duration, found bool) {
	outcome := "found"
	if !found {
		outcome = "not_found"
	}
	m.ResolveRequestsTotal.WithLabelValues(outcome).Inc()
	m.ResolveDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordChainsDiscovered adds n to the discovered-chains counter.
func (m *Metrics) RecordChainsDiscovered(n int) {
	m.ChainsDiscoveredTotal.Add(float64(n))
}

// RecordChainVerificationFailure increments the verification-failure counter.
func (m *Metrics) RecordChainVerificationFailure() {
	m.ChainVerificationFails.Inc()
}

// RecordTrustMarkVerification records one trust mark verification outcome.
func (m *Metrics) RecordTrustMarkVerification(ok bool) {
	outcome := "valid"
	if !ok {
		outcome = "rejected"
	}
	m.TrustMarkVerifications.WithLabelValues(outcome).Inc()
}

// RecordError increments the errors counter for errorType/operation.
func (m *Metrics) RecordError(errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(errorType, operation).Inc()
}

// MetricsMiddleware returns a gin middleware recording per-request API
// metrics for every route except /metrics itself.
func (m *Metrics) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		m.APIRequestsInFlight.Inc()
		defer m.APIRequestsInFlight.Dec()

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		status := strconv.Itoa(c.Writer.Status())
		m.APIRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		m.APIRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(elapsed.Seconds())
	}
}

// RegisterMetricsEndpoint exposes m's registry at GET /metrics in
// Prometheus text format.
func RegisterMetricsEndpoint(r *gin.Engine, m *Metrics) {
	handler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	r.GET("/metrics", gin.WrapH(handler))
}
