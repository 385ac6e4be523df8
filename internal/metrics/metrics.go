// Package metrics wires the gateway's counters, gauges, and histograms
// into a Prometheus registry, replacing a hand-rolled text exposition
// format with the real client library.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric the gateway emits, registered against its
// own prometheus.Registry so multiple gateway instances in one process
// (tests, embedding) don't collide on the global default registry.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	UpstreamLatency     *prometheus.HistogramVec
	CacheResults        *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
	// ProbeResults and HealthyBackends are registered, but no component in
	// this repository writes to them, so they export no samples.
	ProbeResults        *prometheus.CounterVec
	HealthyBackends     *prometheus.GaugeVec
}

// NewRegistry builds and registers every gateway metric.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests dispatched, by route and outcome status.",
		}, []string{"route", "method", "status"}),
		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_latency_seconds",
			Help:    "Upstream response latency in seconds, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		CacheResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_results_total",
			Help: "Response cache outcomes, by route and result (hit|miss).",
		}, []string{"route", "result"}),
		RateLimitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter, by route.",
		}, []string{"route"}),
		ProbeResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_health_probe_results_total",
			Help: "Health probe outcomes, by backend and result (healthy|unhealthy).",
		}, []string{"backend", "result"}),
		HealthyBackends: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_healthy_backends",
			Help: "Current count of healthy backends, by route.",
		}, []string{"route"}),
	}
}

// Gatherer exposes the underlying prometheus.Registry for the metrics
// HTTP handler to serve.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
