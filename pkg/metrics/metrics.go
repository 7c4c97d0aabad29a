// Package metrics implements the metrics half of the Telemetry & Audit
// component: request rate, error rate, latency histograms, queue
// depth per job type, breaker state, rate-limit acquisitions/denials,
// and the window-fallback rate, all exported via prometheus/client_golang.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this process exports. Nil-safe: every
// method is a no-op on a nil *Registry, mirroring pkg/slack.Service, so
// metrics can be wired in once at startup and threaded through
// everywhere without every call site needing a presence check.
type Registry struct {
	reg *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec
	breakerState     *prometheus.GaugeVec
	rateLimitTotal   *prometheus.CounterVec
	windowFallback   *prometheus.CounterVec
	idempotencyTotal *prometheus.CounterVec
}

// breakerStateValue maps a breaker.Registry.State() string to the gauge
// value convention closed=0, half-open=1, open=2.
func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half-open":
		return 1
	default:
		return 0
	}
}

// New builds a Registry backed by its own prometheus.Registry rather
// than the global DefaultRegisterer, so repeated construction in tests
// never panics on a duplicate collector registration.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status class.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Total jobs processed by type and outcome.",
		}, []string{"job_type", "outcome"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatbridge",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Job handler latency by type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_type"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatbridge",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Pending jobs by type.",
		}, []string{"job_type"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatbridge",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state by upstream (0=closed, 1=half-open, 2=open).",
		}, []string{"upstream"}),
		rateLimitTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Subsystem: "ratelimit",
			Name:      "acquire_total",
			Help:      "Token bucket acquisitions by upstream, endpoint class, and result.",
		}, []string{"upstream", "endpoint_class", "result"}),
		windowFallback: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Subsystem: "delivery",
			Name:      "window_fallback_total",
			Help:      "Outbound sends that fell back to a template because the 24h window was closed.",
		}, []string{"channel"}),
		idempotencyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatbridge",
			Subsystem: "idempotency",
			Name:      "claim_total",
			Help:      "Idempotency claims by outcome (new, duplicate, degraded).",
		}, []string{"outcome"}),
	}
}

// Handler exposes the registry in the Prometheus exposition format for
// a GET /metrics route. Returns a handler that always 200s with an
// empty body if r is nil, so wiring it is unconditional in pkg/api.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) ObserveHTTPRequest(method, route string, status int, seconds float64) {
	if r == nil {
		return
	}
	class := statusClass(status)
	r.httpRequests.WithLabelValues(method, route, class).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

func (r *Registry) ObserveJob(jobType, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.jobsTotal.WithLabelValues(jobType, outcome).Inc()
	r.jobDuration.WithLabelValues(jobType).Observe(seconds)
}

func (r *Registry) SetQueueDepth(jobType string, depth int) {
	if r == nil {
		return
	}
	r.queueDepth.WithLabelValues(jobType).Set(float64(depth))
}

func (r *Registry) SetBreakerState(upstream, state string) {
	if r == nil {
		return
	}
	r.breakerState.WithLabelValues(upstream).Set(breakerStateValue(state))
}

func (r *Registry) ObserveRateLimitAcquire(upstream, endpointClass string, allowed bool) {
	if r == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	r.rateLimitTotal.WithLabelValues(upstream, endpointClass, result).Inc()
}

func (r *Registry) ObserveWindowFallback(channel string) {
	if r == nil {
		return
	}
	r.windowFallback.WithLabelValues(channel).Inc()
}

func (r *Registry) ObserveIdempotencyClaim(outcome string) {
	if r == nil {
		return
	}
	r.idempotencyTotal.WithLabelValues(outcome).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
