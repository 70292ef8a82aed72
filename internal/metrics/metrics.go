// Package metrics exposes Prometheus counters for the API and the onboarding cores.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector methods are safe on a nil receiver, so metrics can be switched off
// by passing nil.
type Collector struct {
	httpRequests          *prometheus.CounterVec
	httpDuration          *prometheus.HistogramVec
	entitlementsResolved  *prometheus.CounterVec
	recoveredErrors       *prometheus.CounterVec
	onboardingTransitions *prometheus.CounterVec
	authEvents            *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armi_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "armi_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		entitlementsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armi_entitlement_resolutions_total",
			Help: "Entitlement resolutions by outcome.",
		}, []string{"result"}),
		recoveredErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armi_recovered_errors_total",
			Help: "Errors recovered to a safe default, by kind.",
		}, []string{"kind"}),
		onboardingTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armi_onboarding_transitions_total",
			Help: "Onboarding state transitions by target state.",
		}, []string{"state"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armi_auth_events_total",
			Help: "Auth events consumed by the onboarding coordinator.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.entitlementsResolved,
		c.recoveredErrors,
		c.onboardingTransitions,
		c.authEvents,
	)

	return c
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (c *Collector) RecordEntitlement(isPro bool) {
	if c == nil {
		return
	}
	result := "free"
	if isPro {
		result = "pro"
	}
	c.entitlementsResolved.WithLabelValues(result).Inc()
}

// RecordRecoveredError counts errors folded into defaults, e.g. "profile_read".
func (c *Collector) RecordRecoveredError(kind string) {
	if c == nil {
		return
	}
	c.recoveredErrors.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordOnboardingTransition(state string) {
	if c == nil {
		return
	}
	c.onboardingTransitions.WithLabelValues(state).Inc()
}

func (c *Collector) RecordAuthEvent(kind string) {
	if c == nil {
		return
	}
	c.authEvents.WithLabelValues(kind).Inc()
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
