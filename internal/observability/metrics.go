package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

type Metrics struct {
	UseCaseRequests  *prometheus.CounterVec
	UseCaseDuration  *prometheus.HistogramVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	InventoryOps     *prometheus.CounterVec
	WebhookCallbacks *prometheus.CounterVec
}

// NewMetrics registers the service collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UseCaseRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usecase_requests_total",
			Help:      "Use case invocations by outcome.",
		}, []string{"use_case", "outcome"}),
		UseCaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usecase_duration_seconds",
			Help:      "Use case latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"use_case"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		InventoryOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_operations_total",
			Help:      "Stock reservation, confirmation and release calls.",
		}, []string{"operation", "result"}),
		WebhookCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_callbacks_total",
			Help:      "Provider callbacks by reconciliation result.",
		}, []string{"provider", "result"}),
	}
	reg.MustRegister(
		m.UseCaseRequests,
		m.UseCaseDuration,
		m.HTTPRequests,
		m.HTTPDuration,
		m.InventoryOps,
		m.WebhookCallbacks,
	)
	return m
}

// The record helpers accept a nil receiver so collaborators can run without metrics.

func (m *Metrics) ObserveUseCase(useCase, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UseCaseRequests.WithLabelValues(useCase, outcome).Inc()
	m.UseCaseDuration.WithLabelValues(useCase).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) IncInventory(operation, result string) {
	if m == nil {
		return
	}
	m.InventoryOps.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) IncWebhook(provider, result string) {
	if m == nil {
		return
	}
	m.WebhookCallbacks.WithLabelValues(provider, result).Inc()
}
