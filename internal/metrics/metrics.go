package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

// Metrics groups the collectors exported by the storefront. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	checkouts          *prometheus.CounterVec
	settlements        *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	eventFailures      prometheus.Counter
	catalogProducts    prometheus.Gauge
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_requests_total",
			Help:      "Checkout session attempts by outcome.",
		}, []string{"outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Purchase settlements by outcome.",
		}, []string{"outcome"}),
		settlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Duration of purchase settlements in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		eventFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_event_publish_failed_total",
			Help:      "Settlement events that could not be published.",
		}),
		catalogProducts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_products",
			Help:      "Products held in the catalog cache.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.checkouts,
		m.settlements,
		m.settlementDuration,
		m.eventFailures,
		m.catalogProducts,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Checkout(outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Settlement(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	m.settlementDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) EventPublishFailed() {
	if m == nil {
		return
	}
	m.eventFailures.Inc()
}

func (m *Metrics) CatalogSize(n int) {
	if m == nil {
		return
	}
	m.catalogProducts.Set(float64(n))
}

func (m *Metrics) HTTPRequest(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
