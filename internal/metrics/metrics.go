package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	PlanChangesTotal    *prometheus.CounterVec
	RefundsTotal        *prometheus.CounterVec
	RefundedAmountTotal prometheus.Counter
	PricesCreatedTotal  *prometheus.CounterVec

	WebhookEventsTotal *prometheus.CounterVec

	BreakerState prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics on the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salonsuite_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "salonsuite_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PlanChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salonsuite_plan_changes_total",
				Help: "Plan change attempts by direction and result",
			},
			[]string{"direction", "result"},
		),
		RefundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salonsuite_downgrade_refunds_total",
				Help: "Downgrade refund outcomes (issued, not_needed, skipped, failed)",
			},
			[]string{"outcome"},
		),
		RefundedAmountTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "salonsuite_downgrade_refunded_amount_total",
				Help: "Total amount refunded on downgrades, in major currency units",
			},
		),
		PricesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salonsuite_stripe_prices_created_total",
				Help: "Prices created on demand because the configured price was missing",
			},
			[]string{"plan"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salonsuite_webhook_events_total",
				Help: "Stripe webhook events by type and processing status",
			},
			[]string{"type", "status"},
		),
		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "salonsuite_stripe_breaker_state",
				Help: "Stripe circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PlanChangesTotal,
		m.RefundsTotal,
		m.RefundedAmountTotal,
		m.PricesCreatedTotal,
		m.WebhookEventsTotal,
		m.BreakerState,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordPlanChange(direction, result string) {
	if m == nil {
		return
	}
	m.PlanChangesTotal.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) RecordRefund(outcome string, amount float64) {
	if m == nil {
		return
	}
	m.RefundsTotal.WithLabelValues(outcome).Inc()
	if amount > 0 {
		m.RefundedAmountTotal.Add(amount)
	}
}

func (m *Metrics) RecordPriceCreated(plan string) {
	if m == nil {
		return
	}
	m.PricesCreatedTotal.WithLabelValues(plan).Inc()
}

func (m *Metrics) RecordWebhook(eventType, status string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}
