// Package observ exports domain counters to Prometheus.
package observ

import (
	"strconv"

	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ordersCreated  *prometheus.CounterVec
	checkouts      *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	linksIssued    prometheus.Counter
	linksResolved  *prometheus.CounterVec
	reconciliation *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg (prometheus.DefaultRegisterer in main).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ordersCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Create-order requests, by whether the result was replayed",
		}, []string{"replayed"}),
		checkouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_sessions_total",
			Help: "Checkout sessions by provider and result",
		}, []string{"provider", "result"}),
		webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Provider callbacks by provider and result",
		}, []string{"provider", "result"}),
		linksIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "secure_links_issued_total",
			Help: "Secure links created",
		}),
		linksResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "secure_links_resolved_total",
			Help: "Secure link resolutions by result",
		}, []string{"result"}),
		reconciliation: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_reconciled_total",
			Help: "Stale payments handled by the reconciler, by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) OrderCreated(replayed bool) {
	m.ordersCreated.WithLabelValues(strconv.FormatBool(replayed)).Inc()
}

func (m *Metrics) CheckoutSession(provider, result string) {
	m.checkouts.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) WebhookEvent(provider, result string) {
	m.webhooks.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) LinksIssued(n int) {
	if n > 0 {
		m.linksIssued.Add(float64(n))
	}
}

func (m *Metrics) LinkResolved(result string) { m.linksResolved.WithLabelValues(result).Inc() }

func (m *Metrics) PaymentsReconciled(outcome string) {
	m.reconciliation.WithLabelValues(outcome).Inc()
}

var _ usecase.Metrics = (*Metrics)(nil)
