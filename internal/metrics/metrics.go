// Package metrics registers the gateway's custom Prometheus series,
// scraped alongside client_golang promhttp's default process metrics at
// /metrics.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every custom series the gateway exports.
type Metrics struct {
	PaymentsTotal        *prometheus.CounterVec
	PaymentsSuccessTotal *prometheus.CounterVec
	PaymentsFailedTotal  *prometheus.CounterVec
	PaymentAmountTotal   *prometheus.CounterVec
	PaymentDuration      *prometheus.HistogramVec
	SettlementDuration   *prometheus.HistogramVec

	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	RateLimitHitsTotal *prometheus.CounterVec

	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// New creates and registers every series against registry (nil uses
// prometheus.DefaultRegisterer).
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		PaymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_payments_total",
				Help: "Total number of payment attempts, by rail and service",
			},
			[]string{"rail", "service"},
		),
		PaymentsSuccessTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_payments_success_total",
				Help: "Total number of verified payments",
			},
			[]string{"rail", "service"},
		),
		PaymentsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_payments_failed_total",
				Help: "Total number of rejected or missing payments",
			},
			[]string{"rail", "service", "reason"},
		),
		PaymentAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_payment_amount_base_units_total",
				Help: "Total verified payment amount in stablecoin base units",
			},
			[]string{"rail", "service"},
		),
		PaymentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_payment_verify_duration_seconds",
				Help:    "Time to verify a payment (receipt fetch or facilitator round trip)",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"rail", "service"},
		),
		SettlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_settlement_duration_seconds",
				Help:    "Time from verified payment to facilitator settlement completing",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"rail"},
		),

		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_calls_total",
				Help: "Total number of upstream dispatcher calls",
			},
			[]string{"service"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_call_duration_seconds",
				Help:    "Duration of upstream dispatcher calls",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"service"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_errors_total",
				Help: "Total number of upstream dispatcher errors, by category",
			},
			[]string{"service", "error_type"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_hits_total",
				Help: "Total number of requests rejected by the rate limiter, by tier",
			},
			[]string{"tier"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_db_query_duration_seconds",
				Help:    "Ledger query duration",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_db_connections_active",
				Help: "Number of active database connections",
			},
		),
	}
}

// ObservePayment records a payment attempt and its outcome.
func (m *Metrics) ObservePayment(rail, service string, success bool, duration time.Duration, amountBaseUnits int64) {
	m.PaymentsTotal.WithLabelValues(rail, service).Inc()
	if success {
		m.PaymentsSuccessTotal.WithLabelValues(rail, service).Inc()
		m.PaymentAmountTotal.WithLabelValues(rail, service).Add(float64(amountBaseUnits))
	}
	m.PaymentDuration.WithLabelValues(rail, service).Observe(duration.Seconds())
}

// ObservePaymentFailure records a rejected or missing payment.
func (m *Metrics) ObservePaymentFailure(rail, service, reason string) {
	m.PaymentsFailedTotal.WithLabelValues(rail, service, reason).Inc()
}

// ObserveSettlement records facilitator settlement time for a rail.
func (m *Metrics) ObserveSettlement(rail string, duration time.Duration) {
	m.SettlementDuration.WithLabelValues(rail).Observe(duration.Seconds())
}

// ObserveUpstreamCall records a dispatcher call to a cataloged service's
// upstream, categorizing the error when one occurs.
func (m *Metrics) ObserveUpstreamCall(service string, duration time.Duration, err error) {
	m.RPCCallsTotal.WithLabelValues(service).Inc()
	m.RPCCallDuration.WithLabelValues(service).Observe(duration.Seconds())

	if err != nil {
		m.RPCErrorsTotal.WithLabelValues(service, classifyError(err.Error())).Inc()
	}
}

// ObserveRateLimit records a rejected request for a given tier.
func (m *Metrics) ObserveRateLimit(tier string) {
	m.RateLimitHitsTotal.WithLabelValues(tier).Inc()
}

// ObserveDBQuery records a ledger query's duration.
func (m *Metrics) ObserveDBQuery(operation string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func classifyError(errStr string) string {
	lower := strings.ToLower(errStr)
	switch {
	case strings.Contains(lower, "timeout"):
		return "timeout"
	case strings.Contains(lower, "rate limit"):
		return "rate_limit"
	case strings.Contains(lower, "connection"):
		return "connection"
	case strings.Contains(lower, "not found"):
		return "not_found"
	default:
		return "other"
	}
}
