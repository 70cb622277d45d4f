package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}
	if m.PaymentsTotal == nil {
		t.Error("PaymentsTotal should be initialized")
	}
	if m.PaymentsSuccessTotal == nil {
		t.Error("PaymentsSuccessTotal should be initialized")
	}
	if m.PaymentsFailedTotal == nil {
		t.Error("PaymentsFailedTotal should be initialized")
	}
	if m.PaymentAmountTotal == nil {
		t.Error("PaymentAmountTotal should be initialized")
	}
	if m.PaymentDuration == nil {
		t.Error("PaymentDuration should be initialized")
	}
	if m.SettlementDuration == nil {
		t.Error("SettlementDuration should be initialized")
	}
	if m.RPCCallsTotal == nil {
		t.Error("RPCCallsTotal should be initialized")
	}
	if m.RPCCallDuration == nil {
		t.Error("RPCCallDuration should be initialized")
	}
	if m.RPCErrorsTotal == nil {
		t.Error("RPCErrorsTotal should be initialized")
	}
}

func TestObservePayment(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObservePayment("fast", "weather", true, 1*time.Second, 100)

	count := promtest.ToFloat64(m.PaymentsTotal.WithLabelValues("fast", "weather"))
	if count != 1 {
		t.Errorf("expected 1 payment attempt, got %.0f", count)
	}

	successCount := promtest.ToFloat64(m.PaymentsSuccessTotal.WithLabelValues("fast", "weather"))
	if successCount != 1 {
		t.Errorf("expected 1 successful payment, got %.0f", successCount)
	}

	amount := promtest.ToFloat64(m.PaymentAmountTotal.WithLabelValues("fast", "weather"))
	if amount != 100 {
		t.Errorf("expected payment amount 100 base units, got %.0f", amount)
	}
}

func TestObservePaymentFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObservePaymentFailure("fast", "weather", "missing_proof")

	count := promtest.ToFloat64(m.PaymentsFailedTotal.WithLabelValues("fast", "weather", "missing_proof"))
	if count != 1 {
		t.Errorf("expected 1 failed payment, got %.0f", count)
	}
}

func TestObserveSettlement(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveSettlement("slow-a", 5*time.Second)

	if m.SettlementDuration == nil {
		t.Error("SettlementDuration should be initialized")
	}
}

func TestObserveUpstreamCall(t *testing.T) {
	tests := []struct {
		name       string
		service    string
		duration   time.Duration
		err        error
		wantCalls  float64
		wantErrors float64
	}{
		{
			name:      "successful call",
			service:   "weather",
			duration:  100 * time.Millisecond,
			err:       nil,
			wantCalls: 1,
		},
		{
			name:       "failed call with connection error",
			service:    "weather",
			duration:   100 * time.Millisecond,
			err:        &testError{msg: "connection reset"},
			wantCalls:  1,
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := prometheus.NewRegistry()
			m := New(registry)

			m.ObserveUpstreamCall(tt.service, tt.duration, tt.err)

			calls := promtest.ToFloat64(m.RPCCallsTotal.WithLabelValues(tt.service))
			if calls != tt.wantCalls {
				t.Errorf("expected %.0f calls, got %.0f", tt.wantCalls, calls)
			}

			if tt.err != nil {
				errors := promtest.ToFloat64(m.RPCErrorsTotal.WithLabelValues(tt.service, "connection"))
				if errors != tt.wantErrors {
					t.Errorf("expected %.0f errors, got %.0f", tt.wantErrors, errors)
				}
			}
		})
	}
}

func TestObserveRateLimit(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRateLimit("paid")

	hits := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("paid"))
	if hits != 1 {
		t.Errorf("expected 1 rate limit hit, got %.0f", hits)
	}
}

func TestObserveDBQuery(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveDBQuery("record_proof", 50*time.Millisecond)

	if m.DBQueryDuration == nil {
		t.Error("DBQueryDuration should be initialized")
	}
}

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
