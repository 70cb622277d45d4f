package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/meterly/gateway/internal/config"
	"github.com/meterly/gateway/internal/metrics"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		path string
		want Tier
	}{
		{"/v1/llm/chat", TierExpensive},
		{"/v1/image/generate", TierExpensive},
		{"/v1/crypto/price", TierPaid},
		{"/catalog", TierFree},
		{"/healthz", TierFree},
	}
	for _, c := range cases {
		if got := Classify(c.path); got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestMiddleware_AllowsUnderLimit(t *testing.T) {
	cfg := config.RateLimitConfig{
		Free:      config.TierLimit{Limit: 5, Window: config.Duration{Duration: time.Minute}},
		Paid:      config.TierLimit{Limit: 5, Window: config.Duration{Duration: time.Minute}},
		Expensive: config.TierLimit{Limit: 5, Window: config.Duration{Duration: time.Minute}},
	}
	mw := Middleware(cfg, nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := mw(next)

	r := httptest.NewRequest(http.MethodGet, "/v1/crypto/price", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestMiddleware_RejectsOverLimit(t *testing.T) {
	cfg := config.RateLimitConfig{
		Paid: config.TierLimit{Limit: 1, Window: config.Duration{Duration: time.Minute}},
	}
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	mw := Middleware(cfg, m)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := mw(next)

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodGet, "/v1/crypto/price", nil)
		r.RemoteAddr = "10.0.0.2:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if i == 1 && w.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429 on second request, got %d", w.Code)
		}
	}

	hits := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("paid"))
	if hits != 1 {
		t.Errorf("expected 1 recorded rate-limit hit, got %.0f", hits)
	}
}

func TestMiddleware_ZeroLimitDisablesTier(t *testing.T) {
	cfg := config.RateLimitConfig{}
	mw := Middleware(cfg, nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := mw(next)

	for i := 0; i < 10; i++ {
		r := httptest.NewRequest(http.MethodGet, "/v1/crypto/price", nil)
		r.RemoteAddr = "10.0.0.3:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected all requests to pass with zero-limit tier disabled, got %d on attempt %d", w.Code, i)
		}
	}
}

func TestMiddleware_SeparateWalletBuckets(t *testing.T) {
	cfg := config.RateLimitConfig{
		Paid: config.TierLimit{Limit: 1, Window: config.Duration{Duration: time.Minute}},
	}
	mw := Middleware(cfg, nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := mw(next)

	r1 := httptest.NewRequest(http.MethodGet, "/v1/crypto/price", nil)
	r1.Header.Set("X-Wallet", "wallet-a")
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, r1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200 for wallet-a, got %d", w1.Code)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/v1/crypto/price", nil)
	r2.Header.Set("X-Wallet", "wallet-b")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, r2)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 for separate wallet-b, got %d", w2.Code)
	}
}
