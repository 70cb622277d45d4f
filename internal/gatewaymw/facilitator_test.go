package gatewaymw

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/meterly/gateway/internal/chainreg"
	"github.com/meterly/gateway/internal/facilitator"
	"github.com/meterly/gateway/internal/metrics"
	"github.com/meterly/gateway/internal/paymenthdr"
	"github.com/meterly/gateway/internal/verifyresult"
)

type fakeFacilitatorClient struct {
	verifyResult  verifyresult.Result
	settleResult  facilitator.SettleResult
	settleErr     error
	settleCalls   int
	verifyPayload json.RawMessage
}

func (f *fakeFacilitatorClient) GetSupported() facilitator.SupportedManifest {
	return facilitator.SupportedManifest{}
}

func (f *fakeFacilitatorClient) Verify(ctx context.Context, payload json.RawMessage, req facilitator.Requirement) verifyresult.Result {
	f.verifyPayload = payload
	return f.verifyResult
}

func (f *fakeFacilitatorClient) Settle(ctx context.Context, payload json.RawMessage, req facilitator.Requirement) (facilitator.SettleResult, error) {
	f.settleCalls++
	return f.settleResult, f.settleErr
}

func setupSlowAChain(t *testing.T) {
	t.Helper()
	chainreg.Reset()
	if err := chainreg.Register(chainreg.Chain{
		ChainID:    8453,
		CAIP2:      chainreg.SlowACAIP2,
		Stablecoin: chainreg.Stablecoin{Symbol: "USDC", ContractAddress: "0xslowa", Decimals: 6},
	}); err != nil {
		t.Fatal(err)
	}
}

func slowPaymentHeader(t *testing.T, caip2 string) string {
	t.Helper()
	h := paymenthdr.Header{
		X402Version: 2,
		Accepted:    paymenthdr.Accepted{CAIP2: caip2},
		Payload:     json.RawMessage(`{"permit":"signed-blob"}`),
	}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func TestFacilitator_PassesThroughIfAlreadyVerified(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	mw := Facilitator(testRegistry(t), RailClients{}, nil, zerolog.Nop(), nil)

	r := httptest.NewRequest(http.MethodPost, "/v1/image", nil)
	r = withPayment(r, PaymentContext{Payer: "0xalready", Method: "direct"})
	w := httptest.NewRecorder()
	mw(next).ServeHTTP(w, r)

	if !called {
		t.Fatal("expected pass-through when already verified")
	}
}

func TestFacilitator_PassesThroughForUnknownRail(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	mw := Facilitator(testRegistry(t), RailClients{}, nil, zerolog.Nop(), nil)

	r := httptest.NewRequest(http.MethodPost, "/v1/image", nil)
	r.Header.Set("x-payment", slowPaymentHeader(t, "eip155:999"))
	w := httptest.NewRecorder()
	mw(next).ServeHTTP(w, r)

	if !called {
		t.Fatal("expected pass-through for unknown rail")
	}
}

func TestFacilitator_VerifyRejection(t *testing.T) {
	setupSlowAChain(t)
	defer chainreg.Reset()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next should not be called")
	})
	client := &fakeFacilitatorClient{verifyResult: verifyresult.Invalid(verifyresult.ReasonFacilitatorRejected)}
	mw := Facilitator(testRegistry(t), RailClients{SlowA: NewRailBinding(client, "0xrecipient", "0xslowa")}, nil, zerolog.Nop(), nil)

	r := httptest.NewRequest(http.MethodPost, "/v1/image", nil)
	r.Header.Set("x-payment", slowPaymentHeader(t, chainreg.SlowACAIP2))
	w := httptest.NewRecorder()
	mw(next).ServeHTTP(w, r)

	if w.Code != 402 {
		t.Fatalf("expected 402, got %d", w.Code)
	}
}

func TestFacilitator_SuccessSettlesAndLogs(t *testing.T) {
	setupSlowAChain(t)
	defer chainreg.Reset()

	var gotPayment PaymentContext
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPayment, _ = PaymentFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	client := &fakeFacilitatorClient{
		verifyResult: verifyresult.Valid("0xpayer"),
		settleResult: facilitator.SettleResult{Success: true},
	}
	logger := &recordingLogger{}
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	mw := Facilitator(testRegistry(t), RailClients{SlowA: NewRailBinding(client, "0xrecipient", "0xslowa")}, logger, zerolog.Nop(), m)

	r := httptest.NewRequest(http.MethodPost, "/v1/image", nil)
	r.Header.Set("x-payment", slowPaymentHeader(t, chainreg.SlowACAIP2))
	w := httptest.NewRecorder()
	mw(next).ServeHTTP(w, r)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotPayment.Payer != "0xpayer" || gotPayment.Method != "facilitator" {
		t.Fatalf("unexpected payment context: %+v", gotPayment)
	}
	if client.settleCalls != 1 {
		t.Fatalf("expected settle to be called once, got %d", client.settleCalls)
	}
	if len(logger.entries) != 1 || logger.entries[0].ServiceID != "image-gen" {
		t.Fatalf("expected one log entry for image-gen, got %+v", logger.entries)
	}
	if n := promtest.CollectAndCount(m.SettlementDuration); n != 1 {
		t.Errorf("expected 1 recorded settlement observation, got %d", n)
	}
}

func TestFacilitator_SettlementFailureDoesNotFailResponse(t *testing.T) {
	setupSlowAChain(t)
	defer chainreg.Reset()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	client := &fakeFacilitatorClient{
		verifyResult: verifyresult.Valid("0xpayer"),
		settleResult: facilitator.SettleResult{Success: false},
	}
	mw := Facilitator(testRegistry(t), RailClients{SlowA: NewRailBinding(client, "0xrecipient", "0xslowa")}, nil, zerolog.Nop(), nil)

	r := httptest.NewRequest(http.MethodPost, "/v1/image", nil)
	r.Header.Set("x-payment", slowPaymentHeader(t, chainreg.SlowACAIP2))
	w := httptest.NewRecorder()
	mw(next).ServeHTTP(w, r)

	if w.Code != 200 {
		t.Fatalf("expected 200 despite settlement failure, got %d", w.Code)
	}
}
