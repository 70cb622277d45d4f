package facilitator

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meterly/gateway/internal/verifyresult"
)

func testRequirement() Requirement {
	return Requirement{
		CAIP2:             "eip155:1",
		AmountBaseUnits:   big.NewInt(1000),
		PayTo:             "0xrecipient",
		StablecoinAddress: "0xusdc",
	}
}

func TestRemote_Verify_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var body verifyRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Requirement.Amount != "1000" || body.Requirement.PayTo != "0xrecipient" {
			t.Fatalf("unexpected requirement wire: %+v", body.Requirement)
		}
		json.NewEncoder(w).Encode(verifyResponseBody{IsValid: true, Payer: "0xpayer"})
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "eip155:1", "exact", nil, &http.Client{Timeout: 5 * time.Second}, nil)
	result := r.Verify(context.Background(), json.RawMessage(`{"signature":"abc"}`), testRequirement())
	if !result.OK || result.Payer != "0xpayer" {
		t.Fatalf("expected valid payment, got %+v", result)
	}
}

func TestRemote_Verify_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(verifyResponseBody{IsValid: false, InvalidReason: "expired"})
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "eip155:1", "exact", nil, &http.Client{Timeout: 5 * time.Second}, nil)
	result := r.Verify(context.Background(), json.RawMessage(`{}`), testRequirement())
	if result.OK || result.Reason != verifyresult.ReasonFacilitatorRejected {
		t.Fatalf("expected facilitator_rejected, got %+v", result)
	}
}

func TestRemote_Verify_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "eip155:1", "exact", nil, &http.Client{Timeout: 5 * time.Second}, nil)
	result := r.Verify(context.Background(), json.RawMessage(`{}`), testRequirement())
	if result.OK || result.Reason != verifyresult.ReasonUpstreamUnavailable {
		t.Fatalf("expected upstream_unavailable, got %+v", result)
	}
}

func TestRemote_Verify_Unreachable(t *testing.T) {
	r := NewRemote("http://127.0.0.1:1", "eip155:1", "exact", nil, &http.Client{Timeout: 500 * time.Millisecond}, nil)
	result := r.Verify(context.Background(), json.RawMessage(`{}`), testRequirement())
	if result.OK || result.Reason != verifyresult.ReasonUpstreamUnavailable {
		t.Fatalf("expected upstream_unavailable, got %+v", result)
	}
}

func TestRemote_Settle_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settle" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(settleResponseBody{Success: true, Transaction: "0xsettled"})
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "eip155:1", "exact", nil, &http.Client{Timeout: 5 * time.Second}, nil)
	result, err := r.Settle(context.Background(), json.RawMessage(`{}`), testRequirement())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Transaction != "0xsettled" || result.CAIP2 != "eip155:1" {
		t.Fatalf("unexpected settle result: %+v", result)
	}
}

func TestRemote_Settle_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(settleResponseBody{Success: false, ErrorReason: "insufficient_funds"})
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "eip155:1", "exact", nil, &http.Client{Timeout: 5 * time.Second}, nil)
	_, err := r.Settle(context.Background(), json.RawMessage(`{}`), testRequirement())
	if err == nil {
		t.Fatal("expected error for rejected settlement")
	}
}

func TestRemote_GetSupported(t *testing.T) {
	r := NewRemote("http://example.invalid", "eip155:2", "permit", map[string]string{"name": "X"}, &http.Client{}, nil)
	m := r.GetSupported()
	if m.CAIP2 != "eip155:2" || m.Scheme != "permit" || m.Extra["name"] != "X" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}
