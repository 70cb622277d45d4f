package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/meterly/gateway/internal/circuitbreaker"
	"github.com/meterly/gateway/internal/verifyresult"
)

// Remote implements the facilitator contract (I) for an external
// permit-based verification service. It is a strict wire proxy: it does
// not interpret rail-specific payload semantics, it only forwards the
// payload and requirement and classifies the response.
type Remote struct {
	url      string
	caip2    string
	scheme   string
	extra    map[string]string
	client   *http.Client
	breakers *circuitbreaker.Manager
}

// NewRemote constructs a Remote facilitator pointed at an external
// facilitator base URL. breakers may be nil, in which case calls run
// unprotected.
func NewRemote(url, caip2, scheme string, extra map[string]string, client *http.Client, breakers *circuitbreaker.Manager) *Remote {
	return &Remote{
		url:      url,
		caip2:    caip2,
		scheme:   scheme,
		extra:    extra,
		client:   client,
		breakers: breakers,
	}
}

// GetSupported returns the manifest for the rail this Remote was
// configured for. Unlike the fast rail, this is locally static rather
// than queried from the external service: the gateway decides which
// rails it offers, the facilitator only verifies and settles them.
func (r *Remote) GetSupported() SupportedManifest {
	return SupportedManifest{Scheme: r.scheme, CAIP2: r.caip2, Extra: r.extra}
}

type verifyRequestBody struct {
	X402Version int             `json:"x402Version"`
	Payload     json.RawMessage `json:"paymentPayload"`
	Requirement requirementWire `json:"paymentRequirements"`
}

type requirementWire struct {
	CAIP2  string `json:"caip2"`
	Amount string `json:"amount"`
	PayTo  string `json:"payTo"`
	Asset  string `json:"asset"`
}

type verifyResponseBody struct {
	IsValid        bool   `json:"isValid"`
	Payer          string `json:"payer"`
	InvalidReason  string `json:"invalidReason"`
	InvalidMessage string `json:"invalidMessage"`
}

// Verify forwards payload and req to the external facilitator's /verify
// endpoint and translates its response into a tagged result. Any
// transport failure or non-2xx response is reported as
// upstream_unavailable; an explicit isValid=false is facilitator_rejected.
func (r *Remote) Verify(ctx context.Context, payload json.RawMessage, req Requirement) verifyresult.Result {
	var resp verifyResponseBody
	if err := r.post(ctx, "/verify", payload, req, &resp); err != nil {
		return verifyresult.Invalid(verifyresult.ReasonUpstreamUnavailable)
	}
	if !resp.IsValid {
		return verifyresult.Invalid(verifyresult.ReasonFacilitatorRejected)
	}
	return verifyresult.Valid(resp.Payer)
}

type settleResponseBody struct {
	Success      bool   `json:"success"`
	Transaction  string `json:"transaction"`
	ErrorReason  string `json:"errorReason"`
	ErrorMessage string `json:"errorMessage"`
}

// Settle forwards payload and req to the external facilitator's /settle
// endpoint.
func (r *Remote) Settle(ctx context.Context, payload json.RawMessage, req Requirement) (SettleResult, error) {
	var resp settleResponseBody
	if err := r.post(ctx, "/settle", payload, req, &resp); err != nil {
		return SettleResult{}, fmt.Errorf("facilitator settle: %w", err)
	}
	if !resp.Success {
		reason := resp.ErrorReason
		if resp.ErrorMessage != "" {
			reason += ": " + resp.ErrorMessage
		}
		return SettleResult{}, fmt.Errorf("facilitator settle rejected: %s", reason)
	}
	return SettleResult{Success: true, Transaction: resp.Transaction, CAIP2: req.CAIP2}, nil
}

// post runs the external facilitator call behind the facilitator circuit
// breaker, for bulkhead isolation from the fast-rail RPC and
// upstream-dispatcher calls.
func (r *Remote) post(ctx context.Context, path string, payload json.RawMessage, req Requirement, dst interface{}) error {
	if r.breakers == nil {
		return r.doPost(ctx, path, payload, req, dst)
	}
	_, err := r.breakers.Execute(circuitbreaker.ServiceFacilitator, func() (interface{}, error) {
		return nil, r.doPost(ctx, path, payload, req, dst)
	})
	return err
}

func (r *Remote) doPost(ctx context.Context, path string, payload json.RawMessage, req Requirement, dst interface{}) error {
	amount := "0"
	if req.AmountBaseUnits != nil {
		amount = req.AmountBaseUnits.String()
	}
	body := verifyRequestBody{
		X402Version: 2,
		Payload:     payload,
		Requirement: requirementWire{
			CAIP2:  req.CAIP2,
			Amount: amount,
			PayTo:  req.PayTo,
			Asset:  req.StablecoinAddress,
		},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("facilitator: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("facilitator: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("facilitator: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("facilitator: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("facilitator returned %d: %s", resp.StatusCode, respBody)
	}

	return json.Unmarshal(respBody, dst)
}
