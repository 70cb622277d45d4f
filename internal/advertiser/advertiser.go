// Package advertiser builds the rail-advertising 402 response for any
// unpaid paid route (spec §4.J): a PAYMENT-REQUIRED header carrying the
// base64-encoded accept list, and an empty JSON body.
package advertiser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/meterly/gateway/internal/chainreg"
	"github.com/meterly/gateway/internal/priceunits"
	"github.com/meterly/gateway/internal/svcreg"
)

// HeaderName is the response header carrying the base64-encoded 402 body.
const HeaderName = "PAYMENT-REQUIRED"

// x402Version is the protocol version advertised in every 402 body.
const x402Version = 2

// RailInfo is the recipient-side configuration for one settlement rail:
// the chain-specific fields an Accept Entry needs beyond what the chain
// registry and service price already supply.
type RailInfo struct {
	CAIP2             string
	PayTo             string
	MaxTimeoutSeconds int
	Extra             map[string]string // e.g. EIP-712 domain name/version, fee payer
}

// AcceptEntry is one rail's payment requirement for a service (spec §3).
// price is intentionally omitted so a client's echoed-back accept entry
// can be compared for strict equality against what the server derives.
type AcceptEntry struct {
	Scheme            string            `json:"scheme"`
	CAIP2             string            `json:"caip2"`
	StablecoinAddress string            `json:"stablecoinAddress"`
	AmountBaseUnits   string            `json:"amountBaseUnits"`
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// Resource describes the paid route a 402 response is advertising for.
type Resource struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// Body is the full JSON payload carried (base64-encoded) in the
// PAYMENT-REQUIRED header.
type Body struct {
	X402Version int           `json:"x402Version"`
	Error       string        `json:"error"`
	Resource    Resource      `json:"resource"`
	Accepts     []AcceptEntry `json:"accepts"`
}

// Advertiser builds 402 bodies for matched services across the
// configured rails, in a stable order.
type Advertiser struct {
	rails []RailInfo
}

// New constructs an Advertiser over the given rails. Order is preserved
// in every accepts array it builds.
func New(rails []RailInfo) *Advertiser {
	return &Advertiser{rails: rails}
}

// Build derives the 402 body for svc: one accept entry per configured
// rail whose chain is registered, each with amount_base_units computed
// via exact string arithmetic (spec §4.C) against that rail's decimals.
func (a *Advertiser) Build(svc svcreg.Service, resourceURL string) (Body, error) {
	accepts := make([]AcceptEntry, 0, len(a.rails))
	for _, rail := range a.rails {
		chain, ok := chainreg.Lookup(rail.CAIP2)
		if !ok {
			continue
		}
		amount, err := priceunits.ToBaseUnits(svc.Price, chain.Stablecoin.Decimals)
		if err != nil {
			return Body{}, fmt.Errorf("advertiser: service %s: %w", svc.ID, err)
		}
		accepts = append(accepts, AcceptEntry{
			Scheme:            "exact",
			CAIP2:             rail.CAIP2,
			StablecoinAddress: chain.Stablecoin.ContractAddress,
			AmountBaseUnits:   amount.String(),
			PayTo:             rail.PayTo,
			MaxTimeoutSeconds: rail.MaxTimeoutSeconds,
			Extra:             rail.Extra,
		})
	}

	return Body{
		X402Version: x402Version,
		Error:       "Payment required",
		Resource: Resource{
			URL:         resourceURL,
			Description: svc.Description,
			MimeType:    svc.MimeType,
		},
		Accepts: accepts,
	}, nil
}

// EncodeHeader base64-encodes the JSON-marshaled body for the
// PAYMENT-REQUIRED header.
func EncodeHeader(body Body) (string, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("advertiser: encode body: %w", err)
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}

// Write sends the full 402 response: header, status, and an empty JSON
// body, per spec §4.J.
func Write(w http.ResponseWriter, body Body) error {
	header, err := EncodeHeader(body)
	if err != nil {
		return err
	}
	w.Header().Set(HeaderName, header)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_, err = w.Write([]byte("{}"))
	return err
}
