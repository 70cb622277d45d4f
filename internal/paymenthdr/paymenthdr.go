// Package paymenthdr decodes and classifies the client-presented payment
// header (spec §4.K): base64-JSON carrying the accepted rail and an
// opaque per-rail payload.
package paymenthdr

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/meterly/gateway/internal/chainreg"
)

// Rail classifies a decoded payment header by its accepted.caip2 field.
type Rail string

const (
	RailFast    Rail = "fast"
	RailSlowA   Rail = "slow-A"
	RailSlowB   Rail = "slow-B"
	RailUnknown Rail = "unknown"
)

// Accepted mirrors the accept entry a client has chosen to pay with.
type Accepted struct {
	Scheme string `json:"scheme"`
	CAIP2  string `json:"caip2"`
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
	PayTo  string `json:"payTo"`
}

// Header is the decoded structure carried by the payment-signature or
// x-payment header.
type Header struct {
	X402Version int             `json:"x402Version"`
	Accepted    Accepted        `json:"accepted"`
	Payload     json.RawMessage `json:"payload"`
}

var headerNames = []string{"payment-signature", "x-payment"}

// Extract reads either the payment-signature or x-payment header
// (case-insensitive, either is acceptable), base64-decodes then
// JSON-parses it. A missing header or any malformed data is treated as
// "no payment header present" (ok=false), per spec §4.K — the 402
// advertiser handles that case, not an error path here.
func Extract(r *http.Request) (Header, bool) {
	var raw string
	for _, name := range headerNames {
		if v := r.Header.Get(name); v != "" {
			raw = v
			break
		}
	}
	if raw == "" {
		return Header{}, false
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Header{}, false
	}

	var h Header
	if err := json.Unmarshal(decoded, &h); err != nil {
		return Header{}, false
	}
	return h, true
}

// Classify maps a decoded header's accepted.caip2 to one of the three
// known rails, or RailUnknown for anything else.
func Classify(h Header) Rail {
	switch h.Accepted.CAIP2 {
	case chainreg.FastCAIP2:
		return RailFast
	case chainreg.SlowACAIP2:
		return RailSlowA
	case chainreg.SlowBCAIP2:
		return RailSlowB
	default:
		return RailUnknown
	}
}
