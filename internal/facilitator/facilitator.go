// Package facilitator implements the gateway's two facilitator clients
// (spec §4.H, §4.I) behind one shared contract: get_supported, verify,
// and settle.
package facilitator

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/meterly/gateway/internal/verifyresult"
)

// Requirement is the subset of an Accept Entry (spec §3) a facilitator
// needs to verify and settle a payment: the expected amount, recipient,
// and chain.
type Requirement struct {
	CAIP2             string
	AmountBaseUnits   *big.Int
	PayTo             string
	StablecoinAddress string
}

// SupportedManifest advertises one rail a facilitator can verify/settle.
type SupportedManifest struct {
	Scheme string            `json:"scheme"`
	CAIP2  string            `json:"caip2"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// SettleResult is the outcome of a settle call.
type SettleResult struct {
	Success     bool
	Transaction string
	CAIP2       string
}

// Client is the facilitator contract shared by the fast rail (H) and the
// external permit-based rails (I).
type Client interface {
	GetSupported() SupportedManifest
	Verify(ctx context.Context, payload json.RawMessage, req Requirement) verifyresult.Result
	Settle(ctx context.Context, payload json.RawMessage, req Requirement) (SettleResult, error)
}
