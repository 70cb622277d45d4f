package facilitator

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/meterly/gateway/internal/verifyresult"
)

// FastRail implements the facilitator contract (H) for the directly
// verified rail: verify delegates to the on-chain verifier (G), and
// settle is a no-op because the transfer already happened on-chain.
type FastRail struct {
	caip2         string
	permitName    string
	permitVersion string
	verifyTx      func(ctx context.Context, txHash, expectedRecipient string, expectedAmount *big.Int) verifyresult.Result
}

// NewFastRail constructs a FastRail facilitator. verifyTx is bound to an
// *onchain.Verifier's Verify method; FastRail takes it as a function
// value so it can be tested without a live chain.
func NewFastRail(caip2, permitName, permitVersion string, verifyTx func(ctx context.Context, txHash, expectedRecipient string, expectedAmount *big.Int) verifyresult.Result) *FastRail {
	return &FastRail{
		caip2:         caip2,
		permitName:    permitName,
		permitVersion: permitVersion,
		verifyTx:      verifyTx,
	}
}

// GetSupported returns the static manifest for the fast rail (spec §4.H).
func (f *FastRail) GetSupported() SupportedManifest {
	return SupportedManifest{
		Scheme: "exact",
		CAIP2:  f.caip2,
		Extra: map[string]string{
			"name":    f.permitName,
			"version": f.permitVersion,
		},
	}
}

type fastRailPayload struct {
	TxHash string `json:"txHash"`
}

// Verify delegates to the on-chain verifier (§4.G) using payload.txHash,
// requirement.amount, and requirement.pay_to.
func (f *FastRail) Verify(ctx context.Context, payload json.RawMessage, req Requirement) verifyresult.Result {
	var p fastRailPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.TxHash == "" {
		return verifyresult.Invalid(verifyresult.ReasonMalformedProof)
	}
	return f.verifyTx(ctx, p.TxHash, req.PayTo, req.AmountBaseUnits)
}

// Settle is a no-op on the fast rail: the transfer already occurred
// on-chain by the time a valid tx_hash exists.
func (f *FastRail) Settle(ctx context.Context, payload json.RawMessage, req Requirement) (SettleResult, error) {
	var p fastRailPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return SettleResult{}, nil
	}
	return SettleResult{Success: true, Transaction: p.TxHash, CAIP2: f.caip2}, nil
}
