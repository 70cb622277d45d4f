package httpgateway

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meterly/gateway/internal/errors"
	"github.com/meterly/gateway/internal/facilitator"
	"github.com/meterly/gateway/internal/ledger"
)

// StatsSource is the subset of *ledger.Ledger the facilitator status
// endpoint needs: an approximate count of recorded replay proofs.
type StatsSource interface {
	Stats(ctx context.Context) (ledger.Stats, error)
}

// FacilitatorRail binds a name (used in the URL path) to the client and
// payment-requirement fields a facilitator HTTP surface needs per spec
// §6: "/facilitator/<rail>/{supported,verify,settle,status}".
type FacilitatorRail struct {
	Name              string
	Client            facilitator.Client
	PayTo             string
	StablecoinAddress string
}

// mountFacilitatorAPI registers the public facilitator HTTP surface for
// every configured rail, so external clients (or this gateway's own
// fast-rail payers) can verify/settle without going through a priced
// route.
func (a *Assembler) mountFacilitatorAPI(r chi.Router) {
	for _, rail := range a.FacilitatorRails {
		rail := rail
		prefix := "/facilitator/" + rail.Name
		r.Get(prefix+"/supported", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, rail.Client.GetSupported())
		})
		r.Post(prefix+"/verify", facilitatorVerifyHandler(rail))
		r.Post(prefix+"/settle", facilitatorSettleHandler(rail))
		r.Get(prefix+"/status", facilitatorStatusHandler(rail, a.Stats))
	}
}

type verifyRequest struct {
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements struct {
		CAIP2           string `json:"caip2"`
		AmountBaseUnits string `json:"amountBaseUnits"`
	} `json:"paymentRequirements"`
}

func facilitatorVerifyHandler(rail FacilitatorRail) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			errors.WriteSimpleError(w, errors.BadRequest, "failed to read request body")
			return
		}
		var req verifyRequest
		if err := json.Unmarshal(body, &req); err != nil {
			errors.WriteSimpleError(w, errors.BadRequest, "malformed verify request")
			return
		}
		amount, ok := new(big.Int).SetString(req.PaymentRequirements.AmountBaseUnits, 10)
		if !ok {
			errors.WriteSimpleError(w, errors.BadRequest, "malformed amountBaseUnits")
			return
		}
		result := rail.Client.Verify(r.Context(), req.PaymentPayload, facilitator.Requirement{
			CAIP2:             req.PaymentRequirements.CAIP2,
			AmountBaseUnits:   amount,
			PayTo:             rail.PayTo,
			StablecoinAddress: rail.StablecoinAddress,
		})
		if !result.OK {
			writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"isValid":        false,
				"invalidReason":  result.Reason,
				"invalidMessage": string(result.Reason),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"isValid": true,
			"payer":   result.Payer,
		})
	}
}

func facilitatorSettleHandler(rail FacilitatorRail) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			errors.WriteSimpleError(w, errors.BadRequest, "failed to read request body")
			return
		}
		var req verifyRequest
		if err := json.Unmarshal(body, &req); err != nil {
			errors.WriteSimpleError(w, errors.BadRequest, "malformed settle request")
			return
		}
		amount, _ := new(big.Int).SetString(req.PaymentRequirements.AmountBaseUnits, 10)
		result, err := rail.Client.Settle(r.Context(), req.PaymentPayload, facilitator.Requirement{
			CAIP2:             req.PaymentRequirements.CAIP2,
			AmountBaseUnits:   amount,
			PayTo:             rail.PayTo,
			StablecoinAddress: rail.StablecoinAddress,
		})
		if err != nil {
			errors.WriteUpstreamUnavailable(w, "settlement failed", 0, 2)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":     result.Success,
			"transaction": result.Transaction,
			"network":     result.CAIP2,
		})
	}
}

func facilitatorStatusHandler(rail FacilitatorRail, stats StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manifest := rail.Client.GetSupported()
		body := map[string]interface{}{
			"network":    manifest.CAIP2,
			"connected":  true,
			"stablecoin": rail.StablecoinAddress,
		}
		if stats != nil {
			if s, err := stats.Stats(r.Context()); err == nil {
				body["usedTxHashes"] = s.ApproxTotalUsedProofs
			}
		}
		writeJSON(w, http.StatusOK, body)
	}
}
