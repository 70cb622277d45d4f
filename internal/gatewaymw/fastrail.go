package gatewaymw

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meterly/gateway/internal/chainreg"
	"github.com/meterly/gateway/internal/errors"
	"github.com/meterly/gateway/internal/ledger"
	"github.com/meterly/gateway/internal/paymenthdr"
	"github.com/meterly/gateway/internal/priceunits"
	"github.com/meterly/gateway/internal/svcreg"
	"github.com/meterly/gateway/internal/verifyresult"
)

// FastVerifyFunc is the shape of *onchain.Verifier.Verify, taken as a
// function value so the middleware can be tested without a live chain.
type FastVerifyFunc func(ctx context.Context, txHash, expectedRecipient string, expectedAmount *big.Int) verifyresult.Result

// RequestLogger is the subset of *ledger.Ledger the middlewares need to
// enqueue their payment-confirmation log rows.
type RequestLogger interface {
	LogRequest(entry ledger.RequestLogEntry)
}

type fastTxPayload struct {
	TxHash string `json:"txHash"`
}

// FastRail returns the fast-rail payment middleware (spec §4.L). It runs
// before the facilitator middleware and intercepts only requests whose
// presented payment header targets the fast rail; any other request
// passes through untouched.
func FastRail(reg *svcreg.Registry, payTo string, verify FastVerifyFunc, log RequestLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header, ok := paymenthdr.Extract(r)
			if !ok || paymenthdr.Classify(header) != paymenthdr.RailFast {
				next.ServeHTTP(w, r)
				return
			}

			svc, ok := reg.Match(r.Method, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			chain, ok := chainreg.Lookup(chainreg.FastCAIP2)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			expectedAmount, err := priceunits.ToBaseUnits(svc.Price, chain.Stablecoin.Decimals)
			if err != nil {
				errors.WriteInternal(w)
				return
			}

			var payload fastTxPayload
			if len(header.Payload) == 0 || json.Unmarshal(header.Payload, &payload) != nil ||
				!strings.HasPrefix(payload.TxHash, "0x") {
				writeNetworkError(w, errors.PaymentMissingProof, "MegaETH-style payments require txHash in payload", chainreg.FastCAIP2)
				return
			}

			start := time.Now()
			result := verify(r.Context(), payload.TxHash, payTo, expectedAmount)
			if !result.OK {
				errors.WritePaymentRejected(w, "Payment verification failed", string(result.Reason), chainreg.FastCAIP2)
				return
			}

			r = withPayment(r, PaymentContext{
				Payer:           result.Payer,
				CAIP2:           chainreg.FastCAIP2,
				AmountBaseUnits: expectedAmount.String(),
				ProofKey:        payload.TxHash,
				Method:          "direct",
			})

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if log != nil {
				log.LogRequest(ledger.RequestLogEntry{
					ServiceID:       "payment-fast",
					Endpoint:        r.URL.Path,
					Payer:           result.Payer,
					CAIP2:           chainreg.FastCAIP2,
					AmountBaseUnits: expectedAmount.String(),
					UpstreamStatus:  ww.Status(),
					LatencyMs:       time.Since(start).Milliseconds(),
				})
			}
		})
	}
}
