// Package gatewaymw implements the two payment-verification middlewares
// at the heart of the pipeline (spec §4.L, §4.M): the fast-rail
// middleware that verifies directly on-chain, and the facilitator
// middleware that defers to an external verifier for the remaining
// rails.
package gatewaymw

import (
	"context"
	"net/http"
)

type contextKey string

const contextKeyPayment contextKey = "gatewaymw.payment"

// PaymentContext annotates a request once a payment has been verified
// by either middleware (spec §4.L step 6).
type PaymentContext struct {
	Payer           string
	CAIP2           string
	AmountBaseUnits string
	ProofKey        string // tx hash for the fast rail; empty for the facilitator rails
	Method          string // "direct" (fast rail) or "facilitator" (slow rails)
}

func withPayment(r *http.Request, p PaymentContext) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), contextKeyPayment, p))
}

// PaymentFromContext retrieves the verified payment annotated on a
// request, if any.
func PaymentFromContext(ctx context.Context) (PaymentContext, bool) {
	v := ctx.Value(contextKeyPayment)
	if v == nil {
		return PaymentContext{}, false
	}
	p, ok := v.(PaymentContext)
	return p, ok
}
