package gatewaymw

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/meterly/gateway/internal/chainreg"
	"github.com/meterly/gateway/internal/errors"
	"github.com/meterly/gateway/internal/facilitator"
	"github.com/meterly/gateway/internal/ledger"
	"github.com/meterly/gateway/internal/metrics"
	"github.com/meterly/gateway/internal/paymenthdr"
	"github.com/meterly/gateway/internal/priceunits"
	"github.com/meterly/gateway/internal/svcreg"
)

// RailClients maps the two facilitator-verified rails to their clients
// and recipient configuration.
type RailClients struct {
	SlowA RailBinding
	SlowB RailBinding
}

type RailBinding struct {
	Client            facilitator.Client
	PayTo             string
	StablecoinAddress string
}

// NewRailBinding constructs a facilitator binding for one slow rail.
func NewRailBinding(client facilitator.Client, payTo, stablecoinAddress string) RailBinding {
	return RailBinding{Client: client, PayTo: payTo, StablecoinAddress: stablecoinAddress}
}

func (rc RailClients) forRail(rail paymenthdr.Rail) (RailBinding, bool) {
	switch rail {
	case paymenthdr.RailSlowA:
		return rc.SlowA, rc.SlowA.Client != nil
	case paymenthdr.RailSlowB:
		return rc.SlowB, rc.SlowB.Client != nil
	default:
		return RailBinding{}, false
	}
}

// Facilitator returns the facilitator payment middleware (spec §4.M). It
// only runs for requests not already marked verified by an earlier
// middleware (the fast rail), and passes through anything it cannot
// classify to a known rail so the 402 advertiser can respond. m may be
// nil, in which case settlement timing is simply not recorded.
func Facilitator(reg *svcreg.Registry, rails RailClients, log RequestLogger, logger zerolog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, already := PaymentFromContext(r.Context()); already {
				next.ServeHTTP(w, r)
				return
			}

			header, ok := paymenthdr.Extract(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			rail := paymenthdr.Classify(header)
			if rail != paymenthdr.RailSlowA && rail != paymenthdr.RailSlowB {
				next.ServeHTTP(w, r)
				return
			}

			svc, ok := reg.Match(r.Method, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			binding, ok := rails.forRail(rail)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			chain, ok := chainreg.Lookup(header.Accepted.CAIP2)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			amount, err := priceunits.ToBaseUnits(svc.Price, chain.Stablecoin.Decimals)
			if err != nil {
				errors.WriteInternal(w)
				return
			}

			req := facilitator.Requirement{
				CAIP2:             header.Accepted.CAIP2,
				AmountBaseUnits:   amount,
				PayTo:             binding.PayTo,
				StablecoinAddress: binding.StablecoinAddress,
			}

			start := time.Now()
			result := binding.Client.Verify(r.Context(), header.Payload, req)
			if !result.OK {
				errors.WritePaymentRejected(w, "Payment verification failed", string(result.Reason), header.Accepted.CAIP2)
				return
			}

			r = withPayment(r, PaymentContext{
				Payer:           result.Payer,
				CAIP2:           header.Accepted.CAIP2,
				AmountBaseUnits: amount.String(),
				Method:          "facilitator",
			})

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			settleStart := time.Now()
			settleResult, err := binding.Client.Settle(r.Context(), header.Payload, req)
			if m != nil {
				m.ObserveSettlement(string(rail), time.Since(settleStart))
			}
			if err != nil {
				logger.Warn().Err(err).Str("caip2", req.CAIP2).Msg("facilitator settlement failed after serving response")
			} else if !settleResult.Success {
				logger.Warn().Str("caip2", req.CAIP2).Msg("facilitator reported unsuccessful settlement")
			}

			if log != nil {
				log.LogRequest(ledger.RequestLogEntry{
					ServiceID:       svc.ID,
					Endpoint:        r.URL.Path,
					Payer:           result.Payer,
					CAIP2:           req.CAIP2,
					AmountBaseUnits: amount.String(),
					UpstreamStatus:  ww.Status(),
					LatencyMs:       time.Since(start).Milliseconds(),
				})
			}
		})
	}
}
