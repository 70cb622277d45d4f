// Package httpgateway assembles the gateway's fixed middleware pipeline
// (spec §4.Q): body-size limits, CORS/security headers, request
// identification, rate limiting, per-path timeouts, a free-route short
// circuit, dev-bypass, the two payment middlewares, the 402 advertiser,
// and finally the upstream dispatcher for every catalog route.
package httpgateway

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/meterly/gateway/internal/advertiser"
	"github.com/meterly/gateway/internal/apikey"
	"github.com/meterly/gateway/internal/config"
	"github.com/meterly/gateway/internal/dispatcher"
	"github.com/meterly/gateway/internal/errors"
	"github.com/meterly/gateway/internal/gatewaymw"
	"github.com/meterly/gateway/internal/ledger"
	"github.com/meterly/gateway/internal/logger"
	"github.com/meterly/gateway/internal/metrics"
	"github.com/meterly/gateway/internal/ratelimit"
	"github.com/meterly/gateway/internal/reqtimeout"
	"github.com/meterly/gateway/internal/svcreg"
	"github.com/meterly/gateway/internal/versioning"
)

// RequestLogger is the subset of *ledger.Ledger the pipeline threads
// down into the payment middlewares and the dispatcher.
type RequestLogger interface {
	LogRequest(entry ledger.RequestLogEntry)
}

// RouteConfig pairs a cataloged service with the dispatcher route that
// serves it once payment has cleared.
type RouteConfig struct {
	Service svcreg.Service
	Route   dispatcher.Route
}

// Assembler holds every dependency the pipeline wires together. None of
// the fields are owned by Assembler; callers (cmd/gateway) construct
// each component and pass it in already configured.
type Assembler struct {
	Config           config.Config
	Registry         *svcreg.Registry
	Routes           []RouteConfig
	Advertiser       *advertiser.Advertiser
	FastPayTo        string
	FastVerify       gatewaymw.FastVerifyFunc
	RailClients      gatewaymw.RailClients
	Dispatcher       *dispatcher.Dispatcher
	Log              RequestLogger
	Logger           zerolog.Logger
	AdminAPIKey      string // protects /metrics, empty disables auth
	FacilitatorRails []FacilitatorRail
	Stats            StatsSource // optional, powers /facilitator/<rail>/status's usedTxHashes
	Metrics          *metrics.Metrics
	UploadGate       *dispatcher.UploadGate // optional; guards upload-shaped routes (spec §5)
}

// uploadPathPrefixes lists the route-path prefixes an UploadGate protects:
// upload-shaped calls (e.g. pinning a file to IPFS) that a slow upstream
// could otherwise let pile up unbounded.
var uploadPathPrefixes = []string{"/v1/ipfs"}

func isUploadPath(path string) bool {
	for _, p := range uploadPathPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Router builds the fully assembled chi.Router. It is safe to mount at
// the root of an *http.Server.
func (a *Assembler) Router() chi.Router {
	r := chi.NewRouter()

	// 1. JSON body parsing size caps.
	r.Use(BodySizeLimit)

	// 2. CORS / security headers.
	if len(a.Config.Server.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   a.Config.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{advertiser.HeaderName, "Retry-After", "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}
	r.Use(securityHeaders)

	// 3. Request-id assignment.
	r.Use(chimw.RealIP)
	r.Use(versioning.Negotiation)
	r.Use(logger.Middleware(a.Logger))

	// Tail error handler: converts a panic anywhere downstream into a
	// 503/retryable response instead of tearing down the connection.
	r.Use(recoverMiddleware(a.Logger))

	// 4. API-key tier lookup, then the rate limiter that consults it.
	r.Use(apikey.Middleware(toAPIKeyConfig(a.Config.APIKeys)))
	r.Use(ratelimit.Middleware(a.Config.RateLimit, a.Metrics))

	// 5. Timeout enforcer.
	r.Use(reqtimeout.Middleware)

	// 6. Free routes: anything not in the service catalog short-circuits
	// the payment pipeline entirely.
	r.Get("/health", a.health)
	r.Get("/.well-known/x402.json", a.wellKnownX402)
	r.Get("/api/services", a.apiServices)
	r.Get("/api/services/{id}", a.apiServiceByID)
	r.With(adminMetricsAuth(a.AdminAPIKey)).Handle("/metrics", promhttp.Handler())
	a.mountFacilitatorAPI(r)

	// 7-10. Paid routes: dev-bypass, fast-rail, facilitator, advertiser,
	// dispatcher, composed per route below.
	for _, rc := range a.Routes {
		r.Method(rc.Service.Method, rc.Service.Path, a.paidHandler(rc))
	}

	return r
}

// paidHandler composes the payment stack for one cataloged route, in
// the fixed order of spec §4.Q: dev-bypass gates whether the fast-rail
// and facilitator middlewares run at all; the 402 advertiser is the
// fallback reached only if neither middleware marked the request
// verified; the dispatcher is the terminal handler.
func (a *Assembler) paidHandler(rc RouteConfig) http.HandlerFunc {
	dispatch := a.Dispatcher.Handler(rc.Service, rc.Route)
	if a.UploadGate != nil && isUploadPath(rc.Service.Path) {
		dispatch = a.UploadGate.Guard(dispatch)
	}

	advertise := func(w http.ResponseWriter, r *http.Request) {
		if payment, verified := gatewaymw.PaymentFromContext(r.Context()); verified {
			a.recordPaymentMetric(payment, rc.Service.ID, true)
			dispatch(w, r)
			return
		}
		a.recordPaymentMetric(gatewaymw.PaymentContext{}, rc.Service.ID, false)
		body, err := a.Advertiser.Build(rc.Service, r.URL.Path)
		if err != nil {
			errors.WriteInternal(w)
			return
		}
		if err := advertiser.Write(w, body); err != nil {
			a.Logger.Warn().Err(err).Str("service_id", rc.Service.ID).Msg("httpgateway.advertiser_write_failed")
		}
	}

	withFacilitator := gatewaymw.Facilitator(a.Registry, a.RailClients, a.Log, a.Logger, a.Metrics)(http.HandlerFunc(advertise))
	withFastRail := gatewaymw.FastRail(a.Registry, a.FastPayTo, a.FastVerify, a.Log)(withFacilitator)

	return devBypass(a.Config.DevBypass, withFastRail, http.HandlerFunc(dispatch))
}

// toAPIKeyConfig adapts the YAML-friendly string-keyed tier map into
// apikey.Config's typed form.
func toAPIKeyConfig(cfg config.APIKeyConfig) apikey.Config {
	keys := make(map[string]apikey.Tier, len(cfg.Keys))
	for key, tier := range cfg.Keys {
		keys[key] = apikey.Tier(tier)
	}
	return apikey.Config{Enabled: cfg.Enabled, APIKeys: keys}
}

// recordPaymentMetric reports a priced request's outcome. method is
// "direct"/"facilitator" per gatewaymw.PaymentContext, or "unverified"
// when the request never cleared either payment middleware.
func (a *Assembler) recordPaymentMetric(payment gatewaymw.PaymentContext, serviceID string, success bool) {
	if a.Metrics == nil {
		return
	}
	rail := payment.Method
	if rail == "" {
		rail = "unverified"
	}
	var amount int64
	if payment.AmountBaseUnits != "" {
		if parsed, ok := new(big.Int).SetString(payment.AmountBaseUnits, 10); ok && parsed.IsInt64() {
			amount = parsed.Int64()
		}
	}
	if success {
		a.Metrics.ObservePayment(rail, serviceID, true, 0, amount)
		return
	}
	a.Metrics.ObservePaymentFailure(rail, serviceID, "missing_proof")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(body)
}
