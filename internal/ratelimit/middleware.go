// Package ratelimit enforces the gateway's three request-rate tiers
// (spec §4.N): free, paid, and expensive routes, each limited per client
// identity. A caller holding an enterprise or partner API key
// (internal/apikey) is exempt from all three tiers.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/httprate"

	"github.com/meterly/gateway/internal/apikey"
	"github.com/meterly/gateway/internal/config"
	"github.com/meterly/gateway/internal/metrics"
)

// Tier is one of the three named rate-limit policies.
type Tier string

const (
	TierFree      Tier = "free"
	TierPaid      Tier = "paid"
	TierExpensive Tier = "expensive"
)

// expensivePrefixes mirrors the path categories the request-timeout
// enforcer (§4.O) treats as heavy: LLM, video, image, TTS, transcription,
// and code-execution routes are the ones worth rate-limiting harder.
var expensivePrefixes = []string{
	"/v1/llm", "/v1/video", "/v1/image", "/v1/tts", "/v1/transcribe", "/v1/code",
}

// Classify buckets a request path into a rate-limit tier. Unmatched
// paid routes default to the paid tier; anything not under /v1 (health
// checks, the catalog listing, static assets) is free.
func Classify(path string) Tier {
	if !strings.HasPrefix(path, "/v1/") {
		return TierFree
	}
	for _, prefix := range expensivePrefixes {
		if strings.HasPrefix(path, prefix) {
			return TierExpensive
		}
	}
	return TierPaid
}

type rateLimitResponse struct {
	Error string `json:"error"`
}

// limitHandler builds the httprate rejection handler for one tier,
// recording the hit against m (if non-nil) before writing the 429 body.
func limitHandler(tier Tier, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.ObserveRateLimit(string(tier))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(rateLimitResponse{Error: "rate limit exceeded"})
	}
}

// clientKey identifies the caller for rate-limit bucketing: an explicit
// wallet header if present (so a payer's retries after a failed
// verification don't also burn through a neighbor's IP bucket), falling
// back to IP.
func clientKey(r *http.Request) (string, error) {
	if wallet := r.Header.Get("X-Wallet"); wallet != "" {
		return "wallet:" + wallet, nil
	}
	return httprate.KeyByIP(r)
}

// Middleware builds the combined free/paid/expensive rate limiter. m may
// be nil, in which case rejections are simply not counted. Each tier
// gets its own httprate limiter; a request is routed to exactly one
// based on Classify(r.URL.Path).
func Middleware(cfg config.RateLimitConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	free := tierLimiter(TierFree, cfg.Free, m)
	paid := tierLimiter(TierPaid, cfg.Paid, m)
	expensive := tierLimiter(TierExpensive, cfg.Expensive, m)

	return func(next http.Handler) http.Handler {
		freeNext := free(next)
		paidNext := paid(next)
		expensiveNext := expensive(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.IsExemptFromRateLimits(r) {
				next.ServeHTTP(w, r)
				return
			}
			switch Classify(r.URL.Path) {
			case TierExpensive:
				expensiveNext.ServeHTTP(w, r)
			case TierFree:
				freeNext.ServeHTTP(w, r)
			default:
				paidNext.ServeHTTP(w, r)
			}
		})
	}
}

func tierLimiter(tier Tier, limit config.TierLimit, m *metrics.Metrics) func(http.Handler) http.Handler {
	if limit.Limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		limit.Limit,
		limit.Window.Duration,
		httprate.WithKeyFuncs(clientKey),
		httprate.WithLimitHandler(limitHandler(tier, m)),
		httprate.WithResponseHeaders(httprate.ResponseHeaders{
			Limit:      "RateLimit-Limit",
			Remaining:  "RateLimit-Remaining",
			Reset:      "RateLimit-Reset",
			RetryAfter: "Retry-After",
		}),
	)
}
